// Package sync runs provider fetch cycles and publishes the aggregate.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"unified_portfolio/internal/broker"
	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/models"
	"unified_portfolio/internal/portfolio"
	"unified_portfolio/internal/state"
)

const (
	// snapshotsKept is how many persisted snapshots survive a prune.
	snapshotsKept = 50

	// cycleTimeout bounds a shared cycle, which no longer follows the
	// cancellation of the caller that started it.
	cycleTimeout = 2 * time.Minute
)

// History records fetch cycles.
type History interface {
	Start(cycleID, provider, trigger string) (int64, error)
	Complete(id int64, positionsSynced, positionsSkipped int) error
	Fail(id int64, errorMsg string) error
}

// Snapshots persists the provider results behind each published aggregate.
type Snapshots interface {
	Save(s *models.Snapshot) (int64, error)
	Latest() (*models.Snapshot, error)
	Prune(keep int) (int64, error)
}

// Service orchestrates provider fetch cycles.
type Service struct {
	providers    map[string]broker.Provider
	projector    *state.Projector
	history      History
	snapshots    Snapshots
	baseCurrency string
	newID        func() string
	log          *logger.Entry

	// mu guards latest. Aggregation, publish and snapshot writes happen
	// under it so they follow the order in which results changed.
	mu     stdsync.Mutex
	latest map[string]*broker.Result

	// cycles collapses concurrent triggers per provider and keeps two
	// cycles of the same provider from overlapping.
	cycles   singleflight.Group
	inflight stdsync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithHistory records every cycle.
func WithHistory(h History) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithSnapshots persists every published aggregate's inputs.
func WithSnapshots(sn Snapshots) Option {
	return func(s *Service) {
		s.snapshots = sn
	}
}

// WithBaseCurrency sets the currency totals are computed in.
func WithBaseCurrency(currency string) Option {
	return func(s *Service) {
		if currency != "" {
			s.baseCurrency = currency
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Log) Option {
	return func(s *Service) {
		s.log = l.WithComponent("sync")
	}
}

// WithIDGenerator overrides the cycle ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// NewService creates a new sync service.
func NewService(projector *state.Projector, providers []broker.Provider, opts ...Option) *Service {
	s := &Service{
		providers:    make(map[string]broker.Provider, len(providers)),
		projector:    projector,
		baseCurrency: broker.DefaultCurrency,
		newID:        uuid.NewString,
		log:          logger.GetLogger().WithComponent("sync"),
		latest:       make(map[string]*broker.Result),
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncResult contains the result of one provider cycle.
type SyncResult struct {
	CycleID          string        `json:"cycle_id"`
	Provider         string        `json:"provider"`
	Trigger          string        `json:"trigger"`
	Success          bool          `json:"success"`
	PositionsSynced  int           `json:"positions_synced"`
	PositionsSkipped int           `json:"positions_skipped"`
	Duration         time.Duration `json:"duration"`
	Error            error         `json:"-"`
}

// Providers returns the registered provider names, sorted.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Latest returns the last successful result of a provider.
func (s *Service) Latest(provider string) (*broker.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.latest[provider]
	return r, ok
}

// RefreshProvider runs one fetch cycle for a provider. Triggers arriving
// while a cycle is in flight share its result. The cycle itself runs
// detached from ctx; a caller whose ctx ends stops waiting and gets a nil
// result while the cycle completes for the others.
func (s *Service) RefreshProvider(ctx context.Context, provider, trigger string) (*SyncResult, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, apperrors.NotFound("provider " + provider)
	}

	s.inflight.Add(1)
	ch := s.cycles.DoChan(provider, func() (any, error) {
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cycleTimeout)
		defer cancel()
		return s.runCycle(cycleCtx, p, trigger), nil
	})

	select {
	case r := <-ch:
		s.inflight.Done()
		res := r.Val.(*SyncResult)
		return res, res.Error
	case <-ctx.Done():
		go func() {
			<-ch
			s.inflight.Done()
		}()
		return nil, apperrors.Wrap(apperrors.ErrInternal, "waiting for "+provider+" cycle", ctx.Err()).
			WithDetails(map[string]any{"provider": provider})
	}
}

// Wait blocks until no cycle is running.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// RefreshAll runs every provider's cycle concurrently. One provider's
// failure never affects another's; the results are ordered by provider.
func (s *Service) RefreshAll(ctx context.Context, trigger string) []*SyncResult {
	names := s.Providers()
	results := make([]*SyncResult, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			res, err := s.RefreshProvider(ctx, name, trigger)
			if res == nil {
				res = &SyncResult{Provider: name, Trigger: trigger, Error: err}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Run refreshes all providers once, then every interval until ctx is done.
// A non-positive interval disables the timer.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	s.RefreshAll(ctx, models.TriggerStartup)
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sync loop stopped")
			return
		case <-ticker.C:
			s.RefreshAll(ctx, models.TriggerTimer)
		}
	}
}

func (s *Service) runCycle(ctx context.Context, p broker.Provider, trigger string) *SyncResult {
	start := time.Now()
	res := &SyncResult{
		CycleID:  s.newID(),
		Provider: p.Name(),
		Trigger:  trigger,
	}
	log := s.log.WithFields(logger.Fields{
		"cycle_id": res.CycleID,
		"provider": res.Provider,
		"trigger":  trigger,
	})

	historyID := s.startHistory(res)

	result, err := p.FetchPortfolio(ctx)
	res.Duration = time.Since(start)
	if err == nil && result == nil {
		err = apperrors.Internal("provider returned no result", nil)
	}
	if err != nil {
		res.Error = err
		log.WithFields(logger.Fields(apperrors.Details(err))).WithError(err).Error("fetch cycle failed")
		s.failSync(historyID, err.Error())
		return res
	}

	res.Success = true
	res.PositionsSynced = len(result.Positions)
	res.PositionsSkipped = result.Skipped

	agg := s.apply(result)

	if s.history != nil && historyID != 0 {
		if err := s.history.Complete(historyID, res.PositionsSynced, res.PositionsSkipped); err != nil {
			log.WithError(err).Warn("completing sync history")
		}
	}

	log.WithFields(logger.Fields{
		"positions":   res.PositionsSynced,
		"skipped":     res.PositionsSkipped,
		"duration_ms": res.Duration.Milliseconds(),
		"balance":     agg.TotalBalance.Value,
	}).Info("fetch cycle completed")
	return res
}

// apply replaces a provider's latest result, publishes the rebuilt
// aggregate and persists its inputs.
func (s *Service) apply(result *broker.Result) *portfolio.AggregatePortfolio {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[result.Provider] = result
	results := s.resultsLocked()
	agg := portfolio.Aggregate(results, s.baseCurrency)
	s.projector.Publish(agg)
	s.persistLocked(agg, results)
	return agg
}

func (s *Service) resultsLocked() []*broker.Result {
	out := make([]*broker.Result, 0, len(s.latest))
	for _, r := range s.latest {
		out = append(out, r)
	}
	return out
}

func (s *Service) startHistory(res *SyncResult) int64 {
	if s.history == nil {
		return 0
	}
	id, err := s.history.Start(res.CycleID, res.Provider, res.Trigger)
	if err != nil {
		s.log.WithError(err).Warn("starting sync history")
		return 0
	}
	return id
}

// failSync marks a cycle as failed.
func (s *Service) failSync(historyID int64, errorMsg string) {
	if s.history == nil || historyID == 0 {
		return
	}
	if err := s.history.Fail(historyID, errorMsg); err != nil {
		s.log.WithError(err).Warn("failing sync history")
	}
}

type snapshotPayload struct {
	Results []*broker.Result `json:"results"`
}

func (s *Service) persistLocked(agg *portfolio.AggregatePortfolio, results []*broker.Result) {
	if s.snapshots == nil {
		return
	}

	payload, err := json.Marshal(snapshotPayload{Results: results})
	if err != nil {
		s.log.WithError(err).Warn("encoding snapshot")
		return
	}

	snap := &models.Snapshot{
		Currency:       agg.TotalBalance.Currency,
		TotalBalance:   agg.TotalBalance.Value,
		TotalCostBasis: agg.TotalCostBasis.Value,
		Payload:        payload,
	}
	if _, err := s.snapshots.Save(snap); err != nil {
		s.log.WithError(err).Warn("saving snapshot")
		return
	}
	if _, err := s.snapshots.Prune(snapshotsKept); err != nil {
		s.log.WithError(err).Warn("pruning snapshots")
	}
}

// WarmStart seeds the provider results from the latest persisted snapshot
// and publishes them. Providers no longer registered are ignored. It
// reports whether anything was restored.
func (s *Service) WarmStart() (bool, error) {
	if s.snapshots == nil {
		return false, nil
	}
	snap, err := s.snapshots.Latest()
	if err != nil {
		return false, fmt.Errorf("loading snapshot: %w", err)
	}
	if snap == nil {
		return false, nil
	}

	var payload snapshotPayload
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		return false, fmt.Errorf("decoding snapshot %d: %w", snap.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, r := range payload.Results {
		if r == nil {
			continue
		}
		if _, ok := s.providers[r.Provider]; !ok {
			continue
		}
		if _, ok := s.latest[r.Provider]; ok {
			continue
		}
		s.latest[r.Provider] = r
		restored++
	}
	if restored == 0 {
		return false, nil
	}

	s.projector.Publish(portfolio.Aggregate(s.resultsLocked(), s.baseCurrency))
	s.log.WithFields(logger.Fields{"snapshot_id": snap.ID, "providers": restored}).Info("restored portfolio snapshot")
	return true, nil
}
