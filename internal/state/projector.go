// Package state publishes portfolio snapshots to observers.
package state

import (
	"sync"
	"sync/atomic"

	"unified_portfolio/internal/portfolio"
)

// Observer receives every published snapshot. Snapshots must be treated
// as read-only.
type Observer interface {
	OnPortfolio(p *portfolio.AggregatePortfolio)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(p *portfolio.AggregatePortfolio)

// OnPortfolio calls f(p).
func (f ObserverFunc) OnPortfolio(p *portfolio.AggregatePortfolio) { f(p) }

// Executor runs observer callbacks in the observer's own context.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(fn func())

// Execute calls f(fn).
func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// Inline runs callbacks on the publishing goroutine.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

type subscription struct {
	id       uint64
	observer Observer
	executor Executor
}

// Projector holds the latest snapshot and fans it out to subscribers.
type Projector struct {
	current atomic.Pointer[portfolio.AggregatePortfolio]

	// publishMu orders publishes. Dispatch happens without mu held so an
	// observer may cancel its own subscription.
	publishMu sync.Mutex

	mu     sync.Mutex
	subs   []subscription
	nextID uint64
}

// NewProjector returns a projector holding initial.
func NewProjector(initial *portfolio.AggregatePortfolio) *Projector {
	p := &Projector{}
	if initial != nil {
		p.current.Store(initial)
	}
	return p
}

// Latest returns the current snapshot, or nil before the first publish.
func (p *Projector) Latest() *portfolio.AggregatePortfolio {
	return p.current.Load()
}

// Publish swaps in snap and hands it to every subscriber's executor.
func (p *Projector) Publish(snap *portfolio.AggregatePortfolio) {
	if snap == nil {
		return
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	p.current.Store(snap)
	subs := make([]subscription, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, s := range subs {
		obs := s.observer
		s.executor.Execute(func() { obs.OnPortfolio(snap) })
	}
}

// Subscribe registers o. Callbacks run through exec, or inline when exec
// is nil. The returned func cancels the subscription.
func (p *Projector) Subscribe(o Observer, exec Executor) (cancel func()) {
	if exec == nil {
		exec = Inline
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscription{id: id, observer: o, executor: exec})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.unsubscribe(id) })
	}
}

func (p *Projector) unsubscribe(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s.id == id {
			p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (p *Projector) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
