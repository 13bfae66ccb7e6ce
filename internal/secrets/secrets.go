// Package secrets provides named credential storage consulted at the start
// of every fetch cycle.
package secrets

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	apperrors "unified_portfolio/internal/errors"
)

// Well-known secret names.
const (
	CoinbasePublic  = "COINBASE_PUBLIC"
	CoinbasePrivate = "COINBASE_PRIVATE"
	SchwabAppKey    = "SCHWAB_APP_KEY"
	SchwabSecret    = "SCHWAB_SECRET"
	SchwabCallback  = "SCHWAB_CALLBACK"
	TotalInitial    = "TOTAL_INITIAL"

	// SchwabRefreshToken holds the latest rotated refresh token. It is
	// written by the application, never by the user.
	SchwabRefreshToken = "SCHWAB_REFRESH_TOKEN"
)

// Names lists every secret name the application knows about.
var Names = []string{
	CoinbasePublic,
	CoinbasePrivate,
	SchwabAppKey,
	SchwabSecret,
	SchwabCallback,
	TotalInitial,
}

// ErrNotFound is returned when a secret is not set.
var ErrNotFound = fmt.Errorf("secret %w", apperrors.ErrNotFound)

// Store is a key-value secret store.
type Store interface {
	// Get returns the secret value or ErrNotFound.
	Get(ctx context.Context, name string) (string, error)

	// Set stores a secret value.
	Set(ctx context.Context, name, value string) error
}

// IsKnown reports whether name is a well-known secret name.
func IsKnown(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// Lookup reads all names from the store. Missing names are collected into a
// single validation error.
func Lookup(ctx context.Context, store Store, names ...string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	var missing []string

	for _, name := range names {
		v, err := store.Get(ctx, name)
		if apperrors.IsNotFound(err) || (err == nil && v == "") {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading secret %s: %w", name, err)
		}
		values[name] = v
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, apperrors.Validation("missing secrets: " + strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing": missing})
	}
	return values, nil
}

// EnvStore reads secrets from the process environment.
type EnvStore struct{}

// NewEnvStore creates a new EnvStore.
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

// Get implements Store.
func (s *EnvStore) Get(_ context.Context, name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store. The value only lives in process memory.
func (s *EnvStore) Set(_ context.Context, name, value string) error {
	return os.Setenv(name, value)
}

// MemoryStore keeps secrets in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates a MemoryStore seeded with values.
func NewMemoryStore(values map[string]string) *MemoryStore {
	m := &MemoryStore{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}

// Chain consults stores in order. Reads return the first hit; writes go to
// the first store.
type Chain []Store

// Get implements Store.
func (c Chain) Get(ctx context.Context, name string) (string, error) {
	for _, s := range c {
		v, err := s.Get(ctx, name)
		if err == nil {
			return v, nil
		}
		if !apperrors.IsNotFound(err) {
			return "", err
		}
	}
	return "", ErrNotFound
}

// Set implements Store.
func (c Chain) Set(ctx context.Context, name, value string) error {
	if len(c) == 0 {
		return apperrors.Internal("no secret store configured", nil)
	}
	return c[0].Set(ctx, name, value)
}
