// Package session keeps the signed-in account for each issued auth token.
package session

import (
	"context"
	"sync"
	"time"

	"omniavatar/server/internal/model"
)

type Store interface {
	Get(ctx context.Context, id string) (model.Account, bool, error)
	Set(ctx context.Context, id string, account model.Account) error
	Clear(ctx context.Context, id string) error
}

// Sweeper is a Store that drops expired sessions in the background.
type Sweeper interface {
	Store
	RunSweeper(ctx context.Context, interval time.Duration)
}

type entry struct {
	account   model.Account
	expiresAt time.Time
}

var _ Sweeper = (*MemoryStore)(nil)

type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]entry{},
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Account, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return model.Account{}, false, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
		return model.Account{}, false, nil
	}
	return e.account, true, nil
}

func (s *MemoryStore) Set(_ context.Context, id string, account model.Account) error {
	e := entry{account: account}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	runEvery(ctx, interval, func() { s.Sweep() })
}

func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
