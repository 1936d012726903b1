// Package memory is an in-process db.Store for single-instance deployments and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kailas-cloud/dashboard-api/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store keeps values in a map and evicts expired entries on a ticker.
type Store struct {
	mu       sync.RWMutex
	items    map[string]entry
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a Store. sweep <= 0 disables background eviction;
// expired entries are still hidden from Get.
func NewStore(sweep time.Duration) *Store {
	s := &Store{
		items: make(map[string]entry),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if sweep > 0 {
		go s.cleanup(sweep)
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// WaitForReady returns immediately.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// Close stops the eviction goroutine. Safe to call more than once.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Get returns a copy of the value stored at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return nil, db.ErrKeyNotFound
	}
	return slices.Clone(e.value), nil
}

// SetWithTTL stores a copy of value. ttl <= 0 stores without expiry.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.items[key] = e
	s.mu.Unlock()
	return nil
}

// Del removes a key.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evict()
		}
	}
}

func (s *Store) evict() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.items {
		if e.expired(now) {
			delete(s.items, k)
		}
	}
}
