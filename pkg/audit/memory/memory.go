// Package memory provides an in-memory audit.Store. Entries are lost when
// the process exits. A size limit evicts the oldest entries first.
package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/rhuss/sandbox-mcp/pkg/audit"
)

// Ensure Store implements audit.Store at compile time.
var _ audit.Store = (*Store)(nil)

// Store keeps audit entries in insertion order.
type Store struct {
	mu      sync.RWMutex
	ids     map[string]*list.Element
	order   *list.List // front = newest
	maxSize int        // 0 = unlimited
}

// New creates a store. If maxSize is 0 the store grows without limit.
func New(maxSize int) *Store {
	return &Store{
		ids:     make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Record stores an entry. Returns audit.ErrConflict for a duplicate ID.
func (s *Store) Record(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[e.ID]; exists {
		return audit.ErrConflict
	}
	if s.maxSize > 0 && s.order.Len() >= s.maxSize {
		s.evictOldest()
	}
	s.ids[e.ID] = s.order.PushFront(e)
	return nil
}

// Recent returns up to limit entries, newest first. A limit <= 0 returns
// everything.
func (s *Store) Recent(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.order.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]audit.Entry, 0, n)
	for el := s.order.Front(); el != nil && len(out) < n; el = el.Next() {
		out = append(out, el.Value.(audit.Entry))
	}
	return out, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len()
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// evictOldest removes the oldest entry. Caller must hold the write lock.
func (s *Store) evictOldest() {
	back := s.order.Back()
	if back == nil {
		return
	}
	s.order.Remove(back)
	delete(s.ids, back.Value.(audit.Entry).ID)
}
