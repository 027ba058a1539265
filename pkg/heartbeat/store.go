// Package heartbeat records the master's liveness signal: the timestamp of
// its most recent heartbeat, shared with every node watching for staleness.
package heartbeat

import (
	"context"
	"sync/atomic"
	"time"
)

// Store holds the last heartbeat timestamp. Only the active master writes it;
// any node may read it.
type Store interface {
	// Update records t as the latest heartbeat.
	Update(ctx context.Context, t time.Time) error

	// Last returns the latest heartbeat, the zero time when none was recorded.
	Last(ctx context.Context) (time.Time, error)

	// Reset records t even if it is older than the stored heartbeat. A new
	// master calls it once on taking office so a predecessor whose clock ran
	// ahead cannot mask its beats.
	Reset(ctx context.Context, t time.Time) error
}

// MemoryStore keeps the heartbeat in an atomic counter. Updates never move
// the timestamp backwards.
type MemoryStore struct {
	last atomic.Int64
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process heartbeat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Update records t unless a later heartbeat is already stored.
func (s *MemoryStore) Update(_ context.Context, t time.Time) error {
	next := t.UnixNano()
	for {
		cur := s.last.Load()
		if next <= cur {
			return nil
		}
		if s.last.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Reset records t unconditionally.
func (s *MemoryStore) Reset(_ context.Context, t time.Time) error {
	s.last.Store(t.UnixNano())
	return nil
}

// Last returns the latest heartbeat.
func (s *MemoryStore) Last(_ context.Context) (time.Time, error) {
	n := s.last.Load()
	if n == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, n), nil
}
