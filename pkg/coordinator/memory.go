package coordinator

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process lock. A single instance shared by several
// coordinators behaves like a cluster-wide lock for those coordinators; it is
// used for single-node deployments and for simulating a fleet in tests.
type MemoryBackend struct {
	mu     sync.Mutex
	holder string
}

// Ensure MemoryBackend implements Backend.
var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a free in-process lock.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// TryAcquire claims the lock for owner if it is free.
func (b *MemoryBackend) TryAcquire(_ context.Context, owner string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.holder == "" {
		b.holder = owner
	}
	return b.holder == owner, nil
}

// Release frees the lock if owner holds it.
func (b *MemoryBackend) Release(_ context.Context, owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.holder != owner {
		return ErrNotHeld
	}
	b.holder = ""
	return nil
}

// ForceRelease frees the lock whoever holds it.
func (b *MemoryBackend) ForceRelease(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.holder = ""
	return nil
}

// Holder returns the current holder, "" when free.
func (b *MemoryBackend) Holder(_ context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.holder, nil
}
