// Package coordinator owns the master lock: bounded-time acquisition,
// idempotent release and token-based ownership checks over a pluggable
// distributed lock backend.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Shavakan/masterlock/pkg/logging"
)

var (
	// ErrNotHeld is returned by a Backend when the lock is not held by the given owner.
	ErrNotHeld = errors.New("lock not held by owner")

	// ErrLockInactive wraps backend failures during release; the locking
	// service is unreachable or already shut down.
	ErrLockInactive = errors.New("locking service is inactive")
)

var lockLog = logging.WithComponent(logging.LogTypeLock, "coordinator")

// Backend is a distributed mutual-exclusion primitive. Every method is a
// single attempt; waiting is the Coordinator's job.
type Backend interface {
	// TryAcquire claims the lock for owner if it is free. It returns true
	// when owner holds the lock afterwards.
	TryAcquire(ctx context.Context, owner string) (bool, error)

	// Release frees the lock if owner holds it, ErrNotHeld otherwise.
	Release(ctx context.Context, owner string) error

	// ForceRelease frees the lock whoever holds it.
	ForceRelease(ctx context.Context) error

	// Holder returns the owner currently holding the lock, or "" when free.
	Holder(ctx context.Context) (string, error)
}

// Config holds configuration for the coordinator.
type Config struct {
	// InstanceID prefixes every owner token minted by this coordinator.
	InstanceID string

	// LockName identifies the lock in logs.
	LockName string

	// PollInterval is how often Acquire retries while waiting.
	PollInterval time.Duration
}

// DefaultConfig returns recommended configuration values.
func DefaultConfig(instanceID string) Config {
	return Config{
		InstanceID:   instanceID,
		LockName:     "masterlock-scheduler",
		PollInterval: 100 * time.Millisecond,
	}
}

// Coordinator tracks this process's claim on the master lock. Ownership is an
// owner token minted per acquisition and compared against the backend, so it
// does not depend on which goroutine asks.
type Coordinator struct {
	config  Config
	backend Backend

	mu    sync.Mutex
	token string
	epoch atomic.Uint64

	newToken func() string
}

// New creates a coordinator over backend. The backend is created by the
// caller once, before any election starts.
func New(cfg Config, backend Backend) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig(cfg.InstanceID).PollInterval
	}
	c := &Coordinator{
		config:  cfg,
		backend: backend,
	}
	c.newToken = func() string {
		return c.config.InstanceID + "/" + uuid.NewString()
	}
	return c
}

// Acquire tries to claim the lock, waiting up to timeout. It returns false
// with a nil error when the timeout elapses. Cancelling ctx aborts the attempt
// and returns ctx.Err(). Calling Acquire while already holding the lock
// returns true immediately.
func (c *Coordinator) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	if c.Token() != "" {
		return true, nil
	}

	token := c.newToken()
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := c.backend.TryAcquire(ctx, token)
		if err != nil {
			return false, fmt.Errorf("failed to acquire lock %s: %w", c.config.LockName, err)
		}
		if acquired {
			c.mu.Lock()
			c.token = token
			c.mu.Unlock()
			epoch := c.epoch.Add(1)
			lockLog.Debug("lock acquired",
				slog.String(logging.KeyLockName, c.config.LockName),
				slog.String(logging.KeyOwner, token),
				slog.Uint64(logging.KeyEpoch, epoch),
			)
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}

		timer := time.NewTimer(min(c.config.PollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// Release gives up the lock. It is idempotent: releasing a lock this process
// does not hold, or one already taken away, only logs a warning. Failures of
// the locking service itself are returned wrapped in ErrLockInactive.
func (c *Coordinator) Release(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()

	if token == "" {
		lockLog.Warn("release requested but lock is not held",
			slog.String(logging.KeyLockName, c.config.LockName))
		return nil
	}

	err := c.backend.Release(ctx, token)
	if errors.Is(err, ErrNotHeld) {
		lockLog.Warn("lock already released or taken over",
			slog.String(logging.KeyLockName, c.config.LockName),
			slog.String(logging.KeyOwner, token),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: failed to release lock %s: %w", ErrLockInactive, c.config.LockName, err)
	}

	lockLog.Debug("lock released",
		slog.String(logging.KeyLockName, c.config.LockName),
		slog.String(logging.KeyOwner, token),
	)
	return nil
}

// ForceRelease clears the lock regardless of its holder so that a live node
// can claim it after the holder is presumed dead.
func (c *Coordinator) ForceRelease(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	if err := c.backend.ForceRelease(ctx); err != nil {
		return fmt.Errorf("failed to force release lock %s: %w", c.config.LockName, err)
	}
	return nil
}

// ReleaseStale frees the lock only if holder still holds it. Electors use it
// to clear a master presumed dead without racing a node that has meanwhile
// taken over. It returns false when the lock had already changed hands.
func (c *Coordinator) ReleaseStale(ctx context.Context, holder string) (bool, error) {
	err := c.backend.Release(ctx, holder)
	if errors.Is(err, ErrNotHeld) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to release stale lock %s: %w", c.config.LockName, err)
	}
	return true, nil
}

// IsOwned reports whether the backend still shows this process's current
// token as the holder.
func (c *Coordinator) IsOwned(ctx context.Context) (bool, error) {
	token := c.Token()
	if token == "" {
		return false, nil
	}

	holder, err := c.backend.Holder(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read holder of lock %s: %w", c.config.LockName, err)
	}
	return holder == token, nil
}

// Holder returns the token of whichever node holds the lock, "" when free.
func (c *Coordinator) Holder(ctx context.Context) (string, error) {
	return c.backend.Holder(ctx)
}

// Token returns the owner token of the current acquisition, "" when not held.
func (c *Coordinator) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Epoch returns the number of successful acquisitions so far.
func (c *Coordinator) Epoch() uint64 {
	return c.epoch.Load()
}

// LockName returns the configured lock name.
func (c *Coordinator) LockName() string {
	return c.config.LockName
}
