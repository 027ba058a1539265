// Package election runs lock-based master election for a guarded scheduler.
//
// A Supervisor owns one background worker per start. The worker competes for
// the master lock, force-releasing it when the current holder's heartbeat has
// gone stale, and once elected starts the scheduler and keeps the heartbeat
// fresh until it loses the lock or is stopped. Losing the lock triggers a full
// stop and a new election.
package election

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a Supervisor.
type State int32

// Supervisor states. Idle -> Electing -> Master -> Stopping -> Idle.
const (
	StateIdle State = iota
	StateElecting
	StateMaster
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateElecting:
		return "electing"
	case StateMaster:
		return "master"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrOwnershipLost is returned by the heartbeat monitor when the lock no
	// longer shows this node as holder.
	ErrOwnershipLost = errors.New("master lock ownership lost")

	// ErrSchedulerStart wraps a scheduler start failure after winning the lock.
	ErrSchedulerStart = errors.New("scheduler failed to start")

	// ErrInvalidConfig is returned by New for unusable timing settings.
	ErrInvalidConfig = errors.New("invalid election config")

	// errRetired means the worker's generation was superseded by stop or restart.
	errRetired = errors.New("election worker retired")
)

// Scheduler is the work guarded by the master lock. Start is only called
// while this node holds the lock. Standby pauses processing without giving up
// the lock. Shutdown stops processing and precedes every lock release.
type Scheduler interface {
	Start(ctx context.Context) error
	Standby(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Config holds election timing.
type Config struct {
	// InstanceID identifies this node in logs, metrics and events.
	InstanceID string

	// HeartbeatInterval is both the master's heartbeat period and the bound
	// on a single acquisition attempt.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how old the holder's heartbeat may get before an
	// elector presumes the master dead and force-releases the lock.
	HeartbeatTimeout time.Duration

	// ErrorBackoffInitial and ErrorBackoffMax bound the jittered backoff
	// applied after backend errors and scheduler start failures.
	ErrorBackoffInitial time.Duration
	ErrorBackoffMax     time.Duration
}

// DefaultConfig returns recommended configuration values.
func DefaultConfig(instanceID string) Config {
	return Config{
		InstanceID:          instanceID,
		HeartbeatInterval:   5 * time.Second,
		HeartbeatTimeout:    30 * time.Second,
		ErrorBackoffInitial: 500 * time.Millisecond,
		ErrorBackoffMax:     30 * time.Second,
	}
}

// Validate checks the timing invariants.
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: heartbeat timeout %s must exceed interval %s",
			ErrInvalidConfig, c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ErrorBackoffInitial <= 0 {
		c.ErrorBackoffInitial = min(c.HeartbeatInterval, DefaultConfig("").ErrorBackoffInitial)
	}
	if c.ErrorBackoffMax <= 0 {
		c.ErrorBackoffMax = c.HeartbeatTimeout
	}
	c.ErrorBackoffMax = max(c.ErrorBackoffMax, c.ErrorBackoffInitial)
	return c
}
