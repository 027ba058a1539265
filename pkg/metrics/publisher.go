// Package metrics provides metrics publishing abstractions and implementations.
package metrics

import (
	"context"
	"time"
)

// Publisher defines the interface for publishing election metrics to various backends.
type Publisher interface {
	// Close releases any resources held by the publisher.
	// Implementations that don't need cleanup should return nil.
	Close() error

	// PublishElectionAttempt publishes one bounded lock acquisition attempt.
	PublishElectionAttempt(ctx context.Context, acquired bool) error

	// PublishStaleMasterReleased publishes a forced release of a master presumed dead.
	PublishStaleMasterReleased(ctx context.Context) error

	// PublishOwnershipLost publishes a master discovering it no longer holds the lock.
	PublishOwnershipLost(ctx context.Context) error

	// PublishSchedulerStartFailure publishes a scheduler that failed to start after election.
	PublishSchedulerStartFailure(ctx context.Context) error

	// PublishHeartbeatFailure publishes a failed heartbeat write.
	PublishHeartbeatFailure(ctx context.Context) error

	// PublishMasterStatus publishes whether this node is master, and its current epoch.
	PublishMasterStatus(ctx context.Context, isMaster bool, epoch uint64) error

	// PublishHeartbeatAge publishes the time since the last recorded heartbeat.
	PublishHeartbeatAge(ctx context.Context, age time.Duration) error

	// PublishJobRun publishes one run of a scheduled job.
	PublishJobRun(ctx context.Context, jobName string, duration time.Duration, failed bool) error

	// PublishServiceCheck publishes a service health check.
	// status: 0=OK, 1=Warning, 2=Critical, 3=Unknown
	PublishServiceCheck(ctx context.Context, name string, status int, message string) error

	// PublishEvent publishes a notable event (e.g., master elected, ownership lost).
	// alertType: "info", "warning", "error", "success"
	PublishEvent(ctx context.Context, title, text, alertType string, tags []string) error
}

// NoopPublisher is a no-op implementation of Publisher for testing or disabled metrics.
// All methods are documented on the Publisher interface.
type NoopPublisher struct{}

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) Close() error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishElectionAttempt(context.Context, bool) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishStaleMasterReleased(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishOwnershipLost(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishSchedulerStartFailure(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishHeartbeatFailure(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishMasterStatus(context.Context, bool, uint64) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishHeartbeatAge(context.Context, time.Duration) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishJobRun(context.Context, string, time.Duration, bool) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishServiceCheck(context.Context, string, int, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishEvent(context.Context, string, string, string, []string) error {
	return nil
}

// Ensure NoopPublisher implements Publisher.
var _ Publisher = NoopPublisher{}
