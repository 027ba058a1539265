package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Shavakan/masterlock/pkg/logging"
)

// publishTimeout bounds one fan-out. Election loops publish inline, so a
// hung backend must not stall them.
const publishTimeout = 5 * time.Second

var metricsLog = logging.WithComponent(logging.LogTypeMetrics, "multi")

// MultiPublisher publishes metrics to multiple backends simultaneously.
// All Publisher interface methods are documented on the Publisher interface.
type MultiPublisher struct {
	publishers []Publisher
}

// Ensure MultiPublisher implements Publisher.
var _ Publisher = (*MultiPublisher)(nil)

// NewMultiPublisher creates a publisher that fans out to multiple backends.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

// Publishers returns the list of configured publishers.
func (m *MultiPublisher) Publishers() []Publisher {
	return m.publishers
}

// Close closes all child publishers.
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %T: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// publishAll calls fn on every backend in parallel and waits until each has
// returned or the fan-out deadline passes. A backend that misses the deadline
// keeps running in the background and is reported as an error.
func (m *MultiPublisher) publishAll(ctx context.Context, metric string, fn func(ctx context.Context, p Publisher) error) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	errs := make([]error, len(m.publishers))
	var wg sync.WaitGroup
	for i, p := range m.publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan error, 1)
			go func() {
				done <- fn(ctx, p)
			}()

			var err error
			select {
			case err = <-done:
			case <-ctx.Done():
				err = fmt.Errorf("publish %s: %w", metric, ctx.Err())
			}
			if err != nil {
				metricsLog.Warn("metrics publish failed",
					slog.String("metric", metric),
					slog.String(logging.KeyBackend, fmt.Sprintf("%T", p)),
					slog.String(logging.KeyError, err.Error()),
				)
				errs[i] = err
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (m *MultiPublisher) PublishElectionAttempt(ctx context.Context, acquired bool) error { //nolint:revive
	return m.publishAll(ctx, "election_attempt", func(ctx context.Context, p Publisher) error {
		return p.PublishElectionAttempt(ctx, acquired)
	})
}

func (m *MultiPublisher) PublishStaleMasterReleased(ctx context.Context) error { //nolint:revive
	return m.publishAll(ctx, "stale_master_released", func(ctx context.Context, p Publisher) error {
		return p.PublishStaleMasterReleased(ctx)
	})
}

func (m *MultiPublisher) PublishOwnershipLost(ctx context.Context) error { //nolint:revive
	return m.publishAll(ctx, "ownership_lost", func(ctx context.Context, p Publisher) error {
		return p.PublishOwnershipLost(ctx)
	})
}

func (m *MultiPublisher) PublishSchedulerStartFailure(ctx context.Context) error { //nolint:revive
	return m.publishAll(ctx, "scheduler_start_failure", func(ctx context.Context, p Publisher) error {
		return p.PublishSchedulerStartFailure(ctx)
	})
}

func (m *MultiPublisher) PublishHeartbeatFailure(ctx context.Context) error { //nolint:revive
	return m.publishAll(ctx, "heartbeat_failure", func(ctx context.Context, p Publisher) error {
		return p.PublishHeartbeatFailure(ctx)
	})
}

func (m *MultiPublisher) PublishMasterStatus(ctx context.Context, isMaster bool, epoch uint64) error { //nolint:revive
	return m.publishAll(ctx, "master_status", func(ctx context.Context, p Publisher) error {
		return p.PublishMasterStatus(ctx, isMaster, epoch)
	})
}

func (m *MultiPublisher) PublishHeartbeatAge(ctx context.Context, age time.Duration) error { //nolint:revive
	return m.publishAll(ctx, "heartbeat_age", func(ctx context.Context, p Publisher) error {
		return p.PublishHeartbeatAge(ctx, age)
	})
}

func (m *MultiPublisher) PublishJobRun(ctx context.Context, jobName string, duration time.Duration, failed bool) error { //nolint:revive
	return m.publishAll(ctx, "job_run", func(ctx context.Context, p Publisher) error {
		return p.PublishJobRun(ctx, jobName, duration, failed)
	})
}

func (m *MultiPublisher) PublishServiceCheck(ctx context.Context, name string, status int, message string) error { //nolint:revive
	return m.publishAll(ctx, "service_check", func(ctx context.Context, p Publisher) error {
		return p.PublishServiceCheck(ctx, name, status, message)
	})
}

func (m *MultiPublisher) PublishEvent(ctx context.Context, title, text, alertType string, tags []string) error { //nolint:revive
	return m.publishAll(ctx, "event", func(ctx context.Context, p Publisher) error {
		return p.PublishEvent(ctx, title, text, alertType, tags)
	})
}
