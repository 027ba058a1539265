package election

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Shavakan/masterlock/pkg/events"
	"github.com/Shavakan/masterlock/pkg/logging"
	"github.com/Shavakan/masterlock/pkg/tracing"
)

var electorLog = logging.WithComponent(logging.LogTypeElection, "elector")

// staleWatch remembers the holder seen on the previous check. A holder is
// normally aged from its last heartbeat. When this elector watches the lock
// change hands, the new holder is aged from that moment instead, so a master
// that has just won is not evicted for its predecessor's old heartbeat.
type staleWatch struct {
	seen   bool
	holder string
	since  time.Time
}

// elect competes for the lock until this node is master. It returns nil once
// promoted, or an error when ctx ends or the worker has been superseded.
func (s *Supervisor) elect(ctx context.Context, gen uint64) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.ErrorBackoffInitial
	bo.MaxInterval = s.config.ErrorBackoffMax
	bo.Reset()

	var watch staleWatch
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		acquired, err := s.acquire(ctx, gen)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := bo.NextBackOff()
			electorLog.Warn("lock acquisition failed, backing off",
				slog.String(logging.KeyError, err.Error()),
				slog.Duration("backoff", wait),
			)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if acquired {
			err := s.promote(ctx, gen)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, ErrSchedulerStart):
				wait := bo.NextBackOff()
				electorLog.Error("scheduler start failed, retrying election",
					slog.String(logging.KeyError, err.Error()),
					slog.Duration("backoff", wait),
				)
				if err := sleepCtx(ctx, wait); err != nil {
					return err
				}
				continue
			default:
				return err
			}
		}

		if err := s.checkStale(ctx, &watch); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			electorLog.Warn("staleness check failed", slog.String(logging.KeyError, err.Error()))
			continue
		}
		bo.Reset()
	}
}

// acquire makes one bounded attempt, waiting up to one heartbeat interval.
func (s *Supervisor) acquire(ctx context.Context, gen uint64) (bool, error) {
	ctx, span := s.tracer.StartAcquireSpan(ctx, s.coord.LockName(), gen)
	defer span.End()

	acquired, err := s.coord.Acquire(ctx, s.config.HeartbeatInterval)
	if err != nil {
		tracing.RecordError(ctx, err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("election.acquired", acquired))

	if err := s.metrics.PublishElectionAttempt(ctx, acquired); err != nil {
		electorLog.Warn("failed to publish election attempt", slog.String(logging.KeyError, err.Error()))
	}
	return acquired, nil
}

// checkStale force-releases the lock when its holder has not beaten within
// the heartbeat timeout. The release is conditional on the same holder, so a
// node that took over in the meantime keeps the lock.
func (s *Supervisor) checkStale(ctx context.Context, watch *staleWatch) error {
	holder, err := s.coord.Holder(ctx)
	if err != nil {
		return fmt.Errorf("failed to read lock holder: %w", err)
	}
	now := s.now()
	if watch.seen && holder != watch.holder {
		watch.since = now
	}
	watch.seen = true
	watch.holder = holder
	if holder == "" {
		return nil
	}

	last, err := s.heartbeat.Last(ctx)
	if err != nil {
		return fmt.Errorf("failed to read heartbeat: %w", err)
	}

	ref := last
	if watch.since.After(ref) {
		ref = watch.since
	}
	if ref.IsZero() {
		// No heartbeat recorded at all: age the holder from first sight.
		watch.since = now
		return nil
	}
	age := now.Sub(ref)
	if age <= s.config.HeartbeatTimeout {
		return nil
	}

	released, err := s.coord.ReleaseStale(ctx, holder)
	if err != nil {
		return err
	}
	watch.holder = ""
	watch.since = now
	if !released {
		return nil
	}

	electorLog.Warn("released lock of stale master",
		slog.String(logging.KeyHolder, holder),
		slog.Time(logging.KeyHeartbeat, last),
		slog.Duration("age", age),
	)
	tracing.AddEvent(ctx, "stale_master_released", attribute.String("election.holder", holder))
	if err := s.metrics.PublishStaleMasterReleased(ctx); err != nil {
		electorLog.Warn("failed to publish stale release", slog.String(logging.KeyError, err.Error()))
	}
	s.notify(events.TypeStaleMasterReleased, holder, fmt.Sprintf("no heartbeat for %s", age.Round(time.Millisecond)))
	return nil
}

// promote hands the lock to the scheduler. It runs under the lifecycle mutex
// so stop and restart cannot interleave with a scheduler start. A superseded
// worker gives the lock back instead.
func (s *Supervisor) promote(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		if err := s.coord.Release(context.WithoutCancel(ctx)); err != nil {
			electorLog.Warn("failed to release lock won by retired worker", slog.String(logging.KeyError, err.Error()))
		}
		return errRetired
	}

	epoch := s.coord.Epoch()
	ctx, span := s.tracer.StartPromoteSpan(ctx, epoch)
	defer span.End()

	s.takeOffice(ctx)

	if err := s.scheduler.Start(ctx); err != nil {
		tracing.RecordError(ctx, err)
		if perr := s.metrics.PublishSchedulerStartFailure(ctx); perr != nil {
			electorLog.Warn("failed to publish scheduler start failure", slog.String(logging.KeyError, perr.Error()))
		}
		if serr := s.scheduler.Shutdown(ctx); serr != nil {
			electorLog.Warn("scheduler shutdown after failed start", slog.String(logging.KeyError, serr.Error()))
		}
		if rerr := s.coord.Release(ctx); rerr != nil {
			electorLog.Warn("failed to release lock after failed start", slog.String(logging.KeyError, rerr.Error()))
		}
		return fmt.Errorf("%w: %w", ErrSchedulerStart, err)
	}

	s.state.Store(int32(StateMaster))
	electorLog.Info("elected master",
		slog.String(logging.KeyInstanceID, s.config.InstanceID),
		slog.String(logging.KeyOwner, s.coord.Token()),
		slog.Uint64(logging.KeyEpoch, epoch),
	)
	if err := s.metrics.PublishMasterStatus(ctx, true, epoch); err != nil {
		electorLog.Warn("failed to publish master status", slog.String(logging.KeyError, err.Error()))
	}
	if err := s.metrics.PublishEvent(ctx, "masterlock master elected",
		fmt.Sprintf("%s became master of %s (epoch %d)", s.config.InstanceID, s.coord.LockName(), epoch),
		"info", nil); err != nil {
		electorLog.Warn("failed to publish master event", slog.String(logging.KeyError, err.Error()))
	}
	s.notify(events.TypeBecameMaster, s.coord.Token(), "")
	return nil
}
