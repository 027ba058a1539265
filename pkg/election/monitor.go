package election

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Shavakan/masterlock/pkg/events"
	"github.com/Shavakan/masterlock/pkg/logging"
)

var monitorLog = logging.WithComponent(logging.LogTypeHeartbeat, "monitor")

// monitor keeps the master's heartbeat fresh: refresh, sleep one interval,
// verify ownership. It returns ErrOwnershipLost as soon as verification
// fails, and ctx.Err() when stopped.
func (s *Supervisor) monitor(ctx context.Context) error {
	for {
		s.beat(ctx)

		if err := sleepCtx(ctx, s.config.HeartbeatInterval); err != nil {
			return err
		}

		owned, err := s.coord.IsOwned(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || !owned {
			return s.ownershipLost(ctx, err)
		}
	}
}

// beat writes one heartbeat. Failures are counted and logged; a master that
// cannot beat is eventually evicted by its peers.
func (s *Supervisor) beat(ctx context.Context) {
	s.heartbeatFailed(ctx, s.UpdateHeartbeat(ctx))
}

// takeOffice overwrites the shared heartbeat with this master's clock, even
// when a predecessor left a later timestamp behind.
func (s *Supervisor) takeOffice(ctx context.Context) {
	var err error
	if rerr := s.heartbeat.Reset(ctx, s.now()); rerr != nil {
		err = fmt.Errorf("failed to reset heartbeat: %w", rerr)
	}
	s.heartbeatFailed(ctx, err)
}

func (s *Supervisor) heartbeatFailed(ctx context.Context, err error) {
	if err == nil || ctx.Err() != nil {
		return
	}
	monitorLog.Warn("heartbeat write failed", slog.String(logging.KeyError, err.Error()))
	if perr := s.metrics.PublishHeartbeatFailure(ctx); perr != nil {
		monitorLog.Warn("failed to publish heartbeat failure", slog.String(logging.KeyError, perr.Error()))
	}
}

func (s *Supervisor) ownershipLost(ctx context.Context, cause error) error {
	holder, _ := s.coord.Holder(ctx)
	attrs := []any{
		slog.String(logging.KeyOwner, s.coord.Token()),
		slog.String(logging.KeyHolder, holder),
		slog.Uint64(logging.KeyEpoch, s.coord.Epoch()),
	}
	if cause != nil {
		attrs = append(attrs, slog.String(logging.KeyError, cause.Error()))
	}
	monitorLog.Error("master lock ownership lost", attrs...)

	if err := s.metrics.PublishOwnershipLost(ctx); err != nil {
		monitorLog.Warn("failed to publish ownership loss", slog.String(logging.KeyError, err.Error()))
	}
	if err := s.metrics.PublishEvent(ctx, "masterlock ownership lost",
		fmt.Sprintf("%s lost %s (epoch %d)", s.config.InstanceID, s.coord.LockName(), s.coord.Epoch()),
		"warning", nil); err != nil {
		monitorLog.Warn("failed to publish ownership event", slog.String(logging.KeyError, err.Error()))
	}
	reason := "lock held by another owner"
	switch {
	case cause != nil:
		reason = cause.Error()
	case holder == "":
		reason = "lock released"
	}
	s.notify(events.TypeOwnershipLost, holder, reason)

	if cause != nil {
		return fmt.Errorf("%w: %w", ErrOwnershipLost, cause)
	}
	return ErrOwnershipLost
}
