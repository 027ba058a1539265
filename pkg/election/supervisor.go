package election

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shavakan/masterlock/pkg/config"
	"github.com/Shavakan/masterlock/pkg/coordinator"
	"github.com/Shavakan/masterlock/pkg/events"
	"github.com/Shavakan/masterlock/pkg/heartbeat"
	"github.com/Shavakan/masterlock/pkg/logging"
	"github.com/Shavakan/masterlock/pkg/metrics"
	"github.com/Shavakan/masterlock/pkg/tracing"
)

var electionLog = logging.WithComponent(logging.LogTypeElection, "supervisor")

// Supervisor is the lifecycle surface of one node's election. Start, Stop,
// Restart and Standby are serialized; Start returns as soon as the worker is
// dispatched and no worker error ever reaches the caller.
type Supervisor struct {
	config    Config
	coord     *coordinator.Coordinator
	heartbeat heartbeat.Store
	scheduler Scheduler
	metrics   metrics.Publisher
	notifier  events.Notifier
	tracer    *tracing.ElectionTracer
	now       func() time.Time

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	closed     bool

	state atomic.Int32
	wg    sync.WaitGroup
}

// Status is a point-in-time view of the supervisor for operators.
type Status struct {
	InstanceID    string    `json:"instance_id"`
	LockName      string    `json:"lock_name"`
	State         string    `json:"state"`
	IsMaster      bool      `json:"is_master"`
	Epoch         uint64    `json:"epoch"`
	Holder        string    `json:"holder,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	HeartbeatAge  string    `json:"heartbeat_age,omitempty"`
}

// New creates an idle supervisor. The coordinator and heartbeat store are
// shared setup created once by the caller.
func New(cfg Config, coord *coordinator.Coordinator, store heartbeat.Store, sched Scheduler) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if coord == nil || store == nil || sched == nil {
		return nil, fmt.Errorf("%w: coordinator, heartbeat store and scheduler are required", ErrInvalidConfig)
	}
	return &Supervisor{
		config:    cfg.withDefaults(),
		coord:     coord,
		heartbeat: store,
		scheduler: sched,
		metrics:   metrics.NoopPublisher{},
		notifier:  events.NoopNotifier{},
		tracer:    tracing.NewElectionTracer(cfg.InstanceID),
		now:       time.Now,
	}, nil
}

// SetMetrics sets the metrics publisher.
func (s *Supervisor) SetMetrics(m metrics.Publisher) {
	s.metrics = m
}

// SetNotifier sets the publisher for election transition events.
func (s *Supervisor) SetNotifier(n events.Notifier) {
	s.notifier = n
}

// Start dispatches a worker that elects this node and then monitors its
// heartbeat. It is a no-op when a worker is already running.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

// Stop shuts down the scheduler and releases the lock. Stopping a node that
// does not hold the lock only logs a warning.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx, "requested")
}

// Restart stops and starts again. There is a window without any master while
// the lock is up for election.
func (s *Supervisor) Restart(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartLocked(ctx, "requested")
}

// Standby pauses the scheduler while keeping the lock. It only applies to a
// master; failures are logged.
func (s *Supervisor) Standby(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state := s.State(); state != StateMaster {
		electionLog.Warn("standby ignored, node is not master",
			slog.String(logging.KeyState, state.String()))
		return
	}
	if err := s.scheduler.Standby(ctx); err != nil {
		electionLog.Error("scheduler standby failed", slog.String(logging.KeyError, err.Error()))
		return
	}
	electionLog.Info("scheduler in standby", slog.Uint64(logging.KeyEpoch, s.coord.Epoch()))
}

// UpdateHeartbeat records the current time as the master's latest heartbeat.
func (s *Supervisor) UpdateHeartbeat(ctx context.Context) error {
	if err := s.heartbeat.Update(ctx, s.now()); err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// IsMaster reports whether the lock backend shows this node's current token
// as holder. Backend errors count as not master.
func (s *Supervisor) IsMaster(ctx context.Context) bool {
	owned, err := s.coord.IsOwned(ctx)
	if err != nil {
		electionLog.Debug("ownership check failed", slog.String(logging.KeyError, err.Error()))
		return false
	}
	return owned
}

// LastHeartbeat returns the latest recorded heartbeat, zero when none exists.
func (s *Supervisor) LastHeartbeat(ctx context.Context) (time.Time, error) {
	last, err := s.heartbeat.Last(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read heartbeat: %w", err)
	}
	return last, nil
}

// Epoch returns the number of times this node has won the lock.
func (s *Supervisor) Epoch() uint64 {
	return s.coord.Epoch()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Status collects the supervisor's view of the election.
func (s *Supervisor) Status(ctx context.Context) Status {
	st := Status{
		InstanceID: s.config.InstanceID,
		LockName:   s.coord.LockName(),
		State:      s.State().String(),
		IsMaster:   s.IsMaster(ctx),
		Epoch:      s.coord.Epoch(),
	}
	if holder, err := s.coord.Holder(ctx); err == nil {
		st.Holder = holder
	}
	if last, err := s.heartbeat.Last(ctx); err == nil && !last.IsZero() {
		st.LastHeartbeat = last
		st.HeartbeatAge = s.now().Sub(last).Round(time.Millisecond).String()
	}
	return st
}

// ReportMetrics publishes master status, heartbeat age and a heartbeat
// service check. It is meant to be called periodically.
func (s *Supervisor) ReportMetrics(ctx context.Context) {
	isMaster := s.IsMaster(ctx)
	if err := s.metrics.PublishMasterStatus(ctx, isMaster, s.coord.Epoch()); err != nil {
		electionLog.Warn("failed to publish master status", slog.String(logging.KeyError, err.Error()))
	}

	last, err := s.heartbeat.Last(ctx)
	status, message := metrics.ServiceCheckOK, ""
	switch {
	case err != nil:
		status, message = metrics.ServiceCheckUnknown, err.Error()
	case last.IsZero():
		status, message = metrics.ServiceCheckUnknown, "no heartbeat recorded"
	default:
		age := s.now().Sub(last)
		if err := s.metrics.PublishHeartbeatAge(ctx, age); err != nil {
			electionLog.Warn("failed to publish heartbeat age", slog.String(logging.KeyError, err.Error()))
		}
		if age > s.config.HeartbeatTimeout {
			status, message = metrics.ServiceCheckCritical, fmt.Sprintf("heartbeat is %s old", age.Round(time.Millisecond))
		}
	}
	if err := s.metrics.PublishServiceCheck(ctx, "masterlock.heartbeat", status, message); err != nil {
		electionLog.Warn("failed to publish service check", slog.String(logging.KeyError, err.Error()))
	}
}

// Close stops the supervisor for good and waits for its goroutines.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.stopLocked(ctx, "shutdown")
		s.closed = true
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for election workers: %w", ctx.Err())
	}
}

func (s *Supervisor) startLocked() {
	if s.closed {
		electionLog.Warn("start ignored, supervisor is closed")
		return
	}
	if s.cancel != nil {
		electionLog.Warn("start ignored, election already running",
			slog.String(logging.KeyState, s.State().String()))
		return
	}

	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	prev := s.done
	done := make(chan struct{})
	s.done = done

	s.state.Store(int32(StateElecting))
	electionLog.Info("election started",
		slog.String(logging.KeyInstanceID, s.config.InstanceID),
		slog.Uint64(logging.KeyGeneration, gen),
	)

	s.wg.Add(1)
	go s.run(ctx, gen, prev, done)
}

func (s *Supervisor) stopLocked(ctx context.Context, reason string) {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	wasMaster := s.State() == StateMaster
	s.state.Store(int32(StateStopping))

	if err := s.scheduler.Shutdown(ctx); err != nil {
		electionLog.Error("scheduler shutdown failed", slog.String(logging.KeyError, err.Error()))
	}

	if err := s.coord.Release(ctx); err != nil {
		if errors.Is(err, coordinator.ErrLockInactive) {
			electionLog.Warn("lock service inactive during release", slog.String(logging.KeyError, err.Error()))
		} else {
			electionLog.Error("lock release failed", slog.String(logging.KeyError, err.Error()))
		}
	}

	s.state.Store(int32(StateIdle))
	if wasMaster {
		if err := s.metrics.PublishMasterStatus(ctx, false, s.coord.Epoch()); err != nil {
			electionLog.Warn("failed to publish master status", slog.String(logging.KeyError, err.Error()))
		}
		s.notify(events.TypeStopped, "", reason)
	}
	electionLog.Info("election stopped", slog.Uint64(logging.KeyGeneration, s.generation))
}

func (s *Supervisor) restartLocked(ctx context.Context, reason string) {
	ctx, span := s.tracer.StartRestartSpan(ctx, reason)
	defer span.End()

	electionLog.Info("restarting election", slog.String(logging.KeyReason, reason))
	s.stopLocked(ctx, reason)
	s.startLocked()
}

// restartIfCurrent restarts only if no stop or restart happened since gen.
func (s *Supervisor) restartIfCurrent(gen uint64, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.LifecycleTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.generation != gen {
		return
	}
	s.restartLocked(ctx, reason)
}

// run is the worker: elect, then monitor until ownership is lost or ctx ends.
func (s *Supervisor) run(ctx context.Context, gen uint64, prev <-chan struct{}, done chan<- struct{}) {
	defer s.wg.Done()
	defer close(done)

	if prev != nil {
		<-prev
	}

	if err := s.elect(ctx, gen); err != nil {
		return
	}

	if err := s.monitor(ctx); errors.Is(err, ErrOwnershipLost) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.restartIfCurrent(gen, "ownership_lost")
		}()
	}
}

// notify publishes an election event without blocking the caller.
func (s *Supervisor) notify(typ events.Type, holder, reason string) {
	event := events.Event{
		Type:       typ,
		InstanceID: s.config.InstanceID,
		LockName:   s.coord.LockName(),
		Epoch:      s.coord.Epoch(),
		Holder:     holder,
		Reason:     reason,
		Timestamp:  s.now(),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), config.ShortTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, event); err != nil {
			electionLog.Warn("failed to publish election event",
				slog.String("event_type", string(typ)),
				slog.String(logging.KeyError, err.Error()),
			)
		}
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
