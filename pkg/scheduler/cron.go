// Package scheduler runs the cron jobs guarded by the master lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shavakan/masterlock/pkg/logging"
	"github.com/Shavakan/masterlock/pkg/tracing"
)

var (
	// ErrJobExists is returned when a job name is registered twice.
	ErrJobExists = errors.New("job already registered")

	// ErrInvalidSchedule is returned for a cron expression that does not parse.
	ErrInvalidSchedule = errors.New("invalid cron schedule")
)

var schedLog = logging.WithComponent(logging.LogTypeScheduler, "cron")

// JobFunc is one run of a scheduled job.
type JobFunc func(ctx context.Context) error

// JobMetrics defines metrics operations for job runs.
type JobMetrics interface {
	PublishJobRun(ctx context.Context, jobName string, duration time.Duration, failed bool) error
}

type runState int

const (
	stateStopped runState = iota
	stateRunning
	stateStandby
)

type job struct {
	name     string
	schedule string
	timeout  time.Duration
	entryID  cron.EntryID
}

// JobStatus describes a registered job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
}

// CronScheduler runs registered jobs on cron schedules. Start, Standby and
// Shutdown follow the master's lifecycle: jobs fire only between Start and
// the next Standby or Shutdown, and Shutdown cancels and waits for runs in
// flight.
type CronScheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	metrics JobMetrics

	mu        sync.Mutex
	jobs      map[string]*job
	state     runState
	runCtx    context.Context
	cancelRun context.CancelFunc
	inflight  sync.WaitGroup
}

// NewCronScheduler creates a stopped scheduler. Schedules accept an optional
// leading seconds field and descriptors such as @every 1m.
func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := cronLogger{log: schedLog}
	return &CronScheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		parser: parser,
		jobs:   make(map[string]*job),
	}
}

// SetMetrics sets the metrics publisher for job runs.
func (s *CronScheduler) SetMetrics(m JobMetrics) {
	s.metrics = m
}

// AddJob registers fn under name. A zero timeout leaves runs bounded only
// by Shutdown.
func (s *CronScheduler) AddJob(name, schedule string, timeout time.Duration, fn JobFunc) error {
	if _, err := s.parser.Parse(schedule); err != nil {
		return fmt.Errorf("%w %q for job %s: %w", ErrInvalidSchedule, schedule, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}

	j := &job{name: name, schedule: schedule, timeout: timeout}
	id, err := s.cron.AddFunc(schedule, func() { s.execute(j, fn) })
	if err != nil {
		return fmt.Errorf("%w %q for job %s: %w", ErrInvalidSchedule, schedule, name, err)
	}
	j.entryID = id
	s.jobs[name] = j

	schedLog.Debug("job registered",
		slog.String(logging.KeyJobName, name),
		slog.String("schedule", schedule),
	)
	return nil
}

// Jobs lists registered jobs with their next and previous fire times.
func (s *CronScheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		entry := s.cron.Entry(j.entryID)
		st := JobStatus{Name: j.name, Schedule: j.schedule, Prev: entry.Prev}
		if s.state == stateRunning {
			st.Next = entry.Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Running reports whether jobs are currently being fired.
func (s *CronScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Start begins firing jobs, or resumes them after Standby.
func (s *CronScheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return nil
	case stateStopped:
		s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	}

	s.cron.Start()
	s.state = stateRunning
	schedLog.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Standby stops firing new runs. Runs in flight continue.
func (s *CronScheduler) Standby(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return nil
	}
	s.cron.Stop()
	s.state = stateStandby
	schedLog.Info("scheduler in standby")
	return nil
}

// Shutdown stops firing, cancels runs in flight and waits for them until
// ctx ends.
func (s *CronScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return nil
	}
	s.cron.Stop()
	s.cancelRun()
	s.state = stateStopped
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		schedLog.Info("scheduler shut down")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for running jobs: %w", ctx.Err())
	}
}

func (s *CronScheduler) execute(j *job, fn JobFunc) {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	ctx := s.runCtx
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, "scheduler.job", trace.WithAttributes(attribute.String("job.name", j.name)))
	defer span.End()

	start := time.Now()
	err := call(ctx, fn)
	duration := time.Since(start)

	if err != nil {
		tracing.RecordError(ctx, err)
		schedLog.Error("job failed",
			slog.String(logging.KeyJobName, j.name),
			slog.Int64(logging.KeyDuration, duration.Milliseconds()),
			slog.String(logging.KeyError, err.Error()),
		)
	} else {
		schedLog.Info("job completed",
			slog.String(logging.KeyJobName, j.name),
			slog.Int64(logging.KeyDuration, duration.Milliseconds()),
		)
	}

	if s.metrics != nil {
		if merr := s.metrics.PublishJobRun(context.WithoutCancel(ctx), j.name, duration, err != nil); merr != nil {
			schedLog.Warn("failed to publish job run", slog.String(logging.KeyError, merr.Error()))
		}
	}
}

// call runs fn, turning a panic into an error.
func call(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, logging.KeyError, err.Error())...)
}
