package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPrometheusNamespace = "masterlock"

// PrometheusPublisher publishes metrics to Prometheus via /metrics endpoint.
// All Publisher interface methods are documented on the Publisher interface.
type PrometheusPublisher struct {
	registry *prometheus.Registry

	electionAttempts       *prometheus.CounterVec
	staleMasterReleases    prometheus.Counter
	ownershipLosses        prometheus.Counter
	schedulerStartFailures prometheus.Counter
	heartbeatFailures      prometheus.Counter
	isMaster               prometheus.Gauge
	epoch                  prometheus.Gauge
	heartbeatAge           prometheus.Gauge
	jobRuns                *prometheus.CounterVec
	jobDuration            *prometheus.HistogramVec
}

// Ensure PrometheusPublisher implements Publisher.
var _ Publisher = (*PrometheusPublisher)(nil)

// PrometheusConfig holds configuration for the Prometheus publisher.
type PrometheusConfig struct {
	Namespace string
}

// NewPrometheusPublisher creates a Prometheus metrics publisher.
func NewPrometheusPublisher(cfg PrometheusConfig) *PrometheusPublisher {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultPrometheusNamespace
	}

	registry := prometheus.NewRegistry()

	p := &PrometheusPublisher{
		registry: registry,

		electionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "election_attempts_total",
			Help:      "Total number of bounded lock acquisition attempts",
		}, []string{"result"}),
		staleMasterReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "stale_master_releases_total",
			Help:      "Total number of locks force-released from masters presumed dead",
		}),
		ownershipLosses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "ownership_losses_total",
			Help:      "Total number of times this node lost the master lock while master",
		}),
		schedulerStartFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "scheduler_start_failures_total",
			Help:      "Total number of scheduler start failures after election",
		}),
		heartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "heartbeat_write_failures_total",
			Help:      "Total number of failed heartbeat writes",
		}),
		isMaster: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "is_master",
			Help:      "1 if this node currently holds the master lock",
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "epoch",
			Help:      "Number of successful lock acquisitions by this node",
		}),
		heartbeatAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "heartbeat_age_seconds",
			Help:      "Seconds since the last recorded master heartbeat",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}

	registry.MustRegister(
		p.electionAttempts,
		p.staleMasterReleases,
		p.ownershipLosses,
		p.schedulerStartFailures,
		p.heartbeatFailures,
		p.isMaster,
		p.epoch,
		p.heartbeatAge,
		p.jobRuns,
		p.jobDuration,
	)

	return p
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (p *PrometheusPublisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry for custom integrations.
func (p *PrometheusPublisher) Registry() *prometheus.Registry {
	return p.registry
}

// Close implements Publisher.Close. Prometheus registry doesn't require cleanup.
func (p *PrometheusPublisher) Close() error {
	return nil
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (p *PrometheusPublisher) PublishElectionAttempt(_ context.Context, acquired bool) error { //nolint:revive
	p.electionAttempts.WithLabelValues(attemptResult(acquired)).Inc()
	return nil
}

func (p *PrometheusPublisher) PublishStaleMasterReleased(_ context.Context) error { //nolint:revive
	p.staleMasterReleases.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishOwnershipLost(_ context.Context) error { //nolint:revive
	p.ownershipLosses.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishSchedulerStartFailure(_ context.Context) error { //nolint:revive
	p.schedulerStartFailures.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishHeartbeatFailure(_ context.Context) error { //nolint:revive
	p.heartbeatFailures.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishMasterStatus(_ context.Context, isMaster bool, epoch uint64) error { //nolint:revive
	p.isMaster.Set(boolToFloat(isMaster))
	p.epoch.Set(float64(epoch))
	return nil
}

func (p *PrometheusPublisher) PublishHeartbeatAge(_ context.Context, age time.Duration) error { //nolint:revive
	p.heartbeatAge.Set(age.Seconds())
	return nil
}

func (p *PrometheusPublisher) PublishJobRun(_ context.Context, jobName string, duration time.Duration, failed bool) error { //nolint:revive
	p.jobRuns.WithLabelValues(jobName, jobResult(failed)).Inc()
	p.jobDuration.WithLabelValues(jobName).Observe(duration.Seconds())
	return nil
}

// PublishServiceCheck is a no-op for Prometheus (Datadog-specific feature).
func (p *PrometheusPublisher) PublishServiceCheck(_ context.Context, _ string, _ int, _ string) error { //nolint:revive
	return nil
}

// PublishEvent is a no-op for Prometheus (Datadog-specific feature).
func (p *PrometheusPublisher) PublishEvent(_ context.Context, _, _, _ string, _ []string) error { //nolint:revive
	return nil
}

func attemptResult(acquired bool) string {
	if acquired {
		return "acquired"
	}
	return "timeout"
}

func jobResult(failed bool) string {
	if failed {
		return "failure"
	}
	return "success"
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
