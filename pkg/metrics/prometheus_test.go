package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPrometheusPublisher(t *testing.T) {
	tests := []struct {
		name   string
		cfg    PrometheusConfig
		wantNS string
	}{
		{
			name:   "default namespace",
			cfg:    PrometheusConfig{},
			wantNS: defaultPrometheusNamespace,
		},
		{
			name:   "custom namespace",
			cfg:    PrometheusConfig{Namespace: "custom"},
			wantNS: "custom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewPrometheusPublisher(tt.cfg)
			if pub == nil {
				t.Fatal("NewPrometheusPublisher() returned nil")
			}
			_ = pub.PublishOwnershipLost(context.Background())

			w := httptest.NewRecorder()
			pub.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
			if !strings.Contains(w.Body.String(), tt.wantNS+"_ownership_losses_total 1") {
				t.Errorf("metrics output missing %s_ownership_losses_total", tt.wantNS)
			}
		})
	}
}

func TestPrometheusPublisher_Handler(t *testing.T) {
	pub := NewPrometheusPublisher(PrometheusConfig{})

	handler := pub.Handler()
	if handler == nil {
		t.Fatal("Handler() returned nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("Handler status = %d, want 200", w.Code)
	}
}

func TestPrometheusPublisher_Registry(t *testing.T) {
	pub := NewPrometheusPublisher(PrometheusConfig{})

	registry := pub.Registry()
	if registry == nil {
		t.Error("Registry() returned nil")
	}
	if registry != pub.registry {
		t.Error("Registry() returned different registry")
	}
}

func TestPrometheusPublisher_Close(t *testing.T) {
	pub := NewPrometheusPublisher(PrometheusConfig{})

	if err := pub.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPrometheusPublisher_Counters(t *testing.T) {
	pub := NewPrometheusPublisher(PrometheusConfig{})
	ctx := context.Background()

	_ = pub.PublishElectionAttempt(ctx, true)
	_ = pub.PublishElectionAttempt(ctx, false)
	_ = pub.PublishElectionAttempt(ctx, false)
	_ = pub.PublishStaleMasterReleased(ctx)
	_ = pub.PublishSchedulerStartFailure(ctx)
	_ = pub.PublishHeartbeatFailure(ctx)
	_ = pub.PublishHeartbeatFailure(ctx)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"acquired", testutil.ToFloat64(pub.electionAttempts.WithLabelValues("acquired")), 1},
		{"timeout", testutil.ToFloat64(pub.electionAttempts.WithLabelValues("timeout")), 2},
		{"stale releases", testutil.ToFloat64(pub.staleMasterReleases), 1},
		{"ownership losses", testutil.ToFloat64(pub.ownershipLosses), 0},
		{"scheduler start failures", testutil.ToFloat64(pub.schedulerStartFailures), 1},
		{"heartbeat failures", testutil.ToFloat64(pub.heartbeatFailures), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestPrometheusPublisher_Gauges(t *testing.T) {
	pub := NewPrometheusPublisher(PrometheusConfig{})
	ctx := context.Background()

	_ = pub.PublishMasterStatus(ctx, true, 3)
	_ = pub.PublishHeartbeatAge(ctx, 1500*time.Millisecond)

	if got := testutil.ToFloat64(pub.isMaster); got != 1 {
		t.Errorf("is_master = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pub.epoch); got != 3 {
		t.Errorf("epoch = %v, want 3", got)
	}
	if got := testutil.ToFloat64(pub.heartbeatAge); got != 1.5 {
		t.Errorf("heartbeat_age_seconds = %v, want 1.5", got)
	}

	_ = pub.PublishMasterStatus(ctx, false, 3)
	if got := testutil.ToFloat64(pub.isMaster); got != 0 {
		t.Errorf("is_master after standby = %v, want 0", got)
	}
}

func TestPrometheusPublisher_JobRuns(t *testing.T) {
	pub := NewPrometheusPublisher(PrometheusConfig{})
	ctx := context.Background()

	_ = pub.PublishJobRun(ctx, "report", 2*time.Second, false)
	_ = pub.PublishJobRun(ctx, "report", time.Second, true)

	if got := testutil.ToFloat64(pub.jobRuns.WithLabelValues("report", "success")); got != 1 {
		t.Errorf("job_runs_total{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pub.jobRuns.WithLabelValues("report", "failure")); got != 1 {
		t.Errorf("job_runs_total{failure} = %v, want 1", got)
	}

	w := httptest.NewRecorder()
	pub.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), `masterlock_job_duration_seconds_count{job="report"} 2`) {
		t.Error("metrics output missing job duration histogram count")
	}
}

func TestPrometheusPublisher_NoopMethods(t *testing.T) {
	pub := NewPrometheusPublisher(PrometheusConfig{})
	ctx := context.Background()

	if err := pub.PublishServiceCheck(ctx, "heartbeat", ServiceCheckCritical, "stale"); err != nil {
		t.Errorf("PublishServiceCheck() error = %v", err)
	}
	if err := pub.PublishEvent(ctx, "title", "text", "info", nil); err != nil {
		t.Errorf("PublishEvent() error = %v", err)
	}
}

func TestPrometheusPublisher_ImplementsInterface(_ *testing.T) {
	var _ Publisher = (*PrometheusPublisher)(nil)
}
