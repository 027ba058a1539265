package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

const defaultDatadogNamespace = "masterlock"

// ServiceCheckStatus represents Datadog service check status values.
const (
	ServiceCheckOK       = 0
	ServiceCheckWarning  = 1
	ServiceCheckCritical = 2
	ServiceCheckUnknown  = 3
)

// DatadogPublisher publishes election metrics to Datadog via DogStatsD.
type DatadogPublisher struct {
	client     statsd.ClientInterface
	namespace  string
	tags       []string
	sampleRate float64
}

// Ensure DatadogPublisher implements Publisher.
var _ Publisher = (*DatadogPublisher)(nil)

// DatadogConfig holds configuration for the Datadog publisher.
type DatadogConfig struct {
	// Address is the DogStatsD address (default: "127.0.0.1:8125")
	Address string
	// Namespace is the metric namespace prefix (default: "masterlock")
	Namespace string
	// Tags are global tags applied to all metrics
	Tags []string
	// SampleRate applies to election attempts, the only per-poll metric.
	SampleRate float64
}

// NewDatadogPublisher creates a Datadog metrics publisher using DogStatsD.
func NewDatadogPublisher(cfg DatadogConfig) (*DatadogPublisher, error) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8125"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = defaultDatadogNamespace
	}

	client, err := statsd.New(cfg.Address,
		statsd.WithNamespace(cfg.Namespace+"."),
		statsd.WithTags(cfg.Tags),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DogStatsD client: %w", err)
	}
	return NewDatadogPublisherWithClient(client, cfg.Namespace, cfg.Tags, cfg.SampleRate), nil
}

// NewDatadogPublisherWithClient creates a publisher over an existing client.
// The client is expected to apply namespace and tags itself; they are kept
// for service checks and events, which DogStatsD does not prefix.
func NewDatadogPublisherWithClient(client statsd.ClientInterface, namespace string, tags []string, sampleRate float64) *DatadogPublisher {
	if namespace == "" {
		namespace = defaultDatadogNamespace
	}
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1.0
	}
	return &DatadogPublisher{
		client:     client,
		namespace:  namespace,
		tags:       tags,
		sampleRate: sampleRate,
	}
}

// Close closes the DogStatsD client connection.
func (p *DatadogPublisher) Close() error {
	return p.client.Close()
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (p *DatadogPublisher) PublishElectionAttempt(_ context.Context, acquired bool) error { //nolint:revive
	return p.client.Incr("election_attempts", []string{"result:" + attemptResult(acquired)}, p.sampleRate)
}

func (p *DatadogPublisher) PublishStaleMasterReleased(_ context.Context) error { //nolint:revive
	return p.client.Incr("stale_master_releases", nil, 1)
}

func (p *DatadogPublisher) PublishOwnershipLost(_ context.Context) error { //nolint:revive
	return p.client.Incr("ownership_losses", nil, 1)
}

func (p *DatadogPublisher) PublishSchedulerStartFailure(_ context.Context) error { //nolint:revive
	return p.client.Incr("scheduler_start_failures", nil, 1)
}

func (p *DatadogPublisher) PublishHeartbeatFailure(_ context.Context) error { //nolint:revive
	return p.client.Incr("heartbeat_write_failures", nil, 1)
}

func (p *DatadogPublisher) PublishMasterStatus(_ context.Context, isMaster bool, epoch uint64) error { //nolint:revive
	if err := p.client.Gauge("is_master", boolToFloat(isMaster), nil, 1); err != nil {
		return err
	}
	// Only the master reports the epoch so the series follows the live one.
	if !isMaster {
		return nil
	}
	return p.client.Gauge("epoch", float64(epoch), nil, 1)
}

func (p *DatadogPublisher) PublishHeartbeatAge(_ context.Context, age time.Duration) error { //nolint:revive
	return p.client.Gauge("heartbeat_age_seconds", age.Seconds(), nil, 1)
}

func (p *DatadogPublisher) PublishJobRun(_ context.Context, jobName string, duration time.Duration, failed bool) error { //nolint:revive
	tags := []string{"job:" + jobName, "result:" + jobResult(failed)}
	if err := p.client.Incr("job_runs", tags, 1); err != nil {
		return err
	}
	return p.client.Distribution("job_duration_seconds", duration.Seconds(), []string{"job:" + jobName}, 1)
}

// PublishServiceCheck publishes a Datadog service check.
func (p *DatadogPublisher) PublishServiceCheck(_ context.Context, name string, status int, message string) error { //nolint:revive
	var ddStatus statsd.ServiceCheckStatus
	switch status {
	case ServiceCheckOK:
		ddStatus = statsd.Ok
	case ServiceCheckWarning:
		ddStatus = statsd.Warn
	case ServiceCheckCritical:
		ddStatus = statsd.Critical
	default:
		ddStatus = statsd.Unknown
	}

	return p.client.ServiceCheck(&statsd.ServiceCheck{
		Name:    p.namespace + "." + name,
		Status:  ddStatus,
		Message: message,
		Tags:    p.tags,
	})
}

// PublishEvent publishes a Datadog event.
func (p *DatadogPublisher) PublishEvent(_ context.Context, title, text, alertType string, tags []string) error { //nolint:revive
	var ddAlertType statsd.EventAlertType
	switch alertType {
	case "warning":
		ddAlertType = statsd.Warning
	case "error":
		ddAlertType = statsd.Error
	case "success":
		ddAlertType = statsd.Success
	default:
		ddAlertType = statsd.Info
	}

	allTags := make([]string, 0, len(p.tags)+len(tags))
	allTags = append(allTags, p.tags...)
	allTags = append(allTags, tags...)

	return p.client.Event(&statsd.Event{
		Title:     title,
		Text:      text,
		AlertType: ddAlertType,
		Tags:      allTags,
	})
}
