// Package tracing provides OpenTelemetry integration for election tracing.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shavakan/masterlock/pkg/logging"
)

const (
	serviceName    = "masterlock"
	serviceVersion = "1.0.0"
)

var traceLog = logging.WithComponent(logging.LogTypeServer, "tracing")

// Config holds tracing configuration.
type Config struct {
	Enabled       bool
	Endpoint      string
	Insecure      bool
	SamplingRatio float64
}

// LoadConfig loads tracing configuration from environment variables.
func LoadConfig() *Config {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return &Config{Enabled: false}
	}

	samplingRatio := 1.0
	if ratio := os.Getenv("OTEL_TRACE_SAMPLING_RATIO"); ratio != "" {
		if r, err := strconv.ParseFloat(ratio, 64); err == nil && r >= 0 && r <= 1 {
			samplingRatio = r
		}
	}

	insecure := true
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			insecure = b
		}
	}

	return &Config{
		Enabled:       true,
		Endpoint:      endpoint,
		Insecure:      insecure,
		SamplingRatio: samplingRatio,
	}
}

// Provider wraps the OpenTelemetry trace provider with optional graceful shutdown.
type Provider struct {
	provider *sdktrace.TracerProvider
	enabled  bool
}

// Init initializes the OpenTelemetry trace provider.
// Returns a no-op provider if tracing is disabled.
func Init(ctx context.Context, cfg *Config, instanceID string) (*Provider, error) {
	if cfg == nil || !cfg.Enabled {
		traceLog.Info("tracing disabled")
		return &Provider{enabled: false}, nil
	}

	traceLog.Info("initializing tracing", slog.String("endpoint", cfg.Endpoint))

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			attribute.String("service.instance.id", instanceID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{provider: provider, enabled: true}, nil
}

// Shutdown gracefully shuts down the trace provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// IsEnabled returns whether tracing is enabled.
func (p *Provider) IsEnabled() bool {
	return p.enabled
}

// Tracer returns a tracer for the given package name.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span with the given name.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer(serviceName).Start(ctx, name, opts...)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordError records an error on the current span and marks it failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// ElectionTracer provides spans for election operations.
type ElectionTracer struct {
	tracer     trace.Tracer
	instanceID string
}

// NewElectionTracer creates a tracer tagging every span with instanceID.
func NewElectionTracer(instanceID string) *ElectionTracer {
	return &ElectionTracer{
		tracer:     Tracer("election"),
		instanceID: instanceID,
	}
}

// StartAcquireSpan starts a span around one acquisition attempt.
func (t *ElectionTracer) StartAcquireSpan(ctx context.Context, lockName string, generation uint64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "election.acquire",
		trace.WithAttributes(
			attribute.String("election.instance_id", t.instanceID),
			attribute.String("election.lock_name", lockName),
			attribute.Int64("election.generation", int64(generation)),
		),
	)
}

// StartPromoteSpan starts a span around the hand-off to master.
func (t *ElectionTracer) StartPromoteSpan(ctx context.Context, epoch uint64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "election.promote",
		trace.WithAttributes(
			attribute.String("election.instance_id", t.instanceID),
			attribute.Int64("election.epoch", int64(epoch)),
		),
	)
}

// StartRestartSpan starts a span around a supervisor restart.
func (t *ElectionTracer) StartRestartSpan(ctx context.Context, reason string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "election.restart",
		trace.WithAttributes(
			attribute.String("election.instance_id", t.instanceID),
			attribute.String("election.reason", reason),
		),
	)
}
