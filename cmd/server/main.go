// Package main runs a masterlock node: it competes for the master lock and
// runs the configured cron jobs while it holds it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"

	"github.com/Shavakan/masterlock/pkg/admin"
	"github.com/Shavakan/masterlock/pkg/config"
	"github.com/Shavakan/masterlock/pkg/coordinator"
	"github.com/Shavakan/masterlock/pkg/election"
	"github.com/Shavakan/masterlock/pkg/events"
	"github.com/Shavakan/masterlock/pkg/heartbeat"
	"github.com/Shavakan/masterlock/pkg/logging"
	"github.com/Shavakan/masterlock/pkg/metrics"
	"github.com/Shavakan/masterlock/pkg/scheduler"
	"github.com/Shavakan/masterlock/pkg/secrets"
	"github.com/Shavakan/masterlock/pkg/tracing"
)

const redisKeyPrefix = "masterlock:"

var serverLog = logging.WithComponent(logging.LogTypeServer, "main")

func fatal(msg string, err error) {
	serverLog.Error(msg, slog.String(logging.KeyError, err.Error()))
	os.Exit(1)
}

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg *config.Config) bool {
	return cfg.LockBackend == config.BackendDynamoDB ||
		cfg.HeartbeatBackend == config.BackendDynamoDB ||
		cfg.Metrics.CloudWatchEnabled ||
		cfg.EventsTopicARN != "" ||
		cfg.AdminSecretSSMParam != ""
}

// clients holds the backend clients shared by the lock and the heartbeat
// store. Each is created on first use.
type clients struct {
	cfg    *config.Config
	awsCfg aws.Config

	redis  *redis.Client
	dynamo *dynamodb.Client
	kube   kubernetes.Interface
}

func (c *clients) redisClient() *redis.Client {
	if c.redis == nil {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     c.cfg.Redis.Addr,
			Password: c.cfg.Redis.Password,
			DB:       c.cfg.Redis.DB,
		})
	}
	return c.redis
}

func (c *clients) dynamoClient() *dynamodb.Client {
	if c.dynamo == nil {
		c.dynamo = dynamodb.NewFromConfig(c.awsCfg)
	}
	return c.dynamo
}

func (c *clients) kubeClient() (kubernetes.Interface, error) {
	if c.kube == nil {
		clientset, err := coordinator.NewKubeClientset(c.cfg.Kube.KubeConfig)
		if err != nil {
			return nil, err
		}
		c.kube = clientset
	}
	return c.kube, nil
}

func (c *clients) lockBackend() (coordinator.Backend, error) {
	switch c.cfg.LockBackend {
	case config.BackendMemory:
		return coordinator.NewMemoryBackend(), nil
	case config.BackendRedis:
		return coordinator.NewRedisBackend(c.redisClient(), redisKeyPrefix, c.cfg.LockName), nil
	case config.BackendDynamoDB:
		return coordinator.NewDynamoDBBackend(c.dynamoClient(), c.cfg.DynamoDBTable, c.cfg.LockName), nil
	case config.BackendKubernetes:
		clientset, err := c.kubeClient()
		if err != nil {
			return nil, err
		}
		return coordinator.NewLeaseBackend(clientset, c.cfg.Kube.Namespace, c.cfg.LockName), nil
	}
	return nil, fmt.Errorf("unsupported lock backend %q", c.cfg.LockBackend)
}

func (c *clients) heartbeatStore() (heartbeat.Store, error) {
	switch c.cfg.HeartbeatBackend {
	case config.BackendMemory:
		return heartbeat.NewMemoryStore(), nil
	case config.BackendRedis:
		return heartbeat.NewRedisStore(c.redisClient(), redisKeyPrefix, c.cfg.LockName), nil
	case config.BackendDynamoDB:
		return heartbeat.NewDynamoDBStore(c.dynamoClient(), c.cfg.DynamoDBTable, c.cfg.LockName), nil
	case config.BackendKubernetes:
		clientset, err := c.kubeClient()
		if err != nil {
			return nil, err
		}
		return heartbeat.NewLeaseStore(clientset, c.cfg.Kube.Namespace, c.cfg.LockName), nil
	}
	return nil, fmt.Errorf("unsupported heartbeat backend %q", c.cfg.HeartbeatBackend)
}

func (c *clients) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func initMetrics(awsCfg aws.Config, cfg *config.Config) (metrics.Publisher, http.Handler) {
	var publishers []metrics.Publisher
	var prometheusHandler http.Handler

	if cfg.Metrics.CloudWatchEnabled {
		publishers = append(publishers, metrics.NewCloudWatchPublisher(awsCfg, cfg.InstanceID))
		serverLog.Info("cloudwatch metrics enabled")
	}

	if cfg.Metrics.PrometheusEnabled {
		prom := metrics.NewPrometheusPublisher(metrics.PrometheusConfig{Namespace: cfg.Metrics.Namespace})
		publishers = append(publishers, prom)
		prometheusHandler = prom.Handler()
		serverLog.Info("prometheus metrics enabled", slog.String("path", cfg.Metrics.PrometheusPath))
	}

	if cfg.Metrics.DatadogEnabled {
		dd, err := metrics.NewDatadogPublisher(metrics.DatadogConfig{
			Address:   cfg.Metrics.DatadogAddr,
			Namespace: cfg.Metrics.Namespace,
			Tags:      append(slices.Clone(cfg.Metrics.DatadogTags), "instance:"+cfg.InstanceID),
		})
		if err != nil {
			serverLog.Warn("failed to create datadog publisher, continuing without datadog",
				slog.String(logging.KeyError, err.Error()))
		} else {
			publishers = append(publishers, dd)
			serverLog.Info("datadog metrics enabled", slog.String(logging.KeyHost, cfg.Metrics.DatadogAddr))
		}
	}

	if len(publishers) == 0 {
		serverLog.Info("no metrics backends enabled")
		return metrics.NoopPublisher{}, nil
	}

	if len(publishers) == 1 {
		return publishers[0], prometheusHandler
	}

	return metrics.NewMultiPublisher(publishers...), prometheusHandler
}

// lockReader is the part of the coordinator the readiness probe needs.
type lockReader interface {
	Holder(ctx context.Context) (string, error)
}

// makeReadinessHandler returns a handler that checks the lock backend is
// reachable.
func makeReadinessHandler(lock lockReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.ShortTimeout)
		defer cancel()
		if _, err := lock.Holder(ctx); err != nil {
			serverLog.Warn("readiness check failed", slog.String(logging.KeyError, err.Error()))
			http.Error(w, "Lock backend not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "OK\n")
	}
}

type secretReader interface {
	Get(ctx context.Context, name string) (string, error)
}

// resolveAdminSecret returns the admin secret, reading it from SSM when a
// parameter name is configured.
func resolveAdminSecret(ctx context.Context, cfg *config.Config, reader secretReader) (string, error) {
	if cfg.AdminSecretSSMParam == "" {
		return cfg.AdminSecret, nil
	}
	ctx, cancel := context.WithTimeout(ctx, config.ShortTimeout)
	defer cancel()
	secret, err := reader.Get(ctx, cfg.AdminSecretSSMParam)
	if err != nil {
		return "", fmt.Errorf("failed to read admin secret: %w", err)
	}
	return secret, nil
}

type metricsReporter interface {
	ReportMetrics(ctx context.Context)
}

// runReporter publishes election gauges every interval until ctx ends.
func runReporter(ctx context.Context, r metricsReporter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reportCtx, cancel := context.WithTimeout(ctx, config.ShortTimeout)
			r.ReportMetrics(reportCtx)
			cancel()
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}
	logging.Init(cfg.LogLevel, cfg.InstanceID)

	serverLog.Info("starting masterlock",
		slog.String(logging.KeyInstanceID, cfg.InstanceID),
		slog.String(logging.KeyLockName, cfg.LockName),
		slog.String(logging.KeyBackend, cfg.LockBackend),
	)

	var awsCfg aws.Config
	if needsAWS(cfg) {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			fatal("failed to load AWS config", err)
		}
	}

	tracer, err := tracing.Init(ctx, tracing.LoadConfig(), cfg.InstanceID)
	if err != nil {
		fatal("failed to initialize tracing", err)
	}

	metricsPublisher, prometheusHandler := initMetrics(awsCfg, cfg)

	backends := &clients{cfg: cfg, awsCfg: awsCfg}
	lockBackend, err := backends.lockBackend()
	if err != nil {
		fatal("failed to create lock backend", err)
	}
	store, err := backends.heartbeatStore()
	if err != nil {
		fatal("failed to create heartbeat store", err)
	}

	coord := coordinator.New(coordinator.Config{
		InstanceID:   cfg.InstanceID,
		LockName:     cfg.LockName,
		PollInterval: cfg.LockPollInterval,
	}, lockBackend)

	sched := scheduler.NewCronScheduler()
	sched.SetMetrics(metricsPublisher)
	if err := scheduler.Register(sched, &http.Client{}, cfg.Jobs); err != nil {
		fatal("failed to register jobs", err)
	}

	electionCfg := election.DefaultConfig(cfg.InstanceID)
	electionCfg.HeartbeatInterval = cfg.HeartbeatInterval
	electionCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
	sup, err := election.New(electionCfg, coord, store, sched)
	if err != nil {
		fatal("failed to create election supervisor", err)
	}
	sup.SetMetrics(metricsPublisher)
	if cfg.EventsTopicARN != "" {
		sup.SetNotifier(events.NewSNSNotifier(awsCfg, cfg.EventsTopicARN))
		serverLog.Info("election events enabled", slog.String("topic", cfg.EventsTopicARN))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "OK\n")
	})
	mux.HandleFunc("/ready", makeReadinessHandler(coord))

	if prometheusHandler != nil {
		mux.Handle(cfg.Metrics.PrometheusPath, prometheusHandler)
	}

	var secretStore secretReader
	if cfg.AdminSecretSSMParam != "" {
		secretStore = secrets.NewSSMStore(awsCfg)
	}
	adminSecret, err := resolveAdminSecret(ctx, cfg, secretStore)
	if err != nil {
		fatal("failed to resolve admin secret", err)
	}

	adminHandler := admin.NewHandler(sup, adminSecret)
	adminHandler.SetJobs(sched)
	adminHandler.SetLockBreaker(coord)
	adminHandler.RegisterRoutes(mux)
	if adminSecret == "" {
		serverLog.Warn("admin API authentication disabled")
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sup.Start()
	go runReporter(ctx, sup, cfg.HeartbeatInterval)

	go func() {
		serverLog.Info("server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server failed", err)
		}
	}()

	<-ctx.Done()
	serverLog.Info("shutdown signal received, gracefully stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := sup.Close(shutdownCtx); err != nil {
		serverLog.Error("election shutdown failed", slog.String(logging.KeyError, err.Error()))
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		serverLog.Error("server shutdown failed", slog.String(logging.KeyError, err.Error()))
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		serverLog.Error("tracer shutdown failed", slog.String(logging.KeyError, err.Error()))
	}

	if err := metricsPublisher.Close(); err != nil {
		serverLog.Error("metrics publisher close failed", slog.String(logging.KeyError, err.Error()))
	}

	if err := backends.Close(); err != nil {
		serverLog.Error("backend client close failed", slog.String(logging.KeyError, err.Error()))
	}

	serverLog.Info("server stopped")
}
