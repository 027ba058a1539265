// Package config loads masterlock configuration from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Lock backends.
const (
	BackendMemory     = "memory"
	BackendRedis      = "redis"
	BackendDynamoDB   = "dynamodb"
	BackendKubernetes = "kubernetes"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultHeartbeatTimeout  = 30 * time.Second
	minLockPollInterval      = 10 * time.Millisecond
)

// ErrInvalidHeartbeat is returned when the heartbeat timeout does not exceed the interval.
var ErrInvalidHeartbeat = errors.New("heartbeat timeout must be greater than heartbeat interval")

// JobConfig declares a cron job registered on the guarded scheduler. A job
// with a URL calls it on every run; without one it only logs the run.
type JobConfig struct {
	Name     string        `yaml:"name"`
	Schedule string        `yaml:"schedule"`
	URL      string        `yaml:"url"`
	Method   string        `yaml:"method"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisConfig holds Redis/Valkey connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KubeConfig holds Kubernetes Lease settings.
type KubeConfig struct {
	Namespace  string `yaml:"namespace"`
	KubeConfig string `yaml:"kubeconfig"`
}

// MetricsConfig toggles metrics backends.
type MetricsConfig struct {
	Namespace         string   `yaml:"namespace"`
	PrometheusEnabled bool     `yaml:"prometheus_enabled"`
	PrometheusPath    string   `yaml:"prometheus_path"`
	DatadogEnabled    bool     `yaml:"datadog_enabled"`
	DatadogAddr       string   `yaml:"datadog_addr"`
	DatadogTags       []string `yaml:"datadog_tags"`
	CloudWatchEnabled bool     `yaml:"cloudwatch_enabled"`
}

// Config is the immutable runtime configuration of a masterlock node.
type Config struct {
	InstanceID string `yaml:"instance_id"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	LockPollInterval  time.Duration `yaml:"lock_poll_interval"`

	LockBackend      string `yaml:"lock_backend"`
	HeartbeatBackend string `yaml:"heartbeat_backend"`
	LockName         string `yaml:"lock_name"`

	Redis         RedisConfig `yaml:"redis"`
	DynamoDBTable string      `yaml:"dynamodb_table"`
	AWSRegion     string      `yaml:"aws_region"`
	Kube          KubeConfig  `yaml:"kube"`

	ListenAddr  string `yaml:"listen_addr"`
	AdminSecret string `yaml:"admin_secret"`
	// AdminSecretSSMParam names an SSM SecureString holding the admin
	// secret, read at startup instead of AdminSecret.
	AdminSecretSSMParam string `yaml:"admin_secret_ssm_param"`

	Metrics        MetricsConfig `yaml:"metrics"`
	EventsTopicARN string        `yaml:"events_topic_arn"`

	LogLevel string      `yaml:"log_level"`
	Jobs     []JobConfig `yaml:"jobs"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		HeartbeatInterval: defaultHeartbeatInterval,
		HeartbeatTimeout:  defaultHeartbeatTimeout,
		LockBackend:       BackendMemory,
		LockName:          "masterlock-scheduler",
		AWSRegion:         "ap-northeast-1",
		Kube:              KubeConfig{Namespace: "default"},
		ListenAddr:        ":8080",
		Metrics: MetricsConfig{
			Namespace:      "masterlock",
			PrometheusPath: "/metrics",
			DatadogAddr:    "127.0.0.1:8125",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// MASTERLOCK_CONFIG_FILE (if any), then environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("MASTERLOCK_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.InstanceID = getEnv("MASTERLOCK_INSTANCE_ID", c.InstanceID)
	c.LockBackend = strings.ToLower(getEnv("MASTERLOCK_LOCK_BACKEND", c.LockBackend))
	c.HeartbeatBackend = strings.ToLower(getEnv("MASTERLOCK_HEARTBEAT_BACKEND", c.HeartbeatBackend))
	c.LockName = getEnv("MASTERLOCK_LOCK_NAME", c.LockName)
	c.Redis.Addr = getEnv("MASTERLOCK_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("MASTERLOCK_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("MASTERLOCK_REDIS_DB", c.Redis.DB)
	c.DynamoDBTable = getEnv("MASTERLOCK_DYNAMODB_TABLE", c.DynamoDBTable)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.Kube.Namespace = getEnv("MASTERLOCK_KUBE_NAMESPACE", c.Kube.Namespace)
	c.Kube.KubeConfig = getEnv("MASTERLOCK_KUBECONFIG", c.Kube.KubeConfig)
	c.ListenAddr = getEnv("MASTERLOCK_LISTEN_ADDR", c.ListenAddr)
	c.AdminSecret = getEnv("MASTERLOCK_ADMIN_SECRET", c.AdminSecret)
	c.AdminSecretSSMParam = getEnv("MASTERLOCK_ADMIN_SECRET_SSM_PARAM", c.AdminSecretSSMParam)
	c.EventsTopicARN = getEnv("MASTERLOCK_EVENTS_SNS_TOPIC_ARN", c.EventsTopicARN)
	c.LogLevel = getEnv("MASTERLOCK_LOG_LEVEL", c.LogLevel)

	c.Metrics.Namespace = getEnv("MASTERLOCK_METRICS_NAMESPACE", c.Metrics.Namespace)
	c.Metrics.PrometheusEnabled = getEnvBool("MASTERLOCK_METRICS_PROMETHEUS_ENABLED", c.Metrics.PrometheusEnabled)
	c.Metrics.PrometheusPath = getEnv("MASTERLOCK_METRICS_PROMETHEUS_PATH", c.Metrics.PrometheusPath)
	c.Metrics.DatadogEnabled = getEnvBool("MASTERLOCK_METRICS_DATADOG_ENABLED", c.Metrics.DatadogEnabled)
	c.Metrics.DatadogAddr = getEnv("MASTERLOCK_METRICS_DATADOG_ADDR", c.Metrics.DatadogAddr)
	if tags := os.Getenv("MASTERLOCK_METRICS_DATADOG_TAGS"); tags != "" {
		c.Metrics.DatadogTags = splitList(tags)
	}
	c.Metrics.CloudWatchEnabled = getEnvBool("MASTERLOCK_METRICS_CLOUDWATCH_ENABLED", c.Metrics.CloudWatchEnabled)

	var err error
	if c.HeartbeatInterval, err = getEnvDuration("MASTERLOCK_HEARTBEAT_INTERVAL", c.HeartbeatInterval); err != nil {
		return err
	}
	if c.HeartbeatTimeout, err = getEnvDuration("MASTERLOCK_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout); err != nil {
		return err
	}
	if c.LockPollInterval, err = getEnvDuration("MASTERLOCK_LOCK_POLL_INTERVAL", c.LockPollInterval); err != nil {
		return err
	}
	return nil
}

// applyDerived fills values that default from other settings.
func (c *Config) applyDerived() {
	if c.InstanceID == "" {
		c.InstanceID = hostname()
	}
	if c.LockPollInterval <= 0 {
		c.LockPollInterval = c.HeartbeatInterval / 10
		if c.LockPollInterval < minLockPollInterval {
			c.LockPollInterval = minLockPollInterval
		}
	}
	if c.HeartbeatBackend == "" {
		c.HeartbeatBackend = c.LockBackend
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("MASTERLOCK_HEARTBEAT_INTERVAL must be positive")
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: interval=%s timeout=%s", ErrInvalidHeartbeat, c.HeartbeatInterval, c.HeartbeatTimeout)
	}
	if c.LockName == "" {
		return fmt.Errorf("MASTERLOCK_LOCK_NAME is required")
	}

	switch c.LockBackend {
	case BackendMemory, BackendRedis, BackendDynamoDB, BackendKubernetes:
	default:
		return fmt.Errorf("unsupported lock backend %q", c.LockBackend)
	}
	switch c.HeartbeatBackend {
	case BackendMemory, BackendRedis, BackendDynamoDB, BackendKubernetes:
	default:
		return fmt.Errorf("unsupported heartbeat backend %q", c.HeartbeatBackend)
	}

	if c.usesBackend(BackendRedis) && c.Redis.Addr == "" {
		return fmt.Errorf("MASTERLOCK_REDIS_ADDR is required for the redis backend")
	}
	if c.usesBackend(BackendDynamoDB) && c.DynamoDBTable == "" {
		return fmt.Errorf("MASTERLOCK_DYNAMODB_TABLE is required for the dynamodb backend")
	}
	if c.usesBackend(BackendKubernetes) && c.Kube.Namespace == "" {
		return fmt.Errorf("MASTERLOCK_KUBE_NAMESPACE is required for the kubernetes backend")
	}

	if c.AdminSecret != "" && c.AdminSecretSSMParam != "" {
		return fmt.Errorf("MASTERLOCK_ADMIN_SECRET and MASTERLOCK_ADMIN_SECRET_SSM_PARAM are mutually exclusive")
	}

	for i, job := range c.Jobs {
		if job.Name == "" || job.Schedule == "" {
			return fmt.Errorf("jobs[%d]: name and schedule are required", i)
		}
	}
	return nil
}

func (c *Config) usesBackend(name string) bool {
	return c.LockBackend == name || c.HeartbeatBackend == name
}

func hostname() string {
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("5s") or plain milliseconds ("5000").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", key, value)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
