package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MASTERLOCK_CONFIG_FILE",
		"MASTERLOCK_INSTANCE_ID",
		"MASTERLOCK_HEARTBEAT_INTERVAL",
		"MASTERLOCK_HEARTBEAT_TIMEOUT",
		"MASTERLOCK_LOCK_POLL_INTERVAL",
		"MASTERLOCK_LOCK_BACKEND",
		"MASTERLOCK_HEARTBEAT_BACKEND",
		"MASTERLOCK_LOCK_NAME",
		"MASTERLOCK_REDIS_ADDR",
		"MASTERLOCK_REDIS_PASSWORD",
		"MASTERLOCK_REDIS_DB",
		"MASTERLOCK_DYNAMODB_TABLE",
		"MASTERLOCK_KUBE_NAMESPACE",
		"MASTERLOCK_KUBECONFIG",
		"MASTERLOCK_LISTEN_ADDR",
		"MASTERLOCK_ADMIN_SECRET",
		"MASTERLOCK_ADMIN_SECRET_SSM_PARAM",
		"MASTERLOCK_EVENTS_SNS_TOPIC_ARN",
		"MASTERLOCK_LOG_LEVEL",
		"MASTERLOCK_METRICS_NAMESPACE",
		"MASTERLOCK_METRICS_PROMETHEUS_ENABLED",
		"MASTERLOCK_METRICS_PROMETHEUS_PATH",
		"MASTERLOCK_METRICS_DATADOG_ENABLED",
		"MASTERLOCK_METRICS_DATADOG_ADDR",
		"MASTERLOCK_METRICS_DATADOG_TAGS",
		"MASTERLOCK_METRICS_CLOUDWATCH_ENABLED",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOSTNAME", "node-a")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.InstanceID != "node-a" {
		t.Errorf("InstanceID = %q, want node-a", cfg.InstanceID)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 5s", cfg.HeartbeatInterval)
	}
	if cfg.HeartbeatTimeout != 30*time.Second {
		t.Errorf("HeartbeatTimeout = %v, want 30s", cfg.HeartbeatTimeout)
	}
	if cfg.LockPollInterval != 500*time.Millisecond {
		t.Errorf("LockPollInterval = %v, want 500ms", cfg.LockPollInterval)
	}
	if cfg.LockBackend != BackendMemory || cfg.HeartbeatBackend != BackendMemory {
		t.Errorf("backends = %s/%s, want memory/memory", cfg.LockBackend, cfg.HeartbeatBackend)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
}

func TestLoad_Env(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "redis backend",
			env: map[string]string{
				"MASTERLOCK_LOCK_BACKEND":       "Redis",
				"MASTERLOCK_REDIS_ADDR":         "localhost:6379",
				"MASTERLOCK_HEARTBEAT_INTERVAL": "100ms",
				"MASTERLOCK_HEARTBEAT_TIMEOUT":  "500",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.LockBackend != BackendRedis || cfg.HeartbeatBackend != BackendRedis {
					t.Errorf("backends = %s/%s, want redis/redis", cfg.LockBackend, cfg.HeartbeatBackend)
				}
				if cfg.HeartbeatTimeout != 500*time.Millisecond {
					t.Errorf("HeartbeatTimeout = %v, want 500ms", cfg.HeartbeatTimeout)
				}
				if cfg.LockPollInterval != minLockPollInterval {
					t.Errorf("LockPollInterval = %v, want %v", cfg.LockPollInterval, minLockPollInterval)
				}
			},
		},
		{
			name: "redis backend without address",
			env: map[string]string{
				"MASTERLOCK_LOCK_BACKEND": "redis",
			},
			wantErr: true,
		},
		{
			name: "dynamodb lock with memory heartbeat",
			env: map[string]string{
				"MASTERLOCK_LOCK_BACKEND":      "dynamodb",
				"MASTERLOCK_HEARTBEAT_BACKEND": "memory",
				"MASTERLOCK_DYNAMODB_TABLE":    "locks",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.DynamoDBTable != "locks" {
					t.Errorf("DynamoDBTable = %q, want locks", cfg.DynamoDBTable)
				}
				if cfg.HeartbeatBackend != BackendMemory {
					t.Errorf("HeartbeatBackend = %q, want memory", cfg.HeartbeatBackend)
				}
			},
		},
		{
			name: "dynamodb backend without table",
			env: map[string]string{
				"MASTERLOCK_LOCK_BACKEND": "dynamodb",
			},
			wantErr: true,
		},
		{
			name: "unknown backend",
			env: map[string]string{
				"MASTERLOCK_LOCK_BACKEND": "zookeeper",
			},
			wantErr: true,
		},
		{
			name: "timeout not greater than interval",
			env: map[string]string{
				"MASTERLOCK_HEARTBEAT_INTERVAL": "5s",
				"MASTERLOCK_HEARTBEAT_TIMEOUT":  "5s",
			},
			wantErr: true,
		},
		{
			name: "invalid duration",
			env: map[string]string{
				"MASTERLOCK_HEARTBEAT_INTERVAL": "soon",
			},
			wantErr: true,
		},
		{
			name: "admin secret from ssm",
			env: map[string]string{
				"MASTERLOCK_ADMIN_SECRET_SSM_PARAM": "/masterlock/admin-secret",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.AdminSecretSSMParam != "/masterlock/admin-secret" {
					t.Errorf("AdminSecretSSMParam = %q", cfg.AdminSecretSSMParam)
				}
			},
		},
		{
			name: "admin secret from both env and ssm",
			env: map[string]string{
				"MASTERLOCK_ADMIN_SECRET":           "s3cret",
				"MASTERLOCK_ADMIN_SECRET_SSM_PARAM": "/masterlock/admin-secret",
			},
			wantErr: true,
		},
		{
			name: "metrics toggles",
			env: map[string]string{
				"MASTERLOCK_METRICS_PROMETHEUS_ENABLED": "true",
				"MASTERLOCK_METRICS_DATADOG_ENABLED":    "1",
				"MASTERLOCK_METRICS_DATADOG_TAGS":       "env:prod, team:infra,",
			},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Metrics.PrometheusEnabled || !cfg.Metrics.DatadogEnabled {
					t.Error("expected prometheus and datadog enabled")
				}
				if len(cfg.Metrics.DatadogTags) != 2 || cfg.Metrics.DatadogTags[1] != "team:infra" {
					t.Errorf("DatadogTags = %v", cfg.Metrics.DatadogTags)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "masterlock.yaml")
	content := `instance_id: file-node
heartbeat_interval: 2s
heartbeat_timeout: 10s
lock_backend: kubernetes
kube:
  namespace: scheduling
jobs:
  - name: report
    schedule: "*/5 * * * * *"
    url: http://reporter.internal/run
    timeout: 30s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("MASTERLOCK_CONFIG_FILE", path)
	t.Setenv("MASTERLOCK_HEARTBEAT_TIMEOUT", "20s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.InstanceID != "file-node" {
		t.Errorf("InstanceID = %q, want file-node", cfg.InstanceID)
	}
	if cfg.HeartbeatInterval != 2*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 2s", cfg.HeartbeatInterval)
	}
	if cfg.HeartbeatTimeout != 20*time.Second {
		t.Errorf("HeartbeatTimeout = %v, want env override 20s", cfg.HeartbeatTimeout)
	}
	if cfg.HeartbeatBackend != BackendKubernetes {
		t.Errorf("HeartbeatBackend = %q, want kubernetes", cfg.HeartbeatBackend)
	}
	if cfg.Kube.Namespace != "scheduling" {
		t.Errorf("Kube.Namespace = %q, want scheduling", cfg.Kube.Namespace)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Name != "report" || cfg.Jobs[0].URL != "http://reporter.internal/run" {
		t.Fatalf("Jobs = %+v", cfg.Jobs)
	}
	if cfg.Jobs[0].Timeout != 30*time.Second {
		t.Errorf("Jobs[0].Timeout = %v, want 30s", cfg.Jobs[0].Timeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("MASTERLOCK_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for missing config file")
	}
}

func TestValidate_HeartbeatOrdering(t *testing.T) {
	cfg := Default()
	cfg.HeartbeatBackend = BackendMemory
	cfg.HeartbeatInterval = time.Second
	cfg.HeartbeatTimeout = 500 * time.Millisecond

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidHeartbeat) {
		t.Errorf("Validate() error = %v, want ErrInvalidHeartbeat", err)
	}
}

func TestValidate_Jobs(t *testing.T) {
	cfg := Default()
	cfg.HeartbeatBackend = BackendMemory
	cfg.Jobs = []JobConfig{{Name: "sync"}}

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for job without schedule")
	}
}
