// Package logging provides structured JSON logging using slog.
package logging

import (
	"context"
	"io"
	golog "log"
	"log/slog"
	"os"
	"slices"
	"strings"

	"k8s.io/klog/v2"
)

// Init configures the default slog logger with JSON output at the given level
// ("debug", "info", "warn", "error"; anything else means info). Every record
// carries the host and, when set, the node's instance ID. Stdlib log and the
// Kubernetes client's klog output are redirected to the same logger.
func Init(level, instanceID string) {
	setup(os.Stdout, level, instanceID)
}

func setup(w io.Writer, level, instanceID string) *slog.Logger {
	hostname := os.Getenv("HOSTNAME")
	if hostname == "" {
		var err error
		hostname, err = os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
	}

	attrs := []slog.Attr{slog.String(KeyHost, hostname)}
	if instanceID != "" {
		attrs = append(attrs, slog.String(KeyInstanceID, instanceID))
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}).WithAttrs(attrs)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Redirect stdlib log.Print* calls to slog
	golog.SetOutput(&slogWriter{logger: logger})
	golog.SetFlags(0)

	klog.SetSlogLogger(logger.With(KeyLogType, LogTypeKube))
	return logger
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// slogWriter redirects stdlib log output to slog with logType=stdlib marker.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	w.logger.Warn(msg, KeyLogType, "stdlib")
	return len(p), nil
}

// Common attribute keys for consistent field naming.
const (
	KeyAction     = "action"
	KeyAudit      = "audit"
	KeyBackend    = "backend"
	KeyComponent  = "component"
	KeyDuration   = "duration_ms"
	KeyEpoch      = "epoch"
	KeyError      = "error"
	KeyGeneration = "generation"
	KeyHeartbeat  = "last_heartbeat"
	KeyHost       = "host"
	KeyHolder     = "holder"
	KeyInstanceID = "instance_id"
	KeyJobName    = "job_name"
	KeyLockName   = "lock_name"
	KeyLogType    = "log_type"
	KeyOwner      = "owner"
	KeyReason     = "reason"
	KeyRemoteAddr = "remote_addr"
	KeyResult     = "result"
	KeyState      = "state"
)

// Log types for categorization.
const (
	LogTypeServer    = "server"
	LogTypeAdmin     = "admin"
	LogTypeElection  = "election"
	LogTypeHeartbeat = "heartbeat"
	LogTypeLock      = "lock"
	LogTypeScheduler = "scheduler"
	LogTypeMetrics   = "metrics"
	LogTypeEvents    = "events"
	LogTypeKube      = "k8s"
)

// Logger wraps slog.Logger with convenience methods.
// It uses a lazyHandler so that package-level loggers created before Init()
// pick up the JSON handler configured later.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the given attributes.
// The returned logger resolves slog.Default() at log time, not at creation time.
func New(attrs ...any) *Logger {
	h := &lazyHandler{preAttrs: argsToAttrs(attrs)}
	return &Logger{Logger: slog.New(h)}
}

// With returns a new Logger with additional attributes.
func (l *Logger) With(attrs ...any) *Logger {
	return &Logger{Logger: l.Logger.With(attrs...)}
}

// WithComponent returns a new Logger with the component and log_type attributes set.
func WithComponent(logType, component string) *Logger {
	return New(KeyLogType, logType, KeyComponent, component)
}

// lazyHandler delegates to slog.Default().Handler() at log time,
// allowing package-level loggers created before Init() to use
// the JSON handler configured later.
type lazyHandler struct {
	preAttrs []slog.Attr
	groups   []string
}

func (h *lazyHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slog.Default().Handler().Enabled(ctx, level)
}

func (h *lazyHandler) resolve() slog.Handler {
	handler := slog.Default().Handler()
	if len(h.preAttrs) > 0 {
		handler = handler.WithAttrs(h.preAttrs)
	}
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	return handler
}

func (h *lazyHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *lazyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lazyHandler{
		preAttrs: append(slices.Clone(h.preAttrs), attrs...),
		groups:   slices.Clone(h.groups),
	}
}

func (h *lazyHandler) WithGroup(name string) slog.Handler {
	return &lazyHandler{
		preAttrs: slices.Clone(h.preAttrs),
		groups:   append(slices.Clone(h.groups), name),
	}
}

// argsToAttrs converts slog-style key-value args to []slog.Attr.
func argsToAttrs(args []any) []slog.Attr {
	var attrs []slog.Attr
	for i := 0; i < len(args); {
		if attr, ok := args[i].(slog.Attr); ok {
			attrs = append(attrs, attr)
			i++
			continue
		}
		if i+1 < len(args) {
			if key, ok := args[i].(string); ok {
				attrs = append(attrs, slog.Any(key, args[i+1]))
			}
			i += 2
		} else {
			i++
		}
	}
	return attrs
}
