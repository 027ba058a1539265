package config

import "time"

// Common timeout durations used throughout the application.
const (
	// ShortTimeout bounds quick backend probes (ownership checks, status reads).
	ShortTimeout = 3 * time.Second

	// LifecycleTimeout bounds a single lifecycle step (scheduler shutdown, lock release).
	LifecycleTimeout = 10 * time.Second

	// ShutdownTimeout bounds process shutdown, including waiting for running jobs.
	ShutdownTimeout = 30 * time.Second
)

// MaxBodySize caps how much of a job webhook's response body is read.
const MaxBodySize = 1 << 20
