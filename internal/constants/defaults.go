// Package constants provides common constants used across the otelpipe project.
package constants

import "time"

const (
	// DefaultTimeout is the default timeout for requests and exporter calls.
	DefaultTimeout = 5 * time.Second
	// DefaultShutdownTimeout is the limit applied when a pipeline shutdown is requested with a zero limit.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultSpanLimit is the SDK default for every span limit.
	DefaultSpanLimit = 128
	// DefaultMetricsInterval is the periodic reader export interval.
	DefaultMetricsInterval = time.Minute
	// DefaultServerShutdownTimeout bounds the diagnostics server graceful stop.
	DefaultServerShutdownTimeout = 30 * time.Second
	// DefaultRetryAttempts is attached to retryable registration errors.
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the pause between retry attempts.
	DefaultRetryDelay = 100 * time.Millisecond
)
