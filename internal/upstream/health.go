package upstream

import "time"

// PlatformHealth represents the current health state of an upstream platform
// client. It is used by the health check endpoint to determine overall
// system health.
type PlatformHealth struct {
	// Platform is the platform identifier (e.g., "mailblast", "prospectly")
	Platform string

	// LastSuccess is the timestamp of the last successful API call
	LastSuccess time.Time

	// LastFailure is the timestamp of the last failed API call
	LastFailure time.Time

	// LastError contains the error message from the last failure, if any
	LastError string

	// LastDuration is the latency of the last API call
	LastDuration time.Duration

	// ConsecutiveFailures is the count of consecutive failed API calls
	ConsecutiveFailures int

	// CircuitState is the current state of the circuit breaker
	CircuitState string
}

// HealthReporter is implemented by upstream clients that track the outcome
// of their external API calls.
type HealthReporter interface {
	// Health returns the current health snapshot. Thread-safe, non-blocking.
	Health() PlatformHealth
}
