// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Result labels shared by the recorders.
const (
	ResultSuccess  = "success"
	ResultInvalid  = "invalid"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, tests, etc.
type Recorder interface {
	// Account metrics
	IncSignup(result string) // success, duplicate, invalid
	IncLogin(result string)  // success, invalid, disabled

	// API key metrics
	IncAPIKeyValidation(result string) // success, invalid, error
	IncAPIKeyCreated()

	// Notarization and quota metrics
	IncNotarization(status string) // completed, failed
	IncQuotaRejected()

	// Usage flush pipeline
	ObserveUsageFlush(keys int, duration time.Duration)
	IncUsageFlushFailed()

	// HTTP
	ObserveRequest(method, route string, status int, duration time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
