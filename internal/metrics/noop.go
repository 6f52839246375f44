package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncSignup is a no-op.
func (n *NoopRecorder) IncSignup(string) {}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(string) {}

// IncAPIKeyValidation is a no-op.
func (n *NoopRecorder) IncAPIKeyValidation(string) {}

// IncAPIKeyCreated is a no-op.
func (n *NoopRecorder) IncAPIKeyCreated() {}

// IncNotarization is a no-op.
func (n *NoopRecorder) IncNotarization(string) {}

// IncQuotaRejected is a no-op.
func (n *NoopRecorder) IncQuotaRejected() {}

// ObserveUsageFlush is a no-op.
func (n *NoopRecorder) ObserveUsageFlush(int, time.Duration) {}

// IncUsageFlushFailed is a no-op.
func (n *NoopRecorder) IncUsageFlushFailed() {}

// ObserveRequest is a no-op.
func (n *NoopRecorder) ObserveRequest(string, string, int, time.Duration) {}
