package metrics

import (
	"sync"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Signups            map[string]uint64
	Logins             map[string]uint64
	APIKeyValidations  map[string]uint64
	APIKeysCreated     uint64
	Notarizations      map[string]uint64
	QuotaRejections    uint64
	UsageFlushes       uint64
	UsageFlushedKeys   uint64
	UsageFlushFailures uint64
	Requests           uint64
	RequestDurationNs  int64
	RequestsByStatus   map[int]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{snap: Snapshot{
		Signups:           make(map[string]uint64),
		Logins:            make(map[string]uint64),
		APIKeyValidations: make(map[string]uint64),
		Notarizations:     make(map[string]uint64),
		RequestsByStatus:  make(map[int]uint64),
	}}
}

// Snapshot returns a deep copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.snap
	out.Signups = copyCounts(m.snap.Signups)
	out.Logins = copyCounts(m.snap.Logins)
	out.APIKeyValidations = copyCounts(m.snap.APIKeyValidations)
	out.Notarizations = copyCounts(m.snap.Notarizations)
	out.RequestsByStatus = make(map[int]uint64, len(m.snap.RequestsByStatus))
	for k, v := range m.snap.RequestsByStatus {
		out.RequestsByStatus[k] = v
	}
	return out
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// IncSignup counts a signup attempt by result.
func (m *InMemoryRecorder) IncSignup(result string) {
	m.mu.Lock()
	m.snap.Signups[result]++
	m.mu.Unlock()
}

// IncLogin counts a login attempt by result.
func (m *InMemoryRecorder) IncLogin(result string) {
	m.mu.Lock()
	m.snap.Logins[result]++
	m.mu.Unlock()
}

// IncAPIKeyValidation counts an API key validation by result.
func (m *InMemoryRecorder) IncAPIKeyValidation(result string) {
	m.mu.Lock()
	m.snap.APIKeyValidations[result]++
	m.mu.Unlock()
}

// IncAPIKeyCreated counts issued keys.
func (m *InMemoryRecorder) IncAPIKeyCreated() {
	m.mu.Lock()
	m.snap.APIKeysCreated++
	m.mu.Unlock()
}

// IncNotarization counts notarizations by final status.
func (m *InMemoryRecorder) IncNotarization(status string) {
	m.mu.Lock()
	m.snap.Notarizations[status]++
	m.mu.Unlock()
}

// IncQuotaRejected counts requests refused for lack of quota.
func (m *InMemoryRecorder) IncQuotaRejected() {
	m.mu.Lock()
	m.snap.QuotaRejections++
	m.mu.Unlock()
}

// ObserveUsageFlush records one flush of buffered key usage.
func (m *InMemoryRecorder) ObserveUsageFlush(keys int, _ time.Duration) {
	m.mu.Lock()
	m.snap.UsageFlushes++
	m.snap.UsageFlushedKeys += uint64(keys)
	m.mu.Unlock()
}

// IncUsageFlushFailed counts failed flushes.
func (m *InMemoryRecorder) IncUsageFlushFailed() {
	m.mu.Lock()
	m.snap.UsageFlushFailures++
	m.mu.Unlock()
}

// ObserveRequest records a served HTTP request.
func (m *InMemoryRecorder) ObserveRequest(_, _ string, status int, duration time.Duration) {
	m.mu.Lock()
	m.snap.Requests++
	m.snap.RequestDurationNs += duration.Nanoseconds()
	m.snap.RequestsByStatus[status]++
	m.mu.Unlock()
}
