package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/basalt/basalt/internal/metrics"
)

// MetricsHandler exposes metrics in Prometheus exposition format, either
// from a Prometheus registry or from an in-memory snapshot.
type MetricsHandler struct {
	exporter    http.Handler
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler serves exporter when non-nil; otherwise it renders the
// snapshotter's counters.
func NewMetricsHandler(exporter http.Handler, snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{exporter: exporter, snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
// GET /metrics
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.exporter != nil {
		h.exporter.ServeHTTP(w, r)
		return
	}
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeLabeled(w, "basalt_signups_total", "result", snap.Signups)
	writeLabeled(w, "basalt_logins_total", "result", snap.Logins)
	writeLabeled(w, "basalt_api_key_validations_total", "result", snap.APIKeyValidations)
	writeMetric(w, "basalt_api_keys_created_total %d\n", snap.APIKeysCreated)
	writeLabeled(w, "basalt_notarizations_total", "status", snap.Notarizations)
	writeMetric(w, "basalt_quota_rejections_total %d\n", snap.QuotaRejections)

	writeMetric(w, "basalt_usage_flushes_total %d\n", snap.UsageFlushes)
	writeMetric(w, "basalt_usage_flushed_keys_total %d\n", snap.UsageFlushedKeys)
	writeMetric(w, "basalt_usage_flush_failures_total %d\n", snap.UsageFlushFailures)

	writeMetric(w, "basalt_http_request_duration_seconds_count %d\n", snap.Requests)
	writeMetric(w, "basalt_http_request_duration_seconds_sum %.6f\n", float64(snap.RequestDurationNs)/1e9)
	codes := make([]int, 0, len(snap.RequestsByStatus))
	for code := range snap.RequestsByStatus {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		writeMetric(w, "basalt_http_requests_total{status=\"%d\"} %d\n", code, snap.RequestsByStatus[code])
	}
}

func writeLabeled(w http.ResponseWriter, name, label string, counts map[string]uint64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, k, counts[k])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
