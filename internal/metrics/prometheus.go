package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports metrics through its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	signups           *prometheus.CounterVec
	logins            *prometheus.CounterVec
	apiKeyValidations *prometheus.CounterVec
	apiKeysCreated    prometheus.Counter
	notarizations     *prometheus.CounterVec
	quotaRejections   prometheus.Counter
	usageFlushKeys    prometheus.Histogram
	usageFlushTime    prometheus.Histogram
	usageFlushFailed  prometheus.Counter
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

// NewPrometheus creates a recorder and registers its collectors, plus the Go
// runtime and process collectors, on a fresh registry.
func NewPrometheus() *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "basalt_signups_total",
			Help: "Signup attempts by result",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "basalt_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		apiKeyValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "basalt_api_key_validations_total",
			Help: "API key validations by result",
		}, []string{"result"}),
		apiKeysCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basalt_api_keys_created_total",
			Help: "API keys issued",
		}),
		notarizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "basalt_notarizations_total",
			Help: "Notarizations by final status",
		}, []string{"status"}),
		quotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basalt_quota_rejections_total",
			Help: "Billable requests refused for lack of quota",
		}),
		usageFlushKeys: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "basalt_usage_flush_keys",
			Help:    "Distinct API keys per usage flush",
			Buckets: prometheus.ExponentialBuckets(1, 4, 6),
		}),
		usageFlushTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "basalt_usage_flush_duration_seconds",
			Help:    "Usage flush duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		usageFlushFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basalt_usage_flush_failures_total",
			Help: "Usage flushes that failed and were re-buffered",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "basalt_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "basalt_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.signups,
		p.logins,
		p.apiKeyValidations,
		p.apiKeysCreated,
		p.notarizations,
		p.quotaRejections,
		p.usageFlushKeys,
		p.usageFlushTime,
		p.usageFlushFailed,
		p.requestsTotal,
		p.requestDuration,
	)
	return p
}

// Registry exposes the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) IncSignup(result string) {
	p.signups.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncLogin(result string) {
	p.logins.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncAPIKeyValidation(result string) {
	p.apiKeyValidations.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncAPIKeyCreated() {
	p.apiKeysCreated.Inc()
}

func (p *PrometheusRecorder) IncNotarization(status string) {
	p.notarizations.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncQuotaRejected() {
	p.quotaRejections.Inc()
}

func (p *PrometheusRecorder) ObserveUsageFlush(keys int, duration time.Duration) {
	p.usageFlushKeys.Observe(float64(keys))
	p.usageFlushTime.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncUsageFlushFailed() {
	p.usageFlushFailed.Inc()
}

func (p *PrometheusRecorder) ObserveRequest(method, route string, status int, duration time.Duration) {
	p.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
