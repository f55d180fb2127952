package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audittrail"

// Metrics holds every collector the service exports. Build one per
// registry with NewMetrics; components that receive nil call Discard.
type Metrics struct {
	registry *prometheus.Registry

	LogsCreated      prometheus.Counter
	LogsListed       prometheus.Counter
	Flushes          prometheus.Counter
	FlushedEntries   prometheus.Counter
	FlushRetries     prometheus.Counter
	DeadLettered     prometheus.Counter
	DeadLetterErrors prometheus.Counter
	Tampered         *prometheus.CounterVec
	DecodeFailures   *prometheus.CounterVec
	ArchivedEntries  prometheus.Counter
	RetryExhausted   *prometheus.CounterVec
	Exports          *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry. When
// withRuntime is set, Go runtime and process collectors are added too.
func NewMetrics(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LogsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logs_created_total",
			Help:      "Total number of logs created.",
		}),
		LogsListed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logs_listed_total",
			Help:      "Total number of times logs have been listed.",
		}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Non-empty buffer flushes that persisted their batch.",
		}),
		FlushedEntries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_entries_total",
			Help:      "Signed entries persisted by the flusher.",
		}),
		FlushRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_retries_total",
			Help:      "Failed batch insert attempts that were retried.",
		}),
		DeadLettered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_dead_lettered_total",
			Help:      "Signed entries dead-lettered after the flush retries were exhausted.",
		}),
		DeadLetterErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_dead_letter_errors_total",
			Help:      "Batches that could not be written to the dead-letter file.",
		}),
		Tampered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tampered_records_total",
			Help:      "Stored records excluded from a read because their signature did not verify.",
		}, []string{"collection"}),
		DecodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undecodable_records_total",
			Help:      "Stored records excluded from a read because they could not be decoded.",
		}, []string{"collection"}),
		ArchivedEntries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_entries_total",
			Help:      "Entries relocated from the primary collection to the archive.",
		}),
		RetryExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retry_exhausted_total",
			Help:      "Task instances that failed after their last retry.",
		}, []string{"task"}),
		Exports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Completed exports by format.",
		}, []string{"format"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Discard returns m, or a throwaway set of collectors when m is nil.
func Discard(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return NewMetrics(false)
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
