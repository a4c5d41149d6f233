package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus collectors of the engine. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	decisions     *prometheus.CounterVec
	assignLatency prometheus.Histogram
	capacityRaces prometheus.Counter
	overflowHops  *prometheus.CounterVec
	reassignments *prometheus.CounterVec
	slaEvents     *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepErrors   *prometheus.CounterVec
	loadDrift     *prometheus.GaugeVec
	retryBacklog  prometheus.Gauge
	retryDropped  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// NewMetrics registers the engine collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"path", "method", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routing_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_http_errors_total",
			Help: "HTTP errors by route, method and error code",
		}, []string{"path", "method", "code"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_distribution_decisions_total",
			Help: "Distributor decisions by outcome, algorithm and reason",
		}, []string{"outcome", "algorithm", "reason"}),
		assignLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "routing_distribution_duration_seconds",
			Help:    "Time spent choosing an agent for a ticket",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		capacityRaces: f.NewCounter(prometheus.CounterOpts{
			Name: "routing_capacity_races_total",
			Help: "Capacity-checked increments that lost a race",
		}),
		overflowHops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_overflow_hops_total",
			Help: "Overflow recursions into a backup queue",
		}, []string{"outcome"}),
		reassignments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_reassignments_total",
			Help: "Reassignments by triggering reason",
		}, []string{"reason"}),
		slaEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_sla_events_total",
			Help: "SLA events recorded by type",
		}, []string{"event_type"}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "routing_sweep_duration_seconds",
			Help:    "Duration of a full sweep cycle across tenants",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		sweepErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_sweep_errors_total",
			Help: "Per-tenant sweep failures by stage",
		}, []string{"stage"}),
		loadDrift: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "routing_agent_load_drift",
			Help: "Difference between stored agent load and open assigned tickets",
		}, []string{"tenant", "agent"}),
		retryBacklog: f.NewGauge(prometheus.GaugeOpts{
			Name: "routing_retry_backlog",
			Help: "Audit writes waiting for an out-of-band retry",
		}),
		retryDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_retry_dropped_total",
			Help: "Audit writes dropped by the retry buffer",
		}, []string{"cause"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_sla_notifications_total",
			Help: "SLA notifications by delivery result",
		}, []string{"result"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_cache_lookups_total",
			Help: "Configuration cache lookups by cache and result",
		}, []string{"cache", "result"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordDecision counts an assigned or queued outcome.
func (m *Metrics) RecordDecision(outcome, algorithm, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome, algorithm, reason).Inc()
	m.assignLatency.Observe(duration.Seconds())
}

func (m *Metrics) RecordCapacityRace() {
	if m == nil {
		return
	}
	m.capacityRaces.Inc()
}

func (m *Metrics) RecordOverflow(outcome string) {
	if m == nil {
		return
	}
	m.overflowHops.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordReassignment(reason string) {
	if m == nil {
		return
	}
	m.reassignments.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordSlaEvent(eventType string) {
	if m == nil {
		return
	}
	m.slaEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordSweepError(stage string) {
	if m == nil {
		return
	}
	m.sweepErrors.WithLabelValues(stage).Inc()
}

// SetLoadDrift publishes stored load minus the open-ticket count for an agent.
func (m *Metrics) SetLoadDrift(tenantID, agentID string, drift int) {
	if m == nil {
		return
	}
	m.loadDrift.WithLabelValues(tenantID, agentID).Set(float64(drift))
}

func (m *Metrics) SetRetryBacklog(n int) {
	if m == nil {
		return
	}
	m.retryBacklog.Set(float64(n))
}

func (m *Metrics) RecordRetryDropped(cause string) {
	if m == nil {
		return
	}
	m.retryDropped.WithLabelValues(cause).Inc()
}

func (m *Metrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// RecordCacheLookup counts a hit or miss on a named cache.
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}
