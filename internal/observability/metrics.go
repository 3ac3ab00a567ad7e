package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace    = "push_engine"
	unknownLabel = "unknown"
	metricsPath  = "/metrics"
)

// Metrics holds the collectors shared by the api and worker processes. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	deliveries    *prometheus.CounterVec
	sendLatency   *prometheus.HistogramVec
	sendsInFlight prometheus.Gauge
	batches       *prometheus.CounterVec
	batchTargets  prometheus.Histogram
	batchLatency  prometheus.Histogram
	staleDeletes  *prometheus.CounterVec
	jobs          *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "push", Name: "deliveries_total",
			Help: "Per-target delivery outcomes by push service host.",
		}, []string{"push_service", "outcome"}),
		sendLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "push", Name: "send_duration_seconds",
			Help:    "Push service request latency by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
		sendsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "push", Name: "sends_in_flight",
			Help: "Push service requests currently in flight.",
		}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "push", Name: "batches_total",
			Help: "Send batches by result.",
		}, []string{"result"}),
		batchTargets: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "push", Name: "batch_targets",
			Help:    "Resolved targets per completed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		batchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "push", Name: "batch_duration_seconds",
			Help:    "Dispatch and aggregation time per completed batch.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		staleDeletes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "subscriptions", Name: "stale_deletions_total",
			Help: "Stale subscription deletions by result.",
		}, []string{"result"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "jobs_total",
			Help: "Queued push jobs handled by the worker by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HTTPMiddleware records every routed request except scrapes of /metrics.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := routeLabel(c)
		if route != metricsPath {
			m.observeHTTP(c.Method(), route, responseStatus(c, err), time.Since(start))
		}
		return err
	}
}

// ObserveDelivery records the outcome of one target, labelled by the host of
// its endpoint so the series stay bounded by the browser push services.
func (m *Metrics) ObserveDelivery(endpoint string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome = label(outcome)
	m.deliveries.WithLabelValues(label(OriginHost(endpoint)), outcome).Inc()
	m.sendLatency.WithLabelValues(outcome).Observe(max(duration, 0).Seconds())
}

func (m *Metrics) IncSendsInFlight() {
	if m != nil {
		m.sendsInFlight.Inc()
	}
}

func (m *Metrics) DecSendsInFlight() {
	if m != nil {
		m.sendsInFlight.Dec()
	}
}

// IncBatch counts a batch that ended before dispatch.
func (m *Metrics) IncBatch(result string) {
	if m != nil {
		m.batches.WithLabelValues(label(result)).Inc()
	}
}

// ObserveBatch counts a dispatched batch with its size and duration.
func (m *Metrics) ObserveBatch(result string, targets int, duration time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(label(result)).Inc()
	m.batchTargets.Observe(float64(targets))
	m.batchLatency.Observe(max(duration, 0).Seconds())
}

func (m *Metrics) IncStaleDeletion(result string) {
	if m != nil {
		m.staleDeletes.WithLabelValues(label(result)).Inc()
	}
}

func (m *Metrics) IncJob(result string) {
	if m != nil {
		m.jobs.WithLabelValues(label(result)).Inc()
	}
}

func (m *Metrics) observeHTTP(method string, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	method = strings.ToUpper(label(method))
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// routeLabel is the registered route pattern, never the raw path, so owner
// and application ids do not become label values.
func routeLabel(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && strings.TrimSpace(route.Path) != "" {
		return route.Path
	}
	return "unmatched"
}

func responseStatus(c *fiber.Ctx, err error) int {
	var fiberErr *fiber.Error
	switch {
	case err == nil:
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	default:
		return fiber.StatusInternalServerError
	}

	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func label(value string) string {
	if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
		return value
	}
	return unknownLabel
}
