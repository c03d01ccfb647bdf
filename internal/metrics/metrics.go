// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page outcomes.
const (
	PageDone    = "done"
	PageSkipped = "skipped"
)

// Item outcomes.
const (
	ItemAdded     = "added"
	ItemDuplicate = "duplicate"
	ItemEmpty     = "empty"
	ItemArtifact  = "artifact"
	ItemFailed    = "failed"
)

// Metrics groups the harvester collectors. A nil *Metrics is a no-op.
type Metrics struct {
	pagesTotal          *prometheus.CounterVec
	pageRetriesTotal    prometheus.Counter
	itemsTotal          *prometheus.CounterVec
	names               prometheus.Gauge
	saveDurationSeconds prometheus.Histogram
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		pagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Listing pages processed, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		pageRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_page_retries_total",
				Help: "Listing fetch attempts beyond the first.",
			},
		),
		itemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Items examined, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		names: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_names",
				Help: "Names in the last persisted snapshot.",
			},
		),
		saveDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_save_duration_seconds",
				Help:    "Histogram of state save latencies.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// ObservePage counts a finished listing page and its extra attempts.
func (m *Metrics) ObservePage(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.pagesTotal.WithLabelValues(outcome).Inc()
	if attempts > 1 {
		m.pageRetriesTotal.Add(float64(attempts - 1))
	}
}

// ObserveItem counts one examined item.
func (m *Metrics) ObserveItem(outcome string) {
	if m == nil {
		return
	}
	m.itemsTotal.WithLabelValues(outcome).Inc()
}

// SetNames records the persisted snapshot size.
func (m *Metrics) SetNames(n int) {
	if m == nil {
		return
	}
	m.names.Set(float64(n))
}

// ObserveSave records one state save.
func (m *Metrics) ObserveSave(d time.Duration) {
	if m == nil {
		return
	}
	m.saveDurationSeconds.Observe(d.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
