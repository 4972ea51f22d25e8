package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anita5511/oneplace"
)

const metricsNamespace = "oneplace"

// Collector is a prometheus.Collector for the gateway and the content proxies.
type Collector struct {
	logins            *prometheus.CounterVec
	sessionRejections *prometheus.CounterVec
	upstreamFallbacks *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "logins_total",
				Help:      "The number of assertion exchanges by provider and result.",
			}, []string{"provider", "result"},
		),
		sessionRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "session_rejections_total",
				Help:      "The number of requests refused by the session check.",
			}, []string{"code"},
		),
		upstreamFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "upstream_fallbacks_total",
				Help:      "The number of responses served from the static fallback.",
			}, []string{"upstream"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "The time taken to serve a request, by route template and status.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			}, []string{"route", "status"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.logins.Describe(ch)
	c.sessionRejections.Describe(ch)
	c.upstreamFallbacks.Describe(ch)
	c.requestDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.logins.Collect(ch)
	c.sessionRejections.Collect(ch)
	c.upstreamFallbacks.Collect(ch)
	c.requestDuration.Collect(ch)
}

func (c *Collector) loginResult(provider, result string) {
	c.logins.WithLabelValues(provider, result).Inc()
}

func (c *Collector) sessionRejected(code oneplace.ErrorCode) {
	c.sessionRejections.WithLabelValues(string(code)).Inc()
}

func (c *Collector) fallbackServed(upstream string) {
	c.upstreamFallbacks.WithLabelValues(upstream).Inc()
}

// handler exposes the collector on its own registry.
func (c *Collector) handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// instrument is a mux middleware observing request durations by route template,
// so path parameters do not create new series.
func (c *Collector) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		c.requestDuration.WithLabelValues(route, strconv.Itoa(sw.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
