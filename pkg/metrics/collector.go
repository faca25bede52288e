package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gqlproxy"

// Request outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeOverride = "override"
	OutcomeError    = "error"
	OutcomeClosed   = "closed"
)

// EventPurged counts entries dropped by a purge.
const EventPurged = "purged"

// Collector holds the proxy's Prometheus collectors.
type Collector struct {
	requests         *prometheus.CounterVec
	cacheEvents      *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
	upstreamInflight prometheus.Gauge
}

// NewCollector creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of persisted operation calls.",
			},
			[]string{"hash", "type", "outcome"},
		),
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_events_total",
				Help:      "Cache hits, misses, shared flights, expiries and purges.",
			},
			[]string{"event"},
		),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Total number of requests sent to the GraphQL backend.",
			},
			[]string{"status"},
		),
		upstreamDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "duration_seconds",
				Help:      "Duration of requests to the GraphQL backend.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
		),
		upstreamInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "inflight",
				Help:      "Requests currently holding an upstream pool slot.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			c.requests,
			c.cacheEvents,
			c.upstreamRequests,
			c.upstreamDuration,
			c.upstreamInflight,
		)
	}
	return c
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns an HTTP handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveRequest counts one persisted operation call.
func (c *Collector) ObserveRequest(hash, opType, outcome string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(hash, opType, outcome).Inc()
}

// ObserveCacheEvent counts one cache event.
func (c *Collector) ObserveCacheEvent(event string) {
	if c == nil {
		return
	}
	c.cacheEvents.WithLabelValues(event).Inc()
}

// AddCacheEvents counts n occurrences of event.
func (c *Collector) AddCacheEvents(event string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.cacheEvents.WithLabelValues(event).Add(float64(n))
}

// UpstreamStarted marks a request as holding a pool slot. The returned
// function must be called once with the response status (0 when no response
// was received) to record the round trip.
func (c *Collector) UpstreamStarted() func(status int) {
	if c == nil {
		return func(int) {}
	}
	start := time.Now()
	c.upstreamInflight.Inc()
	return func(status int) {
		c.upstreamInflight.Dec()
		c.upstreamDuration.Observe(time.Since(start).Seconds())
		label := "error"
		if status > 0 {
			label = strconv.Itoa(status)
		}
		c.upstreamRequests.WithLabelValues(label).Inc()
	}
}
