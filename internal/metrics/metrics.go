package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the origin server
// Tracks request counts, response streaming durations and module-cache
// behavior for monitoring and performance analysis
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec // Accepted requests by resource class
	repliesTotal      *prometheus.CounterVec // Completed replies by class and status
	activeConnections prometheus.Gauge       // Descriptors currently watched by the reactor
	streamDuration    *prometheus.HistogramVec

	cacheSizeBytes     prometheus.Gauge   // Aggregate size of loaded modules
	cacheHits          prometheus.Counter // Module cache lookup hits
	cacheMisses        prometheus.Counter // Module cache lookup misses
	cacheEvictions     prometheus.Counter // LRU evictions
	cacheRevalidations prometheus.Counter // Modules reloaded by the revalidator

	moduleLoads   prometheus.Counter // dlopen calls
	moduleUnloads prometheus.Counter // dlclose calls
}

// NewMetrics creates a metrics collector with Prometheus instruments
// Uses a dedicated registry so independent server instances (and tests)
// never collide on registration
// Time Complexity: O(1) - metric registration
// Space Complexity: O(1) - fixed metric storage
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dynamo_requests_total",
				Help: "Total number of HTTP requests accepted",
			},
			[]string{"class"},
		),
		repliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dynamo_replies_total",
				Help: "Total number of HTTP replies completed",
			},
			[]string{"class", "status"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dynamo_active_connections",
				Help: "Number of descriptors currently registered with the reactor",
			},
		),
		streamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dynamo_response_stream_duration_seconds",
				Help:    "Time from request classification to response completion",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"class"},
		),
		cacheSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dynamo_module_cache_size_bytes",
				Help: "Aggregate byte size of loaded dynamic modules",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dynamo_module_cache_hits_total",
				Help: "Module cache lookups that returned a loaded handle",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dynamo_module_cache_misses_total",
				Help: "Module cache lookups that required a fresh load",
			},
		),
		cacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dynamo_module_cache_evictions_total",
				Help: "Modules evicted by the LRU policy",
			},
		),
		cacheRevalidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dynamo_module_cache_revalidations_total",
				Help: "Modules reloaded because their backing file changed size",
			},
		),
		moduleLoads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dynamo_module_loads_total",
				Help: "Dynamic module open operations",
			},
		),
		moduleUnloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dynamo_module_unloads_total",
				Help: "Dynamic module release operations",
			},
		),
	}

	// Register metrics with the instance registry
	m.registry.MustRegister(
		m.requestsTotal,
		m.repliesTotal,
		m.activeConnections,
		m.streamDuration,
		m.cacheSizeBytes,
		m.cacheHits,
		m.cacheMisses,
		m.cacheEvictions,
		m.cacheRevalidations,
		m.moduleLoads,
		m.moduleUnloads,
	)

	return m
}

// RecordRequest counts an accepted request for the given resource class
// Called by the reactor when a request has been classified
// Time Complexity: O(1) - metric recording
func (m *Metrics) RecordRequest(class string) {
	m.requestsTotal.WithLabelValues(class).Inc()
}

// RecordReply counts a completed reply and observes its streaming duration
// Called when the last byte of a response has been handed to the kernel
// Time Complexity: O(1) - metric recording
func (m *Metrics) RecordReply(class, status string, duration time.Duration) {
	m.repliesTotal.WithLabelValues(class, status).Inc()
	m.streamDuration.WithLabelValues(class).Observe(duration.Seconds())
}

// IncrementConnections increments the watched-descriptor count
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Inc()
}

// DecrementConnections decrements the watched-descriptor count
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Dec()
}

// SetCacheSize publishes the module cache's aggregate byte size
func (m *Metrics) SetCacheSize(bytes int64) {
	m.cacheSizeBytes.Set(float64(bytes))
}

// RecordCacheLookup counts a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordEviction counts an LRU eviction
func (m *Metrics) RecordEviction() {
	m.cacheEvictions.Inc()
}

// RecordRevalidation counts a module reload by the revalidator
func (m *Metrics) RecordRevalidation() {
	m.cacheRevalidations.Inc()
}

// RecordModuleLoad counts a module open operation
func (m *Metrics) RecordModuleLoad() {
	m.moduleLoads.Inc()
}

// RecordModuleUnload counts a module release operation
func (m *Metrics) RecordModuleUnload() {
	m.moduleUnloads.Inc()
}

// Handler returns HTTP handler for Prometheus metrics exposition
// Served on the optional admin port for scraping by monitoring systems
// Time Complexity: O(1) - returns existing handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
