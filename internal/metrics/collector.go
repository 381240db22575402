package metrics

import (
	stderr "errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ballhead/ballhead/pkg/errors"
)

// Collector exports range cache, origin and warmer metrics to Prometheus
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	cacheRequests  *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	originCalls    *prometheus.CounterVec
	originDuration prometheus.Histogram
	originRanges   prometheus.Histogram
	warmPasses     *prometheus.CounterVec
	warmDuration   *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec
	errorCounter   *prometheus.CounterVec
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Namespace: "ballhead",
			Labels:    make(map[string]string),
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to register metrics").
			WithComponent("metrics")
	}

	return collector, nil
}

// Handler serves the collector's registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordCacheHit counts n range lookups served from the cache
func (c *Collector) RecordCacheHit(n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"type": "hit"}).Add(float64(n))
}

// RecordCacheMiss counts n range lookups that had to go to the origin
func (c *Collector) RecordCacheMiss(n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"type": "miss"}).Add(float64(n))
}

// RecordOriginCall records one batched origin read
func (c *Collector) RecordOriginCall(ranges int, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.originCalls.With(prometheus.Labels{"status": status(err)}).Inc()
	c.originDuration.Observe(duration.Seconds())
	c.originRanges.Observe(float64(ranges))

	if err != nil {
		c.RecordError("origin_batch_get", err)
	}
}

// UpdateCacheSize sets the current number of cached entries
func (c *Collector) UpdateCacheSize(entries int) {
	if !c.config.Enabled {
		return
	}
	c.cacheEntries.Set(float64(entries))
}

// RecordWarmPass records one warm-set refresh
func (c *Collector) RecordWarmPass(set string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.warmPasses.With(prometheus.Labels{"set": set, "status": status(err)}).Inc()
	c.warmDuration.With(prometheus.Labels{"set": set}).Observe(duration.Seconds())

	if err != nil {
		c.RecordError("warm_pass", err)
	}
}

// SetBreakerState publishes a circuit breaker state; 0 closed, 1 open, 2 half-open
func (c *Collector) SetBreakerState(name string, state int) {
	if !c.config.Enabled {
		return
	}
	c.breakerState.With(prometheus.Labels{"breaker": name}).Set(float64(state))
}

// RecordError records an error
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      classifyError(err),
	}).Inc()
}

// Helper methods

func (c *Collector) initMetrics() {
	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_requests_total",
			Help:        "Total number of range lookups by result",
			ConstLabels: c.config.Labels,
		},
		[]string{"type"},
	)

	c.cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_entries",
			Help:        "Current number of cached ranges, including expired ones not yet swept",
			ConstLabels: c.config.Labels,
		},
	)

	c.originCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "origin_calls_total",
			Help:        "Total number of batched origin reads",
			ConstLabels: c.config.Labels,
		},
		[]string{"status"},
	)

	c.originDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "origin_call_duration_seconds",
			Help:        "Duration of batched origin reads in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			ConstLabels: c.config.Labels,
		},
	)

	c.originRanges = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "origin_call_ranges",
			Help:        "Number of ranges fetched per batched origin read",
			Buckets:     prometheus.LinearBuckets(1, 2, 10),
			ConstLabels: c.config.Labels,
		},
	)

	c.warmPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "warm_passes_total",
			Help:        "Total number of warm-set refreshes",
			ConstLabels: c.config.Labels,
		},
		[]string{"set", "status"},
	)

	c.warmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "warm_pass_duration_seconds",
			Help:        "Duration of warm-set refreshes in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			ConstLabels: c.config.Labels,
		},
		[]string{"set"},
	)

	c.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "circuit_breaker_state",
			Help:        "Origin circuit breaker state (0 closed, 1 open, 2 half-open)",
			ConstLabels: c.config.Labels,
		},
		[]string{"breaker"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of errors",
			ConstLabels: c.config.Labels,
		},
		[]string{"operation", "type"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheRequests,
		c.cacheEntries,
		c.originCalls,
		c.originDuration,
		c.originRanges,
		c.warmPasses,
		c.warmDuration,
		c.breakerState,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// classifyError prefers the structured error code and falls back to message sniffing.
func classifyError(err error) string {
	var bhErr *errors.BallheadError
	if stderr.As(err, &bhErr) {
		return strings.ToLower(string(bhErr.Code))
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "deadline") || strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "canceled"):
		return "canceled"
	case strings.Contains(errStr, "connection"):
		return "connection"
	case strings.Contains(errStr, "quota") || strings.Contains(errStr, "rate"):
		return "throttling"
	default:
		return "other"
	}
}
