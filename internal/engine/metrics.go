package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeBuilt  = "built"
	outcomeCached = "cached"
	outcomeFailed = "failed"
)

// MetricsConfig configures engine metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "jetbuild").
	Namespace string

	// Buckets are the histogram buckets for generator duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures engine metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records
// nothing.
//
// Metrics collected:
//   - jetbuild_artifacts_total: Counter of resolved requests by outcome
//   - jetbuild_generate_duration_seconds: Histogram of generator run time by outcome
//   - jetbuild_bytes_written_total: Counter of output bytes written
type Metrics struct {
	artifacts    *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bytesWritten prometheus.Counter
}

// NewMetrics registers the engine collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "jetbuild",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)
	return &Metrics{
		artifacts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "artifacts_total",
			Help:      "Total number of build requests resolved, by outcome",
		}, []string{"outcome"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "generate_duration_seconds",
			Help:      "Generator run time in seconds",
			Buckets:   config.Buckets,
		}, []string{"outcome"}),

		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "bytes_written_total",
			Help:      "Total bytes of artifact output written",
		}),
	}
}

func (m *Metrics) observe(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.artifacts.WithLabelValues(outcome).Inc()
	if outcome != outcomeCached {
		m.duration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

func (m *Metrics) addBytes(n int) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(float64(n))
}
