package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exports cache metrics to Prometheus. A nil or disabled
// Collector accepts every Record call and does nothing.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	revalidations *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	entries       *prometheus.GaugeVec
	persistErrors *prometheus.CounterVec
	mediumOps     *prometheus.CounterVec
	mediumLatency *prometheus.HistogramVec
	circuitState  *prometheus.GaugeVec

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns an enabled configuration serving /metrics on 9090.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "tiercache",
		Labels:    make(map[string]string),
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	c.initMetrics()

	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return c, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.config != nil && c.config.Enabled
}

// Registry exposes the underlying registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.enabled() {
		return nil
	}
	return c.registry
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	if !c.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() || c.config.Port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"tiercache-metrics"}`))
	})

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Default().Error("metrics server stopped", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordRequest counts a tier lookup. result is one of hit, stale or miss.
func (c *Collector) RecordRequest(namespace, tier, result string) {
	if !c.enabled() {
		return
	}
	c.requests.WithLabelValues(namespace, tier, result).Inc()
}

// RecordFetch records one invocation of a caller-supplied fetch function.
func (c *Collector) RecordFetch(namespace, mode string, duration time.Duration, err error) {
	if !c.enabled() {
		return
	}
	c.fetches.WithLabelValues(namespace, mode, status(err)).Inc()
	c.fetchDuration.WithLabelValues(namespace, mode).Observe(duration.Seconds())
}

// RecordRevalidation counts background revalidation outcomes.
func (c *Collector) RecordRevalidation(namespace, outcome string) {
	if !c.enabled() {
		return
	}
	c.revalidations.WithLabelValues(namespace, outcome).Inc()
}

// RecordEviction counts entries removed for the given reason.
func (c *Collector) RecordEviction(namespace, tier, reason string, n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.evictions.WithLabelValues(namespace, tier, reason).Add(float64(n))
}

// SetEntries updates the entry gauge for a tier.
func (c *Collector) SetEntries(namespace, tier string, n int) {
	if !c.enabled() {
		return
	}
	c.entries.WithLabelValues(namespace, tier).Set(float64(n))
}

// RecordPersistFailure counts a persistent tier failure that was absorbed.
func (c *Collector) RecordPersistFailure(namespace, operation string) {
	if !c.enabled() {
		return
	}
	c.persistErrors.WithLabelValues(namespace, operation).Inc()
}

// RecordMediumOperation records a call against a durable medium.
func (c *Collector) RecordMediumOperation(backend, operation string, duration time.Duration, err error) {
	if !c.enabled() {
		return
	}
	c.mediumOps.WithLabelValues(backend, operation, status(err)).Inc()
	c.mediumLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// SetCircuitState publishes the state of a named circuit breaker
// (0 closed, 1 open, 2 half-open).
func (c *Collector) SetCircuitState(name string, state int) {
	if !c.enabled() {
		return
	}
	c.circuitState.WithLabelValues(name).Set(float64(state))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.config.Labels,
	}
}

func (c *Collector) initMetrics() {
	c.requests = prometheus.NewCounterVec(
		c.counterOpts("requests_total", "Cache lookups by namespace, tier and result"),
		[]string{"namespace", "tier", "result"},
	)

	c.fetches = prometheus.NewCounterVec(
		c.counterOpts("fetches_total", "Fetch function invocations by namespace, mode and status"),
		[]string{"namespace", "mode", "status"},
	)

	c.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "fetch_duration_seconds",
			Help:        "Duration of fetch function invocations",
			ConstLabels: c.config.Labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"namespace", "mode"},
	)

	c.revalidations = prometheus.NewCounterVec(
		c.counterOpts("revalidations_total", "Background revalidations by outcome"),
		[]string{"namespace", "outcome"},
	)

	c.evictions = prometheus.NewCounterVec(
		c.counterOpts("evictions_total", "Entries removed by namespace, tier and reason"),
		[]string{"namespace", "tier", "reason"},
	)

	c.entries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "entries",
			Help:        "Current number of entries per tier",
			ConstLabels: c.config.Labels,
		},
		[]string{"namespace", "tier"},
	)

	c.persistErrors = prometheus.NewCounterVec(
		c.counterOpts("persist_failures_total", "Persistent tier failures absorbed without surfacing to callers"),
		[]string{"namespace", "operation"},
	)

	c.mediumOps = prometheus.NewCounterVec(
		c.counterOpts("medium_operations_total", "Durable medium calls by backend, operation and status"),
		[]string{"backend", "operation", "status"},
	)

	c.mediumLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "medium_operation_duration_seconds",
			Help:        "Latency of durable medium calls",
			ConstLabels: c.config.Labels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
		[]string{"backend", "operation"},
	)

	c.circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "circuit_state",
			Help:        "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			ConstLabels: c.config.Labels,
		},
		[]string{"name"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.requests,
		c.fetches,
		c.fetchDuration,
		c.revalidations,
		c.evictions,
		c.entries,
		c.persistErrors,
		c.mediumOps,
		c.mediumLatency,
		c.circuitState,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}
