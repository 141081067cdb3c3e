package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/mushroom/pkg/server"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "mushroom").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for call duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
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

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "mushroom",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the call and session collectors registered on one
// Prometheus registerer. Its middleware and session hooks all record into
// the same collectors.
type Metrics struct {
	callsTotal     *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	callErrors     *prometheus.CounterVec
	activeSessions prometheus.Gauge
	sessionsTotal  *prometheus.CounterVec
	sessionLife    prometheus.Histogram
}

type metricsKey struct {
	registry  prometheus.Registerer
	namespace string
	subsystem string
}

// registered caches one Metrics per registerer and name prefix, since a
// registerer rejects a second collector with the same name.
var (
	registered   = make(map[metricsKey]*Metrics)
	registeredMu sync.Mutex
)

// NewMetrics returns the Metrics registered on the configured registerer,
// creating and registering the collectors on first use.
//
// Metrics collected:
//   - mushroom_rpc_calls_total: Counter of calls by method and status
//   - mushroom_rpc_call_duration_seconds: Histogram of call duration
//   - mushroom_rpc_errors_total: Counter of failed calls by method and error type
//   - mushroom_active_sessions: Gauge of open sessions
//   - mushroom_sessions_total: Counter of opened sessions by transport
//   - mushroom_session_duration_seconds: Histogram of session lifetimes
//
// Example:
//
//	srv := server.New(table, nil)
//	m := middleware.NewMetrics(middleware.WithNamespace("myapp"))
//	srv.Use(m.Middleware())
//	srv.SetOnSessionOpen(m.SessionOpened)
//	srv.SetOnSessionClose(m.SessionClosed)
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}

	key := metricsKey{config.Registry, config.Namespace, config.Subsystem}
	registeredMu.Lock()
	defer registeredMu.Unlock()
	if m, ok := registered[key]; ok {
		return m
	}
	m := newMetrics(config)
	registered[key] = m
	return m
}

func newMetrics(config MetricsConfig) *Metrics {
	factory := promauto.With(config.Registry)

	return &Metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "rpc_calls_total",
			Help:        "Total number of RPC calls handled",
			ConstLabels: config.ConstLabels,
		}, []string{"method", "status"}),

		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "rpc_call_duration_seconds",
			Help:        "RPC call duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"method"}),

		callErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "rpc_errors_total",
			Help:        "Total number of failed RPC calls by error type",
			ConstLabels: config.ConstLabels,
		}, []string{"method", "error_type"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of open mushroom sessions",
			ConstLabels: config.ConstLabels,
		}),

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_total",
			Help:        "Total number of sessions opened by transport",
			ConstLabels: config.ConstLabels,
		}, []string{"transport"}),

		sessionLife: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_duration_seconds",
			Help:        "Lifetime of closed sessions in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{1, 10, 60, 300, 1800, 3600, 14400},
		}),
	}
}

// Prometheus creates call middleware that records into the Metrics of the
// configured registerer. Use NewMetrics directly to also count sessions.
//
// Calls to methods with no RPC entry are labeled "unknown" so clients
// cannot create label values at will.
func Prometheus(opts ...MetricsOption) server.CallMiddleware {
	return NewMetrics(opts...).Middleware()
}

// Middleware returns call middleware recording into m.
func (m *Metrics) Middleware() server.CallMiddleware {
	return func(next server.CallHandler) server.CallHandler {
		return func(ctx context.Context, call *server.Call) (any, error) {
			method := methodLabel(call)

			start := time.Now()
			result, err := next(ctx, call)
			m.callDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

			status := "success"
			if err != nil {
				status = "error"
				m.callErrors.WithLabelValues(method, categorizeError(err)).Inc()
			}
			m.callsTotal.WithLabelValues(method, status).Inc()

			return result, err
		}
	}
}

func methodLabel(call *server.Call) string {
	if call == nil || call.Entry == nil {
		return "unknown"
	}
	return call.Entry.Method()
}

// categorizeError keeps error labels low-cardinality.
func categorizeError(err error) string {
	switch {
	case errors.Is(err, server.ErrMethodNotFound):
		return "not_found"
	case errors.Is(err, server.ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, server.ErrCallPanicked):
		return "panic"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "function"
	}
}

// SessionOpened records a new session. Pass it to Server.SetOnSessionOpen.
func (m *Metrics) SessionOpened(sess *server.Session) {
	if sess == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionsTotal.WithLabelValues(sess.Transport()).Inc()
}

// SessionClosed records a closed session. Pass it to Server.SetOnSessionClose.
func (m *Metrics) SessionClosed(sess *server.Session) {
	if sess == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionLife.Observe(time.Since(sess.CreatedAt()).Seconds())
}
