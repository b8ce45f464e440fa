package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nodeai/nodeai/common/logger"
)

// Telemetry holds observability components
type Telemetry struct {
	log         *logger.Logger
	pprofAddr   string
	enablePprof bool
	registry    *prometheus.Registry
	Metrics     *Metrics
}

// New creates telemetry components
func New(pprofPort int, enablePprof bool, log *logger.Logger) *Telemetry {
	registry := prometheus.NewRegistry()
	return &Telemetry{
		log:         log,
		pprofAddr:   fmt.Sprintf("localhost:%d", pprofPort),
		enablePprof: enablePprof,
		registry:    registry,
		Metrics:     NewMetrics(registry),
	}
}

// Start starts telemetry endpoints
func (t *Telemetry) Start(ctx context.Context) error {
	if t.enablePprof {
		go func() {
			t.log.Info("pprof server starting", "addr", t.pprofAddr)
			if err := http.ListenAndServe(t.pprofAddr, nil); err != nil {
				t.log.Error("pprof server error", "error", err)
			}
		}()
	}
	return nil
}

// MetricsHandler serves the Prometheus scrape endpoint
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// SetupTracing installs an OpenTelemetry tracer provider with a stdout
// exporter and returns the tracer plus a shutdown hook. Intended for
// development; production deployments swap the exporter.
func (t *Telemetry) SetupTracing(ctx context.Context, serviceName string) (trace.Tracer, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	t.log.Info("tracing enabled", "service", serviceName)
	return provider.Tracer(serviceName), provider.Shutdown, nil
}

// RecordDuration records operation duration
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	duration := time.Since(start)
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}

// Metrics are the engine's Prometheus collectors
type Metrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram
	executionCost     prometheus.Counter
	activeExecutions  prometheus.Gauge
	nodesTotal        *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors on a registry
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeai_executions_total",
			Help: "Workflow executions by terminal status",
		}, []string{"status"}),
		executionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nodeai_execution_duration_seconds",
			Help:    "Wall clock duration of workflow executions",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		executionCost: factory.NewCounter(prometheus.CounterOpts{
			Name: "nodeai_execution_cost_total",
			Help: "Accumulated provider cost across executions",
		}),
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nodeai_active_executions",
			Help: "Executions currently running",
		}),
		nodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeai_nodes_total",
			Help: "Node executions by type and terminal status",
		}, []string{"node_type", "status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nodeai_node_duration_seconds",
			Help:    "Wall clock duration of node executions",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"node_type"}),
	}
}

// ExecutionStarted marks an execution in flight
func (m *Metrics) ExecutionStarted() {
	m.activeExecutions.Inc()
}

// ExecutionFinished records a terminal execution
func (m *Metrics) ExecutionFinished(status string, duration time.Duration, cost float64) {
	m.activeExecutions.Dec()
	m.executionsTotal.WithLabelValues(status).Inc()
	m.executionDuration.Observe(duration.Seconds())
	if cost > 0 {
		m.executionCost.Add(cost)
	}
}

// NodeFinished records a terminal node result
func (m *Metrics) NodeFinished(nodeType, status string, duration time.Duration) {
	m.nodesTotal.WithLabelValues(nodeType, status).Inc()
	if status != "skipped" {
		m.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
	}
}
