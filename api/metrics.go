package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/VanDung-dev/Blockless-Engine/engine"
	"github.com/VanDung-dev/Blockless-Engine/sandbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine. It implements
// engine.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Task metrics
	TasksExecuted prometheus.Counter
	TasksFailed   prometheus.Counter
	TaskLatency   prometheus.Histogram

	// Round metrics
	RoundsTotal   prometheus.Counter
	RoundDuration prometheus.Histogram

	// System metrics
	QueueDepthGauge prometheus.Gauge
	ActiveWorkers   prometheus.Gauge

	// Ingest metrics
	BatchesTotal prometheus.Counter
	BatchSize    prometheus.Histogram

	// Sandbox metrics
	SandboxCalls *prometheus.CounterVec

	// gRPC metrics
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics creates metrics with the given namespace on a private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TasksExecuted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_executed_total",
			Help:      "Total number of tasks executed successfully",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks that returned an error or panicked",
		}),
		TaskLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_latency_seconds",
			Help:      "Task execution latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		RoundsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of dispatch rounds that executed tasks",
		}),
		RoundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Dispatch round duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		QueueDepthGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of pending tasks",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Number of workers currently executing a task",
		}),

		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_batches_total",
			Help:      "Total number of task batches ingested",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_size",
			Help:      "Number of tasks per ingested batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		SandboxCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_calls_total",
			Help:      "Sandbox invocations by function and status",
		}, []string{"function", "status"}),

		GRPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC requests by method and status",
		}, []string{"method", "status"}),
		GRPCRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request duration by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) TaskStarted() {
	m.ActiveWorkers.Inc()
}

func (m *Metrics) TaskFinished(_ engine.Task, err error, d time.Duration) {
	m.ActiveWorkers.Dec()
	m.TaskLatency.Observe(d.Seconds())
	if err != nil {
		m.TasksFailed.Inc()
	} else {
		m.TasksExecuted.Inc()
	}
}

func (m *Metrics) QueueDepth(n int) {
	m.QueueDepthGauge.Set(float64(n))
}

func (m *Metrics) RoundFinished(_, _ int, d time.Duration) {
	m.RoundsTotal.Inc()
	m.RoundDuration.Observe(d.Seconds())
}

// RecordBatch records an ingested batch.
func (m *Metrics) RecordBatch(size int) {
	m.BatchesTotal.Inc()
	m.BatchSize.Observe(float64(size))
}

// UnknownFunction labels sandbox calls that did not reach an export.
const UnknownFunction = "unknown"

// RecordSandboxCall records a sandbox invocation outcome. The function
// label is kept only when the call resolved to an export; other failures
// are recorded under UnknownFunction so callers cannot mint new series.
func (m *Metrics) RecordSandboxCall(function string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		if !errors.Is(err, sandbox.ErrTrap) && !errors.Is(err, sandbox.ErrTypeMismatch) {
			function = UnknownFunction
		}
	}
	m.SandboxCalls.WithLabelValues(function, status).Inc()
}

// RecordGRPCRequest records a gRPC request.
func (m *Metrics) RecordGRPCRequest(method, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// MetricsServer runs an HTTP server exposing /metrics and /health.
type MetricsServer struct {
	*HTTPServer
}

// NewMetricsServer creates a metrics server on addr serving m.
func NewMetricsServer(addr string, m *Metrics) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &MetricsServer{HTTPServer: NewHTTPServer(addr, mux)}
}

// InstrumentInvoker records every call through inv in m.SandboxCalls.
func InstrumentInvoker(inv engine.Invoker, m *Metrics) engine.Invoker {
	return instrumentedInvoker{inv: inv, metrics: m}
}

type instrumentedInvoker struct {
	inv     engine.Invoker
	metrics *Metrics
}

func (i instrumentedInvoker) Invoke(ctx context.Context, name string, a, b int32) (int32, error) {
	result, err := i.inv.Invoke(ctx, name, a, b)
	i.metrics.RecordSandboxCall(name, err)
	return result, err
}
