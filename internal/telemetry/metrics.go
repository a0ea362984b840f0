package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "ragcore/internal/telemetry"

// Metrics holds the counters and histograms the worker and scheduler
// processes report through: jobs processed/acked/rejected per workload
// type, queue depth samples, and profiling coverage (spec.md's AMBIENT
// STACK telemetry bullet). A nil *Metrics is valid everywhere it's used —
// every method is a no-op on a nil receiver — so callers that never call
// Setup (tests, local dev without a collector) pay no instrumentation
// cost.
type Metrics struct {
	tracer trace.Tracer

	jobsProcessed metric.Int64Counter
	jobsAcked     metric.Int64Counter
	jobsRejected  metric.Int64Counter
	queueDepth    metric.Int64Gauge
	profCoverage  metric.Float64Histogram
}

// NewMetrics builds a Metrics instance reading from the process-global
// MeterProvider/TracerProvider (set by Setup, or the SDK's no-op defaults
// when Setup was never called).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	tracer := otel.Tracer(instrumentationName)

	jobsProcessed, err := meter.Int64Counter("ragcore.jobs.processed",
		metric.WithDescription("jobs dispatched to a handler, by workload type"))
	if err != nil {
		return nil, err
	}
	jobsAcked, err := meter.Int64Counter("ragcore.jobs.acked",
		metric.WithDescription("jobs acknowledged after a successful handler run, by workload type"))
	if err != nil {
		return nil, err
	}
	jobsRejected, err := meter.Int64Counter("ragcore.jobs.rejected",
		metric.WithDescription("jobs rejected after a failed handler run, by workload type and requeue outcome"))
	if err != nil {
		return nil, err
	}
	queueDepth, err := meter.Int64Gauge("ragcore.queue.depth",
		metric.WithDescription("jobs immediately deliverable on a queue at sample time"))
	if err != nil {
		return nil, err
	}
	profCoverage, err := meter.Float64Histogram("ragcore.profiling.coverage_pct",
		metric.WithDescription("percentage of a document's chunks successfully profiled"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		tracer:        tracer,
		jobsProcessed: jobsProcessed,
		jobsAcked:     jobsAcked,
		jobsRejected:  jobsRejected,
		queueDepth:    queueDepth,
		profCoverage:  profCoverage,
	}, nil
}

// StartSpan starts a span named name, scoped to this package's tracer. A
// nil *Metrics still returns a usable (no-op) span, since trace.Tracer
// falls back to the global no-op implementation before Setup installs a
// real TracerProvider.
func (m *Metrics) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if m == nil {
		return otel.Tracer(instrumentationName).Start(ctx, name)
	}
	return m.tracer.Start(ctx, name)
}

// RecordJobProcessed records one dispatch attempt for workloadType,
// regardless of outcome.
func (m *Metrics) RecordJobProcessed(ctx context.Context, workloadType string) {
	if m == nil {
		return
	}
	m.jobsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("workload_type", workloadType)))
}

// RecordJobAcked records a successful handler run for workloadType.
func (m *Metrics) RecordJobAcked(ctx context.Context, workloadType string) {
	if m == nil {
		return
	}
	m.jobsAcked.Add(ctx, 1, metric.WithAttributes(attribute.String("workload_type", workloadType)))
}

// RecordJobRejected records a failed handler run for workloadType;
// requeued distinguishes a bounded retry from a final discard.
func (m *Metrics) RecordJobRejected(ctx context.Context, workloadType string, requeued bool) {
	if m == nil {
		return
	}
	m.jobsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workload_type", workloadType),
		attribute.Bool("requeued", requeued),
	))
}

// RecordQueueDepth samples the current depth of queueName.
func (m *Metrics) RecordQueueDepth(ctx context.Context, queueName string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.Record(ctx, depth, metric.WithAttributes(attribute.String("queue", queueName)))
}

// RecordProfilingCoverage records the fraction (0-100) of a document's
// chunks that were successfully profiled (internal/profiling's coverage
// calculation).
func (m *Metrics) RecordProfilingCoverage(ctx context.Context, pct float64) {
	if m == nil {
		return
	}
	m.profCoverage.Record(ctx, pct)
}
