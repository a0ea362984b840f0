// Package telemetry wires OpenTelemetry tracing and metrics for the worker
// and scheduler processes. Grounded on the teacher's internal/telemetry/otel.go
// (Setup returning a deferrable shutdown func, a no-op when tracing is
// disabled or unconfigured), generalized to also stand up a MeterProvider
// and the counters spec.md's job-dispatch/scheduler-tick loops report
// through.
package telemetry

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config holds OpenTelemetry related settings.
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP/HTTP collector endpoint, host:port, shared by traces and metrics
	Insecure    bool
	ServiceName string
}

// Shutdown flushes and stops every provider Setup started. Safe to call on
// the disabled/no-op value returned when cfg.Enabled is false.
type Shutdown func(context.Context) error

// Setup initializes OpenTelemetry tracing and metrics based on cfg and
// installs them as the process-global providers (otel.SetTracerProvider,
// otel.SetMeterProvider) so NewMetrics and any tracer obtained via
// otel.Tracer(...) downstream pick them up without threading a provider
// through every constructor. Returns a no-op shutdown when disabled or
// unconfigured, matching the teacher's Setup contract.
func Setup(ctx context.Context, cfg Config) (Shutdown, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, err
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, err
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter)),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Process-level CPU/memory/GC metrics (spec.md's "profiling coverage"
	// concern is document-level, not process-level, but the same meter
	// provider carries both — see NewMetrics).
	if err := host.Start(host.WithMeterProvider(mp)); err != nil {
		return nil, err
	}

	return func(shutdownCtx context.Context) error {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return mp.Shutdown(shutdownCtx)
	}, nil
}
