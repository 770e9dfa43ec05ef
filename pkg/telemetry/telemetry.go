package telemetry

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc flushes and stops the exporters installed by InitWithConfig.
type ShutdownFunc func(context.Context) error

// Config selects where spans and metrics go.
type Config struct {
	// Exporter is one of none, stdout or otlp. Empty means stdout.
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	OTLPHeaders  map[string]string
	// Writer receives stdout exporter output. Nil means os.Stderr so
	// telemetry never mixes with command output.
	Writer io.Writer
}

const (
	batchTimeout   = time.Second
	metricInterval = time.Minute
)

// InitWithConfig installs global tracer and meter providers for the
// configured exporter. With the none exporter the globals stay no-op and
// the returned shutdown does nothing.
func InitWithConfig(serviceName, version string, cfg Config) (ShutdownFunc, error) {
	if cfg.Exporter == "none" {
		return func(context.Context) error { return nil }, nil
	}
	ctx := context.Background()
	spans, metrics, err := newExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(spans, trace.WithBatchTimeout(batchTimeout)),
		trace.WithResource(res),
	)
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metrics, metric.WithInterval(metricInterval))),
		metric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return stderrors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newExporters(ctx context.Context, cfg Config) (trace.SpanExporter, metric.Exporter, error) {
	switch cfg.Exporter {
	case "", "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		spans, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		metrics, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		return spans, metrics, nil
	case "otlp":
		return newOTLPExporters(ctx, cfg)
	}
	return nil, nil, fmt.Errorf("unknown telemetry exporter: %s", cfg.Exporter)
}

func newOTLPExporters(ctx context.Context, cfg Config) (trace.SpanExporter, metric.Exporter, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil, fmt.Errorf("otlp endpoint is required")
	}
	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if len(cfg.OTLPHeaders) > 0 {
		traceOpts = append(traceOpts, otlptracegrpc.WithHeaders(cfg.OTLPHeaders))
		metricOpts = append(metricOpts, otlpmetricgrpc.WithHeaders(cfg.OTLPHeaders))
	}
	if cfg.OTLPInsecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
	}
	metrics, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
	}
	return spans, metrics, nil
}
