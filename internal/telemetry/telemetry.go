// Package telemetry sets up OpenTelemetry tracing and the Prometheus metrics the
// pipeline records.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/example/optimo/internal/config"
)

// InstrumentationName names the tracer used by pipeline code.
const InstrumentationName = "github.com/example/optimo"

const shutdownTimeout = 5 * time.Second

// Telemetry owns the tracer provider for the process.
type Telemetry struct {
	provider trace.TracerProvider
	sdk      *sdktrace.TracerProvider
}

// Setup builds a tracer provider. When telemetry is disabled it returns a no-op
// provider so callers never branch on configuration.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{provider: noop.NewTracerProvider()}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint))}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return &Telemetry{provider: tp, sdk: tp}, nil
}

// NewWithProvider wraps an existing provider, e.g. one backed by a span recorder in tests.
func NewWithProvider(tp trace.TracerProvider) *Telemetry {
	return &Telemetry{provider: tp}
}

// Tracer returns the pipeline tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.provider == nil {
		return noop.NewTracerProvider().Tracer(InstrumentationName)
	}
	return t.provider.Tracer(InstrumentationName)
}

// Shutdown flushes pending spans. Safe on a disabled instance.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.sdk == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := t.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
