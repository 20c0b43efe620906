// Package telemetry wires OpenTelemetry tracing (go.opentelemetry.io/otel
// + the OTLP/HTTP exporter), the observability stack this codebase's
// top-level go.mod already carries. It sets up the tracer provider and
// exporter; no other package of the node starts spans on Tracer.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the process-wide tracer, named after the node binary so spans are easy to pick out in a shared collector.
var Tracer trace.Tracer = otel.Tracer("rensa")

// Config controls whether tracing exports anywhere; an empty Endpoint
// disables the OTLP exporter entirely and Tracer becomes a no-op,
// matching spec.md §1's "metrics... only sketched" scoping.
type Config struct {
	Endpoint string
	ChainID  string
}

// Init configures the global tracer provider. Call once at node
// startup; returns a shutdown func to flush pending spans on exit.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("build otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "rensa"),
		attribute.String("service.version", "devnet"),
		attribute.String("service.namespace", cfg.ChainID),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	Tracer = tp.Tracer("rensa")

	return tp.Shutdown, nil
}
