// Package tracing configures the OpenTelemetry provider for the server.
// Spans are opened by the reactor around each dynamic request; this package
// decides where they go and how the process identifies itself.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/WillKirkmanM/dynamo/internal/config"
)

// Provider owns the installed tracer provider so the caller can flush
// buffered spans at process exit. A disabled configuration yields a
// Provider whose Shutdown is a no-op
type Provider struct {
	tp *trace.TracerProvider
}

// Init installs the global tracer provider described by cfg. The emitted
// resource carries, besides the usual service identity, the serving shape
// of this instance: agent count, cache mode and capacity. That lets traces
// from differently tuned instances be told apart at the backend without
// consulting deploy records
func Init(cfg *config.Config) (*Provider, error) {
	if !cfg.Tracing.Enabled {
		return &Provider{}, nil
	}

	res, err := serverResource(cfg)
	if err != nil {
		return nil, err
	}

	exporters, err := buildExporters(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	if len(exporters) == 0 {
		return nil, fmt.Errorf("tracing: no exporter endpoint configured")
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSampler(sampler(cfg.Tracing.SamplingRatio)),
	)
	for _, exp := range exporters {
		// Batching keeps span export off the request path
		tp.RegisterSpanProcessor(trace.NewBatchSpanProcessor(exp,
			trace.WithBatchTimeout(5*time.Second),
			trace.WithMaxExportBatchSize(512),
		))
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp}, nil
}

// Shutdown flushes buffered spans. Safe to call on a disabled provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// serverResource describes this process to the trace backend. The instance
// id is fresh per boot so restarts are distinguishable
func serverResource(cfg *config.Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.Tracing.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Tracing.ServiceVersion),
			semconv.ServiceInstanceIDKey.String(uuid.NewString()),
			semconv.DeploymentEnvironmentKey.String(cfg.Tracing.Environment),
			attribute.Int("dynamo.worker.agents", cfg.Workers.Count),
			attribute.Bool("dynamo.cache.enabled", cfg.Cache.Enabled),
			attribute.Int64("dynamo.cache.capacity_bytes", cfg.Cache.CapacityBytes),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}
	return res, nil
}

// buildExporters creates one exporter per configured endpoint. Both may be
// active at once, each behind its own batch processor
func buildExporters(cfg config.TracingConfig) ([]trace.SpanExporter, error) {
	var exporters []trace.SpanExporter

	if cfg.JaegerEndpoint != "" {
		exp, err := jaeger.New(
			jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)),
		)
		if err != nil {
			return nil, fmt.Errorf("tracing: jaeger exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	if cfg.OTLPEndpoint != "" {
		exp, err := otlptracehttp.New(context.Background(),
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("tracing: otlp exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	return exporters, nil
}

// sampler maps the configured ratio onto the SDK samplers, clamping the
// degenerate ends to never/always
func sampler(ratio float64) trace.Sampler {
	switch {
	case ratio <= 0:
		return trace.NeverSample()
	case ratio >= 1:
		return trace.AlwaysSample()
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	}
}
