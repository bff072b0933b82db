// Package observability wires OpenTelemetry tracing and RED metrics around
// the VoxCortex pipeline steps.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers for a single process.
type Config struct {
	ServiceName  string
	OTLPEndpoint string
	Enabled      bool
	Insecure     bool
}

// DefaultConfig returns the disabled-by-default configuration: VoxCortex
// only exports telemetry when an operator opts in with an OTLP endpoint.
func DefaultConfig() Config {
	return Config{
		ServiceName:  "voxcortex",
		OTLPEndpoint: "localhost:4317",
		Enabled:      false,
		Insecure:     true,
	}
}

// Provider owns the tracer/meter and the pipeline's RED metrics.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	stepCounter  metric.Int64Counter
	errorCounter metric.Int64Counter
	durationHist metric.Float64Histogram
}

// New builds a Provider. When cfg.Enabled is false it returns a Provider
// whose Tracer/Meter fall back to the global no-op implementations — every
// pipeline step can unconditionally wrap itself in a span.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	p := &Provider{config: cfg, logger: logger}
	if !cfg.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("voxcortex.component", "pipeline"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: metric provider: %w", err)
	}

	p.tracer = otel.Tracer("voxcortex.pipeline")
	p.meter = otel.Meter("voxcortex.pipeline")

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("observability: metrics: %w", err)
	}

	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	p.stepCounter, err = p.meter.Int64Counter("voxcortex.pipeline.steps",
		metric.WithDescription("Pipeline steps executed"), metric.WithUnit("{step}"))
	if err != nil {
		return err
	}
	p.errorCounter, err = p.meter.Int64Counter("voxcortex.pipeline.errors",
		metric.WithDescription("Pipeline step errors"), metric.WithUnit("{error}"))
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("voxcortex.pipeline.step_duration",
		metric.WithDescription("Pipeline step duration"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	return err
}

// Shutdown flushes and stops the providers. Safe to call on a disabled
// Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the pipeline tracer, or the global no-op tracer if
// telemetry is disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("voxcortex.pipeline")
	}
	return p.tracer
}

// StartStep starts a span for one pipeline step and returns a function to
// close it out, recording duration/error metrics.
func (p *Provider) StartStep(ctx context.Context, step string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, step, trace.WithAttributes(attrs...))

	if p.stepCounter != nil {
		p.stepCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		if p.durationHist != nil {
			p.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			if p.errorCounter != nil {
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
		}
		span.End()
	}
}
