package diagnostics

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

type TracingConfig struct {
	Enabled  bool   `flag:"enabled" desc:"export spans over otlp http" default:"false"`
	Endpoint string `flag:"endpoint" desc:"otlp http endpoint" default:"localhost:4318" validate:"required_if=Enabled true"`
	Service  string `flag:"service" desc:"service name attached to spans" default:"opwatch"`
}

// NewTracerProvider builds the sdk provider. When tracing is disabled the
// provider has no exporter and spans are dropped on end.
func NewTracerProvider(ctx context.Context, config *TracingConfig, version string) (*sdktrace.TracerProvider, error) {
	if !config.Enabled {
		slog.Debug("tracing:disabled")
		return sdktrace.NewTracerProvider(), nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(config.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(config.Service),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("tracing enabled", "endpoint", config.Endpoint)
	return tp, nil
}

type OtelTracer struct {
	tracer trace.Tracer
}

func NewOtelTracer(tp trace.TracerProvider) *OtelTracer {
	return &OtelTracer{tracer: tp.Tracer("github.com/opwatch/opwatch")}
}

func (t *OtelTracer) Span(ctx context.Context, name string, op string, fn func(context.Context) error) error {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("op", op)))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

type NoopTracer struct{}

func (NoopTracer) Span(ctx context.Context, _ string, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}
