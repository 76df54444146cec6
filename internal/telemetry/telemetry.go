package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodeMonkeyCybersecurity/artemis/internal/config"
)

// Recorder collects pipeline metrics. The noop implementation is used when
// telemetry is disabled.
type Recorder interface {
	RecordCommand(stage string)
	RecordTimeout(stage string)
	RecordRetry(stage string)
	RecordFinding()
	RecordService()
	Close(ctx context.Context) error
}

type telemetry struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider

	commandCounter metric.Int64Counter
	timeoutCounter metric.Int64Counter
	retryCounter   metric.Int64Counter
	findingCounter metric.Int64Counter
	serviceCounter metric.Int64Counter
}

func New(ctx context.Context, cfg config.TelemetryConfig) (Recorder, error) {
	if !cfg.Enabled {
		return &noopTelemetry{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := tp.Tracer(cfg.ServiceName)
	meter := otel.Meter(cfg.ServiceName)

	commandCounter, err := meter.Int64Counter("artemis.commands.total",
		metric.WithDescription("Total number of enumeration commands executed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	timeoutCounter, err := meter.Int64Counter("artemis.timeouts.total",
		metric.WithDescription("Total number of supervised commands that hit their deadline"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	retryCounter, err := meter.Int64Counter("artemis.retries.total",
		metric.WithDescription("Total number of timed-out commands respawned"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	findingCounter, err := meter.Int64Counter("artemis.findings.total",
		metric.WithDescription("Total number of pattern findings recorded"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	serviceCounter, err := meter.Int64Counter("artemis.services.total",
		metric.WithDescription("Total number of services discovered"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		tracer:         tracer,
		meter:          meter,
		tracerProvider: tp,
		commandCounter: commandCounter,
		timeoutCounter: timeoutCounter,
		retryCounter:   retryCounter,
		findingCounter: findingCounter,
		serviceCounter: serviceCounter,
	}, nil
}

func (t *telemetry) RecordCommand(stage string) {
	t.commandCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("stage", stage)))
}

func (t *telemetry) RecordTimeout(stage string) {
	t.timeoutCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("stage", stage)))
}

func (t *telemetry) RecordRetry(stage string) {
	t.retryCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("stage", stage)))
}

func (t *telemetry) RecordFinding() {
	t.findingCounter.Add(context.Background(), 1)
}

func (t *telemetry) RecordService() {
	t.serviceCounter.Add(context.Background(), 1)
}

func (t *telemetry) Close(ctx context.Context) error {
	if t.tracerProvider != nil {
		return t.tracerProvider.Shutdown(ctx)
	}
	return nil
}

type noopTelemetry struct{}

func (n *noopTelemetry) RecordCommand(string)        {}
func (n *noopTelemetry) RecordTimeout(string)        {}
func (n *noopTelemetry) RecordRetry(string)          {}
func (n *noopTelemetry) RecordFinding()              {}
func (n *noopTelemetry) RecordService()              {}
func (n *noopTelemetry) Close(context.Context) error { return nil }
