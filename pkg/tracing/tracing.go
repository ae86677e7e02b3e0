package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "audiod"

// Span attributes recorded on audiod spans.
var (
	StreamTypeKey = attribute.Key("audio.stream_type")
	BackendKey    = attribute.Key("audio.mixer_backend")
	OperationKey  = attribute.Key("audio.mixer_operation")
	VolumeKey     = attribute.Key("audio.volume")
	MethodKey     = attribute.Key("rpc.method")
	TransportKey  = attribute.Key("rpc.transport")
	ErrorCodeKey  = attribute.Key("rpc.error_code")
)

type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

// Init installs a Jaeger-backed global tracer provider. With tracing
// disabled the global no-op provider stays in place and Shutdown is a no-op.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// AddSpanAttributes annotates the span carried by ctx, if it is recording.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

func start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

// TraceHTTPRequest opens the server span of an HTTP call. route is the
// matched route template, not the raw path.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return start(ctx, "http."+method, trace.SpanKindServer,
		semconv.HTTPMethodKey.String(method),
		semconv.HTTPRouteKey.String(route),
	)
}

// TraceRPCMethod opens the span of one Luna method call on any transport.
func TraceRPCMethod(ctx context.Context, transport, method string) (context.Context, trace.Span) {
	return start(ctx, "rpc."+method, trace.SpanKindInternal,
		MethodKey.String(method),
		TransportKey.String(transport),
	)
}

// TraceMixerCommand opens the producer span of a command sent to a mixer
// backend.
func TraceMixerCommand(ctx context.Context, operation, backend, streamType string) (context.Context, trace.Span) {
	return start(ctx, "mixer."+operation, trace.SpanKindProducer,
		OperationKey.String(operation),
		BackendKey.String(backend),
		StreamTypeKey.String(streamType),
	)
}
