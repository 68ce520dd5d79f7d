// Package observer provides OpenTelemetry tracing for invocations, model
// calls and tool calls.
//
// Spans go to the global TracerProvider. Call Init to export them over OTLP
// HTTP; otherwise they go to a no-op backend.
package observer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/hupe1980/agenttree"

// Span names.
const (
	SpanInvocation = "runner.invocation"
	SpanModelCall  = "flow.model_call"
	SpanToolCall   = "flow.tool_call"
)

// Attribute keys.
const (
	AttrAgent        = attribute.Key("agenttree.agent")
	AttrBranch       = attribute.Key("agenttree.branch")
	AttrInvocationID = attribute.Key("agenttree.invocation_id")
	AttrSessionID    = attribute.Key("agenttree.session_id")
	AttrModel        = attribute.Key("agenttree.model")
	AttrProvider     = attribute.Key("agenttree.provider")
	AttrTool         = attribute.Key("agenttree.tool")
	AttrAttempts     = attribute.Key("agenttree.attempts")
	AttrEvents       = attribute.Key("agenttree.events")
)

// Config configures OTLP export.
type Config struct {
	// Endpoint is host:port of the collector. Empty uses OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint    string
	Insecure    bool
	ServiceName string
	// SampleRatio in [0,1]. Values <= 0 sample everything.
	SampleRatio float64
}

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// StartSpan starts a span named name with attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Init installs a TracerProvider exporting over OTLP HTTP and returns its
// shutdown function.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "agenttree"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
