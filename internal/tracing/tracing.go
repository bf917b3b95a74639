// Package tracing wires the process-wide OpenTelemetry tracer provider and
// names the three span kinds the core emits: a prompt run, a compaction
// run, and an event dispatch. Grounded on the teacher's
// internal/agent/loop_tracing.go span-per-call shape (SpanTypeLLMCall,
// SpanTypeToolCall, SpanTypeAgent), generalized from the teacher's custom
// Postgres-backed span collector to a plain otel/sdk exporter pipeline —
// this core has no span-storage component of its own, so spans go straight
// to whatever OTLP collector OTEL_EXPORTER_OTLP_ENDPOINT points at.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nextlevelbuilder/guppy"

// Span names, matching the teacher's SpanType* naming convention.
const (
	SpanPromptRun     = "prompt_run"
	SpanCompactionRun = "compaction_run"
	SpanEventDispatch = "event_dispatch"
)

// Shutdown flushes and stops the tracer provider. Safe to call on a no-op
// provider (when Init was never called).
type Shutdown func(context.Context) error

// Init configures the global TracerProvider with an OTLP/HTTP exporter,
// following standard OTEL_EXPORTER_OTLP_* environment variables exactly as
// the teacher's observability stack does. If ctx is cancelled before the
// exporter dials out, Init still returns a working (if disconnected)
// provider — tracing failures must never block startup.
func Init(ctx context.Context, serviceName string) (Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the package-scoped tracer. Safe to call before Init (the
// global no-op provider is used and spans are discarded).
func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// StartPromptRun opens a span around one Thread Actor prompt run.
func StartPromptRun(ctx context.Context, threadID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanPromptRun, trace.WithAttributes(
		attrThread(threadID),
	))
}

// StartCompactionRun opens a span around one Compaction Engine pass.
func StartCompactionRun(ctx context.Context, threadID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanCompactionRun, trace.WithAttributes(
		attrThread(threadID),
	))
}

// StartEventDispatch opens a span around one Event Bus dispatch.
func StartEventDispatch(ctx context.Context, eventFile string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanEventDispatch, trace.WithAttributes(
		attrEventFile(eventFile),
	))
}
