package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const runnerTracerName = "claude-runner"

func runnerTracer() trace.Tracer {
	return Tracer(runnerTracerName)
}

// TraceRun creates the root span of one run.
func TraceRun(ctx context.Context, threadID, runID string) (context.Context, trace.Span) {
	ctx, span := runnerTracer().Start(ctx, "runner.run",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("thread_id", threadID),
		attribute.String("run_id", runID),
	)
	return ctx, span
}

// TraceEngineConnect creates a span for starting an engine session.
func TraceEngineConnect(ctx context.Context, continueConversation bool) (context.Context, trace.Span) {
	ctx, span := runnerTracer().Start(ctx, "runner.engine.connect",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.Bool("continue", continueConversation))
	return ctx, span
}

// TraceToolCall creates a span covering one tool call from start to result.
func TraceToolCall(ctx context.Context, toolCallID, toolName, parentToolCallID string) (context.Context, trace.Span) {
	ctx, span := runnerTracer().Start(ctx, "runner.tool_call",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("tool_call_id", toolCallID),
		attribute.String("tool_name", toolName),
	)
	if parentToolCallID != "" {
		span.SetAttributes(attribute.String("parent_tool_call_id", parentToolCallID))
	}
	return ctx, span
}

// TraceRunResult records the engine's end-of-turn numbers on the run span.
func TraceRunResult(span trace.Span, numTurns int, costUSD float64, isError bool) {
	span.SetAttributes(
		attribute.Int("num_turns", numTurns),
		attribute.Float64("total_cost_usd", costUSD),
		attribute.Bool("is_error", isError),
	)
}

// EndWithError records err on span, if any, and ends it.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the hex trace id of the span in ctx when it is recording.
func TraceID(ctx context.Context) (string, bool) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return "", false
	}
	sc := span.SpanContext()
	if !sc.HasTraceID() {
		return "", false
	}
	return sc.TraceID().String(), true
}
