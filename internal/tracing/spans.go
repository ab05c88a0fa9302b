package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartReplySpan creates a child span covering one reply request, from body
// parsing to the rendered result.
func StartReplySpan(ctx context.Context, route string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "reply",
		trace.WithAttributes(attribute.String("anchor.route", route)),
	)
}

// StartUpstreamSpan creates a client span for the chat completion call.
func StartUpstreamSpan(ctx context.Context, url, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream.chat_completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.url", url),
			attribute.String("upstream.model", model),
		),
	)
}

// InjectHeaders writes the current trace context into req so the upstream
// can continue the trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetReplyAttributes annotates the current span with the normalized request.
func SetReplyAttributes(ctx context.Context, assistantName, style string, promptTokens int) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("reply.assistant", assistantName),
		attribute.String("reply.style", style),
		attribute.Int("reply.prompt_tokens", promptTokens),
	)
}

// SetOutcome records how the upstream call resolved, plus the upstream HTTP
// status when one was received.
func SetOutcome(ctx context.Context, outcome string, upstreamStatus int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("reply.outcome", outcome))
	if upstreamStatus > 0 {
		span.SetAttributes(attribute.Int("upstream.status_code", upstreamStatus))
	}
}

// RecordError records err on the current span and marks it failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
