package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// DetachTraceContext creates a new context.Background() that carries the
// span context from the original request. This allows goroutines to
// create child spans linked to the HTTP request trace without inheriting
// its cancellation.
func DetachTraceContext(ctx context.Context) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return context.Background()
	}
	return trace.ContextWithRemoteSpanContext(context.Background(), sc)
}

// DetachTraceContextFrom carries the span context from reqCtx onto base,
// so a long-lived goroutine derived from base (cancelled on shutdown, not
// on request completion) still produces child spans linked to the
// request trace.
func DetachTraceContextFrom(reqCtx, base context.Context) context.Context {
	sc := trace.SpanContextFromContext(reqCtx)
	if !sc.IsValid() {
		return base
	}
	return trace.ContextWithRemoteSpanContext(base, sc)
}
