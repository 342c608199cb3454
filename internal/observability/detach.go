package observability

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Detach returns a background context that keeps parent's span context and
// zerolog logger but none of its deadline or cancellation. Work started from
// a webhook request outlives the request; its spans still join the trace.
func Detach(parent context.Context) context.Context {
	ctx := context.Background()
	if parent == nil {
		return ctx
	}
	if sc := trace.SpanContextFromContext(parent); sc.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, sc)
	}
	if l := zerolog.Ctx(parent); l.GetLevel() != zerolog.Disabled {
		ctx = l.WithContext(ctx)
	}
	return ctx
}
