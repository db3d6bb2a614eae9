package obs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TurnRecorder encapsulates per-turn tracing and metrics bookkeeping.
type TurnRecorder struct {
	start time.Time
	span  trace.Span
	attrs []attribute.KeyValue
}

// StartTurn starts a span for one generation turn.
func StartTurn(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, *TurnRecorder) {
	ctx, span := Tracer().Start(ctx, "docchat.turn", trace.WithAttributes(attrs...))
	recordTurnStart(attrs...)
	return ctx, &TurnRecorder{start: time.Now(), span: span, attrs: attrs}
}

// End finalizes span and metrics for the turn. Phase is the terminal phase
// name; err may be nil.
func (r *TurnRecorder) End(phase string, err error) {
	if r == nil {
		return
	}
	outcome := append(r.attrs, attribute.String("docchat.phase", phase))
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	recordOutcome(outcome...)
	recordDuration(time.Since(r.start).Seconds()*1000, outcome...)
	r.span.End()
}

// AddAttributes appends attributes to the span and subsequent metrics.
func (r *TurnRecorder) AddAttributes(attrs ...attribute.KeyValue) {
	if r == nil {
		return
	}
	r.attrs = append(r.attrs, attrs...)
	r.span.SetAttributes(attrs...)
}
