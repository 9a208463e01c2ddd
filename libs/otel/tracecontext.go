package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	headerTraceparent = "traceparent"
	headerTracestate  = "tracestate"
)

// TraceContext is the W3C trace context in its persisted form, e.g. columns of an outbox row
// that is published long after the request that wrote it has finished.
type TraceContext struct {
	Traceparent string
	Tracestate  string
}

// CaptureTraceContext serializes the span context in ctx with the global propagator.
func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{
		Traceparent: carrier[headerTraceparent],
		Tracestate:  carrier[headerTracestate],
	}
}

func (tc TraceContext) IsZero() bool { return tc.Traceparent == "" && tc.Tracestate == "" }

// Context returns ctx carrying tc as its remote parent. A zero tc returns ctx unchanged.
func (tc TraceContext) Context(ctx context.Context) context.Context {
	if tc.IsZero() {
		return ctx
	}
	carrier := propagation.MapCarrier{
		headerTraceparent: tc.Traceparent,
		headerTracestate:  tc.Tracestate,
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
