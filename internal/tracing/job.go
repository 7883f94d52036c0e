package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceCarrier travels inside queue payloads so the worker span joins the
// trace started by the upload request.
type TraceCarrier struct {
	TraceParent string `json:"trace_parent,omitempty"`
	TraceState  string `json:"trace_state,omitempty"`
}

func InjectTraceContext(ctx context.Context) TraceCarrier {
	mapCarrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, mapCarrier)

	return TraceCarrier{
		TraceParent: mapCarrier.Get("traceparent"),
		TraceState:  mapCarrier.Get("tracestate"),
	}
}

func ExtractTraceContext(ctx context.Context, carrier TraceCarrier) context.Context {
	if carrier.TraceParent == "" {
		return ctx
	}

	mapCarrier := propagation.MapCarrier{
		"traceparent": carrier.TraceParent,
		"tracestate":  carrier.TraceState,
	}
	return propagation.TraceContext{}.Extract(ctx, mapCarrier)
}

// StartJobSpan opens the consumer span for one Background Processor run.
func StartJobSpan(ctx context.Context, kind, jobKey string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "job.process."+kind,
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	span.SetAttributes(
		attribute.String("job.kind", kind),
		attribute.String("job.key", jobKey),
	)
	return ctx, span
}

func StartDispatchSpan(ctx context.Context, mode, jobKey string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "job.dispatch."+mode,
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	span.SetAttributes(
		attribute.String("dispatch.mode", mode),
		attribute.String("job.key", jobKey),
	)
	return ctx, span
}

// StartStageSpan wraps a single pipeline step (download, infer, upload).
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "job.stage."+stage)
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
