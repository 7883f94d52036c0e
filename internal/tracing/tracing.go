// Package tracing follows one upload across the API and the worker: the
// upload request, the queue hop, and every pipeline stage share a trace.
package tracing

import (
	"context"
	"fmt"

	"github.com/abdul-hamid-achik/ppescan/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Role is the ppescan process a span was recorded in.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

const instrumentationName = "github.com/abdul-hamid-achik/ppescan"

var tracer = otel.Tracer(instrumentationName)

// Init exports spans for one ppescan process to cfg.OTLPEndpoint. The
// returned function flushes buffered spans and must run before exit.
func Init(ctx context.Context, role Role, version string, cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName("ppescan-"+string(role)),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironment(cfg.Environment),
			attribute.String("ppescan.dispatch_mode", cfg.DispatchMode),
			attribute.String("ppescan.inference_mode", cfg.InferenceMode),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.TraceSampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tracer = tp.Tracer(instrumentationName)

	return tp.Shutdown, nil
}

// sampler decides at the upload request only. A worker span inherits the
// decision carried in the job payload so a trace is never cut at the queue.
func sampler(rate float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

func Tracer() trace.Tracer {
	return tracer
}
