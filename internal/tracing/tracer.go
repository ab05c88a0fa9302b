package tracing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/allaspectsdev/anchor/internal/config"
	"github.com/allaspectsdev/anchor/internal/version"
)

const tracerName = "github.com/allaspectsdev/anchor"

// Shutdown flushes buffered spans and stops the exporter.
type Shutdown func(context.Context) error

// Tracer returns the tracer used for gateway and upstream spans.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

type exporterFactory func(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error)

// exporters is keyed by the values accepted for tracing.exporter.
var exporters = map[string]exporterFactory{
	"stdout": func(context.Context, string, bool) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	},
	"otlp-grpc": func(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
		var opts []otlptracegrpc.Option
		if endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	},
	"otlp-http": func(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
		var opts []otlptracehttp.Option
		if endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	},
}

// Init installs the global tracer provider and W3C propagators from the
// [tracing] config section. Every span carries the anchor version and the
// upstream model it was served with.
func Init(ctx context.Context, cfg config.TracingConfig, upstreamModel string) (Shutdown, error) {
	factory, ok := exporters[strings.ToLower(cfg.Exporter)]
	if !ok {
		return nil, fmt.Errorf("unknown tracing exporter %q (supported: %s)", cfg.Exporter, strings.Join(exporterNames(), ", "))
	}

	res, err := newResource(ctx, cfg.ServiceName, upstreamModel)
	if err != nil {
		return nil, fmt.Errorf("creating otel resource: %w", err)
	}

	exp, err := factory(ctx, cfg.Endpoint, cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("creating %s exporter: %w", cfg.Exporter, err)
	}

	tp := newProvider(res, sdktrace.WithBatcher(exp), cfg.SampleRate)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newResource(ctx context.Context, serviceName, upstreamModel string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = version.AppName
	}
	return resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version.Version),
		attribute.String("anchor.commit", version.GitCommit),
		attribute.String("anchor.upstream.model", upstreamModel),
	))
}

func newProvider(res *resource.Resource, processor sdktrace.TracerProviderOption, sampleRate float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(sampleRate)),
	)
}

// samplerFor respects an upstream caller's sampling decision and otherwise
// samples the given fraction of root spans.
func samplerFor(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

func exporterNames() []string {
	names := make([]string, 0, len(exporters))
	for name := range exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
