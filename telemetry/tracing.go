package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.19.0"
)

var CLIFlagTracingSampleRatio = &cli.Float64Flag{
	Name:    "tracing-sample-ratio",
	Usage:   "share of report runs to trace (0.0 to 1.0)",
	Value:   1.0,
	EnvVars: []string{"TRACING_SAMPLE_RATIO"},
}

var CLIFlagServiceName = &cli.StringFlag{
	Name:    "service-name",
	Usage:   "service name attached to report spans",
	Value:   "engagement-report",
	EnvVars: []string{"SERVICE_NAME"},
}

// tracing is the span pipeline of one process.
type tracing struct {
	service  string
	owner    string
	ratio    float64
	exporter sdktrace.SpanExporter
}

// TracingOption adjusts the span pipeline before it starts.
type TracingOption func(*tracing)

// WithOwner tags every span with the job owner label.
func WithOwner(owner string) TracingOption {
	return func(t *tracing) { t.owner = owner }
}

// WithSampleRatio overrides the tracing-sample-ratio flag.
func WithSampleRatio(ratio float64) TracingOption {
	return func(t *tracing) { t.ratio = ratio }
}

// WithExporter replaces the OTLP exporter, e.g. with an in-memory one.
func WithExporter(exporter sdktrace.SpanExporter) TracingOption {
	return func(t *tracing) { t.exporter = exporter }
}

// TracingEnabled reports whether an OTLP endpoint is configured in the environment.
func TracingEnabled() bool {
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// StartTracing installs the global tracer provider and returns its shutdown,
// which flushes spans still buffered from the last run.
func StartTracing(cctx *cli.Context, opts ...TracingOption) (func(context.Context) error, error) {
	return startTracing(cctx.Context, cctx.String("service-name"), cctx.Float64("tracing-sample-ratio"), opts...)
}

func startTracing(ctx context.Context, service string, ratio float64, opts ...TracingOption) (func(context.Context) error, error) {
	t := &tracing{service: service, ratio: ratio}
	for _, opt := range opts {
		opt(t)
	}
	t.ratio = min(max(t.ratio, 0), 1)

	if t.exporter == nil {
		exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient())
		if err != nil {
			return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		t.exporter = exporter
	}

	provider := t.provider()
	otel.SetTracerProvider(provider)

	slog.Default().With("component", "telemetry").Info("started tracing",
		"service", t.service, "owner", t.owner, "sample_ratio", t.ratio)
	return provider.Shutdown, nil
}

func (t *tracing) provider() *sdktrace.TracerProvider {
	attrs := []attribute.KeyValue{semconv.ServiceName(t.service)}
	if t.owner != "" {
		attrs = append(attrs, attribute.String("service.owner", t.owner))
	}

	// Query and delivery spans follow the decision made for their run span.
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.ratio))

	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(t.exporter),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, attrs...)),
	)
}
