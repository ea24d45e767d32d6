// Package telemetry wires OpenTelemetry tracing for codec operations.
// Spans are exported over OTLP gRPC when an endpoint is configured; otherwise
// the global no-op provider is used and spans cost nothing.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/logflow/bxes/pkg/codec"
	"github.com/logflow/bxes/pkg/model"
)

// InstrumentationName names the tracer used by this module.
const InstrumentationName = "github.com/logflow/bxes"

// Span attribute keys.
const (
	KeyPath     = attribute.Key("bxes.path")
	KeyLayout   = attribute.Key("bxes.layout")
	KeyVersion  = attribute.Key("bxes.version")
	KeyVariants = attribute.Key("bxes.variants")
	KeyEvents   = attribute.Key("bxes.events")
	KeyTraces   = attribute.Key("bxes.traces")
	KeyValues   = attribute.Key("bxes.values")
	KeyPairs    = attribute.Key("bxes.pairs")
	KeyBytes    = attribute.Key("bxes.bytes")
)

// Config configures the OTLP gRPC exporter.
type Config struct {
	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317"). Empty
	// disables export.
	Endpoint string

	ServiceName    string
	ServiceVersion string
	Environment    string

	// Insecure disables TLS for the gRPC connection (use for local dev)
	Insecure bool

	// Headers are sent with each export request (e.g., auth tokens)
	Headers map[string]string

	BatchTimeout  time.Duration
	ExportTimeout time.Duration

	// SamplingRatio is the fraction of traces to sample (0.0 to 1.0)
	SamplingRatio float64
}

// DefaultConfig returns defaults with export disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "bxes",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Insecure:       true,
		BatchTimeout:   5 * time.Second,
		ExportTimeout:  30 * time.Second,
		SamplingRatio:  1.0,
	}
}

// ShutdownFunc flushes and stops the exporter.
type ShutdownFunc func(context.Context) error

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Init installs a global tracer provider exporting to cfg.Endpoint. With an
// empty endpoint it does nothing and returns a no-op shutdown.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRatio)),
	)
	Install(tp)

	return func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if provider != tp {
			return nil
		}
		provider = nil
		return tp.Shutdown(ctx)
	}, nil
}

// Install sets tp as the global tracer provider.
func Install(tp *sdktrace.TracerProvider) {
	mu.Lock()
	provider = tp
	mu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Start starts a span on the module tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(InstrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Run wraps fn in a span named name.
func Run(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := Start(ctx, name, attrs...)
	err := fn(ctx)
	End(span, err)
	return err
}

// LogAttributes describes a decoded log.
func LogAttributes(log *model.EventLog) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyVersion.Int64(int64(log.Version)),
		KeyVariants.Int(len(log.Variants)),
		KeyEvents.Int(log.EventCount()),
		KeyTraces.Int64(int64(log.TraceCount())),
	}
}

// StatsAttributes describes an inspected file.
func StatsAttributes(s *codec.Stats) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyLayout.String(s.Layout),
		KeyVersion.Int64(int64(s.Version)),
		KeyVariants.Int(s.Variants),
		KeyEvents.Int(s.Events),
		KeyTraces.Int64(int64(s.Traces)),
		KeyValues.Int(s.Values),
		KeyPairs.Int(s.Pairs),
		KeyBytes.Int64(s.FileBytes),
	}
}

// AddLog sets the attributes of log on the span in ctx.
func AddLog(ctx context.Context, log *model.EventLog) {
	trace.SpanFromContext(ctx).SetAttributes(LogAttributes(log)...)
}

// AddStats sets the attributes of s on the span in ctx.
func AddStats(ctx context.Context, s *codec.Stats) {
	trace.SpanFromContext(ctx).SetAttributes(StatsAttributes(s)...)
}
