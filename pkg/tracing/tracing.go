// Package tracing exports the run as OpenTelemetry spans: one root span
// per run with a child span per phase. Job progress readings are span
// events on the phase span.
package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/waftester/zapgate/pkg/coordinator"
	"github.com/waftester/zapgate/pkg/defaults"
	"github.com/waftester/zapgate/pkg/duration"
	"github.com/waftester/zapgate/pkg/finding"
	"github.com/waftester/zapgate/pkg/job"
)

// Compile-time interface check.
var _ coordinator.Observer = (*Tracer)(nil)

const instrumentation = defaults.ToolName + "/coordinator"

// Options configures the OTLP exporter.
type Options struct {
	// Endpoint is the OTLP gRPC endpoint (default: "localhost:4317").
	Endpoint string

	// ServiceName is the service name for traces (default: "zapgate").
	ServiceName string

	// Insecure disables TLS.
	Insecure bool

	// Headers are sent with every export request.
	Headers map[string]string

	// ShutdownTimeout bounds the final flush (default: 5s).
	ShutdownTimeout time.Duration

	// ConnectionTimeout bounds exporter setup (default: 10s).
	ConnectionTimeout time.Duration
}

// Tracer is a coordinator.Observer that records spans.
type Tracer struct {
	opts     Options
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer

	mu       sync.Mutex
	rootCtx  context.Context
	rootSpan trace.Span
	phases   map[coordinator.Phase]trace.Span
	closed   bool
}

// New creates a Tracer exporting to opts.Endpoint. Connection failures do
// not block the run; spans are dropped by the batcher instead.
func New(opts Options) (*Tracer, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = defaults.ToolName
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "localhost:4317"
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = duration.MetricsShutdown
	}
	if opts.ConnectionTimeout == 0 {
		opts.ConnectionTimeout = duration.TelemetryConnect
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(opts.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(opts.Headers))
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectionTimeout)
	defer cancel()
	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("otel: create exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(opts.ServiceName)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	return newTracer(opts, provider), nil
}

// NewWithProvider wraps an existing provider, e.g. one backed by an
// in-memory span recorder.
func NewWithProvider(provider *sdktrace.TracerProvider) *Tracer {
	return newTracer(Options{ServiceName: defaults.ToolName, ShutdownTimeout: duration.MetricsShutdown}, provider)
}

func newTracer(opts Options, provider *sdktrace.TracerProvider) *Tracer {
	return &Tracer{
		opts:     opts,
		provider: provider,
		tracer:   provider.Tracer(instrumentation),
		phases:   make(map[coordinator.Phase]trace.Span),
	}
}

func newResource(service string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(defaults.Version),
		attribute.String("service.component", "coordinator"),
	)
}

// OnEvent records a coordinator event.
func (t *Tracer) OnEvent(ctx context.Context, event coordinator.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}

	switch e := event.(type) {
	case *coordinator.RunStartEvent:
		t.handleStart(ctx, e)
	case *coordinator.PhaseStartEvent:
		t.handlePhaseStart(e)
	case *coordinator.ProgressEvent:
		if span, ok := t.phases[e.Phase]; ok {
			span.AddEvent("progress", trace.WithAttributes(attribute.Int("percent", e.Percent)))
		}
	case *coordinator.PhaseEndEvent:
		t.handlePhaseEnd(e)
	case *coordinator.RunCompleteEvent:
		t.handleComplete(e)
	}
	return nil
}

func (t *Tracer) handleStart(ctx context.Context, e *coordinator.RunStartEvent) {
	t.rootCtx, t.rootSpan = t.tracer.Start(ctx, defaults.ToolName+".run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(e.Timestamp()),
		trace.WithAttributes(
			attribute.String("run_id", e.RunID.String()),
			attribute.String("target", e.Target),
			attribute.String("context", e.Context),
		),
	)
}

func (t *Tracer) handlePhaseStart(e *coordinator.PhaseStartEvent) {
	if t.rootSpan == nil {
		return
	}
	_, span := t.tracer.Start(t.rootCtx, string(e.Phase),
		trace.WithTimestamp(e.Timestamp()),
		trace.WithAttributes(attribute.String("phase", string(e.Phase))),
	)
	t.phases[e.Phase] = span
}

func (t *Tracer) handlePhaseEnd(e *coordinator.PhaseEndEvent) {
	span, ok := t.phases[e.Phase]
	if !ok {
		return
	}
	delete(t.phases, e.Phase)

	span.SetAttributes(
		attribute.String("state", string(e.State)),
		attribute.Int("polls", e.Polls),
		attribute.Int("progress", e.Progress),
	)
	switch {
	case e.Err != nil:
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	case e.State == job.Completed:
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Timestamp()))
}

func (t *Tracer) handleComplete(e *coordinator.RunCompleteEvent) {
	if t.rootSpan == nil {
		return
	}
	if res := e.Result; res != nil {
		t.rootSpan.SetAttributes(
			attribute.String("engine_version", res.EngineVersion),
			attribute.Int("spider_urls", res.SpiderURLs),
			attribute.Int("alerts", res.Alerts),
			attribute.Float64("duration_sec", res.Duration.Seconds()),
		)
		if v := res.Verdict; v != nil {
			for _, s := range append(finding.Known(), finding.Unknown) {
				t.rootSpan.SetAttributes(attribute.Int("alerts."+s.Label(), v.Counts.Of(s)))
			}
			t.rootSpan.SetAttributes(attribute.Bool("verdict.pass", v.Pass))
		}
	}

	switch {
	case e.Err != nil:
		t.rootSpan.RecordError(e.Err)
		t.rootSpan.SetStatus(codes.Error, e.Err.Error())
	case e.Result != nil && e.Result.Verdict != nil && !e.Result.Verdict.Pass:
		t.rootSpan.SetStatus(codes.Error, "alert thresholds exceeded")
	default:
		t.rootSpan.SetStatus(codes.Ok, "")
	}
	t.rootSpan.End(trace.WithTimestamp(e.Timestamp()))
	t.rootSpan = nil
}

// Close ends any open span and flushes the provider.
func (t *Tracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	for p, span := range t.phases {
		span.End()
		delete(t.phases, p)
	}
	if t.rootSpan != nil {
		t.rootSpan.End()
		t.rootSpan = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.ShutdownTimeout)
	defer cancel()
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("otel: shutdown tracer provider: %w", err)
	}
	return nil
}

// Endpoint returns the OTLP endpoint being used.
func (t *Tracer) Endpoint() string { return t.opts.Endpoint }
