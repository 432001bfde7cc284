// Package tracing provides OpenTelemetry-based tracing for the daemon's
// sync, command, chat and heartbeat paths. It supports stdout and OTLP
// exporters and provides domain-specific span helpers.
package tracing

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the name used for the petsync tracer.
	TracerName = "github.com/jbctechsolutions/petsync"

	// Version is the semantic version of the tracer.
	Version = "1.0.0"
)

// ExporterType defines the type of trace exporter.
type ExporterType string

const (
	ExporterNone   ExporterType = "none"
	ExporterStdout ExporterType = "stdout"
	ExporterOTLP   ExporterType = "otlp"
)

// Config holds tracing configuration.
type Config struct {
	Enabled      bool
	ExporterType ExporterType
	OTLPEndpoint string
	ServiceName  string
	Environment  string
	SampleRate   float64
	Output       io.Writer
}

// DefaultConfig returns sensible default tracing configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ExporterType: ExporterNone,
		ServiceName:  "petsync",
		Environment:  "development",
		SampleRate:   1.0,
	}
}

// Tracer wraps an OpenTelemetry tracer with domain-specific helpers.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	config   Config
}

var (
	global     *Tracer
	globalOnce sync.Once
)

// Init initializes the global tracer with the provided configuration.
func Init(ctx context.Context, cfg Config) (*Tracer, error) {
	var err error
	globalOnce.Do(func() {
		global, err = New(ctx, cfg)
	})
	return global, err
}

// Default returns the global tracer, or a no-op tracer if not initialized.
func Default() *Tracer {
	if global == nil {
		return &Tracer{
			tracer: otel.Tracer(TracerName),
			config: DefaultConfig(),
		}
	}
	return global
}

// New creates a new Tracer with the provided configuration.
func New(ctx context.Context, cfg Config) (*Tracer, error) {
	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		return &Tracer{
			tracer: noop.NewTracerProvider().Tracer(TracerName),
			config: cfg,
		}, nil
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	// Create resource without merging with Default() to avoid schema URL conflicts.
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
			attribute.String("deployment.environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	if cfg.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.SampleRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:   provider.Tracer(TracerName, trace.WithInstrumentationVersion(Version)),
		provider: provider,
		config:   cfg,
	}, nil
}

func createExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		opts := []stdouttrace.Option{
			stdouttrace.WithPrettyPrint(),
		}
		if cfg.Output != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Output))
		}
		return stdouttrace.New(opts...)

	case ExporterOTLP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithInsecure(),
		}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

// Shutdown gracefully shuts down the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// Start starts a new span with the given name.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// --- Domain-specific span helpers ---

// SyncSpan represents one sync pass, in either direction.
type SyncSpan struct {
	span trace.Span
	ctx  context.Context
}

// StartSyncSpan starts a span for a sync pass. Direction is "pull" or
// "push".
func (t *Tracer) StartSyncSpan(ctx context.Context, direction, deviceID string) (context.Context, *SyncSpan) {
	ctx, span := t.tracer.Start(ctx, "sync."+direction,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("sync.direction", direction),
			attribute.String("device.id", deviceID),
		),
	)
	return ctx, &SyncSpan{span: span, ctx: ctx}
}

// SetChanged records whether the pass applied any change.
func (ss *SyncSpan) SetChanged(changed bool) {
	ss.span.SetAttributes(attribute.Bool("sync.changed", changed))
}

// SetFileCount records how many files the pass carried.
func (ss *SyncSpan) SetFileCount(count int) {
	ss.span.SetAttributes(attribute.Int("sync.file_count", count))
}

// End ends the sync span with success status.
func (ss *SyncSpan) End() {
	ss.span.SetStatus(codes.Ok, "sync pass completed")
	ss.span.End()
}

// EndWithError ends the sync span with error status.
func (ss *SyncSpan) EndWithError(err error) {
	ss.span.RecordError(err)
	ss.span.SetStatus(codes.Error, err.Error())
	ss.span.End()
}

// CommandSpan represents a remote command execution span.
type CommandSpan struct {
	span trace.Span
	ctx  context.Context
}

// StartCommandSpan starts a span for remote command execution.
func (t *Tracer) StartCommandSpan(ctx context.Context, commandID, action string) (context.Context, *CommandSpan) {
	ctx, span := t.tracer.Start(ctx, "command.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("command.id", commandID),
			attribute.String("command.action", action),
		),
	)
	return ctx, &CommandSpan{span: span, ctx: ctx}
}

// End ends the command span with success status.
func (cs *CommandSpan) End() {
	cs.span.SetStatus(codes.Ok, "command completed")
	cs.span.End()
}

// EndWithError ends the command span with error status.
func (cs *CommandSpan) EndWithError(err error) {
	cs.span.RecordError(err)
	cs.span.SetStatus(codes.Error, err.Error())
	cs.span.End()
}

// ChatSpan represents an assistant turn generation span.
type ChatSpan struct {
	span trace.Span
	ctx  context.Context
}

// StartChatSpan starts a span for generating one assistant reply.
func (t *Tracer) StartChatSpan(ctx context.Context, chatID, messageID string) (context.Context, *ChatSpan) {
	ctx, span := t.tracer.Start(ctx, "chat.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("chat.message_id", messageID),
		),
	)
	return ctx, &ChatSpan{span: span, ctx: ctx}
}

// SetContentLength records the final reply length.
func (cs *ChatSpan) SetContentLength(length int) {
	cs.span.SetAttributes(attribute.Int("chat.content_length", length))
}

// End ends the chat span with success status.
func (cs *ChatSpan) End() {
	cs.span.SetStatus(codes.Ok, "reply completed")
	cs.span.End()
}

// EndWithError ends the chat span with error status.
func (cs *ChatSpan) EndWithError(err error) {
	cs.span.RecordError(err)
	cs.span.SetStatus(codes.Error, err.Error())
	cs.span.End()
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}

// SetAttribute sets an attribute on the current span.
func SetAttribute(ctx context.Context, key string, value any) {
	span := trace.SpanFromContext(ctx)
	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	}
}
