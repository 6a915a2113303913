package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/birbparty/aleo-beacon"

var (
	tracerOnce sync.Once
	tracer     trace.Tracer
)

// FileSpanExporter writes finished spans as JSON lines.
type FileSpanExporter struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// FileSpan is the JSON shape written by FileSpanExporter.
type FileSpan struct {
	TraceID    string                 `json:"trace_id"`
	SpanID     string                 `json:"span_id"`
	ParentID   string                 `json:"parent_id,omitempty"`
	Name       string                 `json:"name"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    time.Time              `json:"end_time"`
	Attributes map[string]interface{} `json:"attributes"`
	Status     string                 `json:"status"`
	Events     []FileSpanEvent        `json:"events,omitempty"`
}

// FileSpanEvent is an event recorded on a FileSpan.
type FileSpanEvent struct {
	Name       string                 `json:"name"`
	Timestamp  time.Time              `json:"timestamp"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// InitTracing installs the global tracer provider once.
func InitTracing(cfg *Config) error {
	var err error
	tracerOnce.Do(func() {
		if !cfg.EnableTracing {
			otel.SetTracerProvider(noop.NewTracerProvider())
			tracer = otel.Tracer(instrumentationName)
			return
		}

		ctx := context.Background()
		res, resErr := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(cfg.ServiceName),
				semconv.ServiceVersionKey.String(cfg.ServiceVersion),
				semconv.DeploymentEnvironmentKey.String(cfg.Environment),
				attribute.String("aleo.network", cfg.Network),
			),
		)
		if resErr != nil {
			err = fmt.Errorf("failed to create resource: %w", resErr)
			return
		}

		var exporter sdktrace.SpanExporter
		if cfg.ExportToFile && cfg.TracesFilePath != "" {
			fileExporter, fileErr := NewFileSpanExporter(cfg.TracesFilePath)
			if fileErr != nil {
				err = fmt.Errorf("failed to create file span exporter: %w", fileErr)
				return
			}
			exporter = fileExporter
		} else {
			client := otlptracegrpc.NewClient(
				otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
				otlptracegrpc.WithInsecure(),
			)
			otlpExporter, exportErr := otlptrace.New(ctx, client)
			if exportErr != nil {
				err = fmt.Errorf("failed to create trace exporter: %w", exportErr)
				return
			}
			exporter = otlpExporter
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

		tracer = tp.Tracer(instrumentationName)
	})

	return err
}

// NewFileSpanExporter opens (appending) the file at filePath.
func NewFileSpanExporter(filePath string) (*FileSpanExporter, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &FileSpanExporter{file: file, encoder: json.NewEncoder(file)}, nil
}

// ExportSpans implements sdktrace.SpanExporter
func (f *FileSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, span := range spans {
		fs := FileSpan{
			TraceID:    span.SpanContext().TraceID().String(),
			SpanID:     span.SpanContext().SpanID().String(),
			Name:       span.Name(),
			StartTime:  span.StartTime(),
			EndTime:    span.EndTime(),
			Status:     span.Status().Code.String(),
			Attributes: attrMap(span.Attributes()),
		}
		if span.Parent().IsValid() {
			fs.ParentID = span.Parent().SpanID().String()
		}
		for _, event := range span.Events() {
			fe := FileSpanEvent{Name: event.Name, Timestamp: event.Time}
			if len(event.Attributes) > 0 {
				fe.Attributes = attrMap(event.Attributes)
			}
			fs.Events = append(fs.Events, fe)
		}

		if err := f.encoder.Encode(fs); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter
func (f *FileSpanExporter) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

func attrMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

// Tracer returns the process tracer, or the global one before InitTracing.
func Tracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return tracer
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddEvent adds an event to the span in ctx
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetErrorStatus marks the span in ctx as failed
func SetErrorStatus(ctx context.Context, description string) {
	trace.SpanFromContext(ctx).SetStatus(codes.Error, description)
}

// SetOKStatus marks the span in ctx as successful
func SetOKStatus(ctx context.Context) {
	trace.SpanFromContext(ctx).SetStatus(codes.Ok, "")
}

// RecordError records err on the span in ctx
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CloseTracing flushes and shuts down the tracer provider
func CloseTracing(ctx context.Context) error {
	if tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		return tp.Shutdown(ctx)
	}
	return nil
}
