// Package logging provides the diagnostics logger otelpipe uses for its own messages,
// with adapters for slog, zap, zerolog and the standard library.
package logging

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Adapter describes the logging contract used within the otelpipe library.
type Adapter interface {
	Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue)
	Info(ctx context.Context, msg string, attrs ...attribute.KeyValue)
	Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue)
}

// NoopAdapter discards all logs.
type NoopAdapter struct{}

// NewNoopAdapter returns a logger that drops every log event.
func NewNoopAdapter() Adapter {
	return NoopAdapter{}
}

// Info implements Adapter.
func (NoopAdapter) Info(context.Context, string, ...attribute.KeyValue) {}

// Error implements Adapter.
func (NoopAdapter) Error(context.Context, error, string, ...attribute.KeyValue) {}

// Debug implements Adapter.
func (NoopAdapter) Debug(context.Context, string, ...attribute.KeyValue) {}

// SlogAdapter writes logs using log/slog.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a slog-based adapter. A nil logger writes JSON to stderr, away
// from the stdout sink.
func NewSlogAdapter(logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	return &SlogAdapter{logger: logger}
}

// Info implements Adapter.
func (s *SlogAdapter) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	s.log(ctx, slog.LevelInfo, msg, attrs)
}

// Debug implements Adapter.
func (s *SlogAdapter) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	s.log(ctx, slog.LevelDebug, msg, attrs)
}

// Error implements Adapter.
func (s *SlogAdapter) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	s.log(ctx, slog.LevelError, msg, withError(err, attrs))
}

func (s *SlogAdapter) log(ctx context.Context, level slog.Level, msg string, attrs []attribute.KeyValue) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !s.logger.Enabled(ctx, level) {
		return
	}

	correlated := withTrace(ctx, attrs)
	out := make([]slog.Attr, 0, len(correlated))

	for _, attr := range correlated {
		out = append(out, slog.Any(string(attr.Key), attrValue(attr)))
	}

	s.logger.LogAttrs(ctx, level, msg, out...)
}

// ZapAdapter writes logs via zap.Logger.
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter creates a zap adapter. The logger must not be nil.
func NewZapAdapter(logger *zap.Logger) Adapter {
	return &ZapAdapter{logger: logger}
}

// Info implements Adapter.
func (z *ZapAdapter) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	z.logger.Info(msg, toZapFields(withTrace(ctx, attrs))...)
}

// Debug implements Adapter.
func (z *ZapAdapter) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	z.logger.Debug(msg, toZapFields(withTrace(ctx, attrs))...)
}

// Error implements Adapter.
func (z *ZapAdapter) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	fields := toZapFields(withTrace(ctx, attrs))
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	z.logger.Error(msg, fields...)
}

// ZerologAdapter writes logs via zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates an adapter using zerolog.
func NewZerologAdapter(logger zerolog.Logger) Adapter {
	return &ZerologAdapter{logger: logger}
}

// Info implements Adapter.
func (z *ZerologAdapter) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	z.emit(z.logger.Info(), ctx, msg, attrs)
}

// Debug implements Adapter.
func (z *ZerologAdapter) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	z.emit(z.logger.Debug(), ctx, msg, attrs)
}

// Error implements Adapter.
func (z *ZerologAdapter) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	event := z.logger.Error()
	if err != nil {
		event = event.Err(err)
	}

	z.emit(event, ctx, msg, attrs)
}

//nolint:revive // the event comes first to mirror zerolog's chaining.
func (*ZerologAdapter) emit(event *zerolog.Event, ctx context.Context, msg string, attrs []attribute.KeyValue) {
	if event == nil {
		return
	}

	for _, attr := range withTrace(ctx, attrs) {
		key := string(attr.Key)

		//nolint:exhaustive // slices and INVALID go through Interface.
		switch attr.Value.Type() {
		case attribute.BOOL:
			event = event.Bool(key, attr.Value.AsBool())
		case attribute.INT64:
			event = event.Int64(key, attr.Value.AsInt64())
		case attribute.FLOAT64:
			event = event.Float64(key, attr.Value.AsFloat64())
		case attribute.STRING:
			event = event.Str(key, attr.Value.AsString())
		default:
			event = event.Interface(key, attrValue(attr))
		}
	}

	event.Msg(msg)
}

// StdAdapter uses the standard library logger.
type StdAdapter struct {
	logger *log.Logger
}

// NewStdAdapter creates an adapter around log.Logger. If logger is nil log.Default is used.
func NewStdAdapter(logger *log.Logger) Adapter {
	if logger == nil {
		logger = log.Default()
	}

	return &StdAdapter{logger: logger}
}

// Info implements Adapter.
func (s *StdAdapter) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	s.logger.Println(formatLine("INFO", msg, withTrace(ctx, attrs)))
}

// Debug implements Adapter.
func (s *StdAdapter) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	s.logger.Println(formatLine("DEBUG", msg, withTrace(ctx, attrs)))
}

// Error implements Adapter.
func (s *StdAdapter) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	s.logger.Println(formatLine("ERROR", msg, withTrace(ctx, withError(err, attrs))))
}

// withTrace prefixes attrs with the ids of the span active in ctx, so diagnostics emitted
// while handling a traced operation can be matched to it.
func withTrace(ctx context.Context, attrs []attribute.KeyValue) []attribute.KeyValue {
	if ctx == nil {
		return attrs
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return attrs
	}

	out := make([]attribute.KeyValue, 0, len(attrs)+2)
	out = append(out,
		attribute.String("trace_id", spanCtx.TraceID().String()),
		attribute.String("span_id", spanCtx.SpanID().String()),
	)

	return append(out, attrs...)
}

func withError(err error, attrs []attribute.KeyValue) []attribute.KeyValue {
	if err == nil {
		return attrs
	}

	return append(attrs, attribute.String("error", err.Error()))
}

func attrValue(attr attribute.KeyValue) any {
	//nolint:exhaustive // attribute.INVALID falls through to AsInterface.
	switch attr.Value.Type() {
	case attribute.BOOL:
		return attr.Value.AsBool()
	case attribute.INT64:
		return attr.Value.AsInt64()
	case attribute.FLOAT64:
		return attr.Value.AsFloat64()
	case attribute.STRING:
		return attr.Value.AsString()
	default:
		return attr.Value.AsInterface()
	}
}

func toZapFields(attrs []attribute.KeyValue) []zap.Field {
	out := make([]zap.Field, 0, len(attrs))

	for _, attr := range attrs {
		key := string(attr.Key)

		//nolint:exhaustive // slices and INVALID go through zap.Any.
		switch attr.Value.Type() {
		case attribute.BOOL:
			out = append(out, zap.Bool(key, attr.Value.AsBool()))
		case attribute.INT64:
			out = append(out, zap.Int64(key, attr.Value.AsInt64()))
		case attribute.FLOAT64:
			out = append(out, zap.Float64(key, attr.Value.AsFloat64()))
		case attribute.STRING:
			out = append(out, zap.String(key, attr.Value.AsString()))
		default:
			out = append(out, zap.Any(key, attrValue(attr)))
		}
	}

	return out
}

func formatLine(level, msg string, attrs []attribute.KeyValue) string {
	builder := strings.Builder{}
	builder.WriteString(level)
	builder.WriteString(" ")
	builder.WriteString(msg)

	for _, attr := range attrs {
		builder.WriteString(" ")
		builder.WriteString(string(attr.Key))
		builder.WriteString("=")
		builder.WriteString(fmt.Sprint(attrValue(attr)))
	}

	return builder.String()
}
