package layer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
)

// LogsAdapter turns events into log records. It ignores spans apart from using them for
// trace correlation.
type LogsAdapter struct {
	Base

	logger log.Logger
	opts   adapterOptions
}

var _ Layer = (*LogsAdapter)(nil)

// NewLogsAdapter creates an adapter emitting through provider.
func NewLogsAdapter(provider log.LoggerProvider, opts ...AdapterOption) *LogsAdapter {
	o := newAdapterOptions(opts)

	return &LogsAdapter{
		logger: provider.Logger(o.scope),
		opts:   o,
	}
}

// RegisterCallsite is InterestSometimes for events above the minimum level since the
// logger may change its mind per record.
func (a *LogsAdapter) RegisterCallsite(md *Metadata) Interest {
	if md.IsSpan() || !a.opts.allows(md.Level) {
		return InterestNever
	}

	return InterestSometimes
}

// Enabled never vetoes spans. For events it asks the logger, which says no when nothing
// downstream would accept a record of that severity.
func (a *LogsAdapter) Enabled(ctx context.Context, md *Metadata) bool {
	if md.IsSpan() {
		return true
	}

	if ctx == nil {
		ctx = context.Background()
	}

	return a.logger.Enabled(ctx, log.EnabledParameters{
		Severity:  severityOf(md.Level),
		EventName: md.Name,
	})
}

// EventEnabled asks the logger again with the trace context the record would carry.
func (a *LogsAdapter) EventEnabled(ctx context.Context, ev *Event) bool {
	if ev.Metadata == nil {
		return true
	}

	return a.logger.Enabled(eventContext(ctx, ev), log.EnabledParameters{
		Severity:  severityOf(ev.Metadata.Level),
		EventName: ev.Metadata.Name,
	})
}

// MaxLevelHint implements Layer.
func (a *LogsAdapter) MaxLevelHint() (Level, bool) {
	return a.opts.hint()
}

// OnEvent emits one record per event.
func (a *LogsAdapter) OnEvent(ev *Event) {
	if ev.Metadata != nil && !a.opts.allows(ev.Metadata.Level) {
		return
	}

	var record log.Record

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	record.SetTimestamp(ts)
	record.SetObservedTimestamp(time.Now())
	record.SetBody(log.StringValue(ev.Message))

	if md := ev.Metadata; md != nil {
		record.SetSeverity(severityOf(md.Level))
		record.SetSeverityText(md.Level.String())
		record.SetEventName(md.Name)
		record.AddAttributes(logKeyValues(callsiteAttributes(md))...)
	}

	record.AddAttributes(logKeyValues(ev.Fields)...)

	a.logger.Emit(eventContext(ev.Context, ev), record)
}

// eventContext carries the trace context of the event's parent span, falling back to
// whatever span ctx already holds.
func eventContext(ctx context.Context, ev *Event) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	if ev.Parent != nil {
		if sc := SpanContext(ev.Parent); sc.IsValid() {
			return trace.ContextWithSpanContext(ctx, sc)
		}
	}

	return ctx
}

func severityOf(level Level) log.Severity {
	switch level {
	case LevelTrace:
		return log.SeverityTrace
	case LevelDebug:
		return log.SeverityDebug
	case LevelInfo:
		return log.SeverityInfo
	case LevelWarn:
		return log.SeverityWarn
	case LevelError:
		return log.SeverityError
	default:
		return log.SeverityUndefined
	}
}

func logKeyValues(attrs []attribute.KeyValue) []log.KeyValue {
	if len(attrs) == 0 {
		return nil
	}

	out := make([]log.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		out = append(out, log.KeyValue{Key: string(kv.Key), Value: logValue(kv.Value)})
	}

	return out
}

func logValue(v attribute.Value) log.Value {
	switch v.Type() {
	case attribute.BOOL:
		return log.BoolValue(v.AsBool())
	case attribute.INT64:
		return log.Int64Value(v.AsInt64())
	case attribute.FLOAT64:
		return log.Float64Value(v.AsFloat64())
	case attribute.STRING:
		return log.StringValue(v.AsString())
	case attribute.BOOLSLICE:
		return sliceValue(v.AsBoolSlice(), log.BoolValue)
	case attribute.INT64SLICE:
		return sliceValue(v.AsInt64Slice(), log.Int64Value)
	case attribute.FLOAT64SLICE:
		return sliceValue(v.AsFloat64Slice(), log.Float64Value)
	case attribute.STRINGSLICE:
		return sliceValue(v.AsStringSlice(), log.StringValue)
	default:
		return log.StringValue(v.Emit())
	}
}

func sliceValue[T any](items []T, conv func(T) log.Value) log.Value {
	values := make([]log.Value, 0, len(items))
	for _, item := range items {
		values = append(values, conv(item))
	}

	return log.SliceValue(values...)
}
