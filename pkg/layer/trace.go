package layer

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Fields with these keys steer the OTel span instead of becoming attributes.
const (
	FieldName          = "otel.name"
	FieldKind          = "otel.kind"
	FieldStatusCode    = "otel.status_code"
	FieldStatusMessage = "otel.status_message"
)

const (
	busyKey = attribute.Key("busy_ns")
	idleKey = attribute.Key("idle_ns")
)

type traceExtension struct{}

// traceData is the adapter's state for one span.
type traceData struct {
	span trace.Span

	mu        sync.Mutex
	entered   int
	lastEnter time.Time
	lastExit  time.Time
	busy      time.Duration
	idle      time.Duration
}

// SpanContext returns the OTel span context the trace adapter assigned to span, or an
// invalid one when no trace adapter saw it.
func SpanContext(span *Span) trace.SpanContext {
	if data := traceDataOf(span); data != nil {
		return data.span.SpanContext()
	}

	return trace.SpanContext{}
}

func traceDataOf(span *Span) *traceData {
	if span == nil {
		return nil
	}

	v, ok := span.Extension(traceExtension{})
	if !ok {
		return nil
	}

	data, _ := v.(*traceData)

	return data
}

// TraceAdapter mirrors spans into OTel spans and events into span events.
type TraceAdapter struct {
	Base

	tracer trace.Tracer
	opts   adapterOptions
	now    func() time.Time
}

var _ Layer = (*TraceAdapter)(nil)

// NewTraceAdapter creates an adapter starting spans on provider.
func NewTraceAdapter(provider trace.TracerProvider, opts ...AdapterOption) *TraceAdapter {
	o := newAdapterOptions(opts)

	return &TraceAdapter{
		tracer: provider.Tracer(o.scope),
		opts:   o,
		now:    time.Now,
	}
}

// RegisterCallsite implements Layer.
func (a *TraceAdapter) RegisterCallsite(md *Metadata) Interest {
	if !a.opts.allows(md.Level) {
		return InterestNever
	}

	return InterestAlways
}

// Enabled vetoes spans below the minimum level. Events are filtered in OnEvent so that
// the adapter's level never hides them from the other adapters.
func (a *TraceAdapter) Enabled(_ context.Context, md *Metadata) bool {
	if !md.IsSpan() {
		return true
	}

	return a.opts.allows(md.Level)
}

// MaxLevelHint implements Layer.
func (a *TraceAdapter) MaxLevelHint() (Level, bool) {
	return a.opts.hint()
}

// OnNewSpan starts the OTel span. The parent is the enclosing span when there is one,
// otherwise whatever span context the caller's context carries.
func (a *TraceAdapter) OnNewSpan(span *Span) {
	parent := span.Context
	if parent == nil {
		parent = context.Background()
	}

	if data := traceDataOf(span.Parent); data != nil {
		parent = trace.ContextWithSpan(parent, data.span)
	}

	name := span.Metadata.Name
	kind := trace.SpanKindInternal
	attrs := callsiteAttributes(span.Metadata)

	var status []attribute.KeyValue

	for _, kv := range span.Attributes {
		switch string(kv.Key) {
		case FieldName:
			name = kv.Value.Emit()
		case FieldKind:
			kind = parseSpanKind(kv.Value.Emit())
		case FieldStatusCode, FieldStatusMessage:
			status = append(status, kv)
		default:
			attrs = append(attrs, kv)
		}
	}

	start := span.Start
	if start.IsZero() {
		start = a.now()
	}

	_, otelSpan := a.tracer.Start(parent, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(start),
	)

	applyStatus(otelSpan, status)

	span.SetExtension(traceExtension{}, &traceData{span: otelSpan, lastExit: start})
}

// OnRecord turns recorded values into attributes.
func (a *TraceAdapter) OnRecord(span *Span, values []attribute.KeyValue) {
	data := traceDataOf(span)
	if data == nil {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(values))

	var status []attribute.KeyValue

	for _, kv := range values {
		switch string(kv.Key) {
		case FieldName:
			data.span.SetName(kv.Value.Emit())
		case FieldKind:
			// the kind is fixed once the span has started
		case FieldStatusCode, FieldStatusMessage:
			status = append(status, kv)
		default:
			attrs = append(attrs, kv)
		}
	}

	if len(attrs) > 0 {
		data.span.SetAttributes(attrs...)
	}

	applyStatus(data.span, status)
}

// OnFollowsFrom links span to follows.
func (a *TraceAdapter) OnFollowsFrom(span, follows *Span) {
	data := traceDataOf(span)
	if data == nil {
		return
	}

	if sc := SpanContext(follows); sc.IsValid() {
		data.span.AddLink(trace.Link{SpanContext: sc})
	}
}

// OnEvent records the event on its parent span. Error-level events mark the span failed.
func (a *TraceAdapter) OnEvent(ev *Event) {
	if ev.Metadata != nil && !a.opts.allows(ev.Metadata.Level) {
		return
	}

	target := a.eventSpan(ev)
	if target == nil || !target.IsRecording() {
		return
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = a.now()
	}

	attrs := make([]attribute.KeyValue, 0, len(ev.Fields)+4)
	attrs = append(attrs, ev.Fields...)

	if md := ev.Metadata; md != nil {
		attrs = append(attrs, levelKey.String(md.Level.String()))
		attrs = append(attrs, callsiteAttributes(md)...)
	}

	target.AddEvent(ev.Message, trace.WithAttributes(attrs...), trace.WithTimestamp(ts))

	if ev.Metadata != nil && ev.Metadata.Level == LevelError {
		target.SetStatus(codes.Error, ev.Message)
	}
}

func (a *TraceAdapter) eventSpan(ev *Event) trace.Span {
	if data := traceDataOf(ev.Parent); data != nil {
		return data.span
	}

	if ev.Context != nil {
		return trace.SpanFromContext(ev.Context)
	}

	return nil
}

// OnEnter implements Layer.
func (a *TraceAdapter) OnEnter(span *Span) {
	data := traceDataOf(span)
	if data == nil {
		return
	}

	now := a.now()

	data.mu.Lock()
	defer data.mu.Unlock()

	if data.entered == 0 {
		data.idle += now.Sub(data.lastExit)
		data.lastEnter = now
	}

	data.entered++
}

// OnExit implements Layer.
func (a *TraceAdapter) OnExit(span *Span) {
	data := traceDataOf(span)
	if data == nil {
		return
	}

	now := a.now()

	data.mu.Lock()
	defer data.mu.Unlock()

	if data.entered == 0 {
		return
	}

	data.entered--
	if data.entered == 0 {
		data.busy += now.Sub(data.lastEnter)
		data.lastExit = now
	}
}

// OnClose ends the OTel span and reports busy and idle time.
func (a *TraceAdapter) OnClose(span *Span) {
	data := traceDataOf(span)
	if data == nil {
		return
	}

	now := a.now()

	data.mu.Lock()
	if data.entered > 0 {
		data.busy += now.Sub(data.lastEnter)
	} else {
		data.idle += now.Sub(data.lastExit)
	}

	busy, idle := data.busy, data.idle
	data.entered = 0
	data.mu.Unlock()

	data.span.SetAttributes(busyKey.Int64(busy.Nanoseconds()), idleKey.Int64(idle.Nanoseconds()))
	data.span.End(trace.WithTimestamp(now))
}

func parseSpanKind(value string) trace.SpanKind {
	switch strings.ToLower(value) {
	case "server":
		return trace.SpanKindServer
	case "client":
		return trace.SpanKindClient
	case "producer":
		return trace.SpanKindProducer
	case "consumer":
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindInternal
	}
}

func applyStatus(span trace.Span, fields []attribute.KeyValue) {
	if len(fields) == 0 {
		return
	}

	var (
		code    = codes.Unset
		message string
		hasCode bool
	)

	for _, kv := range fields {
		switch string(kv.Key) {
		case FieldStatusCode:
			hasCode = true

			switch strings.ToLower(kv.Value.Emit()) {
			case "ok":
				code = codes.Ok
			case "error":
				code = codes.Error
			default:
				code = codes.Unset
			}
		case FieldStatusMessage:
			message = kv.Value.Emit()
		}
	}

	if hasCode {
		span.SetStatus(code, message)
	}
}
