// Package dispatch is the instrumentation front end: callsites, spans and events are
// filtered here and handed to a layer.Layer.
package dispatch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyp3rd/otelpipe/pkg/layer"
)

// Dispatcher routes instrumentation to a layer. The layer can be swapped at runtime;
// spans keep reporting to the layer that saw them open.
type Dispatcher struct {
	state  atomic.Pointer[state]
	nextID atomic.Uint64
}

// state pairs a layer with the interest it registered per callsite.
type state struct {
	layer    layer.Layer
	interest sync.Map // *layer.Metadata -> layer.Interest
}

// New creates a dispatcher over l. A nil layer discards everything.
func New(l layer.Layer) *Dispatcher {
	d := &Dispatcher{}
	d.SetLayer(l)

	return d
}

// SetLayer replaces the layer and forgets every cached callsite interest.
func (d *Dispatcher) SetLayer(l layer.Layer) {
	if l == nil {
		l = layer.NewComposite()
	}

	d.state.Store(&state{layer: l})
}

// Layer returns the current layer.
func (d *Dispatcher) Layer() layer.Layer {
	return d.state.Load().layer
}

// Interest returns the cached interest for md, registering the callsite on first use.
func (d *Dispatcher) Interest(md *layer.Metadata) layer.Interest {
	return d.state.Load().interestFor(md)
}

func (s *state) interestFor(md *layer.Metadata) layer.Interest {
	if v, ok := s.interest.Load(md); ok {
		return v.(layer.Interest) //nolint:forcetypeassert // only Interest values are stored.
	}

	interest := s.layer.RegisterCallsite(md)
	actual, _ := s.interest.LoadOrStore(md, interest)

	return actual.(layer.Interest) //nolint:forcetypeassert // only Interest values are stored.
}

// Enabled reports whether a callsite would be dispatched right now.
func (d *Dispatcher) Enabled(ctx context.Context, md *layer.Metadata) bool {
	return d.state.Load().enabled(ctx, md)
}

func (s *state) enabled(ctx context.Context, md *layer.Metadata) bool {
	if md == nil {
		return false
	}

	if hint, ok := s.layer.MaxLevelHint(); ok && !hint.Allows(md.Level) {
		return false
	}

	switch s.interestFor(md) {
	case layer.InterestNever:
		return false
	case layer.InterestAlways:
		return true
	default:
		return s.layer.Enabled(ctx, md)
	}
}

// Span opens a span at md as a child of the span carried by ctx. The returned context
// carries the new span; when the callsite is disabled it is ctx itself and the handle is
// inert.
func (d *Dispatcher) Span(ctx context.Context, md *layer.Metadata, attrs ...attribute.KeyValue) (context.Context, *SpanHandle) {
	if ctx == nil {
		ctx = context.Background()
	}

	st := d.state.Load()
	if !st.enabled(ctx, md) {
		return ctx, &SpanHandle{}
	}

	var parent *layer.Span
	if h := FromContext(ctx); h != nil {
		parent = h.span
	}

	span := layer.NewSpan(layer.SpanID(d.nextID.Add(1)), md, parent, ctx, attrs)
	st.layer.OnNewSpan(span)

	handle := &SpanHandle{layer: st.layer, span: span}

	ctx = context.WithValue(ctx, spanKey{}, handle)
	if sc := layer.SpanContext(span); sc.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, sc)
	}

	return ctx, handle
}

// Event emits an event at md inside the span carried by ctx.
func (d *Dispatcher) Event(ctx context.Context, md *layer.Metadata, msg string, attrs ...attribute.KeyValue) {
	if ctx == nil {
		ctx = context.Background()
	}

	st := d.state.Load()
	if !st.enabled(ctx, md) {
		return
	}

	ev := &layer.Event{
		Metadata: md,
		Message:  msg,
		Fields:   attrs,
		Context:  ctx,
		Time:     time.Now(),
	}

	if h := FromContext(ctx); h != nil && h.layer == st.layer {
		ev.Parent = h.span
	}

	if !st.layer.EventEnabled(ctx, ev) {
		return
	}

	st.layer.OnEvent(ev)
}

// Callsite declares a callsite located at the caller's position. Declare callsites once,
// typically as package variables, since interest is cached per returned pointer.
func Callsite(name, target string, level layer.Level, kind layer.CallsiteKind, fields ...string) *layer.Metadata {
	md := &layer.Metadata{
		Name:   name,
		Target: target,
		Level:  level,
		Kind:   kind,
		Fields: fields,
	}

	if _, file, line, ok := runtime.Caller(1); ok {
		md.File = file
		md.Line = line
	}

	return md
}

type spanKey struct{}

// FromContext returns the span handle ctx carries, or nil.
func FromContext(ctx context.Context) *SpanHandle {
	if ctx == nil {
		return nil
	}

	h, _ := ctx.Value(spanKey{}).(*SpanHandle)
	if h == nil || h.span == nil {
		return nil
	}

	return h
}

// SpanHandle controls one open span. The zero value is an inert handle.
type SpanHandle struct {
	layer  layer.Layer
	span   *layer.Span
	closed atomic.Bool
}

// Span returns the underlying span record, nil for an inert handle.
func (h *SpanHandle) Span() *layer.Span {
	if h == nil {
		return nil
	}

	return h.span
}

// Active reports whether the handle refers to an open span.
func (h *SpanHandle) Active() bool {
	return h != nil && h.span != nil && !h.closed.Load()
}

// Enter marks the span as executing.
func (h *SpanHandle) Enter() {
	if h.Active() {
		h.layer.OnEnter(h.span)
	}
}

// Exit marks the span as no longer executing.
func (h *SpanHandle) Exit() {
	if h.Active() {
		h.layer.OnExit(h.span)
	}
}

// InScope runs fn between Enter and Exit.
func (h *SpanHandle) InScope(fn func()) {
	h.Enter()
	defer h.Exit()

	fn()
}

// Record adds values to the span.
func (h *SpanHandle) Record(attrs ...attribute.KeyValue) {
	if h.Active() && len(attrs) > 0 {
		h.layer.OnRecord(h.span, attrs)
	}
}

// FollowsFrom declares that the span was caused by other without being its child.
func (h *SpanHandle) FollowsFrom(other *SpanHandle) {
	if h.Active() && other != nil && other.span != nil {
		h.layer.OnFollowsFrom(h.span, other.span)
	}
}

// End closes the span. Later calls are ignored.
func (h *SpanHandle) End() {
	if h == nil || h.span == nil || !h.closed.CompareAndSwap(false, true) {
		return
	}

	h.layer.OnClose(h.span)
}
