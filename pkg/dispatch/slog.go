package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/otelpipe/pkg/layer"
)

const defaultSlogTarget = "slog"

// HandlerOptions configures NewSlogHandler.
type HandlerOptions struct {
	// Target names the callsites the handler declares. Defaults to "slog".
	Target string
	// Level is an extra minimum below which records are dropped before reaching the
	// dispatcher.
	Level slog.Leveler
}

// slogCallsites caches one callsite per source position and level, so the dispatcher's
// interest cache keeps working for slog records.
type slogCallsites struct {
	target string
	byPC   sync.Map // slogCallsiteKey -> *layer.Metadata
	byLvl  [layer.LevelOff]*layer.Metadata
}

type slogCallsiteKey struct {
	pc    uintptr
	level layer.Level
}

func newSlogCallsites(target string) *slogCallsites {
	cs := &slogCallsites{target: target}
	for lvl := range cs.byLvl {
		cs.byLvl[lvl] = &layer.Metadata{Name: "slog", Target: target, Level: layer.Level(lvl)}
	}

	return cs
}

func (c *slogCallsites) generic(level layer.Level) *layer.Metadata {
	return c.byLvl[level]
}

func (c *slogCallsites) at(pc uintptr, level layer.Level) *layer.Metadata {
	if pc == 0 {
		return c.generic(level)
	}

	key := slogCallsiteKey{pc: pc, level: level}
	if md, ok := c.byPC.Load(key); ok {
		return md.(*layer.Metadata) //nolint:forcetypeassert // only metadata is stored.
	}

	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()

	name := frame.Function
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	if name == "" {
		name = "slog"
	}

	md, _ := c.byPC.LoadOrStore(key, &layer.Metadata{
		Name:   name,
		Target: c.target,
		Level:  level,
		File:   frame.File,
		Line:   frame.Line,
	})

	return md.(*layer.Metadata) //nolint:forcetypeassert // only metadata is stored.
}

// SlogHandler turns log/slog records into dispatcher events.
type SlogHandler struct {
	d         *Dispatcher
	minLevel  slog.Leveler
	callsites *slogCallsites
	attrs     []attribute.KeyValue
	group     string
}

var _ slog.Handler = (*SlogHandler)(nil)

// NewSlogHandler creates a slog handler backed by d. A nil d follows Current.
func NewSlogHandler(d *Dispatcher, opts *HandlerOptions) *SlogHandler {
	var o HandlerOptions
	if opts != nil {
		o = *opts
	}

	if o.Target == "" {
		o.Target = defaultSlogTarget
	}

	return &SlogHandler{
		d:         d,
		minLevel:  o.Level,
		callsites: newSlogCallsites(o.Target),
	}
}

func (h *SlogHandler) dispatcher() *Dispatcher {
	if h.d != nil {
		return h.d
	}

	return Current()
}

// Enabled implements slog.Handler.
func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.minLevel != nil && level < h.minLevel.Level() {
		return false
	}

	return h.dispatcher().Enabled(ctx, h.callsites.generic(levelFromSlog(level)))
}

// Handle implements slog.Handler.
func (h *SlogHandler) Handle(ctx context.Context, record slog.Record) error {
	md := h.callsites.at(record.PC, levelFromSlog(record.Level))

	fields := make([]attribute.KeyValue, 0, len(h.attrs)+record.NumAttrs())
	fields = append(fields, h.attrs...)

	record.Attrs(func(a slog.Attr) bool {
		fields = appendSlogAttr(fields, h.group, a)

		return true
	})

	if ctx == nil {
		ctx = context.Background()
	}

	st := h.dispatcher().state.Load()
	if !st.enabled(ctx, md) {
		return nil
	}

	ev := &layer.Event{
		Metadata: md,
		Message:  record.Message,
		Fields:   fields,
		Context:  ctx,
		Time:     record.Time,
	}

	if parent := FromContext(ctx); parent != nil && parent.layer == st.layer {
		ev.Parent = parent.span
	}

	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	if st.layer.EventEnabled(ctx, ev) {
		st.layer.OnEvent(ev)
	}

	return nil
}

// WithAttrs implements slog.Handler.
func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	clone := *h
	clone.attrs = append([]attribute.KeyValue(nil), h.attrs...)

	for _, a := range attrs {
		clone.attrs = appendSlogAttr(clone.attrs, h.group, a)
	}

	return &clone
}

// WithGroup implements slog.Handler.
func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	clone := *h
	clone.group = joinKey(h.group, name)

	return &clone
}

func levelFromSlog(level slog.Level) layer.Level {
	switch {
	case level < slog.LevelDebug:
		return layer.LevelTrace
	case level < slog.LevelInfo:
		return layer.LevelDebug
	case level < slog.LevelWarn:
		return layer.LevelInfo
	case level < slog.LevelError:
		return layer.LevelWarn
	default:
		return layer.LevelError
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}

	return prefix + "." + key
}

// appendSlogAttr flattens a into dotted keys.
func appendSlogAttr(dst []attribute.KeyValue, prefix string, a slog.Attr) []attribute.KeyValue {
	value := a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}

	if value.Kind() == slog.KindGroup {
		group := value.Group()
		if len(group) == 0 {
			return dst
		}

		inner := prefix
		if a.Key != "" {
			inner = joinKey(prefix, a.Key)
		}

		for _, ga := range group {
			dst = appendSlogAttr(dst, inner, ga)
		}

		return dst
	}

	key := attribute.Key(joinKey(prefix, a.Key))

	switch value.Kind() {
	case slog.KindString:
		return append(dst, key.String(value.String()))
	case slog.KindInt64:
		return append(dst, key.Int64(value.Int64()))
	case slog.KindUint64:
		u := value.Uint64()
		if u > math.MaxInt64 {
			return append(dst, key.String(fmt.Sprint(u)))
		}

		return append(dst, key.Int64(int64(u)))
	case slog.KindFloat64:
		return append(dst, key.Float64(value.Float64()))
	case slog.KindBool:
		return append(dst, key.Bool(value.Bool()))
	case slog.KindDuration:
		return append(dst, key.String(value.Duration().String()))
	case slog.KindTime:
		return append(dst, key.String(value.Time().Format(time.RFC3339Nano)))
	default:
		if err, ok := value.Any().(error); ok {
			return append(dst, key.String(err.Error()))
		}

		return append(dst, key.String(fmt.Sprint(value.Any())))
	}
}
