// Package layer fans instrumentation callbacks out to the logs, trace and metrics
// providers of a pipeline.
package layer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
)

// Level orders callsites by severity, most verbose first.
type Level int8

const (
	// LevelTrace is the most verbose level.
	LevelTrace Level = iota
	// LevelDebug is for diagnostics.
	LevelDebug
	// LevelInfo is the default level.
	LevelInfo
	// LevelWarn flags unexpected but handled situations.
	LevelWarn
	// LevelError flags failures.
	LevelError
	// LevelOff disables everything when used as a threshold.
	LevelOff
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// Allows reports whether a callsite at level passes the threshold l.
func (l Level) Allows(level Level) bool {
	return l != LevelOff && level >= l
}

// ParseLevel maps the configuration spelling of a level. The empty string is LevelTrace.
func ParseLevel(value string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "off", "none":
		return LevelOff, nil
	default:
		return LevelTrace, ewrap.Newf("unknown level %q", value)
	}
}

// Interest is how much a layer cares about a callsite: never, sometimes (ask Enabled per
// call) or always.
type Interest uint8

const (
	// InterestNever skips the callsite.
	InterestNever Interest = iota
	// InterestSometimes defers the decision to Enabled.
	InterestSometimes
	// InterestAlways dispatches without asking.
	InterestAlways
)

// Join returns the more permissive of i and other.
func (i Interest) Join(other Interest) Interest {
	if other > i {
		return other
	}

	return i
}

// String implements fmt.Stringer.
func (i Interest) String() string {
	switch i {
	case InterestNever:
		return "never"
	case InterestSometimes:
		return "sometimes"
	case InterestAlways:
		return "always"
	default:
		return "unknown"
	}
}

// CallsiteKind separates span callsites from event callsites.
type CallsiteKind uint8

const (
	// CallsiteEvent produces events.
	CallsiteEvent CallsiteKind = iota
	// CallsiteSpan produces spans.
	CallsiteSpan
)

// Metadata describes a callsite. It is created once per callsite and compared by pointer.
type Metadata struct {
	Name   string
	Target string
	Level  Level
	Kind   CallsiteKind
	// Fields names the values the callsite records.
	Fields []string
	File   string
	Line   int
}

// IsSpan reports whether the callsite produces spans.
func (m *Metadata) IsSpan() bool {
	return m != nil && m.Kind == CallsiteSpan
}

// SpanID identifies a span within one dispatcher.
type SpanID uint64

// Span is the front end's view of an open span. Adapters attach their own state as
// extensions; a later adapter may read what an earlier one stored.
type Span struct {
	ID         SpanID
	Metadata   *Metadata
	Parent     *Span
	Context    context.Context
	Attributes []attribute.KeyValue
	Start      time.Time

	mu         sync.RWMutex
	extensions map[any]any
}

// NewSpan builds a span record. ctx is the caller context at creation and may carry a
// remote parent.
func NewSpan(id SpanID, md *Metadata, parent *Span, ctx context.Context, attrs []attribute.KeyValue) *Span {
	if ctx == nil {
		ctx = context.Background()
	}

	return &Span{
		ID:         id,
		Metadata:   md,
		Parent:     parent,
		Context:    ctx,
		Attributes: attrs,
		Start:      time.Now(),
	}
}

// Extension returns the value stored under key.
func (s *Span) Extension(key any) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.extensions[key]

	return v, ok
}

// SetExtension stores value under key.
func (s *Span) SetExtension(key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.extensions == nil {
		s.extensions = make(map[any]any)
	}

	s.extensions[key] = value
}

// Event is a point-in-time occurrence, optionally inside a span.
type Event struct {
	Metadata *Metadata
	Message  string
	Fields   []attribute.KeyValue
	Parent   *Span
	Context  context.Context
	Time     time.Time
}

// Layer receives instrumentation callbacks. Decision methods may be called concurrently
// with each other and with the lifecycle callbacks.
type Layer interface {
	RegisterCallsite(md *Metadata) Interest
	Enabled(ctx context.Context, md *Metadata) bool
	EventEnabled(ctx context.Context, ev *Event) bool
	// MaxLevelHint reports the most verbose level the layer may ever enable, or false
	// when it has no bound.
	MaxLevelHint() (Level, bool)

	OnNewSpan(span *Span)
	OnRecord(span *Span, values []attribute.KeyValue)
	OnFollowsFrom(span, follows *Span)
	OnEvent(ev *Event)
	OnEnter(span *Span)
	OnExit(span *Span)
	OnClose(span *Span)
	OnIDChange(old SpanID, span *Span)
}

// Base implements Layer with neutral answers. Adapters embed it and override what they use.
type Base struct{}

// RegisterCallsite implements Layer.
func (Base) RegisterCallsite(*Metadata) Interest { return InterestAlways }

// Enabled implements Layer.
func (Base) Enabled(context.Context, *Metadata) bool { return true }

// EventEnabled implements Layer.
func (Base) EventEnabled(context.Context, *Event) bool { return true }

// MaxLevelHint implements Layer.
func (Base) MaxLevelHint() (Level, bool) { return LevelTrace, false }

// OnNewSpan implements Layer.
func (Base) OnNewSpan(*Span) {}

// OnRecord implements Layer.
func (Base) OnRecord(*Span, []attribute.KeyValue) {}

// OnFollowsFrom implements Layer.
func (Base) OnFollowsFrom(_, _ *Span) {}

// OnEvent implements Layer.
func (Base) OnEvent(*Event) {}

// OnEnter implements Layer.
func (Base) OnEnter(*Span) {}

// OnExit implements Layer.
func (Base) OnExit(*Span) {}

// OnClose implements Layer.
func (Base) OnClose(*Span) {}

// OnIDChange implements Layer.
func (Base) OnIDChange(SpanID, *Span) {}
