package layer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/otelpipe/pkg/pipeline"
)

// Composite forwards every callback to its adapters in order and combines their decisions.
// Callbacks never short-circuit: each adapter sees each lifecycle event.
type Composite struct {
	layers []Layer
	owner  *pipeline.Pipeline
}

var _ Layer = (*Composite)(nil)

// NewComposite combines layers in the given order. Nil entries are skipped.
func NewComposite(layers ...Layer) *Composite {
	present := make([]Layer, 0, len(layers))

	for _, l := range layers {
		if l != nil {
			present = append(present, l)
		}
	}

	return &Composite{layers: present}
}

// Layers returns the active adapters in dispatch order.
func (c *Composite) Layers() []Layer {
	out := make([]Layer, len(c.layers))
	copy(out, c.layers)

	return out
}

// Pipeline returns the pipeline the adapters were built from, if any.
func (c *Composite) Pipeline() *pipeline.Pipeline {
	return c.owner
}

// RegisterCallsite joins the adapters' interests, starting from InterestNever.
func (c *Composite) RegisterCallsite(md *Metadata) Interest {
	interest := InterestNever
	for _, l := range c.layers {
		interest = interest.Join(l.RegisterCallsite(md))
	}

	return interest
}

// Enabled is true only if every adapter agrees. With no adapters it is true.
func (c *Composite) Enabled(ctx context.Context, md *Metadata) bool {
	for _, l := range c.layers {
		if !l.Enabled(ctx, md) {
			return false
		}
	}

	return true
}

// EventEnabled is true only if every adapter agrees. With no adapters it is true.
func (c *Composite) EventEnabled(ctx context.Context, ev *Event) bool {
	for _, l := range c.layers {
		if !l.EventEnabled(ctx, ev) {
			return false
		}
	}

	return true
}

// MaxLevelHint returns the most severe hint among adapters that report one.
func (c *Composite) MaxLevelHint() (Level, bool) {
	var (
		hint  Level
		found bool
	)

	for _, l := range c.layers {
		level, ok := l.MaxLevelHint()
		if !ok {
			continue
		}

		if !found || level > hint {
			hint = level
			found = true
		}
	}

	return hint, found
}

// OnNewSpan implements Layer.
func (c *Composite) OnNewSpan(span *Span) {
	for _, l := range c.layers {
		l.OnNewSpan(span)
	}
}

// OnRecord implements Layer.
func (c *Composite) OnRecord(span *Span, values []attribute.KeyValue) {
	for _, l := range c.layers {
		l.OnRecord(span, values)
	}
}

// OnFollowsFrom implements Layer.
func (c *Composite) OnFollowsFrom(span, follows *Span) {
	for _, l := range c.layers {
		l.OnFollowsFrom(span, follows)
	}
}

// OnEvent implements Layer.
func (c *Composite) OnEvent(ev *Event) {
	for _, l := range c.layers {
		l.OnEvent(ev)
	}
}

// OnEnter implements Layer.
func (c *Composite) OnEnter(span *Span) {
	for _, l := range c.layers {
		l.OnEnter(span)
	}
}

// OnExit implements Layer.
func (c *Composite) OnExit(span *Span) {
	for _, l := range c.layers {
		l.OnExit(span)
	}
}

// OnClose implements Layer.
func (c *Composite) OnClose(span *Span) {
	for _, l := range c.layers {
		l.OnClose(span)
	}
}

// OnIDChange implements Layer.
func (c *Composite) OnIDChange(old SpanID, span *Span) {
	for _, l := range c.layers {
		l.OnIDChange(old, span)
	}
}
