package logging

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
)

// Switch forwards to an adapter that can be replaced while the switch is in use, so a
// logger handed out once can follow the pipeline it reports into across reloads.
type Switch struct {
	current atomic.Pointer[switchTarget]
}

type switchTarget struct {
	adapter Adapter
}

// NewSwitch returns a switch forwarding to initial.
func NewSwitch(initial Adapter) *Switch {
	s := &Switch{}
	s.Set(initial)

	return s
}

// Set replaces the target. A nil adapter discards everything.
func (s *Switch) Set(adapter Adapter) {
	if adapter == nil {
		adapter = NewNoopAdapter()
	}

	s.current.Store(&switchTarget{adapter: adapter})
}

// Load returns the current target.
func (s *Switch) Load() Adapter {
	return s.current.Load().adapter
}

// Info implements Adapter.
func (s *Switch) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	s.Load().Info(ctx, msg, attrs...)
}

// Debug implements Adapter.
func (s *Switch) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	s.Load().Debug(ctx, msg, attrs...)
}

// Error implements Adapter.
func (s *Switch) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	s.Load().Error(ctx, err, msg, attrs...)
}
