package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hyp3rd/ewrap"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// managedProvider owns the provider of one kind. Exactly one of logs, trace and metrics
// is set.
type managedProvider struct {
	kind    Kind
	logs    *sdklog.LoggerProvider
	trace   *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	watch   *shutdownWatch
	// closers run before the provider is shut down.
	closers []func(context.Context) error
	done    atomic.Bool
}

// shutdown stops the provider and waits for it until ctx expires. A provider that was
// already stopped, through this handle or directly through the SDK, reports
// ErrAlreadyShutdown.
func (m *managedProvider) shutdown(ctx context.Context) error {
	if !m.done.CompareAndSwap(false, true) {
		return ErrAlreadyShutdown
	}

	result := make(chan error, 1)

	go func() {
		result <- m.close(ctx)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ewrap.Wrapf(ctx.Err(), "%s provider did not shut down in time", m.kind)
	}
}

func (m *managedProvider) close(ctx context.Context) error {
	var errs []error

	for _, closer := range m.closers {
		err := closer(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if m.watch != nil && m.watch.stopped.Load() {
		errs = append(errs, ErrAlreadyShutdown)

		return errors.Join(errs...)
	}

	var err error

	switch {
	case m.logs != nil:
		err = m.logs.Shutdown(ctx)
	case m.trace != nil:
		err = m.trace.Shutdown(ctx)
	case m.metrics != nil:
		err = m.metrics.Shutdown(ctx)
		if errors.Is(err, sdkmetric.ErrReaderShutdown) {
			err = ErrAlreadyShutdown
		}
	}

	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (m *managedProvider) forceFlush(ctx context.Context) error {
	switch {
	case m.logs != nil:
		return m.logs.ForceFlush(ctx)
	case m.trace != nil:
		return m.trace.ForceFlush(ctx)
	case m.metrics != nil:
		return m.metrics.ForceFlush(ctx)
	default:
		return nil
	}
}

// shutdownWatch is registered after the batch processor so the handle can tell when the
// SDK provider has been shut down behind its back. It never enables or records anything.
type shutdownWatch struct {
	stopped atomic.Bool
}

func (*shutdownWatch) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (*shutdownWatch) OnEnd(sdktrace.ReadOnlySpan) {}

func (*shutdownWatch) Enabled(context.Context, sdklog.EnabledParameters) bool { return false }

func (*shutdownWatch) OnEmit(context.Context, *sdklog.Record) error { return nil }

func (w *shutdownWatch) Shutdown(context.Context) error {
	w.stopped.Store(true)

	return nil
}

func (*shutdownWatch) ForceFlush(context.Context) error { return nil }

// providerSet holds the slot of each kind. Both the Pipeline and its cleanup reference the
// set, never the Pipeline itself.
type providerSet struct {
	mu    sync.Mutex
	slots [kindCount]*managedProvider
}

func (s *providerSet) get(kind Kind) *managedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.slots[kind]
}

func (s *providerSet) put(kind Kind, m *managedProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots[kind] = m
}

// snapshot copies the slots. Providers stay in place after shutdown so a repeated
// shutdown reaches them and reports ErrAlreadyShutdown.
func (s *providerSet) snapshot() [kindCount]*managedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.slots
}
