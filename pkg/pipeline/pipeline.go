// Package pipeline assembles per-kind OpenTelemetry providers behind one export
// destination and owns their lifecycle.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hyp3rd/otelpipe/internal/constants"
	"github.com/hyp3rd/otelpipe/pkg/logging"
)

// Pipeline owns the providers of the enabled kinds. Shutdown releases them; a Pipeline
// that becomes unreachable without an explicit Shutdown is shut down by a cleanup with
// the default limit and its errors are discarded.
type Pipeline struct {
	dest     Destination
	set      *providerSet
	stats    [kindCount]*exporterStats
	gatherer prometheus.Gatherer
	logger   logging.Adapter
	cleanup  runtime.Cleanup
	stopOnce sync.Once
}

func newPipeline(dest Destination, set *providerSet, stats [kindCount]*exporterStats, logger logging.Adapter) *Pipeline {
	p := &Pipeline{
		dest:   dest,
		set:    set,
		stats:  stats,
		logger: logger,
	}

	p.cleanup = runtime.AddCleanup(p, func(set *providerSet) {
		//nolint:errcheck // no caller is left to observe the error.
		_ = shutdownAll(set.snapshot(), constants.DefaultShutdownTimeout)
	}, set)

	return p
}

// Destination returns where the pipeline exports.
func (p *Pipeline) Destination() Destination {
	return p.dest
}

// Kinds lists the enabled kinds in logs, trace, metrics order.
func (p *Pipeline) Kinds() []Kind {
	slots := p.set.snapshot()

	var kinds []Kind

	for _, kind := range allKinds {
		if slots[kind] != nil {
			kinds = append(kinds, kind)
		}
	}

	return kinds
}

// Enabled reports whether kind has a provider.
func (p *Pipeline) Enabled(kind Kind) bool {
	return kind < kindCount && p.set.get(kind) != nil
}

// LoggerProvider returns the logs provider, or nil when logs are disabled.
func (p *Pipeline) LoggerProvider() log.LoggerProvider {
	if m := p.set.get(KindLogs); m != nil {
		return m.logs
	}

	return nil
}

// TracerProvider returns the trace provider, or nil when traces are disabled.
func (p *Pipeline) TracerProvider() trace.TracerProvider {
	if m := p.set.get(KindTrace); m != nil {
		return m.trace
	}

	return nil
}

// MeterProvider returns the metrics provider, or nil when metrics are disabled.
func (p *Pipeline) MeterProvider() metric.MeterProvider {
	if m := p.set.get(KindMetrics); m != nil {
		return m.metrics
	}

	return nil
}

// Gatherer returns the Prometheus registry fed by the pull reader, if one was configured
// with a registerer that can also gather.
func (p *Pipeline) Gatherer() prometheus.Gatherer {
	return p.gatherer
}

// Stats returns a snapshot of the exporter counters of every enabled kind.
func (p *Pipeline) Stats() []ExporterStatus {
	out := make([]ExporterStatus, 0, kindCount)

	for _, s := range p.stats {
		if s != nil {
			out = append(out, s.statusSnapshot())
		}
	}

	return out
}

// ForceFlush exports everything buffered by the enabled kinds.
func (p *Pipeline) ForceFlush(ctx context.Context) error {
	var errs []error

	for _, m := range p.set.snapshot() {
		if m == nil {
			continue
		}

		err := m.forceFlush(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Shutdown flushes and stops every enabled kind concurrently and waits at most limit.
// A zero limit means ten seconds. Failures are collected per kind into a *ShutdownError;
// a kind that was already shut down reports ErrAlreadyShutdown.
func (p *Pipeline) Shutdown(limit time.Duration) error {
	p.stopOnce.Do(p.cleanup.Stop)

	if limit <= 0 {
		limit = constants.DefaultShutdownTimeout
	}

	err := shutdownAll(p.set.snapshot(), limit)
	if err != nil {
		p.logger.Error(context.Background(), err, "pipeline shutdown failed")

		return err
	}

	p.logger.Debug(context.Background(), "pipeline shut down")

	return nil
}

func shutdownAll(slots [kindCount]*managedProvider, limit time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()

	var (
		group  errgroup.Group
		mu     sync.Mutex
		result ShutdownError
	)

	for _, m := range slots {
		if m == nil {
			continue
		}

		group.Go(func() error {
			err := m.shutdown(ctx)
			if err != nil {
				mu.Lock()
				result.set(m.kind, err)
				mu.Unlock()
			}

			return nil
		})
	}

	//nolint:errcheck // every goroutine returns nil; failures are collected in result.
	_ = group.Wait()

	if result.empty() {
		return nil
	}

	return &result
}
