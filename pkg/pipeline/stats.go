package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ExporterStatus is a point-in-time view of one kind's exporter.
type ExporterStatus struct {
	Kind          string
	Protocol      string
	Endpoint      string
	Exported      int64
	Dropped       int64
	LastError     string
	LastErrorTime time.Time
}

type exporterStats struct {
	kind      Kind
	protocol  Protocol
	endpoint  string
	exported  atomic.Int64
	dropped   atomic.Int64
	lastError atomic.Pointer[exporterError]
}

type exporterError struct {
	message string
	time    time.Time
}

func newExporterStats(kind Kind, protocol Protocol, endpoint string) *exporterStats {
	return &exporterStats{
		kind:     kind,
		protocol: protocol,
		endpoint: endpoint,
	}
}

func (s *exporterStats) record(n int, err error) {
	if s == nil {
		return
	}

	if err == nil {
		s.exported.Add(int64(n))

		return
	}

	s.dropped.Add(int64(n))
	s.lastError.Store(&exporterError{
		message: err.Error(),
		time:    time.Now().UTC(),
	})
}

func (s *exporterStats) statusSnapshot() ExporterStatus {
	status := ExporterStatus{
		Kind:     s.kind.String(),
		Protocol: s.protocol.String(),
		Endpoint: s.endpoint,
		Exported: s.exported.Load(),
		Dropped:  s.dropped.Load(),
	}
	if last := s.lastError.Load(); last != nil {
		status.LastError = last.message
		status.LastErrorTime = last.time
	}

	return status
}

type spanExporterWithStats struct {
	inner sdktrace.SpanExporter
	stats *exporterStats
}

func (s *spanExporterWithStats) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := s.inner.ExportSpans(ctx, spans)
	s.stats.record(len(spans), err)

	if err != nil {
		return ewrap.Wrap(err, "export spans")
	}

	return nil
}

func (s *spanExporterWithStats) Shutdown(ctx context.Context) error {
	err := s.inner.Shutdown(ctx)
	if err != nil {
		return ewrap.Wrap(err, "shutdown span exporter")
	}

	return nil
}

type logExporterWithStats struct {
	inner sdklog.Exporter
	stats *exporterStats
}

func (l *logExporterWithStats) Export(ctx context.Context, records []sdklog.Record) error {
	err := l.inner.Export(ctx, records)
	l.stats.record(len(records), err)

	if err != nil {
		return ewrap.Wrap(err, "export log records")
	}

	return nil
}

func (l *logExporterWithStats) ForceFlush(ctx context.Context) error {
	return l.inner.ForceFlush(ctx)
}

func (l *logExporterWithStats) Shutdown(ctx context.Context) error {
	err := l.inner.Shutdown(ctx)
	if err != nil {
		return ewrap.Wrap(err, "shutdown log exporter")
	}

	return nil
}

type metricExporterWithStats struct {
	inner sdkmetric.Exporter
	stats *exporterStats
}

func (m *metricExporterWithStats) Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	return m.inner.Temporality(kind)
}

func (m *metricExporterWithStats) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return m.inner.Aggregation(kind)
}

func (m *metricExporterWithStats) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	err := m.inner.Export(ctx, rm)
	m.stats.record(dataPoints(rm), err)

	if err != nil {
		return ewrap.Wrap(err, "export metrics")
	}

	return nil
}

func (m *metricExporterWithStats) ForceFlush(ctx context.Context) error {
	return m.inner.ForceFlush(ctx)
}

func (m *metricExporterWithStats) Shutdown(ctx context.Context) error {
	err := m.inner.Shutdown(ctx)
	if err != nil {
		return ewrap.Wrap(err, "shutdown metric exporter")
	}

	return nil
}

// dataPoints counts the points of every metric in rm.
func dataPoints(rm *metricdata.ResourceMetrics) int {
	if rm == nil {
		return 0
	}

	total := 0

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				total += len(data.DataPoints)
			case metricdata.Sum[float64]:
				total += len(data.DataPoints)
			case metricdata.Gauge[int64]:
				total += len(data.DataPoints)
			case metricdata.Gauge[float64]:
				total += len(data.DataPoints)
			case metricdata.Histogram[int64]:
				total += len(data.DataPoints)
			case metricdata.Histogram[float64]:
				total += len(data.DataPoints)
			case metricdata.ExponentialHistogram[int64]:
				total += len(data.DataPoints)
			case metricdata.ExponentialHistogram[float64]:
				total += len(data.DataPoints)
			default:
				total++
			}
		}
	}

	return total
}
