package pipeline

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hyp3rd/otelpipe/internal/constants"
	"github.com/hyp3rd/otelpipe/pkg/config"
	"github.com/hyp3rd/otelpipe/pkg/logging"
)

func TestBuilderEverySubsetOfKinds(t *testing.T) {
	t.Parallel()

	for mask := range 1 << kindCount {
		want := make([]Kind, 0, kindCount)

		for _, kind := range allKinds {
			if mask&(1<<kind) != 0 {
				want = append(want, kind)
			}
		}

		t.Run(strings.Join(kindNames(want), "+"), func(t *testing.T) {
			t.Parallel()

			builder := NewBuilder(Destination{Protocol: Stdout}).WithSinkWriter(&lockedBuffer{})

			for _, kind := range want {
				switch kind {
				case KindLogs:
					builder.EnableLogs(nil)
				case KindTrace:
					builder.EnableTrace(nil, NewTraceSettings(1, false))
				case KindMetrics:
					builder.EnableMetrics(nil, MetricsSettings{})
				}
			}

			p := builder.Finish()

			got := p.Kinds()
			if strings.Join(kindNames(got), ",") != strings.Join(kindNames(want), ",") {
				t.Fatalf("kinds = %v, want %v", got, want)
			}

			if (p.LoggerProvider() != nil) != p.Enabled(KindLogs) ||
				(p.TracerProvider() != nil) != p.Enabled(KindTrace) ||
				(p.MeterProvider() != nil) != p.Enabled(KindMetrics) {
				t.Fatal("provider accessors disagree with the enabled kinds")
			}

			if len(p.Stats()) != len(want) {
				t.Fatalf("expected %d exporter stats, got %d", len(want), len(p.Stats()))
			}

			if err := p.Shutdown(time.Second); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
		})
	}
}

func TestShutdownZeroLimitUsesDefault(t *testing.T) {
	t.Parallel()

	stub := &stubLogExporter{deadlines: make(chan time.Time, 1)}

	logs, err := assembleLogs(stub, nil, struct{}{}, exportConfig{})
	if err != nil {
		t.Fatalf("assemble logs: %v", err)
	}

	set := &providerSet{}
	set.put(KindLogs, logs)

	p := newPipeline(Destination{Protocol: Stdout}, set, [kindCount]*exporterStats{}, logging.NewNoopAdapter())

	start := time.Now()

	if err := p.Shutdown(0); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	var deadline time.Time
	select {
	case deadline = <-stub.deadlines:
	default:
		t.Fatal("the exporter was not shut down")
	}

	window := deadline.Sub(start)
	if window <= constants.DefaultShutdownTimeout-time.Second || window > constants.DefaultShutdownTimeout+time.Second {
		t.Fatalf("shutdown deadline %s after start, want about %s", window, constants.DefaultShutdownTimeout)
	}
}

func TestDroppedPipelineShutsDownImplicitly(t *testing.T) {
	t.Parallel()

	var out lockedBuffer

	emitAndDrop := func() {
		p := NewBuilder(Destination{Protocol: Stdout}).
			WithSinkWriter(&out).
			EnableLogs(nil).
			Finish()

		var record log.Record
		record.SetBody(log.StringValue("dropped handle"))
		p.LoggerProvider().Logger("lifecycle").Emit(context.Background(), record)
	}

	emitAndDrop()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "dropped handle") {
		if time.Now().After(deadline) {
			t.Fatal("the record was never flushed after the pipeline became unreachable")
		}

		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
}

// Not parallel: it compares goroutine counts.
func TestBuildErrorStartsNoProviders(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Pipeline.Protocol = "stdout"
	cfg.Pipeline.Logs.Enabled = true
	cfg.Pipeline.Trace.Enabled = true
	cfg.Pipeline.Metrics.Enabled = true
	cfg.Pipeline.Metrics.Temporality = "bogus"

	before := runtime.NumGoroutine()

	for range 20 {
		p, err := Build(context.Background(), cfg, WithSinkOutput(&lockedBuffer{}))
		if err == nil || p != nil {
			t.Fatalf("expected a temporality error, got pipeline %v, err %v", p, err)
		}
	}

	// Each leaked build would leave a batch goroutine per kind behind.
	if grown := runtime.NumGoroutine() - before; grown >= 10 {
		t.Fatalf("failed builds left %d goroutines running", grown)
	}
}

func TestEnableShutsExporterDownWhenAssemblyFails(t *testing.T) {
	t.Parallel()

	stub := &shutdownTrackingMetricExporter{}
	desc := kindDescriptor[sdkmetric.Exporter, MetricsSettings]{
		kind: KindMetrics,
		factory: func(*transport) exporterFactory[sdkmetric.Exporter, MetricsSettings] {
			return func(context.Context, string, exportConfig, MetricsSettings) (sdkmetric.Exporter, error) {
				return stub, nil
			}
		},
		withStats: func(exp sdkmetric.Exporter, _ *exporterStats) sdkmetric.Exporter { return exp },
		assemble:  assembleMetrics,
	}

	builder := NewBuilder(Destination{Protocol: Stdout}).WithSinkWriter(&lockedBuffer{})

	err := capturePanic(func() {
		enable(builder, desc, nil, MetricsSettings{Prometheus: rejectingRegisterer{}})
	})
	if err == nil || !strings.Contains(err.Error(), "build metrics provider") {
		t.Fatalf("expected provider error, got %v", err)
	}

	if !stub.shutdown {
		t.Fatal("expected the exporter to be shut down")
	}

	if builder.set.get(KindMetrics) != nil {
		t.Fatal("a failed kind must not be installed")
	}
}

func kindNames(kinds []Kind) []string {
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, kind.String())
	}

	if len(names) == 0 {
		return []string{"none"}
	}

	return names
}

type shutdownTrackingMetricExporter struct {
	shutdown bool
}

func (*shutdownTrackingMetricExporter) Temporality(sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (*shutdownTrackingMetricExporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

func (*shutdownTrackingMetricExporter) Export(context.Context, *metricdata.ResourceMetrics) error { return nil }

func (*shutdownTrackingMetricExporter) ForceFlush(context.Context) error { return nil }

func (s *shutdownTrackingMetricExporter) Shutdown(context.Context) error {
	s.shutdown = true

	return nil
}

type rejectingRegisterer struct{}

func (rejectingRegisterer) Register(prometheus.Collector) error {
	return ewrap.New("registry closed")
}

func (rejectingRegisterer) MustRegister(...prometheus.Collector) {}

func (rejectingRegisterer) Unregister(prometheus.Collector) bool { return false }
