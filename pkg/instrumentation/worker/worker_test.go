package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hyp3rd/otelpipe/pkg/dispatch"
	"github.com/hyp3rd/otelpipe/pkg/instrumentation/worker"
	"github.com/hyp3rd/otelpipe/pkg/layer"
)

func newHelper() (*worker.Helper, *tracetest.SpanRecorder, *metric.ManualReader) {
	recorder := tracetest.NewSpanRecorder()
	reader := metric.NewManualReader()

	d := dispatch.New(layer.NewComposite(
		layer.NewTraceAdapter(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))),
		layer.NewMetricsAdapter(metric.NewMeterProvider(metric.WithReader(reader))),
	))

	return worker.NewHelper(d), recorder, reader
}

func TestHelperInstrumentSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	helper, recorder, reader := newHelper()

	info := worker.JobInfo{
		Name:  "process-order",
		Queue: "orders",
		Attributes: []attribute.KeyValue{
			attribute.String("worker.type", "cron"),
		},
	}

	err := helper.Instrument(ctx, info, func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Instrument returned error: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Name() != "orders:process-order" || spans[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected span %q status %v", spans[0].Name(), spans[0].Status())
	}

	var rm metricdata.ResourceMetrics

	err = reader.Collect(ctx, &rm)
	if err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	if !hasMetric(rm, "worker.job.count") {
		t.Fatal("expected worker.job.count metric")
	}

	if !hasMetric(rm, "worker.job.duration_ms") {
		t.Fatal("expected worker.job.duration_ms metric")
	}
}

func TestHelperInstrumentError(t *testing.T) {
	t.Parallel()

	helper, recorder, _ := newHelper()
	runErr := ewrap.New("boom")

	err := helper.Instrument(context.Background(), worker.JobInfo{Name: "fail"}, func(context.Context) error {
		return runErr
	})
	if !errors.Is(err, runErr) {
		t.Fatalf("expected error %v, got %v", runErr, err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Status().Code != codes.Error {
		t.Fatalf("expected one failed span, got %v", spans)
	}
}

func TestHelperInstrumentRepanics(t *testing.T) {
	t.Parallel()

	helper, recorder, _ := newHelper()

	defer func() {
		if r := recover(); r != "kaboom" {
			t.Fatalf("expected the panic to propagate, got %v", r)
		}

		if n := len(recorder.Ended()); n != 1 {
			t.Fatalf("expected the job span to end, got %d spans", n)
		}
	}()

	_ = helper.Instrument(context.Background(), worker.JobInfo{Name: "explode"}, func(context.Context) error {
		panic("kaboom")
	})
}

func hasMetric(rm metricdata.ResourceMetrics, name string) bool {
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return true
			}
		}
	}

	return false
}
