package messaging_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyp3rd/otelpipe/pkg/dispatch"
	"github.com/hyp3rd/otelpipe/pkg/instrumentation/messaging"
	"github.com/hyp3rd/otelpipe/pkg/layer"
)

func newHelper() (*messaging.Helper, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	sr := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	d := dispatch.New(layer.NewComposite(
		layer.NewTraceAdapter(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))),
		layer.NewMetricsAdapter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
	))

	return messaging.NewHelper(d), sr, reader
}

func TestInstrumentPublishRecordsSpanAndMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	helper, sr, reader := newHelper()

	info := messaging.PublishInfo{
		System:          "kafka",
		Destination:     "orders",
		DestinationKind: "topic",
	}

	err := helper.InstrumentPublish(ctx, info, func(ctx context.Context) error {
		if !trace.SpanContextFromContext(ctx).IsValid() {
			t.Error("expected the producer span in the callback context")
		}

		return nil
	})
	if err != nil {
		t.Fatalf("InstrumentPublish returned error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	if got, want := span.Name(), "publish orders"; got != want {
		t.Fatalf("unexpected span name: got %q want %q", got, want)
	}

	if span.SpanKind() != trace.SpanKindProducer || span.Status().Code != codes.Ok {
		t.Fatalf("unexpected kind %s status %v", span.SpanKind(), span.Status())
	}

	assertHasAttr(t, span.Attributes(), semconv.MessagingSystemKey.String("kafka"))
	assertHasAttr(t, span.Attributes(), messaging.AttrDestinationKind.String("topic"))

	rm := collectMetrics(ctx, t, reader)
	if !hasMetric(rm, "messaging.publish.count") {
		t.Fatal("expected messaging.publish.count metric")
	}

	if !hasMetric(rm, "messaging.publish.latency_ms") {
		t.Fatal("expected messaging.publish.latency_ms metric")
	}
}

func TestInstrumentConsumeRecordsFailure(t *testing.T) {
	t.Parallel()

	helper, sr, _ := newHelper()
	boom := errors.New("handler failed")

	err := helper.InstrumentConsume(context.Background(), messaging.ConsumeInfo{
		System:      "kafka",
		Destination: "orders",
		Group:       "billing",
	}, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].SpanKind() != trace.SpanKindConsumer || spans[0].Status().Code != codes.Error {
		t.Fatalf("unexpected kind %s status %v", spans[0].SpanKind(), spans[0].Status())
	}

	assertHasAttr(t, spans[0].Attributes(), messaging.AttrConsumerGroup.String("billing"))
}

func TestInstrumentConsumeNilHelper(t *testing.T) {
	t.Parallel()

	var helper *messaging.Helper

	calls := 0

	err := helper.InstrumentConsume(context.Background(), messaging.ConsumeInfo{}, func(_ context.Context) error {
		calls++

		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected function to be invoked once, got %d", calls)
	}
}

func assertHasAttr(t *testing.T, attrs []attribute.KeyValue, target attribute.KeyValue) {
	t.Helper()

	for _, attr := range attrs {
		if attr.Key == target.Key && attr.Value == target.Value {
			return
		}
	}

	t.Fatalf("attribute %s=%s not found", target.Key, target.Value.Emit())
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

func collectMetrics(ctx context.Context, t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(ctx, &rm)
	if err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	return rm
}
