package layer

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

var (
	spanMeta  = &Metadata{Name: "handle", Target: "checkout", Level: LevelInfo, Kind: CallsiteSpan}
	eventMeta = &Metadata{Name: "charged", Target: "checkout", Level: LevelInfo, File: "pay.go", Line: 12}
	errorMeta = &Metadata{Name: "failed", Target: "checkout", Level: LevelError}
)

func TestTraceAdapterBuildsSpanTree(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	adapter := NewTraceAdapter(provider)

	parent := NewSpan(1, spanMeta, nil, context.Background(), []attribute.KeyValue{
		attribute.String(FieldName, "GET /cart"),
		attribute.String(FieldKind, "server"),
		attribute.String("http.method", "GET"),
	})
	adapter.OnNewSpan(parent)

	child := NewSpan(2, spanMeta, parent, context.Background(), nil)
	adapter.OnNewSpan(child)

	linked := NewSpan(3, spanMeta, nil, context.Background(), nil)
	adapter.OnNewSpan(linked)
	adapter.OnFollowsFrom(child, linked)

	adapter.OnEnter(child)
	adapter.OnRecord(child, []attribute.KeyValue{attribute.Int("items", 3)})
	adapter.OnEvent(&Event{Metadata: errorMeta, Message: "card declined", Parent: child})
	adapter.OnExit(child)

	adapter.OnClose(child)
	adapter.OnClose(linked)
	adapter.OnClose(parent)

	ended := recorder.Ended()
	if len(ended) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(ended))
	}

	byID := make(map[trace.SpanID]sdktrace.ReadOnlySpan, len(ended))
	for _, s := range ended {
		byID[s.SpanContext().SpanID()] = s
	}

	root := byID[SpanContext(parent).SpanID()]
	if root.Name() != "GET /cart" || root.SpanKind() != trace.SpanKindServer {
		t.Fatalf("unexpected root %q kind %v", root.Name(), root.SpanKind())
	}

	if !hasAttribute(root.Attributes(), "http.method") || hasAttribute(root.Attributes(), FieldName) {
		t.Fatalf("unexpected root attributes %v", root.Attributes())
	}

	inner := byID[SpanContext(child).SpanID()]
	if inner.Parent().SpanID() != SpanContext(parent).SpanID() {
		t.Fatal("child is not parented to its enclosing span")
	}

	if len(inner.Links()) != 1 || inner.Links()[0].SpanContext.SpanID() != SpanContext(linked).SpanID() {
		t.Fatalf("expected a follows-from link, got %v", inner.Links())
	}

	if inner.Status().Code != codes.Error || inner.Status().Description != "card declined" {
		t.Fatalf("unexpected status %v", inner.Status())
	}

	if len(inner.Events()) != 1 || inner.Events()[0].Name != "card declined" {
		t.Fatalf("unexpected events %v", inner.Events())
	}

	for _, key := range []string{"items", "busy_ns", "idle_ns"} {
		if !hasAttribute(inner.Attributes(), key) {
			t.Fatalf("missing %s in %v", key, inner.Attributes())
		}
	}
}

func TestTraceAdapterUsesRemoteParentFromContext(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	adapter := NewTraceAdapter(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	span := NewSpan(1, spanMeta, nil, trace.ContextWithRemoteSpanContext(context.Background(), remote), nil)
	adapter.OnNewSpan(span)
	adapter.OnClose(span)

	got := recorder.Ended()[0]
	if got.SpanContext().TraceID() != remote.TraceID() || got.Parent().SpanID() != remote.SpanID() {
		t.Fatalf("span not attached to remote parent: %v", got.Parent())
	}
}

func TestTraceAdapterBusyIdle(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	adapter := NewTraceAdapter(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	clock := time.Unix(100, 0)
	adapter.now = func() time.Time { return clock }

	span := NewSpan(1, spanMeta, nil, context.Background(), nil)
	span.Start = clock
	adapter.OnNewSpan(span)

	clock = clock.Add(2 * time.Millisecond)
	adapter.OnEnter(span)
	clock = clock.Add(5 * time.Millisecond)
	adapter.OnExit(span)
	clock = clock.Add(time.Millisecond)
	adapter.OnClose(span)

	attrs := recorder.Ended()[0].Attributes()
	if busy := attributeValue(attrs, "busy_ns"); busy.AsInt64() != int64(5*time.Millisecond) {
		t.Fatalf("busy = %v", busy.Emit())
	}

	if idle := attributeValue(attrs, "idle_ns"); idle.AsInt64() != int64(3*time.Millisecond) {
		t.Fatalf("idle = %v", idle.Emit())
	}
}

func TestTraceAdapterMinLevel(t *testing.T) {
	t.Parallel()

	adapter := NewTraceAdapter(sdktrace.NewTracerProvider(), WithMinLevel(LevelWarn))

	if got := adapter.RegisterCallsite(spanMeta); got != InterestNever {
		t.Fatalf("expected info span to be skipped, got %s", got)
	}

	if got := adapter.RegisterCallsite(errorMeta); got != InterestAlways {
		t.Fatalf("expected error event to be kept, got %s", got)
	}

	if hint, ok := adapter.MaxLevelHint(); !ok || hint != LevelWarn {
		t.Fatalf("unexpected hint %s/%v", hint, ok)
	}
}

func TestLogsAdapterCorrelatesWithTraceAdapter(t *testing.T) {
	t.Parallel()

	processor := &recordingProcessor{}
	logs := NewLogsAdapter(sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)))
	traces := NewTraceAdapter(sdktrace.NewTracerProvider())
	composite := NewComposite(logs, traces)

	if got := logs.RegisterCallsite(spanMeta); got != InterestNever {
		t.Fatalf("logs adapter should ignore span callsites, got %s", got)
	}

	if !logs.Enabled(context.Background(), spanMeta) {
		t.Fatal("logs adapter must not veto spans")
	}

	span := NewSpan(1, spanMeta, nil, context.Background(), nil)
	composite.OnNewSpan(span)

	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	composite.OnEvent(&Event{
		Metadata: eventMeta,
		Message:  "my message",
		Fields:   []attribute.KeyValue{attribute.Int("data", 1)},
		Parent:   span,
		Time:     when,
	})
	composite.OnClose(span)

	records := processor.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}

	rec := records[0]
	if rec.Body().AsString() != "my message" || rec.Severity() != log.SeverityInfo || rec.SeverityText() != "INFO" {
		t.Fatalf("unexpected record %v %v %q", rec.Body(), rec.Severity(), rec.SeverityText())
	}

	if rec.EventName() != "charged" || !rec.Timestamp().Equal(when) {
		t.Fatalf("unexpected event name %q or timestamp %v", rec.EventName(), rec.Timestamp())
	}

	if rec.TraceID() != SpanContext(span).TraceID() || rec.SpanID() != SpanContext(span).SpanID() {
		t.Fatal("record is not correlated with its parent span")
	}

	var data int64

	rec.WalkAttributes(func(kv log.KeyValue) bool {
		if kv.Key == "data" {
			data = kv.Value.AsInt64()
		}

		return true
	})

	if data != 1 {
		t.Fatalf("expected data=1, got %d", data)
	}
}

func TestLogsAdapterMinLevel(t *testing.T) {
	t.Parallel()

	processor := &recordingProcessor{}
	logs := NewLogsAdapter(sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)), WithMinLevel(LevelWarn))

	if got := logs.RegisterCallsite(eventMeta); got != InterestNever {
		t.Fatalf("expected info event to be skipped, got %s", got)
	}

	if got := logs.RegisterCallsite(errorMeta); got != InterestSometimes {
		t.Fatalf("expected error event to be considered, got %s", got)
	}

	logs.OnEvent(&Event{Metadata: eventMeta, Message: "below"})
	logs.OnEvent(&Event{Metadata: errorMeta, Message: "above"})

	records := processor.snapshot()
	if len(records) != 1 || records[0].Body().AsString() != "above" {
		t.Fatalf("expected only the error record, got %d", len(records))
	}
}

func TestMetricsAdapterRecordsPrefixedFields(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	adapter := NewMetricsAdapter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	md := &Metadata{
		Name:   "orders",
		Level:  LevelInfo,
		Fields: []string{"monotonic_counter.orders", "histogram.latency", "region"},
	}

	if got := adapter.RegisterCallsite(md); got != InterestAlways {
		t.Fatalf("expected metric callsite interest always, got %s", got)
	}

	if got := adapter.RegisterCallsite(eventMeta); got != InterestNever {
		t.Fatalf("expected plain event interest never, got %s", got)
	}

	for range 3 {
		adapter.OnEvent(&Event{Metadata: md, Fields: []attribute.KeyValue{
			attribute.Int("monotonic_counter.orders", 2),
			attribute.Float64("histogram.latency", 0.25),
			attribute.String("region", "eu"),
		}})
	}

	adapter.OnEvent(&Event{Metadata: md, Fields: []attribute.KeyValue{
		attribute.Int("monotonic_counter.orders", -5),
		attribute.String("counter.ignored", "text"),
	}})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	metrics := make(map[string]metricdata.Aggregation)

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m.Data
		}
	}

	sum, ok := metrics["orders"].(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 6 || !sum.IsMonotonic {
		t.Fatalf("unexpected orders metric %#v", metrics["orders"])
	}

	if region, ok := sum.DataPoints[0].Attributes.Value("region"); !ok || region.AsString() != "eu" {
		t.Fatalf("expected region attribute, got %v", sum.DataPoints[0].Attributes)
	}

	hist, ok := metrics["latency"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 3 {
		t.Fatalf("unexpected latency metric %#v", metrics["latency"])
	}

	if _, ok := metrics["ignored"]; ok {
		t.Fatal("non-numeric metric field must not create an instrument")
	}
}

func hasAttribute(attrs []attribute.KeyValue, key string) bool {
	return attributeValue(attrs, key).Type() != attribute.INVALID
}

func attributeValue(attrs []attribute.KeyValue, key string) attribute.Value {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value
		}
	}

	return attribute.Value{}
}

type recordingProcessor struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (p *recordingProcessor) Enabled(context.Context, sdklog.EnabledParameters) bool { return true }

func (p *recordingProcessor) OnEmit(_ context.Context, record *sdklog.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.records = append(p.records, record.Clone())

	return nil
}

func (p *recordingProcessor) snapshot() []sdklog.Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]sdklog.Record(nil), p.records...)
}

func (*recordingProcessor) Shutdown(context.Context) error { return nil }

func (*recordingProcessor) ForceFlush(context.Context) error { return nil }
