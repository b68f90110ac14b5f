package layer

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event field prefixes that select an instrument.
const (
	MonotonicCounterPrefix = "monotonic_counter."
	CounterPrefix          = "counter."
	HistogramPrefix        = "histogram."
)

type instrumentKind uint8

const (
	monotonicCounter instrumentKind = iota
	upDownCounter
	histogram
)

type instrumentKey struct {
	kind  instrumentKind
	name  string
	float bool
}

func metricField(name string) (instrumentKind, string, bool) {
	switch {
	case strings.HasPrefix(name, MonotonicCounterPrefix):
		return monotonicCounter, strings.TrimPrefix(name, MonotonicCounterPrefix), true
	case strings.HasPrefix(name, CounterPrefix):
		return upDownCounter, strings.TrimPrefix(name, CounterPrefix), true
	case strings.HasPrefix(name, HistogramPrefix):
		return histogram, strings.TrimPrefix(name, HistogramPrefix), true
	default:
		return 0, "", false
	}
}

// MetricsAdapter updates instruments from event fields named with a metric prefix.
type MetricsAdapter struct {
	Base

	meter metric.Meter
	opts  adapterOptions

	mu          sync.RWMutex
	instruments map[instrumentKey]any
}

var _ Layer = (*MetricsAdapter)(nil)

// NewMetricsAdapter creates an adapter recording through provider.
func NewMetricsAdapter(provider metric.MeterProvider, opts ...AdapterOption) *MetricsAdapter {
	o := newAdapterOptions(opts)

	return &MetricsAdapter{
		meter:       provider.Meter(o.scope),
		opts:        o,
		instruments: make(map[instrumentKey]any),
	}
}

// RegisterCallsite is InterestAlways for event callsites declaring a metric field.
func (a *MetricsAdapter) RegisterCallsite(md *Metadata) Interest {
	if md.IsSpan() || !a.opts.allows(md.Level) {
		return InterestNever
	}

	for _, field := range md.Fields {
		if _, _, ok := metricField(field); ok {
			return InterestAlways
		}
	}

	return InterestNever
}

// Enabled never vetoes; callsites without metric fields are ignored in OnEvent.
func (a *MetricsAdapter) Enabled(context.Context, *Metadata) bool {
	return true
}

// MaxLevelHint implements Layer.
func (a *MetricsAdapter) MaxLevelHint() (Level, bool) {
	return a.opts.hint()
}

// OnEvent records every metric field; the remaining fields become measurement attributes.
func (a *MetricsAdapter) OnEvent(ev *Event) {
	if ev.Metadata != nil && !a.opts.allows(ev.Metadata.Level) {
		return
	}

	type measurement struct {
		kind  instrumentKind
		name  string
		value attribute.Value
	}

	var (
		measurements []measurement
		attrs        []attribute.KeyValue
	)

	for _, kv := range ev.Fields {
		kind, name, ok := metricField(string(kv.Key))
		if ok && name != "" {
			measurements = append(measurements, measurement{kind, name, kv.Value})

			continue
		}

		attrs = append(attrs, kv)
	}

	if len(measurements) == 0 {
		return
	}

	ctx := ev.Context
	if ctx == nil {
		ctx = context.Background()
	}

	set := metric.WithAttributeSet(attribute.NewSet(attrs...))

	for _, m := range measurements {
		switch m.value.Type() {
		case attribute.INT64:
			a.recordInt(ctx, m.kind, m.name, m.value.AsInt64(), set)
		case attribute.FLOAT64:
			a.recordFloat(ctx, m.kind, m.name, m.value.AsFloat64(), set)
		default:
			// only numeric values can be measured
		}
	}
}

func (a *MetricsAdapter) recordInt(ctx context.Context, kind instrumentKind, name string, value int64, set metric.MeasurementOption) {
	if kind == monotonicCounter && value < 0 {
		return
	}

	inst, err := a.instrument(instrumentKey{kind: kind, name: name})
	if err != nil {
		otel.Handle(err)

		return
	}

	switch i := inst.(type) {
	case metric.Int64Counter:
		i.Add(ctx, value, set)
	case metric.Int64UpDownCounter:
		i.Add(ctx, value, set)
	case metric.Int64Histogram:
		i.Record(ctx, value, set)
	}
}

func (a *MetricsAdapter) recordFloat(ctx context.Context, kind instrumentKind, name string, value float64, set metric.MeasurementOption) {
	if kind == monotonicCounter && value < 0 {
		return
	}

	inst, err := a.instrument(instrumentKey{kind: kind, name: name, float: true})
	if err != nil {
		otel.Handle(err)

		return
	}

	switch i := inst.(type) {
	case metric.Float64Counter:
		i.Add(ctx, value, set)
	case metric.Float64UpDownCounter:
		i.Add(ctx, value, set)
	case metric.Float64Histogram:
		i.Record(ctx, value, set)
	}
}

func (a *MetricsAdapter) instrument(key instrumentKey) (any, error) {
	a.mu.RLock()
	inst, ok := a.instruments[key]
	a.mu.RUnlock()

	if ok {
		return inst, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if inst, ok := a.instruments[key]; ok {
		return inst, nil
	}

	inst, err := a.newInstrument(key)
	if err != nil {
		return nil, err
	}

	a.instruments[key] = inst

	return inst, nil
}

func (a *MetricsAdapter) newInstrument(key instrumentKey) (any, error) {
	switch {
	case key.kind == monotonicCounter && key.float:
		return a.meter.Float64Counter(key.name)
	case key.kind == monotonicCounter:
		return a.meter.Int64Counter(key.name)
	case key.kind == upDownCounter && key.float:
		return a.meter.Float64UpDownCounter(key.name)
	case key.kind == upDownCounter:
		return a.meter.Int64UpDownCounter(key.name)
	case key.float:
		return a.meter.Float64Histogram(key.name)
	default:
		return a.meter.Int64Histogram(key.name)
	}
}
