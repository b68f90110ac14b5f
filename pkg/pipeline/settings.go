package pipeline

import (
	"math"
	"strings"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/hyp3rd/otelpipe/internal/constants"
)

// SpanLimits bounds what a single span may carry. A zero field means the default of 128.
type SpanLimits struct {
	MaxEventsPerSpan      int
	MaxAttributesPerSpan  int
	MaxLinksPerSpan       int
	MaxAttributesPerLink  int
	MaxAttributesPerEvent int
}

// DefaultSpanLimits returns 128 for every limit.
func DefaultSpanLimits() SpanLimits {
	return SpanLimits{
		MaxEventsPerSpan:      constants.DefaultSpanLimit,
		MaxAttributesPerSpan:  constants.DefaultSpanLimit,
		MaxLinksPerSpan:       constants.DefaultSpanLimit,
		MaxAttributesPerLink:  constants.DefaultSpanLimit,
		MaxAttributesPerEvent: constants.DefaultSpanLimit,
	}
}

// sdkLimits reports the SDK limits to install, and false when every limit is the default
// so the provider keeps its own configuration.
func (l SpanLimits) sdkLimits() (sdktrace.SpanLimits, bool) {
	limits := sdktrace.NewSpanLimits()
	changed := false

	apply := func(value int, target *int) {
		if value == 0 || value == constants.DefaultSpanLimit {
			return
		}

		*target = value
		changed = true
	}

	apply(l.MaxEventsPerSpan, &limits.EventCountLimit)
	apply(l.MaxAttributesPerSpan, &limits.AttributeCountLimit)
	apply(l.MaxLinksPerSpan, &limits.LinkCountLimit)
	apply(l.MaxAttributesPerLink, &limits.AttributePerLinkCountLimit)
	apply(l.MaxAttributesPerEvent, &limits.AttributePerEventCountLimit)

	return limits, changed
}

// TraceSettings carries the sampling policy and span limits of the trace pipeline.
type TraceSettings struct {
	SampleRate    float64
	RespectParent bool
	Limits        SpanLimits
}

// NewTraceSettings clamps rate into [0, 1] and uses the default limits.
func NewTraceSettings(rate float64, respectParent bool) TraceSettings {
	return TraceSettings{
		SampleRate:    clampRate(rate),
		RespectParent: respectParent,
		Limits:        DefaultSpanLimits(),
	}
}

func clampRate(rate float64) float64 {
	switch {
	case math.IsNaN(rate), rate <= 0:
		return 0
	case rate >= 1:
		return 1
	default:
		return rate
	}
}

// sampler picks the trace ID sampler. Exact 0 and 1 map to the deterministic samplers
// unless the parent decision must be honored.
func (s TraceSettings) sampler() sdktrace.Sampler {
	rate := clampRate(s.SampleRate)

	if s.RespectParent {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}

	switch rate {
	case 0:
		return sdktrace.NeverSample()
	case 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Temporality selects how metric points are aggregated over export intervals.
type Temporality uint8

const (
	// Cumulative reports totals since the start of the process.
	Cumulative Temporality = iota
	// Delta reports changes since the previous export for monotonic instruments.
	Delta
	// LowMemory uses delta only for synchronous counters and histograms.
	LowMemory
)

// ParseTemporality maps the configuration spelling of a temporality.
func ParseTemporality(value string) (Temporality, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "cumulative":
		return Cumulative, nil
	case "delta":
		return Delta, nil
	case "low_memory", "lowmemory":
		return LowMemory, nil
	default:
		return 0, ewrap.Newf("unknown temporality %q", value)
	}
}

// String implements fmt.Stringer.
func (t Temporality) String() string {
	switch t {
	case Delta:
		return "delta"
	case LowMemory:
		return "low_memory"
	default:
		return "cumulative"
	}
}

func (t Temporality) selector() sdkmetric.TemporalitySelector {
	switch t {
	case Delta:
		return deltaSelector
	case LowMemory:
		return lowMemorySelector
	default:
		return sdkmetric.DefaultTemporalitySelector
	}
}

func deltaSelector(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	switch kind {
	case sdkmetric.InstrumentKindUpDownCounter, sdkmetric.InstrumentKindObservableUpDownCounter:
		return metricdata.CumulativeTemporality
	default:
		return metricdata.DeltaTemporality
	}
}

func lowMemorySelector(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	switch kind {
	case sdkmetric.InstrumentKindCounter, sdkmetric.InstrumentKindHistogram:
		return metricdata.DeltaTemporality
	default:
		return metricdata.CumulativeTemporality
	}
}

// MetricsSettings configures the periodic meter provider.
type MetricsSettings struct {
	Temporality Temporality
	// Interval between periodic exports; zero means one minute.
	Interval time.Duration
	// RuntimeMetrics starts the Go runtime instrumentation on the new provider.
	RuntimeMetrics bool
	// Prometheus, when set, adds a pull reader registered with it.
	Prometheus prometheus.Registerer
}

func (s MetricsSettings) interval() time.Duration {
	if s.Interval <= 0 {
		return constants.DefaultMetricsInterval
	}

	return s.Interval
}

// BatchSettings tunes the batching processors of the logs and trace pipelines. Zero
// fields keep the SDK defaults.
type BatchSettings struct {
	MaxQueueSize   int
	MaxExportBatch int
	Interval       time.Duration
}

// SinkSettings tunes the rotation of the file sink.
type SinkSettings struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}
