package layer

import (
	"github.com/hyp3rd/otelpipe/pkg/pipeline"
)

// Option customizes FromPipeline.
type Option func(*fromPipelineOptions)

type fromPipelineOptions struct {
	logs    []AdapterOption
	trace   []AdapterOption
	metrics []AdapterOption
}

// WithLogsOptions configures the logs adapter.
func WithLogsOptions(opts ...AdapterOption) Option {
	return func(o *fromPipelineOptions) {
		o.logs = append(o.logs, opts...)
	}
}

// WithTraceOptions configures the trace adapter.
func WithTraceOptions(opts ...AdapterOption) Option {
	return func(o *fromPipelineOptions) {
		o.trace = append(o.trace, opts...)
	}
}

// WithMetricsOptions configures the metrics adapter.
func WithMetricsOptions(opts ...AdapterOption) Option {
	return func(o *fromPipelineOptions) {
		o.metrics = append(o.metrics, opts...)
	}
}

// FromPipeline builds one adapter per populated kind of p, in logs, trace, metrics order.
// The adapters only borrow the providers; p keeps owning them and must outlive the
// composite's use.
func FromPipeline(p *pipeline.Pipeline, opts ...Option) *Composite {
	var o fromPipelineOptions
	for _, opt := range opts {
		opt(&o)
	}

	var layers []Layer

	if lp := p.LoggerProvider(); lp != nil {
		layers = append(layers, NewLogsAdapter(lp, o.logs...))
	}

	if tp := p.TracerProvider(); tp != nil {
		layers = append(layers, NewTraceAdapter(tp, o.trace...))
	}

	if mp := p.MeterProvider(); mp != nil {
		layers = append(layers, NewMetricsAdapter(mp, o.metrics...))
	}

	c := NewComposite(layers...)
	c.owner = p

	return c
}
