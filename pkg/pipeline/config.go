package pipeline

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/hyp3rd/ewrap"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyp3rd/otelpipe/internal/constants"
	"github.com/hyp3rd/otelpipe/pkg/config"
	"github.com/hyp3rd/otelpipe/pkg/logging"
)

// BuildOption customizes Build beyond what the configuration file can express.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger     logging.Adapter
	registerer prometheus.Registerer
	sinkWriter io.Writer
}

// WithBuildLogger sets the adapter used for pipeline diagnostics.
func WithBuildLogger(logger logging.Adapter) BuildOption {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// WithPrometheusRegisterer registers the Prometheus pull reader with reg instead of a
// fresh registry.
func WithPrometheusRegisterer(reg prometheus.Registerer) BuildOption {
	return func(o *buildOptions) {
		o.registerer = reg
	}
}

// WithSinkOutput redirects the sink protocols to w.
func WithSinkOutput(w io.Writer) BuildOption {
	return func(o *buildOptions) {
		o.sinkWriter = w
	}
}

// Build assembles a Pipeline from configuration. Builder misuse surfaces as a returned
// *ConfigError instead of a panic; any other panic propagates.
func Build(ctx context.Context, cfg config.Config, opts ...BuildOption) (p *Pipeline, err error) {
	options := buildOptions{logger: logging.NewNoopAdapter()}
	for _, opt := range opts {
		opt(&options)
	}

	var builder *Builder

	defer func() {
		if r := recover(); r != nil {
			cfgErr, ok := r.(*ConfigError)
			if !ok {
				panic(r)
			}

			if builder != nil {
				//nolint:errcheck // the configuration error is the one worth reporting.
				_ = shutdownAll(builder.set.snapshot(), constants.DefaultShutdownTimeout)
			}

			p = nil
			err = cfgErr
		}
	}()

	pc := cfg.Pipeline

	protocol, err := ParseProtocol(pc.Protocol)
	if err != nil {
		return nil, err
	}

	attrs, err := AttributesFromConfig(ctx, cfg.Service)
	if err != nil {
		return nil, err
	}

	tlsCfg, err := TLSConfigFrom(pc.TLS)
	if err != nil && !errors.Is(err, ErrTLSNotEnabled) {
		return nil, err
	}

	// Everything that can fail is resolved before the first provider starts.
	var metricsSettings MetricsSettings
	if pc.Metrics.Enabled {
		metricsSettings, err = metricsSettingsFrom(pc.Metrics, options.registerer)
		if err != nil {
			return nil, err
		}
	}

	builder = NewBuilder(Destination{Protocol: protocol, URL: pc.URL}).
		WithLogger(options.logger).
		WithTimeout(pc.Timeout).
		WithCompression(pc.Compression).
		WithTLS(tlsCfg).
		WithSink(SinkSettings{
			MaxSizeMB:  pc.Sink.MaxSizeMB,
			MaxBackups: pc.Sink.MaxBackups,
			MaxAgeDays: pc.Sink.MaxAgeDays,
			Compress:   pc.Sink.Compress,
		})

	if pc.Batch.Enabled {
		builder.WithBatch(BatchSettings{
			MaxQueueSize:   pc.Batch.MaxQueueSize,
			MaxExportBatch: pc.Batch.MaxExportBatch,
			Interval:       pc.Batch.Timeout,
		})
	}

	if options.sinkWriter != nil {
		builder.WithSinkWriter(options.sinkWriter)
	}

	keys := make([]string, 0, len(pc.Headers))
	for k := range pc.Headers {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		builder.WithHeader(k, pc.Headers[k])
	}

	if pc.Logs.Enabled {
		builder.EnableLogs(attrs)
	}

	if pc.Trace.Enabled {
		settings := NewTraceSettings(pc.Trace.SampleRate, pc.Trace.RespectParent)
		settings.Limits = spanLimitsFrom(pc.Trace.Limits)
		builder.EnableTrace(attrs, settings)
	}

	if pc.Metrics.Enabled {
		builder.EnableMetrics(attrs, metricsSettings)
	}

	return builder.Finish(), nil
}

func spanLimitsFrom(cfg config.SpanLimitsConfig) SpanLimits {
	return SpanLimits{
		MaxEventsPerSpan:      cfg.MaxEventsPerSpan,
		MaxAttributesPerSpan:  cfg.MaxAttributesPerSpan,
		MaxLinksPerSpan:       cfg.MaxLinksPerSpan,
		MaxAttributesPerLink:  cfg.MaxAttributesPerLink,
		MaxAttributesPerEvent: cfg.MaxAttributesPerEvent,
	}
}

func metricsSettingsFrom(cfg config.MetricsConfig, reg prometheus.Registerer) (MetricsSettings, error) {
	temporality, err := ParseTemporality(cfg.Temporality)
	if err != nil {
		return MetricsSettings{}, ewrap.Wrap(err, "metrics temporality")
	}

	settings := MetricsSettings{
		Temporality:    temporality,
		Interval:       cfg.Interval,
		RuntimeMetrics: cfg.RuntimeMetrics,
	}

	if cfg.Prometheus {
		if reg == nil {
			reg = prometheus.NewRegistry()
		}

		settings.Prometheus = reg
	}

	return settings, nil
}
