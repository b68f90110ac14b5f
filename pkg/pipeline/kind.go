package pipeline

import (
	"context"

	"github.com/hyp3rd/ewrap"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	runtimemetrics "go.opentelemetry.io/contrib/instrumentation/runtime"
)

// exporter is what every per-kind exporter can do regardless of its kind.
type exporter interface {
	Shutdown(ctx context.Context) error
}

// kindDescriptor parameterizes the single construction algorithm in enable over one
// telemetry kind: which transport factory to use, how to attach exporter statistics and
// how to wrap the exporter into a provider.
type kindDescriptor[E exporter, S any] struct {
	kind      Kind
	factory   func(*transport) exporterFactory[E, S]
	withStats func(E, *exporterStats) E
	assemble  func(exp E, attrs *Attributes, settings S, cfg exportConfig) (*managedProvider, error)
}

var logsKind = kindDescriptor[sdklog.Exporter, struct{}]{
	kind:    KindLogs,
	factory: func(t *transport) exporterFactory[sdklog.Exporter, struct{}] { return t.logs },
	withStats: func(exp sdklog.Exporter, stats *exporterStats) sdklog.Exporter {
		return &logExporterWithStats{inner: exp, stats: stats}
	},
	assemble: assembleLogs,
}

var traceKind = kindDescriptor[sdktrace.SpanExporter, TraceSettings]{
	kind:    KindTrace,
	factory: func(t *transport) exporterFactory[sdktrace.SpanExporter, TraceSettings] { return t.trace },
	withStats: func(exp sdktrace.SpanExporter, stats *exporterStats) sdktrace.SpanExporter {
		return &spanExporterWithStats{inner: exp, stats: stats}
	},
	assemble: assembleTrace,
}

var metricsKind = kindDescriptor[sdkmetric.Exporter, MetricsSettings]{
	kind:    KindMetrics,
	factory: func(t *transport) exporterFactory[sdkmetric.Exporter, MetricsSettings] { return t.metrics },
	withStats: func(exp sdkmetric.Exporter, stats *exporterStats) sdkmetric.Exporter {
		return &metricExporterWithStats{inner: exp, stats: stats}
	},
	assemble: assembleMetrics,
}

func assembleLogs(exp sdklog.Exporter, attrs *Attributes, _ struct{}, cfg exportConfig) (*managedProvider, error) {
	watch := &shutdownWatch{}
	opts := []sdklog.LoggerProviderOption{
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp, logBatchOptions(cfg)...)),
		sdklog.WithProcessor(watch),
	}

	if res := attrs.Resource(); res != nil {
		opts = append(opts, sdklog.WithResource(res))
	}

	return &managedProvider{
		kind:  KindLogs,
		logs:  sdklog.NewLoggerProvider(opts...),
		watch: watch,
	}, nil
}

func logBatchOptions(cfg exportConfig) []sdklog.BatchProcessorOption {
	var opts []sdklog.BatchProcessorOption
	if cfg.timeout > 0 {
		opts = append(opts, sdklog.WithExportTimeout(cfg.timeout))
	}

	if cfg.batch.MaxQueueSize > 0 {
		opts = append(opts, sdklog.WithMaxQueueSize(cfg.batch.MaxQueueSize))
	}

	if cfg.batch.MaxExportBatch > 0 {
		opts = append(opts, sdklog.WithExportMaxBatchSize(cfg.batch.MaxExportBatch))
	}

	if cfg.batch.Interval > 0 {
		opts = append(opts, sdklog.WithExportInterval(cfg.batch.Interval))
	}

	return opts
}

// assembleTrace relies on the SDK default ID generator, which draws random trace and span IDs.
func assembleTrace(exp sdktrace.SpanExporter, attrs *Attributes, settings TraceSettings, cfg exportConfig) (*managedProvider, error) {
	watch := &shutdownWatch{}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exp, spanBatchOptions(cfg)...),
		sdktrace.WithSpanProcessor(watch),
		sdktrace.WithSampler(settings.sampler()),
	}

	if res := attrs.Resource(); res != nil {
		opts = append(opts, sdktrace.WithResource(res))
	}

	if limits, ok := settings.Limits.sdkLimits(); ok {
		opts = append(opts, sdktrace.WithRawSpanLimits(limits))
	}

	return &managedProvider{
		kind:  KindTrace,
		trace: sdktrace.NewTracerProvider(opts...),
		watch: watch,
	}, nil
}

func spanBatchOptions(cfg exportConfig) []sdktrace.BatchSpanProcessorOption {
	var opts []sdktrace.BatchSpanProcessorOption
	if cfg.timeout > 0 {
		opts = append(opts, sdktrace.WithExportTimeout(cfg.timeout))
	}

	if cfg.batch.MaxQueueSize > 0 {
		opts = append(opts, sdktrace.WithMaxQueueSize(cfg.batch.MaxQueueSize))
	}

	if cfg.batch.MaxExportBatch > 0 {
		opts = append(opts, sdktrace.WithMaxExportBatchSize(cfg.batch.MaxExportBatch))
	}

	if cfg.batch.Interval > 0 {
		opts = append(opts, sdktrace.WithBatchTimeout(cfg.batch.Interval))
	}

	return opts
}

func assembleMetrics(exp sdkmetric.Exporter, attrs *Attributes, settings MetricsSettings, cfg exportConfig) (*managedProvider, error) {
	// The pull reader is created first: it is the only reader that can fail and the
	// periodic reader starts exporting as soon as it exists.
	var pull sdkmetric.Reader

	if settings.Prometheus != nil {
		reader, err := otelprom.New(otelprom.WithRegisterer(settings.Prometheus))
		if err != nil {
			return nil, ewrap.Wrap(err, "create prometheus reader")
		}

		pull = reader
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{sdkmetric.WithInterval(settings.interval())}
	if cfg.timeout > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithTimeout(cfg.timeout))
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
	}

	if pull != nil {
		opts = append(opts, sdkmetric.WithReader(pull))
	}

	if res := attrs.Resource(); res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}

	provider := sdkmetric.NewMeterProvider(opts...)

	if settings.RuntimeMetrics {
		err := runtimemetrics.Start(runtimemetrics.WithMeterProvider(provider))
		if err != nil {
			shutdownErr := provider.Shutdown(context.Background())
			if shutdownErr != nil {
				return nil, ewrap.Wrap(shutdownErr, "release meter provider after runtime metrics failure")
			}

			return nil, ewrap.Wrap(err, "start runtime metrics")
		}
	}

	return &managedProvider{
		kind:    KindMetrics,
		metrics: provider,
	}, nil
}
