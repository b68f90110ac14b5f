package config

import (
	"github.com/hyp3rd/otelpipe/internal/constants"
)

const (
	defaultMaxExportBatch = 512
	defaultMaxQueueSize   = 2048
	defaultSinkMaxSizeMB  = 100
	defaultSinkBackups    = 5
	defaultSinkMaxAgeDays = 30
)

// DefaultConfig returns a Config populated with production-safe defaults.
func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "otelpipe-service",
			Namespace:   "default",
			Version:     "0.0.1",
			Environment: "development",
			Attributes:  map[string]string{},
		},
		Pipeline: PipelineConfig{
			Protocol:    "grpc",
			URL:         "http://localhost:4317",
			Headers:     map[string]string{},
			Timeout:     constants.DefaultTimeout,
			Compression: true,
			Batch: BatchConfig{
				Enabled:        true,
				MaxExportBatch: defaultMaxExportBatch,
				Timeout:        constants.DefaultTimeout,
				MaxQueueSize:   defaultMaxQueueSize,
			},
			Sink: SinkConfig{
				MaxSizeMB:  defaultSinkMaxSizeMB,
				MaxBackups: defaultSinkBackups,
				MaxAgeDays: defaultSinkMaxAgeDays,
				Compress:   true,
			},
			Logs: LogsConfig{
				Enabled:  true,
				MinLevel: "info",
			},
			Trace: TraceConfig{
				Enabled:       true,
				SampleRate:    1.0,
				RespectParent: true,
				Limits: SpanLimitsConfig{
					MaxEventsPerSpan:      constants.DefaultSpanLimit,
					MaxAttributesPerSpan:  constants.DefaultSpanLimit,
					MaxLinksPerSpan:       constants.DefaultSpanLimit,
					MaxAttributesPerLink:  constants.DefaultSpanLimit,
					MaxAttributesPerEvent: constants.DefaultSpanLimit,
				},
			},
			Metrics: MetricsConfig{
				Enabled:        true,
				Temporality:    "cumulative",
				Interval:       constants.DefaultMetricsInterval,
				RuntimeMetrics: false,
				Prometheus:     false,
			},
		},
		Instrumentation: InstrumentationConfig{
			HTTP: HTTPInstrumentationConfig{
				Enabled: true,
			},
			GRPC: GRPCInstrumentationConfig{
				Enabled: true,
			},
			SQL: SQLInstrumentationConfig{
				Enabled: true,
			},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Adapter:     "slog",
			SampleRatio: 1.0,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:  false,
			HTTPAddr: "127.0.0.1:14271",
		},
	}
}
