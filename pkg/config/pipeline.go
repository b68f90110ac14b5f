package config

import "time"

// PipelineConfig describes the export destination and the telemetry kinds to enable.
type PipelineConfig struct {
	Protocol    string            `yaml:"protocol"    json:"protocol"`
	URL         string            `yaml:"url"         json:"url"`
	Headers     map[string]string `yaml:"headers"     json:"headers"`
	Timeout     time.Duration     `yaml:"timeout"     json:"timeout"`
	Compression bool              `yaml:"compression" json:"compression"`
	TLS         TLSConfig         `yaml:"tls"         json:"tls"`
	Batch       BatchConfig       `yaml:"batch"       json:"batch"`
	Sink        SinkConfig        `yaml:"sink"        json:"sink"`
	Logs        LogsConfig        `yaml:"logs"        json:"logs"`
	Trace       TraceConfig       `yaml:"trace"       json:"trace"`
	Metrics     MetricsConfig     `yaml:"metrics"     json:"metrics"`
}

// SinkConfig tunes the file rotation of the file sink.
type SinkConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"  json:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"  json:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool `yaml:"compress"     json:"compress"`
}

// LogsConfig enables the logs pipeline.
type LogsConfig struct {
	Enabled  bool   `yaml:"enabled"   json:"enabled"`
	MinLevel string `yaml:"min_level" json:"min_level"`
}

// TraceConfig enables the trace pipeline and carries its sampling policy.
type TraceConfig struct {
	Enabled       bool             `yaml:"enabled"        json:"enabled"`
	SampleRate    float64          `yaml:"sample_rate"    json:"sample_rate"`
	RespectParent bool             `yaml:"respect_parent" json:"respect_parent"`
	MinLevel      string           `yaml:"min_level"      json:"min_level"`
	Limits        SpanLimitsConfig `yaml:"limits"         json:"limits"`
}

// SpanLimitsConfig mirrors the SDK span limits.
type SpanLimitsConfig struct {
	MaxEventsPerSpan      int `yaml:"max_events_per_span"      json:"max_events_per_span"`
	MaxAttributesPerSpan  int `yaml:"max_attributes_per_span"  json:"max_attributes_per_span"`
	MaxLinksPerSpan       int `yaml:"max_links_per_span"       json:"max_links_per_span"`
	MaxAttributesPerLink  int `yaml:"max_attributes_per_link"  json:"max_attributes_per_link"`
	MaxAttributesPerEvent int `yaml:"max_attributes_per_event" json:"max_attributes_per_event"`
}

// MetricsConfig enables the metrics pipeline.
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"         json:"enabled"`
	Temporality    string        `yaml:"temporality"     json:"temporality"`
	Interval       time.Duration `yaml:"interval"        json:"interval"`
	RuntimeMetrics bool          `yaml:"runtime_metrics" json:"runtime_metrics"`
	Prometheus     bool          `yaml:"prometheus"      json:"prometheus"`
}
