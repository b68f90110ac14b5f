// Package config defines the configuration structures for the application.
package config

import (
	"time"
)

// Config is the canonical configuration consumed by the otelpipe client.
type Config struct {
	Service         ServiceConfig         `yaml:"service"         json:"service"`
	Pipeline        PipelineConfig        `yaml:"pipeline"        json:"pipeline"`
	Instrumentation InstrumentationConfig `yaml:"instrumentation" json:"instrumentation"`
	Logging         LoggingConfig         `yaml:"logging"         json:"logging"`
	Diagnostics     DiagnosticsConfig     `yaml:"diagnostics"     json:"diagnostics"`
}

// ServiceConfig captures metadata propagated as OTEL resource attributes.
type ServiceConfig struct {
	Name        string            `yaml:"name"        json:"name"`
	Namespace   string            `yaml:"namespace"   json:"namespace"`
	Version     string            `yaml:"version"     json:"version"`
	Environment string            `yaml:"environment" json:"environment"`
	Attributes  map[string]string `yaml:"attributes"  json:"attributes"`
}

// BatchConfig defines batch processor settings shared by the logs and trace pipelines.
type BatchConfig struct {
	Enabled        bool          `yaml:"enabled"          json:"enabled"`
	MaxExportBatch int           `yaml:"max_export_batch" json:"max_export_batch"`
	Timeout        time.Duration `yaml:"timeout"          json:"timeout"`
	MaxQueueSize   int           `yaml:"max_queue_size"   json:"max_queue_size"`
}

// TLSConfig encapsulates TLS dial settings.
type TLSConfig struct {
	CAFile   string `yaml:"ca_file"   json:"ca_file"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file"  json:"key_file"`
	Insecure bool   `yaml:"insecure"  json:"insecure"`
}

// LoggingConfig controls the diagnostics logger used by otelpipe itself.
type LoggingConfig struct {
	Level       string  `yaml:"level"        json:"level"`
	Format      string  `yaml:"format"       json:"format"`
	Adapter     string  `yaml:"adapter"      json:"adapter"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

// DiagnosticsConfig toggles self-observation endpoints.
type DiagnosticsConfig struct {
	Enabled   bool   `yaml:"enabled"    json:"enabled"`
	HTTPAddr  string `yaml:"http_addr"  json:"http_addr"`
	AuthToken string `yaml:"auth_token" json:"auth_token"`
}
