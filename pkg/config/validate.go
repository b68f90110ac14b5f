package config

import (
	"sort"
	"strings"

	"github.com/hyp3rd/ewrap"
)

// protocolSpellings maps every accepted pipeline.protocol spelling to its canonical name.
var protocolSpellings = map[string]string{
	"grpc":          "grpc",
	"http":          "http_binary",
	"http/protobuf": "http_binary",
	"http_binary":   "http_binary",
	"http/json":     "http_json",
	"http_json":     "http_json",
	"agent":         "agent",
	"file":          "file",
	"stdout":        "stdout",
	"kafka":         "kafka",
}

// CanonicalProtocol returns the canonical name of a pipeline.protocol spelling.
func CanonicalProtocol(value string) (string, bool) {
	canonical, ok := protocolSpellings[strings.ToLower(strings.TrimSpace(value))]

	return canonical, ok
}

// ProtocolSpellings lists every accepted pipeline.protocol spelling.
func ProtocolSpellings() []string {
	out := make([]string, 0, len(protocolSpellings))
	for spelling := range protocolSpellings {
		out = append(out, spelling)
	}

	sort.Strings(out)

	return out
}

// Validate asserts that the config meets baseline expectations.
func Validate(cfg Config) error {
	if cfg.Service.Name == "" {
		return invalidConfigError("service.name is required")
	}

	protocol, ok := CanonicalProtocol(cfg.Pipeline.Protocol)
	if !ok {
		return invalidConfigError("unsupported pipeline.protocol %q", cfg.Pipeline.Protocol)
	}

	if cfg.Pipeline.URL == "" && protocol != "stdout" {
		return invalidConfigError("pipeline.url is required")
	}

	if cfg.Pipeline.Timeout < 0 {
		return invalidConfigError("pipeline.timeout must not be negative")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Pipeline.Metrics.Temporality)) {
	case "", "cumulative", "delta", "low_memory", "lowmemory":
	default:
		return invalidConfigError("unsupported pipeline.metrics.temporality %q", cfg.Pipeline.Metrics.Temporality)
	}

	for _, level := range []string{cfg.Pipeline.Logs.MinLevel, cfg.Pipeline.Trace.MinLevel} {
		switch strings.ToLower(strings.TrimSpace(level)) {
		case "", "trace", "debug", "info", "warn", "warning", "error", "off", "none":
		default:
			return invalidConfigError("unsupported min_level %q", level)
		}
	}

	return nil
}

func invalidConfigError(format string, args ...any) error {
	return ewrap.Newf("invalid configuration: "+format, args...)
}
