package config

// InstrumentationConfig toggles the bundled server instrumentation.
type InstrumentationConfig struct {
	HTTP HTTPInstrumentationConfig `yaml:"http" json:"http"`
	GRPC GRPCInstrumentationConfig `yaml:"grpc" json:"grpc"`
	SQL  SQLInstrumentationConfig  `yaml:"sql"  json:"sql"`
}

// HTTPInstrumentationConfig configures HTTP middleware.
type HTTPInstrumentationConfig struct {
	Enabled       bool     `yaml:"enabled"        json:"enabled"`
	IgnoredRoutes []string `yaml:"ignored_routes" json:"ignored_routes"`
}

// GRPCInstrumentationConfig configures gRPC interceptors.
type GRPCInstrumentationConfig struct {
	Enabled           bool     `yaml:"enabled"            json:"enabled"`
	MetadataAllowlist []string `yaml:"metadata_allowlist" json:"metadata_allowlist"`
}

// SQLInstrumentationConfig configures database/sql instrumentation.
type SQLInstrumentationConfig struct {
	Enabled        bool `yaml:"enabled"         json:"enabled"`
	CollectQueries bool `yaml:"collect_queries" json:"collect_queries"`
}
