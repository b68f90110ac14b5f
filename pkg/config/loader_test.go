package config_test

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/hyp3rd/otelpipe/pkg/config"
)

func TestLoadLayers(t *testing.T) {
	t.Setenv("OTELPIPE_SERVICE__NAME", "env-service")
	t.Setenv("OTELPIPE_PIPELINE__METRICS__ENABLED", "false")
	t.Setenv("OTELPIPE_PIPELINE__HEADERS__AUTHORIZATION", "Bearer abc")
	t.Setenv("OTELPIPE_INSTRUMENTATION__HTTP__IGNORED_ROUTES", "/healthz,/readyz")

	fs := fstest.MapFS{
		config.DefaultFile: {
			Data: []byte(`
service:
  name: file-service
  environment: staging
pipeline:
  protocol: http/json
  url: http://collector:4318/
  timeout: 3s
  trace:
    sample_rate: 0.5
`),
		},
	}

	cfg, err := config.Load(context.Background(),
		config.FileLoader{FS: fs},
		config.EnvLoader{},
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Service.Name != "env-service" {
		t.Fatalf("expected env override for service.name, got %q", cfg.Service.Name)
	}

	if cfg.Service.Environment != "staging" {
		t.Fatalf("expected service.environment from file, got %q", cfg.Service.Environment)
	}

	if cfg.Pipeline.URL != "http://collector:4318/" || cfg.Pipeline.Protocol != "http/json" {
		t.Fatalf("expected destination from file, got %q %q", cfg.Pipeline.Protocol, cfg.Pipeline.URL)
	}

	if cfg.Pipeline.Timeout != 3*time.Second {
		t.Fatalf("expected timeout from file, got %v", cfg.Pipeline.Timeout)
	}

	if cfg.Pipeline.Trace.SampleRate != 0.5 {
		t.Fatalf("expected sample rate from file, got %v", cfg.Pipeline.Trace.SampleRate)
	}

	if !cfg.Pipeline.Compression {
		t.Fatal("expected compression default to survive layering")
	}

	if cfg.Pipeline.Metrics.Enabled {
		t.Fatal("expected metrics disabled by env override")
	}

	if got := cfg.Pipeline.Headers["authorization"]; got != "Bearer abc" {
		t.Fatalf("expected header from env, got %q", got)
	}

	if got := cfg.Instrumentation.HTTP.IgnoredRoutes; len(got) != 2 || got[0] != "/healthz" || got[1] != "/readyz" {
		t.Fatalf("unexpected ignored routes: %#v", got)
	}
}

func TestLoadMissingFileIsSkipped(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(context.Background(), config.FileLoader{FS: fstest.MapFS{}})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Pipeline.Protocol != "grpc" {
		t.Fatalf("expected default protocol, got %q", cfg.Pipeline.Protocol)
	}
}

func TestValidateRejectsUnknownProtocol(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Pipeline.Protocol = "carrier-pigeon"

	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected validation error for unknown protocol")
	}

	cfg = config.DefaultConfig()
	cfg.Pipeline.Metrics.Temporality = "sideways"

	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected validation error for unknown temporality")
	}
}

func TestValidateStdoutNeedsNoURL(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Pipeline.Protocol = "stdout"
	cfg.Pipeline.URL = ""

	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestEnvLoaderFollowsConfigShape(t *testing.T) {
	t.Parallel()

	environ := func() []string {
		return []string{
			"OTELPIPE_PIPELINE__HEADERS__X.TRACE.TOKEN=dotted",
			"OTELPIPE_PIPELINE__HEADERS__X-API-KEY=dashed",
			"OTELPIPE_SERVICE__ATTRIBUTES__DEPLOYMENT__REGION=eu-west-1",
			"OTELPIPE_INSTRUMENTATION__SQL__COLLECT_QUERIES=true",
			"OTELPIPE_INSTRUMENTATION__GRPC__METADATA_ALLOWLIST= x-request-id , ,tenant ",
			"OTELPIPE_PIPELINE__TRACE__SAMPLE_RATE=0.25",
			"UNRELATED=1",
		}
	}

	cfg, err := config.Load(context.Background(), config.EnvLoader{Environ: environ})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if got := cfg.Pipeline.Headers["x.trace.token"]; got != "dotted" {
		t.Fatalf("expected dotted header key, got %#v", cfg.Pipeline.Headers)
	}

	if got := cfg.Pipeline.Headers["x-api-key"]; got != "dashed" {
		t.Fatalf("expected dashed header key, got %#v", cfg.Pipeline.Headers)
	}

	if got := cfg.Service.Attributes["deployment.region"]; got != "eu-west-1" {
		t.Fatalf("expected nested segments joined into one attribute key, got %#v", cfg.Service.Attributes)
	}

	if !cfg.Instrumentation.SQL.CollectQueries {
		t.Fatal("expected sql query collection enabled from env")
	}

	if got := cfg.Instrumentation.GRPC.MetadataAllowlist; len(got) != 2 || got[0] != "x-request-id" || got[1] != "tenant" {
		t.Fatalf("unexpected metadata allowlist: %#v", got)
	}

	if cfg.Pipeline.Trace.SampleRate != 0.25 {
		t.Fatalf("expected sample rate from env, got %v", cfg.Pipeline.Trace.SampleRate)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		loader config.Loader
	}{
		{
			name: "env",
			loader: config.EnvLoader{Environ: func() []string {
				return []string{"OTELPIPE_PIPELINE__TRACE__SAMPLING=0.5"}
			}},
		},
		{
			name: "file",
			loader: config.FileLoader{FS: fstest.MapFS{
				config.DefaultFile: {Data: []byte("pipeline:\n  protocl: grpc\n")},
			}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := config.Load(context.Background(), tc.loader); err == nil {
				t.Fatal("expected an error for a key that names no field")
			}
		})
	}
}

func TestLoadValidatesLayeredResult(t *testing.T) {
	t.Parallel()

	loader := config.LoaderFunc(func(context.Context) (map[string]any, error) {
		return map[string]any{"pipeline": map[string]any{"protocol": "carrier-pigeon"}}, nil
	})

	if _, err := config.Load(context.Background(), loader); err == nil {
		t.Fatal("expected validation to reject the layered protocol")
	}
}

func TestEnvLoaderWithoutMatchesIsSkipped(t *testing.T) {
	t.Parallel()

	loader := config.EnvLoader{Prefix: "NOPE_", Environ: func() []string { return []string{"OTELPIPE_SERVICE__NAME=x"} }}

	if _, err := loader.Load(context.Background()); !errors.Is(err, config.ErrSourceAbsent) {
		t.Fatalf("expected ErrSourceAbsent, got %v", err)
	}
}
