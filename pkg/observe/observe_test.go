package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hyp3rd/otelpipe/pkg/config"
	"github.com/hyp3rd/otelpipe/pkg/dispatch"
	"github.com/hyp3rd/otelpipe/pkg/layer"
	"github.com/hyp3rd/otelpipe/pkg/logging"
	"github.com/hyp3rd/otelpipe/pkg/pipeline"
)

const configDigestErrorMsg = "configDigest returned error: %v"

func TestConfigDigestStable(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Service: config.ServiceConfig{
			Name:        "svc",
			Environment: "prod",
		},
	}

	first, err := configDigest(cfg)
	if err != nil {
		t.Fatalf(configDigestErrorMsg, err)
	}

	second, err := configDigest(cfg)
	if err != nil {
		t.Fatalf(configDigestErrorMsg, err)
	}

	if first != second {
		t.Fatalf("expected stable digest, got %s vs %s", first, second)
	}
}

func TestConfigDigestDiffers(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}

	initialDigest, err := configDigest(cfg)
	if err != nil {
		t.Fatalf(configDigestErrorMsg, err)
	}

	cfg.Service.Name = "svc"

	updatedDigest, err := configDigest(cfg)
	if err != nil {
		t.Fatalf(configDigestErrorMsg, err)
	}

	if initialDigest == updatedDigest {
		t.Fatal("expected different digests when config changes")
	}
}

var greeting = dispatch.Callsite("greeting", "otelpipe.observe.test", layer.LevelInfo, layer.CallsiteEvent)

func TestInitRoutesEventsToSink(t *testing.T) {
	t.Parallel()

	var out lockedBuffer

	client, err := Init(context.Background(),
		WithLoaders(stdoutLoader(func() string { return "svc" })),
		WithLogger(logging.NewNoopAdapter()),
		WithSinkOutput(&out),
	)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	client.Dispatcher().Event(context.Background(), greeting, "hello from the client")

	snapshot := client.Snapshot()
	if snapshot.Protocol != "stdout" || strings.Join(snapshot.Kinds, ",") != "logs" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	err = client.Shutdown(context.Background())
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if !strings.Contains(out.String(), "hello from the client") {
		t.Fatalf("event missing from sink output %q", out.String())
	}

	err = client.Shutdown(context.Background())
	if !errors.Is(err, pipeline.ErrAlreadyShutdown) {
		t.Fatalf("expected already shut down on second call, got %v", err)
	}
}

func TestReloadSkipsUnchangedConfig(t *testing.T) {
	t.Parallel()

	var name atomic.Value

	name.Store("svc")

	client, err := Init(context.Background(),
		WithLoaders(stdoutLoader(func() string { return name.Load().(string) })),
		WithLogger(logging.NewNoopAdapter()),
		WithSinkOutput(&lockedBuffer{}),
	)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	defer func() {
		_ = client.Shutdown(context.Background())
	}()

	first := client.Pipeline()
	dispatcher := client.Dispatcher()

	err = client.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if client.Pipeline() != first || client.Snapshot().ReloadCount != 0 {
		t.Fatal("unchanged configuration must not rebuild the pipeline")
	}

	name.Store("svc-renamed")

	err = client.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if client.Pipeline() == first {
		t.Fatal("expected a new pipeline after the configuration changed")
	}

	if client.Dispatcher() != dispatcher {
		t.Fatal("the dispatcher must survive reloads")
	}

	snapshot := client.Snapshot()
	if snapshot.ReloadCount != 1 || snapshot.ServiceName != "svc-renamed" || snapshot.LastReloadTime.IsZero() {
		t.Fatalf("unexpected snapshot after reload %+v", snapshot)
	}

	if err := first.Shutdown(0); !pipeline.IsAlreadyShutdown(err) {
		t.Fatalf("expected the replaced pipeline to be shut down, got %v", err)
	}
}

func TestReloadRacingShutdownDiscardsNewPipeline(t *testing.T) {
	t.Parallel()

	var (
		current atomic.Pointer[Client]
		loads   atomic.Int64
	)

	loader := config.LoaderFunc(func(ctx context.Context) (map[string]any, error) {
		if loads.Add(1) == 1 {
			return stdoutSettings("svc"), nil
		}

		// The client closes after the reload passed its own shutdown check.
		if err := current.Load().Shutdown(ctx); err != nil {
			return nil, err
		}

		return stdoutSettings("svc-renamed"), nil
	})

	client, err := Init(context.Background(),
		WithLoaders(loader),
		WithLogger(logging.NewNoopAdapter()),
		WithSinkOutput(&lockedBuffer{}),
	)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	current.Store(client)
	first := client.Pipeline()

	err = client.Reload(context.Background())
	if !errors.Is(err, pipeline.ErrAlreadyShutdown) {
		t.Fatalf("expected the reload to be abandoned, got %v", err)
	}

	if client.Pipeline() != first {
		t.Fatal("a closed client must not install a new pipeline")
	}

	snapshot := client.Snapshot()
	if snapshot.ReloadCount != 0 || snapshot.ServiceName != "svc" || !snapshot.Shutdown {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestOTelAdapterWritesIntoLogsSink(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Pipeline.Protocol = "stdout"
	cfg.Pipeline.Trace.Enabled = false
	cfg.Pipeline.Metrics.Enabled = false
	cfg.Logging.Adapter = "otel"

	var out lockedBuffer

	client, err := Init(context.Background(), WithConfig(cfg), WithSinkOutput(&out))
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := client.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if !strings.Contains(out.String(), `"message":"pipeline ready"`) {
		t.Fatalf("diagnostics missing from the logs sink %q", out.String())
	}
}

func TestExplicitLoggerOverridesOTelAdapter(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Pipeline.Protocol = "stdout"
	cfg.Pipeline.Trace.Enabled = false
	cfg.Pipeline.Metrics.Enabled = false
	cfg.Logging.Adapter = "otel"

	var out lockedBuffer

	client, err := Init(context.Background(), WithConfig(cfg), WithSinkOutput(&out), WithLogger(nil))
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := client.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if strings.Contains(out.String(), "pipeline ready") {
		t.Fatalf("diagnostics must not reach the sink with an explicit logger, got %q", out.String())
	}
}

func TestInitRejectsInvalidMinLevel(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Pipeline.Protocol = "stdout"
	cfg.Pipeline.Logs.MinLevel = "loud"

	_, err := Init(context.Background(), WithConfig(cfg), WithLogger(nil))
	if err == nil {
		t.Fatal("expected an error for an unknown min level")
	}
}

func TestInstrumentationFollowsConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Pipeline.Protocol = "stdout"
	cfg.Pipeline.Metrics.Enabled = false
	cfg.Instrumentation.HTTP.Enabled = false

	client, err := Init(context.Background(), WithConfig(cfg), WithLogger(nil), WithSinkOutput(&lockedBuffer{}))
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	defer func() {
		_ = client.Shutdown(context.Background())
	}()

	if client.HTTPMiddleware() != nil {
		t.Fatal("expected no HTTP middleware when disabled")
	}

	interceptors, ok := client.GRPCInterceptors()
	if !ok || interceptors.UnaryServer() == nil {
		t.Fatal("expected gRPC interceptors when enabled")
	}

	if client.SQL() == nil {
		t.Fatal("expected a SQL helper when enabled")
	}
}

func stdoutLoader(name func() string) config.Loader {
	return config.LoaderFunc(func(context.Context) (map[string]any, error) {
		return stdoutSettings(name()), nil
	})
}

func stdoutSettings(name string) map[string]any {
	return map[string]any{
		"service": map[string]any{"name": name},
		"pipeline": map[string]any{
			"protocol": "stdout",
			"batch":    map[string]any{"enabled": false},
			"logs":     map[string]any{"enabled": true, "min_level": "info"},
			"trace":    map[string]any{"enabled": false},
			"metrics":  map[string]any{"enabled": false},
		},
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
