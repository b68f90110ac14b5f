// Package observe wires configuration, the export pipeline and the instrumentation
// dispatcher together and keeps them current as the configuration file changes.
package observe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyp3rd/ewrap"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/otelpipe/internal/constants"
	"github.com/hyp3rd/otelpipe/pkg/config"
	"github.com/hyp3rd/otelpipe/pkg/diagnostics"
	"github.com/hyp3rd/otelpipe/pkg/dispatch"
	"github.com/hyp3rd/otelpipe/pkg/layer"
	"github.com/hyp3rd/otelpipe/pkg/logging"
	"github.com/hyp3rd/otelpipe/pkg/pipeline"
)

// Client owns the active pipeline and the dispatcher that feeds it.
type Client struct {
	mu         sync.RWMutex
	pipeline   *pipeline.Pipeline
	cfg        config.Config
	digest     string
	lastReload time.Time

	dispatcher *dispatch.Dispatcher
	guard      *dispatch.Guard
	diag       *diagnostics.Server

	// logger follows the active pipeline when logging.adapter is "otel"; fallback is the
	// adapter it returns to when no logs provider is available.
	logger   *logging.Switch
	fallback logging.Adapter

	opts        options
	startTime   time.Time
	reloads     atomic.Int64
	shutdown    atomic.Bool
	watchCancel context.CancelFunc
}

// Init bootstraps the pipeline from configuration sources.
// Callers must invoke Shutdown when finished.
func Init(ctx context.Context, opts ...Option) (*Client, error) {
	settings := defaultOptions()
	for _, opt := range opts {
		opt(&settings)
	}

	cfg, err := settings.loadConfig(ctx)
	if err != nil {
		return nil, ewrap.Wrap(err, "load config")
	}

	digest, err := configDigest(cfg)
	if err != nil {
		return nil, err
	}

	fallback := settings.diagnosticsLogger(cfg)
	client := &Client{
		opts:      settings,
		logger:    logging.NewSwitch(fallback),
		fallback:  fallback,
		startTime: time.Now(),
	}

	p, composite, err := client.build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client.pipeline = p
	client.cfg = cfg
	client.digest = digest
	client.dispatcher = dispatch.New(composite)

	if settings.global {
		guard, err := dispatch.Install(client.dispatcher)
		if err != nil {
			client.shutdownPipeline(ctx, p)

			return nil, ewrap.Wrap(err, "install dispatcher")
		}

		client.guard = guard
	}

	client.logger.Set(settings.pipelineLogger(cfg, p, fallback))

	if cfg.Diagnostics.Enabled {
		client.diag = diagnostics.NewServer(cfg.Diagnostics, client, client.logger)

		err = client.diag.Start(context.WithoutCancel(ctx))
		if err != nil {
			client.logger.Error(ctx, err, "diagnostics server disabled")
		}
	}

	err = client.startConfigWatcher(ctx)
	if err != nil {
		client.logger.Error(ctx, err, "config watcher disabled")
	}

	client.logger.Info(ctx, "pipeline ready",
		attribute.String("protocol", p.Destination().Protocol.String()),
		attribute.StringSlice("kinds", kindNames(p.Kinds())),
	)

	return client, nil
}

func (c *Client) build(ctx context.Context, cfg config.Config) (*pipeline.Pipeline, *layer.Composite, error) {
	logsLevel, err := layer.ParseLevel(cfg.Pipeline.Logs.MinLevel)
	if err != nil {
		return nil, nil, ewrap.Wrap(err, "logs min level")
	}

	traceLevel, err := layer.ParseLevel(cfg.Pipeline.Trace.MinLevel)
	if err != nil {
		return nil, nil, ewrap.Wrap(err, "trace min level")
	}

	buildOpts := []pipeline.BuildOption{pipeline.WithBuildLogger(c.logger)}
	if c.opts.sinkOutput != nil {
		buildOpts = append(buildOpts, pipeline.WithSinkOutput(c.opts.sinkOutput))
	}

	p, err := pipeline.Build(ctx, cfg, buildOpts...)
	if err != nil {
		return nil, nil, ewrap.Wrap(err, "build pipeline")
	}

	composite := layer.FromPipeline(p,
		layer.WithLogsOptions(layer.WithMinLevel(logsLevel)),
		layer.WithTraceOptions(layer.WithMinLevel(traceLevel)),
	)

	return p, composite, nil
}

// Dispatcher returns the dispatcher fed by the client. It stays the same across reloads.
func (c *Client) Dispatcher() *dispatch.Dispatcher {
	return c.dispatcher
}

// Pipeline returns the active pipeline.
func (c *Client) Pipeline() *pipeline.Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pipeline
}

// Config returns the active configuration snapshot.
func (c *Client) Config() config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.cfg
}

// Reload reloads configuration and rebuilds the pipeline when it changed.
func (c *Client) Reload(ctx context.Context) error {
	if c.shutdown.Load() {
		return ewrap.Wrap(pipeline.ErrAlreadyShutdown, "reload")
	}

	cfg, err := c.opts.loadConfig(ctx)
	if err != nil {
		return ewrap.Wrap(err, "reload config")
	}

	digest, err := configDigest(cfg)
	if err != nil {
		return err
	}

	c.mu.RLock()
	unchanged := digest == c.digest
	c.mu.RUnlock()

	if unchanged {
		c.logger.Debug(ctx, "configuration unchanged")

		return nil
	}

	p, composite, err := c.build(ctx, cfg)
	if err != nil {
		return err
	}

	fallback := c.opts.diagnosticsLogger(cfg)

	c.mu.Lock()

	// Shutdown may have run while the new pipeline was being built.
	if c.shutdown.Load() {
		c.mu.Unlock()
		c.shutdownPipeline(ctx, p)

		return ewrap.Wrap(pipeline.ErrAlreadyShutdown, "reload")
	}

	old := c.pipeline
	c.pipeline = p
	c.cfg = cfg
	c.digest = digest
	c.lastReload = time.Now()
	c.fallback = fallback
	c.dispatcher.SetLayer(composite)
	c.logger.Set(c.opts.pipelineLogger(cfg, p, fallback))
	c.mu.Unlock()

	c.reloads.Add(1)
	c.shutdownPipeline(ctx, old)

	c.logger.Info(ctx, "pipeline reloaded", attribute.Int64("reloads", c.reloads.Load()))

	return nil
}

// Shutdown flushes telemetry, stops watchers, and releases resources.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.shutdown.CompareAndSwap(false, true) {
		return ewrap.Wrap(pipeline.ErrAlreadyShutdown, "client")
	}

	if c.watchCancel != nil {
		c.watchCancel()
	}

	if c.guard != nil {
		c.guard.Release()
	}

	var diagErr error
	if c.diag != nil {
		diagErr = c.diag.Shutdown(ctx)
	}

	c.mu.Lock()
	p := c.pipeline
	c.dispatcher.SetLayer(nil)
	// The pipeline cannot report its own shutdown into the provider being shut down.
	c.logger.Set(c.fallback)
	c.mu.Unlock()

	err := p.Shutdown(shutdownLimit(ctx))
	if err != nil {
		return ewrap.Wrap(err, "shutdown pipeline")
	}

	return diagErr
}

// Snapshot implements diagnostics.SnapshotProvider.
func (c *Client) Snapshot() diagnostics.Snapshot {
	c.mu.RLock()
	p := c.pipeline
	cfg := c.cfg
	lastReload := c.lastReload
	c.mu.RUnlock()

	dest := p.Destination()
	stats := p.Stats()

	exporters := make([]diagnostics.ExporterStatus, 0, len(stats))
	for _, st := range stats {
		exporters = append(exporters, diagnostics.ExporterStatus{
			Kind:          st.Kind,
			Protocol:      st.Protocol,
			Endpoint:      st.Endpoint,
			Exported:      st.Exported,
			Dropped:       st.Dropped,
			LastError:     st.LastError,
			LastErrorTime: st.LastErrorTime,
		})
	}

	return diagnostics.Snapshot{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		Protocol:       dest.Protocol.String(),
		Destination:    dest.URL,
		Kinds:          kindNames(p.Kinds()),
		Exporters:      exporters,
		StartTime:      c.startTime,
		LastReloadTime: lastReload,
		ReloadCount:    c.reloads.Load(),
		Shutdown:       c.shutdown.Load(),
	}
}

// Gatherer implements diagnostics.GathererProvider.
func (c *Client) Gatherer() prometheus.Gatherer {
	return c.Pipeline().Gatherer()
}

func (c *Client) shutdownPipeline(ctx context.Context, p *pipeline.Pipeline) {
	if p == nil {
		return
	}

	err := p.Shutdown(constants.DefaultShutdownTimeout)
	if err != nil {
		c.logger.Error(ctx, err, "shutdown previous pipeline")
	}
}

func (c *Client) startConfigWatcher(ctx context.Context) error {
	if !c.opts.watchConfig {
		return nil
	}

	path := c.opts.fileWatcherPath()
	if path == "" {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return ewrap.Wrap(err, "resolve config path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ewrap.Wrap(err, "create config watcher")
	}

	err = watcher.Add(filepath.Dir(abs))
	if err != nil {
		closeErr := watcher.Close()
		if closeErr != nil {
			c.logger.Error(ctx, closeErr, "close config watcher after add failure")
		}

		return ewrap.Wrap(err, "watch config directory")
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.watchCancel = cancel
	go c.watchLoop(ctx, watcher, abs)

	return nil
}

// watchLoop rebuilds the pipeline whenever the watched file is written or replaced.
//
//nolint:revive // cognitive-complexity: Breaking this up would reduce clarity.
func (c *Client) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string) {
	defer func() {
		closeErr := watcher.Close()
		if closeErr != nil {
			c.logger.Error(ctx, closeErr, "close config watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Name != target {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			c.logger.Info(ctx, "configuration change detected", attribute.String("path", target))

			if err := c.Reload(ctx); err != nil {
				c.logger.Error(ctx, err, "pipeline reload failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			c.logger.Error(ctx, err, "config watcher error")
		}
	}
}

// configDigest fingerprints cfg so that rewrites of identical content do not rebuild.
func configDigest(cfg config.Config) (string, error) {
	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(cfg)
	if err != nil {
		return "", ewrap.Wrap(err, "marshal config digest")
	}

	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:]), nil
}

func shutdownLimit(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return constants.DefaultShutdownTimeout
	}

	limit := time.Until(deadline)
	if limit <= 0 {
		return time.Millisecond
	}

	return limit
}

func kindNames(kinds []pipeline.Kind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, k.String())
	}

	return out
}
