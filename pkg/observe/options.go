package observe

import (
	"context"
	"io"

	"github.com/hyp3rd/otelpipe/pkg/config"
	"github.com/hyp3rd/otelpipe/pkg/logging"
	"github.com/hyp3rd/otelpipe/pkg/pipeline"
)

// Option mutates initialization settings.
type Option func(*options)

type options struct {
	overrideConfig *config.Config
	loaders        []config.Loader
	logger         logging.Adapter
	loggerOverride bool
	watchConfig    bool
	global         bool
	sinkOutput     io.Writer
}

func defaultOptions() options {
	return options{
		loaders: []config.Loader{
			config.FileLoader{},
			config.EnvLoader{},
		},
		watchConfig: true,
	}
}

func (o options) loadConfig(ctx context.Context) (config.Config, error) {
	if o.overrideConfig != nil {
		return *o.overrideConfig, nil
	}

	return config.Load(ctx, o.loaders...)
}

func (o options) diagnosticsLogger(cfg config.Config) logging.Adapter {
	if o.loggerOverride {
		if o.logger == nil {
			return logging.NewNoopAdapter()
		}

		return o.logger
	}

	return logging.FromConfig(cfg.Logging)
}

// pipelineLogger routes diagnostics into p's logs provider when the configuration asks
// for the "otel" adapter. An explicit WithLogger always wins.
func (o options) pipelineLogger(cfg config.Config, p *pipeline.Pipeline, fallback logging.Adapter) logging.Adapter {
	if o.loggerOverride || !logging.WantsPipeline(cfg.Logging) || p.LoggerProvider() == nil {
		return fallback
	}

	return logging.ForPipeline(cfg.Logging, p.LoggerProvider())
}

// WithConfig provides a fully resolved configuration and bypasses loaders.
func WithConfig(cfg config.Config) Option {
	return func(opt *options) {
		opt.overrideConfig = &cfg
	}
}

// WithLoaders replaces the default loader chain.
func WithLoaders(loaders ...config.Loader) Option {
	return func(opt *options) {
		opt.loaders = append([]config.Loader{}, loaders...)
	}
}

// WithLogger specifies the logging adapter used for the client's own messages.
func WithLogger(adapter logging.Adapter) Option {
	return func(opt *options) {
		opt.logger = adapter
		opt.loggerOverride = true
	}
}

// WithConfigWatcher toggles file-based config hot reload. Enabled by default.
func WithConfigWatcher(enabled bool) Option {
	return func(opt *options) {
		opt.watchConfig = enabled
	}
}

// WithGlobal installs the client's dispatcher as the process-wide default until Shutdown.
func WithGlobal() Option {
	return func(opt *options) {
		opt.global = true
	}
}

// WithSinkOutput sends stdout sink output to w.
func WithSinkOutput(w io.Writer) Option {
	return func(opt *options) {
		opt.sinkOutput = w
	}
}

func (o options) fileWatcherPath() string {
	if o.overrideConfig != nil {
		return ""
	}

	for _, loader := range o.loaders {
		if fl, ok := loader.(config.FileLoader); ok {
			if fl.Path != "" {
				return fl.Path
			}

			return config.DefaultFile
		}
	}

	return ""
}
