package logging

import (
	"context"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/hyp3rd/otelpipe/pkg/config"
)

const otelScope = "github.com/hyp3rd/otelpipe"

// OTelZapAdapter writes diagnostics into an OpenTelemetry logger provider through the otelzap bridge.
type OTelZapAdapter struct {
	logger *zap.Logger
}

// NewOTelZapAdapter builds an adapter whose records are emitted by provider.
func NewOTelZapAdapter(provider log.LoggerProvider) Adapter {
	core := otelzap.NewCore(otelScope, otelzap.WithLoggerProvider(provider))

	return &OTelZapAdapter{logger: zap.New(core)}
}

// Info implements Adapter.
func (o *OTelZapAdapter) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	o.logger.Info(msg, o.fields(ctx, attrs)...)
}

// Debug implements Adapter.
func (o *OTelZapAdapter) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	o.logger.Debug(msg, o.fields(ctx, attrs)...)
}

// Error implements Adapter.
func (o *OTelZapAdapter) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	fields := o.fields(ctx, attrs)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	o.logger.Error(msg, fields...)
}

// fields carries ctx as a field so the bridge can correlate records with the active span.
func (*OTelZapAdapter) fields(ctx context.Context, attrs []attribute.KeyValue) []zap.Field {
	fields := toZapFields(attrs)
	if ctx != nil {
		fields = append(fields, zap.Any("ctx", ctx))
	}

	return fields
}

// WantsPipeline reports whether cfg selects the "otel" adapter, which writes into the
// pipeline's own logs provider.
func WantsPipeline(cfg config.LoggingConfig) bool {
	return strings.EqualFold(strings.TrimSpace(cfg.Adapter), "otel")
}

// ForPipeline returns an adapter feeding the pipeline's own logs provider when the
// configuration selects the "otel" adapter and a provider is available.
func ForPipeline(cfg config.LoggingConfig, provider log.LoggerProvider) Adapter {
	if WantsPipeline(cfg) && provider != nil {
		base := applyLevelFilter(NewOTelZapAdapter(provider), cfg.Level)

		return applySampling(base, cfg.SampleRatio)
	}

	return FromConfig(cfg)
}
