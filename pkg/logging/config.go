package logging

import (
	"context"
	"io"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hyp3rd/otelpipe/pkg/config"
)

// Option customizes FromConfig.
type Option func(*options)

type options struct {
	out io.Writer
}

// WithOutput sends diagnostics to w instead of stderr.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.out = w
		}
	}
}

// FromConfig builds an Adapter from logging configuration. Output goes to stderr unless
// overridden, since stdout may carry exported telemetry.
func FromConfig(cfg config.LoggingConfig, opts ...Option) Adapter {
	o := options{out: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	base := buildBaseAdapter(cfg, o.out)
	base = applyLevelFilter(base, cfg.Level)

	return applySampling(base, cfg.SampleRatio)
}

func buildBaseAdapter(cfg config.LoggingConfig, out io.Writer) Adapter {
	switch strings.ToLower(cfg.Adapter) {
	case "none", "noop":
		return NewNoopAdapter()
	case "std":
		return NewStdAdapter(log.New(out, "otelpipe ", log.LstdFlags|log.LUTC))
	case "zap":
		return NewZapAdapter(newZapLogger(cfg, out))
	case "zerolog":
		return NewZerologAdapter(newZerologLogger(cfg, out))
	case "otel":
		// Stands in until ForPipeline has a logs provider to write into.
		return newSlogFromConfig(cfg, out)
	default:
		return newSlogFromConfig(cfg, out)
	}
}

func newSlogFromConfig(cfg config.LoggingConfig, out io.Writer) Adapter {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slogLevel(cfg.Level),
	}
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return NewSlogAdapter(slog.New(handler))
}

func newZapLogger(cfg config.LoggingConfig, out io.Writer) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder

	switch strings.ToLower(cfg.Format) {
	case "text":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(out)), zap.NewAtomicLevelAt(zapLevel(cfg.Level)))

	return zap.New(core, zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(out))))
}

func newZerologLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	if strings.EqualFold(cfg.Format, "text") {
		out = zerolog.ConsoleWriter{Out: out, NoColor: true}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// rank orders the adapter's three methods; warn maps onto the error rank because the
// adapter has no warn method.
type rank uint8

const (
	rankDebug rank = iota
	rankInfo
	rankError
)

func rankOf(level string) rank {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return rankDebug
	case "warn", "warning", "error":
		return rankError
	default:
		return rankInfo
	}
}

func applyLevelFilter(adapter Adapter, level string) Adapter {
	if adapter == nil {
		return NewNoopAdapter()
	}

	minRank := rankOf(level)
	if minRank == rankDebug {
		return adapter
	}

	return &levelFilter{inner: adapter, min: minRank}
}

type levelFilter struct {
	inner Adapter
	min   rank
}

func (l *levelFilter) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if l.min <= rankDebug {
		l.inner.Debug(ctx, msg, attrs...)
	}
}

func (l *levelFilter) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if l.min <= rankInfo {
		l.inner.Info(ctx, msg, attrs...)
	}
}

func (l *levelFilter) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	l.inner.Error(ctx, err, msg, attrs...)
}

// applySampling keeps a ratio of debug and info messages. Errors are never sampled.
func applySampling(adapter Adapter, ratio float64) Adapter {
	if adapter == nil {
		return NewNoopAdapter()
	}

	if ratio >= 1 {
		return adapter
	}

	if ratio < 0 {
		ratio = 0
	}

	return &samplingAdapter{
		inner:  adapter,
		ratio:  ratio,
		sample: rand.Float64,
	}
}

type samplingAdapter struct {
	inner  Adapter
	ratio  float64
	sample func() float64
}

func (s *samplingAdapter) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if s.shouldLog() {
		s.inner.Info(ctx, msg, attrs...)
	}
}

func (s *samplingAdapter) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if s.shouldLog() {
		s.inner.Debug(ctx, msg, attrs...)
	}
}

func (s *samplingAdapter) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	s.inner.Error(ctx, err, msg, attrs...)
}

func (s *samplingAdapter) shouldLog() bool {
	return s.ratio > 0 && s.sample() < s.ratio
}

func slogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return slog.LevelDebug
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func zapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "error":
		return zapcore.ErrorLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
