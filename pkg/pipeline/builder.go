package pipeline

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/otelpipe/internal/constants"
	"github.com/hyp3rd/otelpipe/pkg/logging"
)

// Builder assembles a Pipeline. Each kind may be enabled at most once and shares the
// export settings configured before it was enabled. Misuse panics with a *ConfigError;
// Build converts that panic into an error.
//
// A Builder is meant for single-goroutine startup code.
type Builder struct {
	dest     Destination
	cfg      exportConfig
	set      *providerSet
	stats    [kindCount]*exporterStats
	gatherer prometheus.Gatherer
	logger   logging.Adapter
	finished bool
}

// NewBuilder starts a pipeline exporting to dest with a five second timeout, gzip
// compression and no extra headers.
func NewBuilder(dest Destination) *Builder {
	return &Builder{
		dest: dest,
		cfg: exportConfig{
			protocol:    dest.Protocol,
			headers:     map[string]string{},
			timeout:     constants.DefaultTimeout,
			compression: true,
		},
		set:    &providerSet{},
		logger: logging.NewNoopAdapter(),
	}
}

// WithHeader adds a request header (HTTP) or metadata entry (gRPC) to every kind enabled
// afterwards. A later value for the same name replaces the earlier one.
func (b *Builder) WithHeader(key, value string) *Builder {
	b.checkOpen()

	if err := validateHeader(b.dest.Protocol, key, value); err != nil {
		panic(err)
	}

	b.cfg.headers[headerKey(b.dest.Protocol, key)] = value

	return b
}

// WithTimeout bounds each export call. A non-positive value restores the default.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.checkOpen()

	if timeout <= 0 {
		timeout = constants.DefaultTimeout
	}

	b.cfg.timeout = timeout

	return b
}

// WithCompression toggles gzip for the network transports.
func (b *Builder) WithCompression(enabled bool) *Builder {
	b.checkOpen()
	b.cfg.compression = enabled

	return b
}

// WithTLS sets the client TLS configuration of https and grpcs endpoints.
func (b *Builder) WithTLS(cfg *tls.Config) *Builder {
	b.checkOpen()
	b.cfg.tls = cfg

	return b
}

// WithBatch tunes the batch processors of the logs and trace kinds.
func (b *Builder) WithBatch(batch BatchSettings) *Builder {
	b.checkOpen()
	b.cfg.batch = batch

	return b
}

// WithSink tunes rotation of the file sink.
func (b *Builder) WithSink(sink SinkSettings) *Builder {
	b.checkOpen()
	b.cfg.sink = sink

	return b
}

// WithSinkWriter replaces the target of the file, stdout and kafka sinks with w. The
// writer is shared by every kind enabled afterwards and is not closed by the pipeline.
func (b *Builder) WithSinkWriter(w io.Writer) *Builder {
	b.checkOpen()
	b.cfg.sinkWriter = w

	return b
}

// WithLogger sets the adapter used for the pipeline's own diagnostics.
func (b *Builder) WithLogger(logger logging.Adapter) *Builder {
	b.checkOpen()

	if logger != nil {
		b.logger = logger
	}

	return b
}

// EnableLogs builds the logs provider with a batching processor. A nil attrs uses the SDK
// default resource.
func (b *Builder) EnableLogs(attrs *Attributes) *Builder {
	enable(b, logsKind, attrs, struct{}{})

	return b
}

// EnableTrace builds the trace provider with a batching span processor, the sampler
// selected by settings and its span limits.
func (b *Builder) EnableTrace(attrs *Attributes, settings TraceSettings) *Builder {
	enable(b, traceKind, attrs, settings)

	return b
}

// EnableMetrics builds the metrics provider with a periodic reader.
func (b *Builder) EnableMetrics(attrs *Attributes, settings MetricsSettings) *Builder {
	enable(b, metricsKind, attrs, settings)

	if settings.Prometheus != nil {
		if gatherer, ok := settings.Prometheus.(prometheus.Gatherer); ok {
			b.gatherer = gatherer
		}
	}

	return b
}

// Finish hands the providers over to a Pipeline. The Builder cannot be used afterwards.
func (b *Builder) Finish() *Pipeline {
	b.checkOpen()
	b.finished = true

	if metrics := b.set.get(KindMetrics); metrics != nil {
		err := registerSelfMetrics(metrics, b.stats)
		if err != nil {
			b.logger.Error(context.Background(), err, "pipeline self metrics disabled")
		}
	}

	p := newPipeline(b.dest, b.set, b.stats, b.logger)
	p.gatherer = b.gatherer

	return p
}

func (b *Builder) checkOpen() {
	if b.finished {
		panic(configErrorf("builder already finished"))
	}
}

// enable is the construction algorithm shared by every kind.
func enable[E exporter, S any](b *Builder, desc kindDescriptor[E, S], attrs *Attributes, settings S) {
	b.checkOpen()

	if b.set.get(desc.kind) != nil {
		panic(configErrorf("%s is already initialized", desc.kind))
	}

	t, ok := transports[b.dest.Protocol]
	if !ok {
		panic(configErrorf("protocol %s is not compiled in", b.dest.Protocol))
	}

	factory := desc.factory(t)
	if factory == nil {
		panic(configErrorf("%s protocol does not support %s", b.dest.Protocol, desc.kind))
	}

	endpoint := b.dest.endpointFor(desc.kind)

	err := validateEndpoint(b.dest.Protocol, endpoint)
	if err != nil {
		panic(configErrorWrap(err, "invalid "+desc.kind.String()+" endpoint"))
	}

	cfg := b.cfg.clone()

	exp, err := factory(context.Background(), endpoint, cfg, settings)
	if err != nil {
		panic(configErrorWrap(err, "build "+desc.kind.String()+" exporter"))
	}

	stats := newExporterStats(desc.kind, b.dest.Protocol, endpoint)

	managed, err := desc.assemble(desc.withStats(exp, stats), attrs, settings, cfg)
	if err != nil {
		//nolint:errcheck // the assembly error is the one worth reporting.
		_ = exp.Shutdown(context.Background())

		panic(configErrorWrap(err, "build "+desc.kind.String()+" provider"))
	}

	b.set.put(desc.kind, managed)
	b.stats[desc.kind] = stats

	b.logger.Debug(context.Background(), "pipeline kind enabled",
		attribute.String("kind", desc.kind.String()),
		attribute.String("protocol", b.dest.Protocol.String()),
		attribute.String("endpoint", endpoint),
	)
}

// validateEndpoint checks the shape of the per-kind endpoint before an exporter is built,
// since the OTLP exporters fall back to localhost on an unparsable URL.
func validateEndpoint(protocol Protocol, endpoint string) error {
	switch protocol {
	case Grpc, HTTPBinary, HTTPJSON:
		u, err := url.Parse(endpoint)
		if err != nil {
			return ewrap.Wrap(err, "parse endpoint")
		}

		if u.Scheme != "http" && u.Scheme != "https" {
			return ewrap.Newf("endpoint %q must use http or https", endpoint)
		}

		if u.Host == "" {
			return ewrap.Newf("endpoint %q has no host", endpoint)
		}
	case Agent:
		_, _, err := agentHostPort(endpoint)

		return err
	case File:
		if strings.TrimPrefix(endpoint, fileScheme) == "" {
			return ewrap.Newf("file endpoint %q has no path", endpoint)
		}
	case Kafka:
		_, _, err := kafkaTarget(endpoint)

		return err
	case Stdout:
	}

	return nil
}

// agentHostPort splits an agent address given as udp://host:port or host:port.
func agentHostPort(endpoint string) (string, string, error) {
	addr := strings.TrimPrefix(endpoint, "udp://")

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", "", ewrap.Wrap(err, "parse agent address")
	}

	if host == "" {
		host = "localhost"
	}

	return host, port, nil
}
