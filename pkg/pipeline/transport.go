package pipeline

import (
	"context"
	"crypto/tls"
	"io"
	"time"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// exportConfig is the shared export configuration captured by the Builder and applied to
// every kind enabled after it was set.
type exportConfig struct {
	protocol    Protocol
	headers     map[string]string
	timeout     time.Duration
	compression bool
	tls         *tls.Config
	batch       BatchSettings
	sink        SinkSettings
	sinkWriter  io.Writer
}

func (c exportConfig) clone() exportConfig {
	headers := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		headers[k] = v
	}

	c.headers = headers

	return c
}

// exporterFactory builds the raw exporter of one kind for one transport.
type exporterFactory[E, S any] func(ctx context.Context, endpoint string, cfg exportConfig, settings S) (E, error)

// transport groups the factories a protocol supports. A nil factory means the protocol
// cannot carry that kind.
type transport struct {
	logs    exporterFactory[sdklog.Exporter, struct{}]
	trace   exporterFactory[sdktrace.SpanExporter, TraceSettings]
	metrics exporterFactory[sdkmetric.Exporter, MetricsSettings]
}

var transports = map[Protocol]*transport{}

// registerTransport is called from init functions of the build-tagged transport files.
func registerTransport(protocol Protocol, t *transport) {
	transports[protocol] = t
}

// Compiled reports whether the transport for protocol was compiled into the binary.
func Compiled(protocol Protocol) bool {
	_, ok := transports[protocol]

	return ok
}
