//go:build !otelpipe_noagent

package pipeline

import (
	"context"

	"github.com/hyp3rd/ewrap"
	//nolint:staticcheck // the agent protocol is only served by the jaeger exporter.
	"go.opentelemetry.io/otel/exporters/jaeger"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// The agent protocol carries spans only; headers, compression and TLS do not apply.
func init() {
	registerTransport(Agent, &transport{
		trace: agentSpanExporter,
	})
}

func agentSpanExporter(_ context.Context, endpoint string, _ exportConfig, _ TraceSettings) (sdktrace.SpanExporter, error) {
	host, port, err := agentHostPort(endpoint)
	if err != nil {
		return nil, err
	}

	exp, err := jaeger.New(jaeger.WithAgentEndpoint(
		jaeger.WithAgentHost(host),
		jaeger.WithAgentPort(port),
	))
	if err != nil {
		return nil, ewrap.Wrap(err, "create jaeger agent exporter")
	}

	return exp, nil
}
