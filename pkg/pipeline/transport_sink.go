package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// The sink protocols carry every kind as JSON lines: logs through JSONExporter, spans and
// metrics through the stdout exporters pointed at the same kind of writer.
func init() {
	for _, protocol := range []Protocol{File, Stdout, Kafka} {
		registerTransport(protocol, &transport{
			logs:    sinkLogExporter,
			trace:   sinkSpanExporter,
			metrics: sinkMetricExporter,
		})
	}
}

func sinkLogExporter(_ context.Context, endpoint string, cfg exportConfig, _ struct{}) (sdklog.Exporter, error) {
	w, err := openSink(endpoint, cfg)
	if err != nil {
		return nil, err
	}

	return NewJSONExporter(w), nil
}

func sinkSpanExporter(_ context.Context, endpoint string, cfg exportConfig, _ TraceSettings) (sdktrace.SpanExporter, error) {
	w, err := openSink(endpoint, cfg)
	if err != nil {
		return nil, err
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, errors.Join(ewrap.Wrap(err, "create span sink"), w.Close())
	}

	return &closingSpanExporter{SpanExporter: exp, closer: w}, nil
}

func sinkMetricExporter(_ context.Context, endpoint string, cfg exportConfig, settings MetricsSettings) (sdkmetric.Exporter, error) {
	w, err := openSink(endpoint, cfg)
	if err != nil {
		return nil, err
	}

	exp, err := stdoutmetric.New(
		stdoutmetric.WithWriter(w),
		stdoutmetric.WithTemporalitySelector(settings.Temporality.selector()),
	)
	if err != nil {
		return nil, errors.Join(ewrap.Wrap(err, "create metric sink"), w.Close())
	}

	return &closingMetricExporter{Exporter: exp, closer: w}, nil
}

// closingSpanExporter closes the sink writer once the exporter has shut down.
type closingSpanExporter struct {
	sdktrace.SpanExporter

	closer io.Closer
}

func (c *closingSpanExporter) Shutdown(ctx context.Context) error {
	return errors.Join(c.SpanExporter.Shutdown(ctx), c.closer.Close())
}

type closingMetricExporter struct {
	sdkmetric.Exporter

	closer io.Closer
}

func (c *closingMetricExporter) Shutdown(ctx context.Context) error {
	return errors.Join(c.Exporter.Shutdown(ctx), c.closer.Close())
}
