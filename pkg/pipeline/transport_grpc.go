//go:build !otelpipe_nogrpc

package pipeline

import (
	"context"
	"net/url"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

const grpcGzip = "gzip"

func init() {
	registerTransport(Grpc, &transport{
		logs:    grpcLogExporter,
		trace:   grpcSpanExporter,
		metrics: grpcMetricExporter,
	})
}

type grpcOptionFactory[T any] struct {
	withEndpointURL func(string) T
	withTimeout     func(time.Duration) T
	withHeaders     func(map[string]string) T
	withCompressor  func(string) T
	withTLS         func(credentials.TransportCredentials) T
}

// buildGRPCOptions applies the shared export settings. Client TLS is only attached to
// https endpoints; an http endpoint dials without transport security.
func buildGRPCOptions[T any](endpoint string, cfg exportConfig, factory grpcOptionFactory[T]) []T {
	opts := []T{
		factory.withEndpointURL(endpoint),
		factory.withTimeout(cfg.timeout),
	}

	if len(cfg.headers) > 0 {
		opts = append(opts, factory.withHeaders(cfg.headers))
	}

	if cfg.compression {
		opts = append(opts, factory.withCompressor(grpcGzip))
	}

	if u, err := url.Parse(endpoint); err == nil && u.Scheme == "https" && cfg.tls != nil {
		opts = append(opts, factory.withTLS(credentials.NewTLS(cfg.tls)))
	}

	return opts
}

func grpcLogExporter(ctx context.Context, endpoint string, cfg exportConfig, _ struct{}) (sdklog.Exporter, error) {
	opts := buildGRPCOptions(endpoint, cfg, grpcOptionFactory[otlploggrpc.Option]{
		withEndpointURL: otlploggrpc.WithEndpointURL,
		withTimeout:     otlploggrpc.WithTimeout,
		withHeaders:     otlploggrpc.WithHeaders,
		withCompressor:  otlploggrpc.WithCompressor,
		withTLS:         otlploggrpc.WithTLSCredentials,
	})

	exp, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, ewrap.Wrap(err, "create otlp grpc log exporter")
	}

	return exp, nil
}

func grpcSpanExporter(ctx context.Context, endpoint string, cfg exportConfig, _ TraceSettings) (sdktrace.SpanExporter, error) {
	opts := buildGRPCOptions(endpoint, cfg, grpcOptionFactory[otlptracegrpc.Option]{
		withEndpointURL: otlptracegrpc.WithEndpointURL,
		withTimeout:     otlptracegrpc.WithTimeout,
		withHeaders:     otlptracegrpc.WithHeaders,
		withCompressor:  otlptracegrpc.WithCompressor,
		withTLS:         otlptracegrpc.WithTLSCredentials,
	})

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, ewrap.Wrap(err, "create otlp grpc trace exporter")
	}

	return exp, nil
}

func grpcMetricExporter(ctx context.Context, endpoint string, cfg exportConfig, settings MetricsSettings) (sdkmetric.Exporter, error) {
	opts := buildGRPCOptions(endpoint, cfg, grpcOptionFactory[otlpmetricgrpc.Option]{
		withEndpointURL: otlpmetricgrpc.WithEndpointURL,
		withTimeout:     otlpmetricgrpc.WithTimeout,
		withHeaders:     otlpmetricgrpc.WithHeaders,
		withCompressor:  otlpmetricgrpc.WithCompressor,
		withTLS:         otlpmetricgrpc.WithTLSCredentials,
	})
	opts = append(opts, otlpmetricgrpc.WithTemporalitySelector(settings.Temporality.selector()))

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, ewrap.Wrap(err, "create otlp grpc metric exporter")
	}

	return exp, nil
}
