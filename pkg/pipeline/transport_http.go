//go:build !otelpipe_nohttp

package pipeline

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func init() {
	for _, protocol := range []Protocol{HTTPBinary, HTTPJSON} {
		registerTransport(protocol, &transport{
			logs:    httpLogExporter,
			trace:   httpSpanExporter,
			metrics: httpMetricExporter,
		})
	}
}

type httpOptionFactory[T any] struct {
	withEndpointURL func(string) T
	withTLS         func(*tls.Config) T
	withTimeout     func(time.Duration) T
	withHeaders     func(map[string]string) T
	withCompression func(bool) T
	withHTTPClient  func(*http.Client) T
}

// buildHTTPOptions applies the shared export settings. The JSON encoding installs its own
// client, which then also carries the TLS configuration.
func buildHTTPOptions[T any](kind Kind, endpoint string, cfg exportConfig, factory httpOptionFactory[T]) []T {
	opts := []T{
		factory.withEndpointURL(endpoint),
		factory.withTimeout(cfg.timeout),
		factory.withCompression(cfg.compression),
	}

	if len(cfg.headers) > 0 {
		opts = append(opts, factory.withHeaders(cfg.headers))
	}

	switch {
	case cfg.protocol == HTTPJSON:
		opts = append(opts, factory.withHTTPClient(newJSONClient(kind, cfg.tls)))
	case cfg.tls != nil:
		opts = append(opts, factory.withTLS(cfg.tls))
	}

	return opts
}

func httpLogExporter(ctx context.Context, endpoint string, cfg exportConfig, _ struct{}) (sdklog.Exporter, error) {
	opts := buildHTTPOptions(KindLogs, endpoint, cfg, httpOptionFactory[otlploghttp.Option]{
		withEndpointURL: otlploghttp.WithEndpointURL,
		withTLS:         otlploghttp.WithTLSClientConfig,
		withTimeout:     otlploghttp.WithTimeout,
		withHeaders:     otlploghttp.WithHeaders,
		withHTTPClient:  otlploghttp.WithHTTPClient,
		withCompression: func(enabled bool) otlploghttp.Option {
			if enabled {
				return otlploghttp.WithCompression(otlploghttp.GzipCompression)
			}

			return otlploghttp.WithCompression(otlploghttp.NoCompression)
		},
	})

	exp, err := otlploghttp.New(ctx, opts...)
	if err != nil {
		return nil, ewrap.Wrap(err, "create otlp http log exporter")
	}

	return exp, nil
}

func httpSpanExporter(ctx context.Context, endpoint string, cfg exportConfig, _ TraceSettings) (sdktrace.SpanExporter, error) {
	opts := buildHTTPOptions(KindTrace, endpoint, cfg, httpOptionFactory[otlptracehttp.Option]{
		withEndpointURL: otlptracehttp.WithEndpointURL,
		withTLS:         otlptracehttp.WithTLSClientConfig,
		withTimeout:     otlptracehttp.WithTimeout,
		withHeaders:     otlptracehttp.WithHeaders,
		withHTTPClient:  otlptracehttp.WithHTTPClient,
		withCompression: func(enabled bool) otlptracehttp.Option {
			if enabled {
				return otlptracehttp.WithCompression(otlptracehttp.GzipCompression)
			}

			return otlptracehttp.WithCompression(otlptracehttp.NoCompression)
		},
	})

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, ewrap.Wrap(err, "create otlp http trace exporter")
	}

	return exp, nil
}

func httpMetricExporter(ctx context.Context, endpoint string, cfg exportConfig, settings MetricsSettings) (sdkmetric.Exporter, error) {
	opts := buildHTTPOptions(KindMetrics, endpoint, cfg, httpOptionFactory[otlpmetrichttp.Option]{
		withEndpointURL: otlpmetrichttp.WithEndpointURL,
		withTLS:         otlpmetrichttp.WithTLSClientConfig,
		withTimeout:     otlpmetrichttp.WithTimeout,
		withHeaders:     otlpmetrichttp.WithHeaders,
		withHTTPClient:  otlpmetrichttp.WithHTTPClient,
		withCompression: func(enabled bool) otlpmetrichttp.Option {
			if enabled {
				return otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression)
			}

			return otlpmetrichttp.WithCompression(otlpmetrichttp.NoCompression)
		},
	})
	opts = append(opts, otlpmetrichttp.WithTemporalitySelector(settings.Temporality.selector()))

	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, ewrap.Wrap(err, "create otlp http metric exporter")
	}

	return exp, nil
}
