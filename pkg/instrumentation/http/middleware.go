// Package http instruments HTTP servers and clients with dispatcher spans.
package http

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/hyp3rd/otelpipe/pkg/config"
	"github.com/hyp3rd/otelpipe/pkg/dispatch"
	"github.com/hyp3rd/otelpipe/pkg/layer"
	"github.com/hyp3rd/otelpipe/pkg/propagation"
)

const target = "otelpipe.http"

const (
	requestsField = layer.MonotonicCounterPrefix + "http.server.requests"
	durationField = layer.HistogramPrefix + "http.server.duration.ms"
)

var (
	serverSpan     = dispatch.Callsite("http.server", target, layer.LevelInfo, layer.CallsiteSpan)
	clientSpan     = dispatch.Callsite("http.client", target, layer.LevelInfo, layer.CallsiteSpan)
	requestHandled = dispatch.Callsite("http.server.request", target, layer.LevelInfo, layer.CallsiteEvent,
		requestsField, durationField)
	clientFailed = dispatch.Callsite("http.client.error", target, layer.LevelError, layer.CallsiteEvent)
)

// Middleware opens a server span per request and reports request count and latency.
type Middleware struct {
	d             *dispatch.Dispatcher
	ignoredRoutes map[string]struct{}
}

// NewMiddleware creates a middleware reporting to d. A nil d follows dispatch.Current.
func NewMiddleware(d *dispatch.Dispatcher, cfg config.HTTPInstrumentationConfig) *Middleware {
	return &Middleware{
		d:             d,
		ignoredRoutes: toSet(cfg.IgnoredRoutes),
	}
}

func (m *Middleware) dispatcher() *dispatch.Dispatcher {
	if m.d != nil {
		return m.d
	}

	return dispatch.Current()
}

// Handler wraps next. Incoming trace headers make the server span a child of the caller.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeFromRequest(r)
		if m.shouldIgnore(route) {
			next.ServeHTTP(w, r)

			return
		}

		d := m.dispatcher()
		ctx := propagation.ExtractHTTP(r.Context(), r.Header)

		attrs := []attribute.KeyValue{
			semconv.HTTPMethodKey.String(r.Method),
			semconv.HTTPRouteKey.String(route),
		}
		if host := clientIP(r); host != "" {
			attrs = append(attrs, semconv.ClientAddressKey.String(host))
		}

		ctx, span := d.Span(ctx, serverSpan, append([]attribute.KeyValue{
			attribute.String(layer.FieldName, spanName(r.Method, route)),
			attribute.String(layer.FieldKind, "server"),
		}, attrs...)...)
		defer span.End()

		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		span.InScope(func() {
			next.ServeHTTP(rr, r.WithContext(ctx))
		})

		status := semconv.HTTPStatusCodeKey.Int(rr.status)
		span.Record(status, attribute.String(layer.FieldStatusCode, statusCode(rr.status)))

		metricAttrs := append(attrs[:2:2], status)
		d.Event(ctx, requestHandled, spanName(r.Method, route), append(metricAttrs,
			attribute.Int64(requestsField, 1),
			attribute.Float64(durationField, float64(time.Since(start).Microseconds())/1000),
		)...)
	})
}

func (m *Middleware) shouldIgnore(route string) bool {
	_, ok := m.ignoredRoutes[route]

	return ok
}

// Transport opens a client span per request and injects trace headers.
type Transport struct {
	d    *dispatch.Dispatcher
	base http.RoundTripper
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(d *dispatch.Dispatcher, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &Transport{d: d, base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	d := t.d
	if d == nil {
		d = dispatch.Current()
	}

	ctx, span := d.Span(req.Context(), clientSpan,
		attribute.String(layer.FieldName, req.Method),
		attribute.String(layer.FieldKind, "client"),
		semconv.HTTPMethodKey.String(req.Method),
		attribute.String("url.full", redactedURL(req)),
	)
	defer span.End()

	out := req.Clone(ctx)
	propagation.InjectHTTP(ctx, out.Header)

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		span.Record(attribute.String(layer.FieldStatusCode, "error"))
		d.Event(ctx, clientFailed, "http request failed", attribute.String("error", err.Error()))

		return nil, ewrap.Wrap(err, "round trip")
	}

	span.Record(
		semconv.HTTPStatusCodeKey.Int(resp.StatusCode),
		attribute.String(layer.FieldStatusCode, statusCode(resp.StatusCode)),
	)

	return resp, nil
}

func redactedURL(req *http.Request) string {
	if req.URL == nil {
		return ""
	}

	u := *req.URL
	u.User = nil
	u.RawQuery = ""

	return u.String()
}

func statusCode(status int) string {
	if status >= http.StatusInternalServerError {
		return "error"
	}

	return "ok"
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))

	for _, val := range values {
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}

		set[val] = struct{}{}
	}

	return set
}

func spanName(method, route string) string {
	if route == "" {
		route = "/"
	}

	return method + " " + route
}

func routeFromRequest(r *http.Request) string {
	if r == nil || r.URL == nil || r.URL.Path == "" {
		return "/"
	}

	if r.Pattern != "" {
		if _, path, ok := strings.Cut(r.Pattern, " "); ok {
			return path
		}

		return r.Pattern
	}

	return r.URL.Path
}

func clientIP(r *http.Request) string {
	if r == nil || r.RemoteAddr == "" {
		return ""
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader records the status code and delegates to the underlying ResponseWriter.
func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Write delegates to the underlying ResponseWriter.
func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	if err != nil {
		return n, ewrap.Wrap(err, "write response")
	}

	return n, nil
}
