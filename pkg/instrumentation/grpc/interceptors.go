// Package grpc provides gRPC instrumentation on top of dispatcher spans.
package grpc

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hyp3rd/otelpipe/pkg/config"
	"github.com/hyp3rd/otelpipe/pkg/dispatch"
	"github.com/hyp3rd/otelpipe/pkg/layer"
	"github.com/hyp3rd/otelpipe/pkg/propagation"
)

const target = "otelpipe.grpc"

const (
	callsField    = layer.MonotonicCounterPrefix + "rpc.server.calls"
	durationField = layer.HistogramPrefix + "rpc.server.duration.ms"
)

var (
	serverSpan  = dispatch.Callsite("grpc.server", target, layer.LevelInfo, layer.CallsiteSpan)
	clientSpan  = dispatch.Callsite("grpc.client", target, layer.LevelInfo, layer.CallsiteSpan)
	callHandled = dispatch.Callsite("grpc.server.call", target, layer.LevelInfo, layer.CallsiteEvent,
		callsField, durationField)
	callFailed = dispatch.Callsite("grpc.call.error", target, layer.LevelError, layer.CallsiteEvent)
)

// Interceptors bundles server and client interceptors for gRPC instrumentation.
type Interceptors struct {
	unaryServer grpc.UnaryServerInterceptor
	unaryClient grpc.UnaryClientInterceptor
}

// NewInterceptors constructs interceptors reporting to d. A nil d follows dispatch.Current.
func NewInterceptors(d *dispatch.Dispatcher, cfg config.GRPCInstrumentationConfig) Interceptors {
	resolve := func() *dispatch.Dispatcher {
		if d != nil {
			return d
		}

		return dispatch.Current()
	}
	allowlist := buildAllowlist(cfg.MetadataAllowlist)

	return Interceptors{
		unaryServer: newUnaryServerInterceptor(resolve, allowlist),
		unaryClient: newUnaryClientInterceptor(resolve, allowlist),
	}
}

// UnaryServer returns the configured unary server interceptor.
func (i Interceptors) UnaryServer() grpc.UnaryServerInterceptor {
	return i.unaryServer
}

// UnaryClient returns the configured unary client interceptor.
func (i Interceptors) UnaryClient() grpc.UnaryClientInterceptor {
	return i.unaryClient
}

func newUnaryServerInterceptor(resolve func() *dispatch.Dispatcher, allowlist map[string]struct{}) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		d := resolve()
		ctx = propagation.ExtractGRPC(ctx)

		attrs := rpcAttrs(info.FullMethod)
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			attrs = append(attrs, metadataAttrs(md, allowlist)...)
		}

		ctx, span := d.Span(ctx, serverSpan, append([]attribute.KeyValue{
			attribute.String(layer.FieldName, info.FullMethod),
			attribute.String(layer.FieldKind, "server"),
		}, attrs...)...)
		defer span.End()

		start := time.Now()

		var (
			resp any
			err  error
		)

		span.InScope(func() {
			resp, err = handler(ctx, req)
		})

		code := status.Code(err)
		finish(ctx, d, span, code, err)

		d.Event(ctx, callHandled, info.FullMethod, append(rpcAttrs(info.FullMethod),
			semconv.RPCGRPCStatusCodeKey.Int(int(code)),
			attribute.Int64(callsField, 1),
			attribute.Float64(durationField, float64(time.Since(start).Microseconds())/1000),
		)...)

		return resp, err
	}
}

func newUnaryClientInterceptor(resolve func() *dispatch.Dispatcher, allowlist map[string]struct{}) grpc.UnaryClientInterceptor {
	return func(ctx context.Context,
		method string, req,
		reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		d := resolve()

		attrs := rpcAttrs(method)
		if md, ok := metadata.FromOutgoingContext(ctx); ok {
			attrs = append(attrs, metadataAttrs(md, allowlist)...)
		}

		ctx, span := d.Span(ctx, clientSpan, append([]attribute.KeyValue{
			attribute.String(layer.FieldName, method),
			attribute.String(layer.FieldKind, "client"),
		}, attrs...)...)
		defer span.End()

		err := invoker(propagation.InjectGRPC(ctx), method, req, reply, cc, opts...)
		finish(ctx, d, span, status.Code(err), err)

		return err
	}
}

func finish(ctx context.Context, d *dispatch.Dispatcher, span *dispatch.SpanHandle, code codes.Code, err error) {
	span.Record(semconv.RPCGRPCStatusCodeKey.Int(int(code)))

	if err == nil {
		span.Record(attribute.String(layer.FieldStatusCode, "ok"))

		return
	}

	span.Record(
		attribute.String(layer.FieldStatusCode, "error"),
		attribute.String(layer.FieldStatusMessage, err.Error()),
	)
	d.Event(ctx, callFailed, "grpc call failed",
		attribute.String("error", err.Error()),
		attribute.String("rpc.grpc.status", code.String()),
	)
}

func rpcAttrs(fullMethod string) []attribute.KeyValue {
	service, method := splitFullMethod(fullMethod)

	return []attribute.KeyValue{
		semconv.RPCSystemGRPC,
		semconv.RPCServiceKey.String(service),
		semconv.RPCMethodKey.String(method),
	}
}

func buildAllowlist(keys []string) map[string]struct{} {
	if len(keys) == 0 {
		return nil
	}

	out := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}

		out[key] = struct{}{}
	}

	return out
}

func metadataAttrs(md metadata.MD, allowlist map[string]struct{}) []attribute.KeyValue {
	if len(md) == 0 || len(allowlist) == 0 {
		return nil
	}

	attrs := make([]attribute.KeyValue, 0, len(allowlist))
	for key := range allowlist {
		values := md.Get(key)
		if len(values) == 0 {
			continue
		}

		attrKey := attribute.Key("rpc.metadata." + key)
		attrs = append(attrs, attrKey.String(strings.Join(values, ",")))
	}

	return attrs
}

func splitFullMethod(full string) (service, method string) {
	full = strings.TrimPrefix(full, "/")
	if full == "" {
		return "unknown", "unknown"
	}

	service, method, ok := strings.Cut(full, "/")
	if !ok || strings.Contains(method, "/") {
		return full, "unknown"
	}

	return service, method
}
