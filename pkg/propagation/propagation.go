// Package propagation carries trace context across process boundaries using W3C trace
// context and baggage.
package propagation

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"

	"github.com/hyp3rd/otelpipe/pkg/dispatch"
	"github.com/hyp3rd/otelpipe/pkg/layer"
)

var propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Propagator returns the propagator used by this package, for libraries that take one.
func Propagator() propagation.TextMapPropagator {
	return propagator
}

// Inject writes the span context and baggage of ctx into carrier. A dispatcher span in
// ctx wins over any OTel span context already there.
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	propagator.Inject(withDispatchSpan(ctx), carrier)
}

// Extract returns ctx extended with the remote span context and baggage found in carrier.
// Spans opened with the result are parented to the remote span.
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return propagator.Extract(ctx, carrier)
}

// InjectHTTP writes trace headers to h.
func InjectHTTP(ctx context.Context, h http.Header) {
	Inject(ctx, propagation.HeaderCarrier(h))
}

// ExtractHTTP reads trace headers from h.
func ExtractHTTP(ctx context.Context, h http.Header) context.Context {
	return Extract(ctx, propagation.HeaderCarrier(h))
}

// InjectMap writes trace fields to m.
func InjectMap(ctx context.Context, m map[string]string) {
	Inject(ctx, propagation.MapCarrier(m))
}

// ExtractMap reads trace fields from m.
func ExtractMap(ctx context.Context, m map[string]string) context.Context {
	return Extract(ctx, propagation.MapCarrier(m))
}

// InjectGRPC returns ctx with trace fields appended to its outgoing gRPC metadata.
func InjectGRPC(ctx context.Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}

	Inject(ctx, MetadataCarrier(md))

	return metadata.NewOutgoingContext(ctx, md)
}

// ExtractGRPC reads trace fields from the incoming gRPC metadata of ctx.
func ExtractGRPC(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}

	return Extract(ctx, MetadataCarrier(md))
}

// ContextForSpan returns a context carrying the OTel span context of handle, suitable for
// Inject or for OTel-native libraries. It is ctx unchanged when handle has no trace.
func ContextForSpan(ctx context.Context, handle *dispatch.SpanHandle) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	if sc := layer.SpanContext(handle.Span()); sc.IsValid() {
		return trace.ContextWithSpanContext(ctx, sc)
	}

	return ctx
}

func withDispatchSpan(ctx context.Context) context.Context {
	if h := dispatch.FromContext(ctx); h != nil {
		return ContextForSpan(ctx, h)
	}

	return ctx
}

// MetadataCarrier adapts gRPC metadata to propagation.TextMapCarrier.
type MetadataCarrier metadata.MD

var _ propagation.TextMapCarrier = MetadataCarrier{}

// Get returns the first value for key.
func (c MetadataCarrier) Get(key string) string {
	values := metadata.MD(c).Get(key)
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

// Set replaces the values for key.
func (c MetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

// Keys lists the metadata keys.
func (c MetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}

	return keys
}
