package propagation

import (
	"context"
	"net/http"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"

	"github.com/hyp3rd/otelpipe/pkg/dispatch"
	"github.com/hyp3rd/otelpipe/pkg/layer"
)

const traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func newDispatcher() (*dispatch.Dispatcher, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	return dispatch.New(layer.NewTraceAdapter(provider)), recorder
}

func TestHTTPRoundTrip(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher()

	ctx, span := d.Span(context.Background(), dispatch.Callsite("call", "test", layer.LevelInfo, layer.CallsiteSpan))
	defer span.End()

	header := http.Header{}
	InjectHTTP(ctx, header)

	if header.Get("traceparent") == "" {
		t.Fatal("traceparent was not injected")
	}

	got := trace.SpanContextFromContext(ExtractHTTP(context.Background(), header))
	want := layer.SpanContext(span.Span())

	if got.TraceID() != want.TraceID() || got.SpanID() != want.SpanID() || !got.IsRemote() {
		t.Fatalf("extracted %v, want %v", got, want)
	}
}

func TestExtractedContextParentsNewSpans(t *testing.T) {
	t.Parallel()

	d, recorder := newDispatcher()

	ctx := ExtractMap(context.Background(), map[string]string{"traceparent": traceparent})

	_, span := d.Span(ctx, dispatch.Callsite("serve", "test", layer.LevelInfo, layer.CallsiteSpan))
	span.End()

	ended := recorder.Ended()[0]
	if ended.SpanContext().TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" ||
		ended.Parent().SpanID().String() != "00f067aa0ba902b7" {
		t.Fatalf("span not parented to the remote context: %v", ended.Parent())
	}
}

func TestGRPCMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher()

	base := metadata.AppendToOutgoingContext(context.Background(), "tenant", "acme")
	ctx, span := d.Span(base, dispatch.Callsite("rpc", "test", layer.LevelInfo, layer.CallsiteSpan))

	defer span.End()

	out, _ := metadata.FromOutgoingContext(InjectGRPC(ctx))
	if out.Get("tenant")[0] != "acme" || len(out.Get("traceparent")) != 1 {
		t.Fatalf("unexpected outgoing metadata %v", out)
	}

	incoming := metadata.NewIncomingContext(context.Background(), out)

	got := trace.SpanContextFromContext(ExtractGRPC(incoming))
	if got.SpanID() != layer.SpanContext(span.Span()).SpanID() {
		t.Fatal("span context did not survive gRPC metadata")
	}
}

func TestContextForInertSpan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := ContextForSpan(ctx, &dispatch.SpanHandle{}); got != ctx {
		t.Fatal("expected the context unchanged for an inert handle")
	}

	carrier := MetadataCarrier(metadata.MD{})
	Inject(ctx, carrier)

	if len(carrier.Keys()) != 0 {
		t.Fatalf("expected nothing injected, got %v", carrier.Keys())
	}
}
