// Package messaging provides producer and consumer spans for message brokers.
package messaging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/hyp3rd/otelpipe/pkg/dispatch"
	"github.com/hyp3rd/otelpipe/pkg/layer"
)

const (
	// AttrDestinationKind is the attribute key for messaging destination kind.
	AttrDestinationKind = attribute.Key("messaging.destination.kind")
	// AttrConsumerGroup is the attribute key for messaging consumer group.
	AttrConsumerGroup = attribute.Key("messaging.consumer.group")
)

const (
	defaultPublishOperation = "publish"
	defaultConsumeOperation = "process"

	target = "otelpipe.messaging"

	publishCountField   = layer.MonotonicCounterPrefix + "messaging.publish.count"
	publishLatencyField = layer.HistogramPrefix + "messaging.publish.latency_ms"
	consumeCountField   = layer.MonotonicCounterPrefix + "messaging.consume.count"
	consumeLatencyField = layer.HistogramPrefix + "messaging.consume.latency_ms"
)

var (
	publishSpan  = dispatch.Callsite("messaging.publish", target, layer.LevelInfo, layer.CallsiteSpan)
	consumeSpan  = dispatch.Callsite("messaging.consume", target, layer.LevelInfo, layer.CallsiteSpan)
	publishEvent = dispatch.Callsite("messaging.published", target, layer.LevelInfo, layer.CallsiteEvent,
		publishCountField, publishLatencyField)
	consumeEvent = dispatch.Callsite("messaging.consumed", target, layer.LevelInfo, layer.CallsiteEvent,
		consumeCountField, consumeLatencyField)
)

// PublishInfo captures metadata for producer spans and metrics.
type PublishInfo struct {
	System          string
	Destination     string
	DestinationKind string
	Key             string
	Attributes      []attribute.KeyValue
	SizeBytes       int64
	Operation       string
}

// ConsumeInfo captures metadata for consumer spans and metrics.
type ConsumeInfo struct {
	System          string
	Destination     string
	DestinationKind string
	Group           string
	Attributes      []attribute.KeyValue
	Operation       string
}

// Helper opens producer and consumer spans through a dispatcher.
type Helper struct {
	d *dispatch.Dispatcher
}

// NewHelper returns a helper reporting to d. A nil d follows dispatch.Current.
func NewHelper(d *dispatch.Dispatcher) *Helper {
	return &Helper{d: d}
}

func (h *Helper) dispatcher() *dispatch.Dispatcher {
	if h.d != nil {
		return h.d
	}

	return dispatch.Current()
}

// InstrumentPublish runs fn inside a producer span. fn receives a context carrying the
// span, ready for header injection.
func (h *Helper) InstrumentPublish(ctx context.Context, info PublishInfo, fn func(context.Context) error) error {
	if h == nil {
		return fn(ctx)
	}

	operation := info.Operation
	if operation == "" {
		operation = defaultPublishOperation
	}

	return h.instrument(ctx, publishSpan, publishEvent, "producer", operation, info.Destination,
		publishAttributes(info, operation), fn, publishCountField, publishLatencyField)
}

// InstrumentConsume runs fn inside a consumer span. A trace carried by ctx, for example
// one extracted from message headers, becomes the parent.
func (h *Helper) InstrumentConsume(ctx context.Context, info ConsumeInfo, fn func(context.Context) error) error {
	if h == nil {
		return fn(ctx)
	}

	operation := info.Operation
	if operation == "" {
		operation = defaultConsumeOperation
	}

	return h.instrument(ctx, consumeSpan, consumeEvent, "consumer", operation, info.Destination,
		consumeAttributes(info, operation), fn, consumeCountField, consumeLatencyField)
}

func publishAttributes(info PublishInfo, operation string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.MessagingSystemKey.String(info.System),
		semconv.MessagingOperationNameKey.String(operation),
	}
	if info.Destination != "" {
		attrs = append(attrs, semconv.MessagingDestinationNameKey.String(info.Destination))
	}

	if info.DestinationKind != "" {
		attrs = append(attrs, AttrDestinationKind.String(info.DestinationKind))
	}

	if info.Key != "" {
		attrs = append(attrs, semconv.MessagingKafkaMessageKeyKey.String(info.Key))
	}

	if info.SizeBytes > 0 {
		attrs = append(attrs, semconv.MessagingMessageBodySizeKey.Int64(info.SizeBytes))
	}

	return append(attrs, info.Attributes...)
}

func consumeAttributes(info ConsumeInfo, operation string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.MessagingSystemKey.String(info.System),
		semconv.MessagingOperationNameKey.String(operation),
	}
	if info.Destination != "" {
		attrs = append(attrs, semconv.MessagingDestinationNameKey.String(info.Destination))
	}

	if info.DestinationKind != "" {
		attrs = append(attrs, AttrDestinationKind.String(info.DestinationKind))
	}

	if info.Group != "" {
		attrs = append(attrs, AttrConsumerGroup.String(info.Group))
	}

	return append(attrs, info.Attributes...)
}

//nolint:revive // argument-limit: the callsites and fields differ per direction.
func (h *Helper) instrument(
	ctx context.Context,
	spanMD, eventMD *layer.Metadata,
	kind, operation, destination string,
	attrs []attribute.KeyValue,
	fn func(context.Context) error,
	countField, latencyField string,
) error {
	d := h.dispatcher()

	ctx, span := d.Span(ctx, spanMD, append([]attribute.KeyValue{
		attribute.String(layer.FieldName, spanName(operation, destination)),
		attribute.String(layer.FieldKind, kind),
	}, attrs...)...)
	defer span.End()

	start := time.Now()

	var err error

	span.InScope(func() {
		err = fn(ctx)
	})

	if err != nil {
		span.Record(
			attribute.String(layer.FieldStatusCode, "error"),
			attribute.String(layer.FieldStatusMessage, err.Error()),
		)
	} else {
		span.Record(attribute.String(layer.FieldStatusCode, "ok"))
	}

	d.Event(ctx, eventMD, spanName(operation, destination), append(attrs,
		attribute.Int64(countField, 1),
		attribute.Float64(latencyField, float64(time.Since(start))/float64(time.Millisecond)),
	)...)

	return err
}

func spanName(operation, destination string) string {
	switch {
	case operation != "" && destination != "":
		return operation + " " + destination
	case destination != "":
		return destination
	default:
		return "messaging"
	}
}
