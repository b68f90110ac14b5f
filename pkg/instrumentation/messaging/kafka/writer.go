package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/hyp3rd/otelpipe/pkg/instrumentation/messaging"
	"github.com/hyp3rd/otelpipe/pkg/propagation"
)

// Writer wraps a kafka.Writer with a producer span and trace headers on every message.
type Writer struct {
	writer kafkaWriter
	helper *messaging.Helper
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter instruments the provided kafka.Writer.
func NewWriter(inner *kafka.Writer, helper *messaging.Helper) *Writer {
	return NewWriterWith(inner, helper)
}

// NewWriterWith instruments any writer with the kafka.Writer publish signature.
func NewWriterWith(inner kafkaWriter, helper *messaging.Helper) *Writer {
	return &Writer{
		writer: inner,
		helper: helper,
	}
}

// WriteMessages publishes msgs inside one producer span. The caller's slice is not modified.
func (w *Writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 || w.helper == nil {
		return w.writer.WriteMessages(ctx, msgs...)
	}

	info := messaging.PublishInfo{
		System:          "kafka",
		Destination:     topicOf(msgs[0]),
		DestinationKind: "topic",
		SizeBytes:       totalPayloadBytes(msgs),
	}
	if len(msgs) == 1 {
		info.Key = string(msgs[0].Key)
	}

	return w.helper.InstrumentPublish(ctx, info, func(ctx context.Context) error {
		out := make([]kafka.Message, len(msgs))
		for i, msg := range msgs {
			msg.Headers = append([]kafka.Header(nil), msg.Headers...)
			propagation.Inject(ctx, HeaderCarrier{Headers: &msg.Headers})
			out[i] = msg
		}

		return w.writer.WriteMessages(ctx, out...)
	})
}

func topicOf(msg kafka.Message) string {
	if msg.Topic != "" {
		return msg.Topic
	}

	return "default"
}

func totalPayloadBytes(msgs []kafka.Message) int64 {
	var total int64
	for _, msg := range msgs {
		total += int64(len(msg.Value))
	}

	return total
}
