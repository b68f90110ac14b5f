// Package kafka instruments segmentio/kafka-go readers and writers.
package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/hyp3rd/otelpipe/pkg/instrumentation/messaging"
	"github.com/hyp3rd/otelpipe/pkg/propagation"
)

// Reader wraps a kafka.Reader with consumer spans.
type Reader struct {
	reader kafkaReader
	helper *messaging.Helper
}

type kafkaReader interface {
	Config() kafka.ReaderConfig
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewReader instruments the provided kafka.Reader.
func NewReader(inner *kafka.Reader, helper *messaging.Helper) *Reader {
	return NewReaderWith(inner, helper)
}

// NewReaderWith instruments any reader with the kafka.Reader fetch signature.
func NewReaderWith(inner kafkaReader, helper *messaging.Helper) *Reader {
	return &Reader{
		reader: inner,
		helper: helper,
	}
}

// FetchMessage wraps the fetch in a "receive" consumer span.
func (r *Reader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.helper == nil {
		return r.reader.FetchMessage(ctx)
	}

	var msg kafka.Message

	info := r.info("receive")

	err := r.helper.InstrumentConsume(ctx, info, func(ctx context.Context) error {
		var err error

		msg, err = r.reader.FetchMessage(ctx)

		return err
	})
	if err != nil {
		return kafka.Message{}, err
	}

	return msg, nil
}

// Process runs fn inside a "process" consumer span parented by the trace the producer
// wrote into msg's headers.
func (r *Reader) Process(ctx context.Context, msg kafka.Message, fn func(context.Context, kafka.Message) error) error {
	headers := msg.Headers
	ctx = propagation.Extract(ctx, HeaderCarrier{Headers: &headers})

	if r.helper == nil {
		return fn(ctx, msg)
	}

	return r.helper.InstrumentConsume(ctx, r.info("process"), func(ctx context.Context) error {
		return fn(ctx, msg)
	})
}

// CommitMessages delegates to the underlying reader.
func (r *Reader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	return r.reader.CommitMessages(ctx, msgs...)
}

func (r *Reader) info(operation string) messaging.ConsumeInfo {
	cfg := r.reader.Config()

	return messaging.ConsumeInfo{
		System:          "kafka",
		Destination:     cfg.Topic,
		DestinationKind: "topic",
		Group:           cfg.GroupID,
		Operation:       operation,
	}
}
