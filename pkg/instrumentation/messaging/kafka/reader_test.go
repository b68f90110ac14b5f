package kafka_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hyp3rd/ewrap"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	pipekafka "github.com/hyp3rd/otelpipe/pkg/instrumentation/messaging/kafka"
)

func TestReaderFetchMessageInstrumentsReceive(t *testing.T) {
	t.Parallel()

	helper, recorder := newHelper()

	stub := &stubKafkaReader{
		config: kafka.ReaderConfig{
			Topic:   "payments",
			GroupID: "group-1",
		},
		message: kafka.Message{Topic: "payments"},
	}
	instrumented := pipekafka.NewReaderWith(stub, helper)

	msg, err := instrumented.FetchMessage(context.Background())
	if err != nil {
		t.Fatalf("FetchMessage returned error: %v", err)
	}

	if msg.Topic != "payments" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "receive payments" || spans[0].SpanKind() != trace.SpanKindConsumer {
		t.Fatalf("unexpected spans %v", spans)
	}
}

func TestReaderFetchMessagePropagatesErrors(t *testing.T) {
	t.Parallel()

	helper, _ := newHelper()

	expected := ewrap.New("fetch failed")
	stub := &stubKafkaReader{
		config:   kafka.ReaderConfig{Topic: "orders"},
		fetchErr: expected,
	}
	instrumented := pipekafka.NewReaderWith(stub, helper)

	_, err := instrumented.FetchMessage(context.Background())
	if !errors.Is(err, expected) {
		t.Fatalf("expected %v, got %v", expected, err)
	}
}

func TestProcessContinuesProducerTrace(t *testing.T) {
	t.Parallel()

	helper, recorder := newHelper()

	sink := &stubKafkaWriter{}

	err := pipekafka.NewWriterWith(sink, helper).WriteMessages(context.Background(),
		kafka.Message{Topic: "orders", Value: []byte("1")})
	if err != nil {
		t.Fatalf("WriteMessages returned error: %v", err)
	}

	reader := pipekafka.NewReaderWith(&stubKafkaReader{config: kafka.ReaderConfig{Topic: "orders"}}, helper)

	err = reader.Process(context.Background(), sink.written[0], func(ctx context.Context, _ kafka.Message) error {
		if !trace.SpanContextFromContext(ctx).IsValid() {
			t.Error("expected the consumer span in the handler context")
		}

		return nil
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected producer and consumer spans, got %d", len(spans))
	}

	producer, consumer := spans[0], spans[1]
	if consumer.Name() != "process orders" {
		t.Fatalf("unexpected consumer span %q", consumer.Name())
	}

	if consumer.SpanContext().TraceID() != producer.SpanContext().TraceID() ||
		consumer.Parent().SpanID() != producer.SpanContext().SpanID() {
		t.Fatal("the consumer span must be a child of the producer span")
	}
}

type stubKafkaReader struct {
	config   kafka.ReaderConfig
	message  kafka.Message
	fetchErr error
}

func (s *stubKafkaReader) Config() kafka.ReaderConfig {
	return s.config
}

func (s *stubKafkaReader) FetchMessage(_ context.Context) (kafka.Message, error) {
	if s.fetchErr != nil {
		return kafka.Message{}, s.fetchErr
	}

	return s.message, nil
}

func (*stubKafkaReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	return nil
}
