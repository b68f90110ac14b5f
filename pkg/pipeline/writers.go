package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/segmentio/kafka-go"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	fileScheme  = "file://"
	kafkaScheme = "kafka://"
)

// openSink resolves the writer behind a sink endpoint.
func openSink(endpoint string, cfg exportConfig) (io.WriteCloser, error) {
	if cfg.sinkWriter != nil {
		return nopWriteCloser{cfg.sinkWriter}, nil
	}

	switch cfg.protocol {
	case Stdout:
		return nopWriteCloser{os.Stdout}, nil
	case File:
		return newFileWriter(strings.TrimPrefix(endpoint, fileScheme), cfg.sink)
	case Kafka:
		brokers, topic, err := kafkaTarget(endpoint)
		if err != nil {
			return nil, err
		}

		return newKafkaLineWriter(&kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: cfg.timeout,
		}, cfg.timeout), nil
	default:
		return nil, ewrap.Newf("protocol %s is not a sink", cfg.protocol)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// newFileWriter opens a rotating file, creating its directory first.
func newFileWriter(path string, settings SinkSettings) (io.WriteCloser, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, ewrap.Wrapf(err, "create sink directory for %s", path)
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    settings.MaxSizeMB,
		MaxBackups: settings.MaxBackups,
		MaxAge:     settings.MaxAgeDays,
		Compress:   settings.Compress,
	}, nil
}

// kafkaTarget splits kafka://broker[,broker]/topic.
func kafkaTarget(endpoint string) ([]string, string, error) {
	rest, ok := strings.CutPrefix(endpoint, kafkaScheme)
	if !ok {
		return nil, "", ewrap.Newf("kafka endpoint %q must start with %s", endpoint, kafkaScheme)
	}

	hosts, topic, ok := strings.Cut(rest, "/")
	if !ok || topic == "" || hosts == "" {
		return nil, "", ewrap.Newf("kafka endpoint %q must name brokers and a topic", endpoint)
	}

	var brokers []string

	for _, host := range strings.Split(hosts, ",") {
		if host = strings.TrimSpace(host); host != "" {
			brokers = append(brokers, host)
		}
	}

	if len(brokers) == 0 {
		return nil, "", ewrap.Newf("kafka endpoint %q has no brokers", endpoint)
	}

	return brokers, topic, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaLineWriter publishes every complete line written to it as one message. A trailing
// partial line is kept until the rest arrives or the writer is closed.
type kafkaLineWriter struct {
	mu      sync.Mutex
	writer  messageWriter
	timeout time.Duration
	pending []byte
}

func newKafkaLineWriter(writer messageWriter, timeout time.Duration) *kafkaLineWriter {
	return &kafkaLineWriter{writer: writer, timeout: timeout}
}

// Write implements io.Writer.
func (k *kafkaLineWriter) Write(p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.pending = append(k.pending, p...)

	var msgs []kafka.Message

	for {
		idx := bytes.IndexByte(k.pending, '\n')
		if idx < 0 {
			break
		}

		line := bytes.Clone(k.pending[:idx])
		k.pending = k.pending[idx+1:]

		if len(line) > 0 {
			msgs = append(msgs, kafka.Message{Value: line})
		}
	}

	if len(msgs) == 0 {
		return len(p), nil
	}

	err := k.publish(msgs)
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

// Close flushes a trailing partial line and closes the producer.
func (k *kafkaLineWriter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var errs []error

	if len(k.pending) > 0 {
		err := k.publish([]kafka.Message{{Value: k.pending}})
		if err != nil {
			errs = append(errs, err)
		}

		k.pending = nil
	}

	err := k.writer.Close()
	if err != nil {
		errs = append(errs, ewrap.Wrap(err, "close kafka writer"))
	}

	return errors.Join(errs...)
}

func (k *kafkaLineWriter) publish(msgs []kafka.Message) error {
	ctx := context.Background()

	if k.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	err := k.writer.WriteMessages(ctx, msgs...)
	if err != nil {
		return ewrap.Wrap(err, "publish sink messages")
	}

	return nil
}
