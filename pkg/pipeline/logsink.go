package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"io"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/trace"
)

const (
	sinkFieldMessage   = "message"
	sinkFieldTimestamp = "timestamp"
	sinkFieldLevel     = "level"
	sinkFieldTraceID   = "dd.trace_id"
	sinkFieldSpanID    = "dd.span_id"
	sinkFieldPrefix    = "fields."
)

var sinkJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONExporter writes each log record as one JSON object per line. A batch is encoded
// completely before anything is written, so a record that cannot be encoded fails the
// whole batch without partial output.
type JSONExporter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

// NewJSONExporter writes to w. Shutdown closes w.
func NewJSONExporter(w io.WriteCloser) *JSONExporter {
	return &JSONExporter{w: w}
}

// Export implements sdklog.Exporter.
func (e *JSONExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrAlreadyShutdown
	}

	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer

	for i := range records {
		err := encodeRecord(&buf, &records[i])
		if err != nil {
			return err
		}
	}

	_, err := e.w.Write(buf.Bytes())
	if err != nil {
		return ewrap.Wrap(err, "write log records")
	}

	return nil
}

// ForceFlush implements sdklog.Exporter. Records are written synchronously.
func (*JSONExporter) ForceFlush(context.Context) error {
	return nil
}

// Shutdown implements sdklog.Exporter.
func (e *JSONExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrAlreadyShutdown
	}

	e.closed = true

	err := e.w.Close()
	if err != nil {
		return ewrap.Wrap(err, "close log sink")
	}

	return nil
}

// encodeRecord writes one JSON object per record. message, timestamp and level are only
// written when the record carries them.
func encodeRecord(buf *bytes.Buffer, record *sdklog.Record) error {
	stream := jsoniter.NewStream(sinkJSON, nil, 512)
	fields := 0

	field := func(name string) {
		if fields > 0 {
			stream.WriteMore()
		}

		fields++

		stream.WriteObjectField(name)
	}

	stream.WriteObjectStart()

	if body := record.Body(); body.Kind() != log.KindEmpty {
		field(sinkFieldMessage)

		err := writeValue(stream, body)
		if err != nil {
			return ewrap.Wrap(err, "encode log body")
		}
	}

	if ts := recordTime(record); !ts.IsZero() {
		field(sinkFieldTimestamp)
		stream.WriteString(ts.UTC().Format(time.RFC3339Nano))
	}

	if level := record.SeverityText(); level != "" {
		field(sinkFieldLevel)
		stream.WriteString(level)
	}

	traceID, spanID := record.TraceID(), record.SpanID()
	if traceID.IsValid() && spanID.IsValid() {
		field(sinkFieldTraceID)
		stream.WriteRaw(traceIDDecimal(traceID))

		field(sinkFieldSpanID)
		stream.WriteUint64(binary.BigEndian.Uint64(spanID[:]))
	}

	var err error

	record.WalkAttributes(func(kv log.KeyValue) bool {
		field(sinkFieldPrefix + kv.Key)

		err = writeValue(stream, kv.Value)

		return err == nil
	})

	if err != nil {
		return ewrap.Wrap(err, "encode log record")
	}

	stream.WriteObjectEnd()
	stream.WriteRaw("\n")

	if stream.Error != nil {
		return ewrap.Wrap(stream.Error, "encode log record")
	}

	buf.Write(stream.Buffer())

	return nil
}

// recordTime prefers the record's own timestamp over the observed one. Zero means neither
// is set.
func recordTime(record *sdklog.Record) time.Time {
	if ts := record.Timestamp(); !ts.IsZero() {
		return ts
	}

	return record.ObservedTimestamp()
}

// traceIDDecimal renders the 16 trace ID bytes as one big-endian unsigned integer.
func traceIDDecimal(id trace.TraceID) string {
	return new(big.Int).SetBytes(id[:]).String()
}

func writeValue(stream *jsoniter.Stream, value log.Value) error {
	switch value.Kind() {
	case log.KindEmpty:
		stream.WriteNil()
	case log.KindBool:
		stream.WriteBool(value.AsBool())
	case log.KindInt64:
		stream.WriteInt64(value.AsInt64())
	case log.KindFloat64:
		f := value.AsFloat64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ewrap.Wrapf(ErrUnsupportedValue, "float %v", f)
		}

		stream.WriteFloat64(f)
	case log.KindString:
		stream.WriteString(value.AsString())
	case log.KindBytes:
		stream.WriteString(base64.StdEncoding.EncodeToString(value.AsBytes()))
	case log.KindSlice:
		stream.WriteArrayStart()

		for i, item := range value.AsSlice() {
			if i > 0 {
				stream.WriteMore()
			}

			err := writeValue(stream, item)
			if err != nil {
				return err
			}
		}

		stream.WriteArrayEnd()
	case log.KindMap:
		stream.WriteObjectStart()

		for i, kv := range value.AsMap() {
			if i > 0 {
				stream.WriteMore()
			}

			stream.WriteObjectField(kv.Key)

			err := writeValue(stream, kv.Value)
			if err != nil {
				return err
			}
		}

		stream.WriteObjectEnd()
	default:
		return ewrap.Wrapf(ErrUnsupportedValue, "value kind %s", value.Kind())
	}

	return nil
}
