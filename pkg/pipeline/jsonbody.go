//go:build !otelpipe_nohttp

package pipeline

import (
	"bytes"
	"crypto/tls"
	"io"
	"net/http"

	"github.com/hyp3rd/ewrap"
	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
)

const (
	contentTypeJSON = "application/json"
	encodingGzip    = "gzip"
)

// transcodeFunc rewrites an OTLP protobuf payload as OTLP JSON.
type transcodeFunc func([]byte) ([]byte, error)

func transcoderFor(kind Kind) transcodeFunc {
	switch kind {
	case KindLogs:
		return func(body []byte) ([]byte, error) {
			logs, err := (&plog.ProtoUnmarshaler{}).UnmarshalLogs(body)
			if err != nil {
				return nil, ewrap.Wrap(err, "decode otlp logs")
			}

			return (&plog.JSONMarshaler{}).MarshalLogs(logs)
		}
	case KindTrace:
		return func(body []byte) ([]byte, error) {
			traces, err := (&ptrace.ProtoUnmarshaler{}).UnmarshalTraces(body)
			if err != nil {
				return nil, ewrap.Wrap(err, "decode otlp traces")
			}

			return (&ptrace.JSONMarshaler{}).MarshalTraces(traces)
		}
	default:
		return func(body []byte) ([]byte, error) {
			metrics, err := (&pmetric.ProtoUnmarshaler{}).UnmarshalMetrics(body)
			if err != nil {
				return nil, ewrap.Wrap(err, "decode otlp metrics")
			}

			return (&pmetric.JSONMarshaler{}).MarshalMetrics(metrics)
		}
	}
}

// jsonRoundTripper sits below an OTLP HTTP exporter and re-encodes each request body as
// JSON, keeping the gzip encoding the exporter chose. Responses pass through unchanged;
// the exporters only decode bodies labeled as protobuf.
type jsonRoundTripper struct {
	transcode transcodeFunc
	next      http.RoundTripper
}

func newJSONClient(kind Kind, tlsCfg *tls.Config) *http.Client {
	base, ok := http.DefaultTransport.(*http.Transport)

	var next http.RoundTripper = http.DefaultTransport

	if ok {
		cloned := base.Clone()
		if tlsCfg != nil {
			cloned.TLSClientConfig = tlsCfg.Clone()
		}

		next = cloned
	}

	return &http.Client{
		Transport: &jsonRoundTripper{
			transcode: transcoderFor(kind),
			next:      next,
		},
	}
}

// RoundTrip implements http.RoundTripper.
func (j *jsonRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return j.next.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	closeErr := req.Body.Close()

	if err != nil {
		return nil, ewrap.Wrap(err, "read otlp request body")
	}

	if closeErr != nil {
		return nil, ewrap.Wrap(closeErr, "close otlp request body")
	}

	gzipped := req.Header.Get("Content-Encoding") == encodingGzip
	if gzipped {
		body, err = gunzip(body)
		if err != nil {
			return nil, err
		}
	}

	payload, err := j.transcode(body)
	if err != nil {
		return nil, ewrap.Wrap(err, "encode otlp json")
	}

	if gzipped {
		payload, err = gzipBytes(payload)
		if err != nil {
			return nil, err
		}
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(payload))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	out.ContentLength = int64(len(payload))
	out.Header.Set("Content-Type", contentTypeJSON)

	return j.next.RoundTrip(out)
}

func gunzip(body []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, ewrap.Wrap(err, "open gzip body")
	}

	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, ewrap.Wrap(err, "decompress body")
	}

	return out, nil
}

func gzipBytes(body []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer := gzip.NewWriter(&buf)

	_, err := writer.Write(body)
	if err != nil {
		return nil, ewrap.Wrap(err, "compress body")
	}

	err = writer.Close()
	if err != nil {
		return nil, ewrap.Wrap(err, "finish compressed body")
	}

	return buf.Bytes(), nil
}
