package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/otelpipe/pkg/config"
)

// Kind identifies one of the independently configurable telemetry kinds.
type Kind uint8

const (
	// KindLogs is the log record pipeline.
	KindLogs Kind = iota
	// KindTrace is the span pipeline.
	KindTrace
	// KindMetrics is the metric point pipeline.
	KindMetrics

	kindCount = 3
)

var allKinds = [kindCount]Kind{KindLogs, KindTrace, KindMetrics}

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindLogs:
		return "logs"
	case KindTrace:
		return "trace"
	case KindMetrics:
		return "metrics"
	default:
		return "unknown"
	}
}

// suffix is the path appended to HTTP destinations.
func (k Kind) suffix() string {
	switch k {
	case KindLogs:
		return "/logs"
	case KindTrace:
		return "/traces"
	case KindMetrics:
		return "/metrics"
	default:
		return ""
	}
}

// Protocol selects the wire protocol of a Destination.
type Protocol uint8

const (
	// Grpc exports OTLP over gRPC with metadata headers.
	Grpc Protocol = iota
	// HTTPBinary exports OTLP protobuf over HTTP.
	HTTPBinary
	// HTTPJSON exports OTLP JSON over HTTP.
	HTTPJSON
	// Agent exports traces to a Jaeger agent over UDP. Logs and metrics are not supported.
	Agent
	// File writes JSON lines to a rotating file given as file://<path>.
	File
	// Stdout writes JSON lines to standard output.
	Stdout
	// Kafka writes JSON lines to a topic given as kafka://broker[,broker]/topic.
	Kafka
)

// String implements fmt.Stringer.
func (p Protocol) String() string {
	switch p {
	case Grpc:
		return "grpc"
	case HTTPBinary:
		return "http/protobuf"
	case HTTPJSON:
		return "http/json"
	case Agent:
		return "agent"
	case File:
		return "file"
	case Stdout:
		return "stdout"
	case Kafka:
		return "kafka"
	default:
		return "unknown"
	}
}

// ParseProtocol maps the configuration spelling of a protocol.
func ParseProtocol(value string) (Protocol, error) {
	canonical, _ := config.CanonicalProtocol(value)

	switch canonical {
	case "grpc":
		return Grpc, nil
	case "http_binary":
		return HTTPBinary, nil
	case "http_json":
		return HTTPJSON, nil
	case "agent":
		return Agent, nil
	case "file":
		return File, nil
	case "stdout":
		return Stdout, nil
	case "kafka":
		return Kafka, nil
	default:
		return 0, ewrap.Newf("unknown protocol %q", value)
	}
}

func (p Protocol) isHTTP() bool {
	return p == HTTPBinary || p == HTTPJSON
}

func (p Protocol) isSink() bool {
	return p == File || p == Stdout || p == Kafka
}

// Destination is the backend address and the protocol used to reach it.
type Destination struct {
	Protocol Protocol
	URL      string
}

// endpointFor resolves the per-kind endpoint. HTTP destinations get the kind suffix after
// one trailing slash is trimmed; file and kafka sinks keep logs on the given target and
// put traces and metrics next to it.
func (d Destination) endpointFor(kind Kind) string {
	switch {
	case d.Protocol.isHTTP():
		return strings.TrimSuffix(d.URL, "/") + kind.suffix()
	case d.Protocol == File && kind != KindLogs:
		path := strings.TrimPrefix(d.URL, fileScheme)
		ext := filepath.Ext(path)

		return fileScheme + strings.TrimSuffix(path, ext) + "-" + strings.TrimPrefix(kind.suffix(), "/") + ext
	case d.Protocol == Kafka && kind != KindLogs:
		return d.URL + "-" + strings.TrimPrefix(kind.suffix(), "/")
	default:
		return d.URL
	}
}
