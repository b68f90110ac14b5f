package layer

import (
	"go.opentelemetry.io/otel/attribute"
)

const defaultScope = "github.com/hyp3rd/otelpipe/pkg/layer"

// AdapterOption customizes a single adapter.
type AdapterOption func(*adapterOptions)

type adapterOptions struct {
	scope    string
	minLevel Level
	hasMin   bool
}

func newAdapterOptions(opts []AdapterOption) adapterOptions {
	o := adapterOptions{scope: defaultScope}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// WithMinLevel drops callsites less severe than level and reports level as the hint.
func WithMinLevel(level Level) AdapterOption {
	return func(o *adapterOptions) {
		o.minLevel = level
		o.hasMin = true
	}
}

// WithScope names the instrumentation scope of the adapter's logger, tracer or meter.
func WithScope(name string) AdapterOption {
	return func(o *adapterOptions) {
		if name != "" {
			o.scope = name
		}
	}
}

func (o adapterOptions) allows(level Level) bool {
	return !o.hasMin || o.minLevel.Allows(level)
}

func (o adapterOptions) hint() (Level, bool) {
	return o.minLevel, o.hasMin
}

// Callsite attribute keys shared by the logs and trace adapters.
const (
	codeNamespaceKey = attribute.Key("code.namespace")
	codeFilepathKey  = attribute.Key("code.filepath")
	codeLinenoKey    = attribute.Key("code.lineno")
	levelKey         = attribute.Key("level")
)

func callsiteAttributes(md *Metadata) []attribute.KeyValue {
	if md == nil {
		return nil
	}

	attrs := make([]attribute.KeyValue, 0, 3)
	if md.Target != "" {
		attrs = append(attrs, codeNamespaceKey.String(md.Target))
	}

	if md.File != "" {
		attrs = append(attrs, codeFilepathKey.String(md.File))
	}

	if md.Line > 0 {
		attrs = append(attrs, codeLinenoKey.Int(md.Line))
	}

	return attrs
}
