package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/hyp3rd/otelpipe/pkg/config"
)

// Attributes is an immutable set of resource attributes shared by every provider it is
// passed to. A nil *Attributes selects the SDK default resource.
type Attributes struct {
	res *resource.Resource
}

// Resource returns the underlying SDK resource.
func (a *Attributes) Resource() *resource.Resource {
	if a == nil {
		return nil
	}

	return a.res
}

// Len reports the number of attributes in the set.
func (a *Attributes) Len() int {
	if a == nil || a.res == nil {
		return 0
	}

	return a.res.Len()
}

// Value looks up key.
func (a *Attributes) Value(key string) (attribute.Value, bool) {
	if a == nil || a.res == nil {
		return attribute.Value{}, false
	}

	set := a.res.Set()

	return set.Value(attribute.Key(key))
}

// AttributesBuilder accumulates attributes in insertion order. Later keys replace earlier ones.
type AttributesBuilder struct {
	attrs []attribute.KeyValue
}

// NewAttributes starts an empty attribute set.
func NewAttributes() *AttributesBuilder {
	return &AttributesBuilder{}
}

// Service sets service.name and service.version.
func (b *AttributesBuilder) Service(name, version string) *AttributesBuilder {
	b.attrs = append(b.attrs, semconv.ServiceName(name))
	if version != "" {
		b.attrs = append(b.attrs, semconv.ServiceVersion(version))
	}

	return b
}

// Bool adds a boolean attribute.
func (b *AttributesBuilder) Bool(key string, value bool) *AttributesBuilder {
	b.attrs = append(b.attrs, attribute.Bool(key, value))

	return b
}

// Int adds an integer attribute.
func (b *AttributesBuilder) Int(key string, value int64) *AttributesBuilder {
	b.attrs = append(b.attrs, attribute.Int64(key, value))

	return b
}

// Float adds a floating point attribute.
func (b *AttributesBuilder) Float(key string, value float64) *AttributesBuilder {
	b.attrs = append(b.attrs, attribute.Float64(key, value))

	return b
}

// String adds a string attribute.
func (b *AttributesBuilder) String(key, value string) *AttributesBuilder {
	b.attrs = append(b.attrs, attribute.String(key, value))

	return b
}

// Bytes adds a byte attribute, stored base64 encoded.
func (b *AttributesBuilder) Bytes(key string, value []byte) *AttributesBuilder {
	b.attrs = append(b.attrs, attribute.String(key, base64.StdEncoding.EncodeToString(value)))

	return b
}

// Strings adds a string list attribute.
func (b *AttributesBuilder) Strings(key string, values ...string) *AttributesBuilder {
	b.attrs = append(b.attrs, attribute.StringSlice(key, values))

	return b
}

// Ints adds an integer list attribute.
func (b *AttributesBuilder) Ints(key string, values ...int64) *AttributesBuilder {
	b.attrs = append(b.attrs, attribute.Int64Slice(key, values))

	return b
}

// Floats adds a floating point list attribute.
func (b *AttributesBuilder) Floats(key string, values ...float64) *AttributesBuilder {
	b.attrs = append(b.attrs, attribute.Float64Slice(key, values))

	return b
}

// Bools adds a boolean list attribute.
func (b *AttributesBuilder) Bools(key string, values ...bool) *AttributesBuilder {
	b.attrs = append(b.attrs, attribute.BoolSlice(key, values))

	return b
}

// Map adds a nested map. Resource attributes are flat, so nested keys are joined with dots
// (key.inner.leaf) in sorted order.
func (b *AttributesBuilder) Map(key string, values map[string]any) *AttributesBuilder {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		b.Any(key+"."+k, values[k])
	}

	return b
}

// Any adds a value of one of the supported shapes; other types are formatted with %v.
//
//nolint:revive // cyclomatic: a flat type switch reads best here.
func (b *AttributesBuilder) Any(key string, value any) *AttributesBuilder {
	switch v := value.(type) {
	case bool:
		return b.Bool(key, v)
	case int:
		return b.Int(key, int64(v))
	case int64:
		return b.Int(key, v)
	case int32:
		return b.Int(key, int64(v))
	case float64:
		return b.Float(key, v)
	case float32:
		return b.Float(key, float64(v))
	case string:
		return b.String(key, v)
	case []byte:
		return b.Bytes(key, v)
	case []string:
		return b.Strings(key, v...)
	case []int64:
		return b.Ints(key, v...)
	case []float64:
		return b.Floats(key, v...)
	case []bool:
		return b.Bools(key, v...)
	case map[string]any:
		return b.Map(key, v)
	case attribute.Value:
		b.attrs = append(b.attrs, attribute.KeyValue{Key: attribute.Key(key), Value: v})

		return b
	default:
		return b.String(key, fmt.Sprint(v))
	}
}

// Build freezes the accumulated attributes on top of the SDK default resource.
func (b *AttributesBuilder) Build() *Attributes {
	custom := resource.NewSchemaless(b.attrs...)

	merged, err := resource.Merge(resource.Default(), custom)
	if err != nil {
		// Merge only fails on schema URL conflicts, and custom carries none.
		return &Attributes{res: custom}
	}

	return &Attributes{res: merged}
}

// AttributesFromConfig builds the resource for a service the same way for every provider:
// SDK defaults, host, process and OS detectors, environment, then the configured service.
func AttributesFromConfig(ctx context.Context, svc config.ServiceConfig) (*Attributes, error) {
	builder := NewAttributes().Service(svc.Name, svc.Version)
	if svc.Namespace != "" {
		builder.attrs = append(builder.attrs, semconv.ServiceNamespace(svc.Namespace))
	}

	if svc.Environment != "" {
		builder.attrs = append(builder.attrs, semconv.DeploymentEnvironment(svc.Environment))
	}

	keys := make([]string, 0, len(svc.Attributes))
	for k := range svc.Attributes {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		builder.String(k, svc.Attributes[k])
	}

	envRes, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create environment resource")
	}

	merged, err := resource.Merge(resource.Default(), envRes)
	if err != nil {
		return nil, ewrap.Wrap(err, "merge environment resource")
	}

	merged, err = resource.Merge(merged, resource.NewSchemaless(builder.attrs...))
	if err != nil {
		return nil, ewrap.Wrap(err, "merge service resource")
	}

	return &Attributes{res: merged}, nil
}
