package config

import (
	"context"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/hyp3rd/ewrap"
)

// EnvLoader reads overrides from variables named PREFIX + path, where path joins the yaml
// names of Config with "__", for example OTELPIPE_PIPELINE__TRACE__SAMPLE_RATE. Below a
// map field the remaining segments form the map key, joined with dots; list fields take a
// comma separated value.
type EnvLoader struct {
	Prefix string
	// Environ replaces os.Environ.
	Environ func() []string
}

// Load implements Loader.
func (el EnvLoader) Load(ctx context.Context) (map[string]any, error) {
	prefix := el.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	environ := el.Environ
	if environ == nil {
		environ = os.Environ
	}

	tree := map[string]any{}

	for _, kv := range environ() {
		if err := ctx.Err(); err != nil {
			return nil, ewrap.Wrap(err, "read environment")
		}

		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}

		segments := envSegments(strings.TrimPrefix(name, prefix))
		if len(segments) == 0 {
			continue
		}

		path, shape := schema().resolve(segments)
		if shape == shapeList {
			setPath(tree, path, splitList(value))
		} else {
			setPath(tree, path, value)
		}
	}

	if len(tree) == 0 {
		return nil, ErrSourceAbsent
	}

	return tree, nil
}

func envSegments(key string) []string {
	key = strings.ToLower(key)

	var segments []string

	for seg := range strings.SplitSeq(key, "__") {
		if seg = strings.Trim(seg, "_."); seg != "" {
			segments = append(segments, seg)
		}
	}

	return segments
}

func splitList(raw string) []string {
	var out []string

	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

func setPath(tree map[string]any, path []string, value any) {
	for _, segment := range path[:len(path)-1] {
		next, ok := tree[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			tree[segment] = next
		}

		tree = next
	}

	tree[path[len(path)-1]] = value
}

type fieldShape uint8

const (
	shapeScalar fieldShape = iota
	shapeSection
	shapeList
	shapeMap
)

// fieldSchema maps every dotted yaml path of Config to the shape of its field.
type fieldSchema map[string]fieldShape

var schema = sync.OnceValue(func() fieldSchema {
	s := fieldSchema{}
	s.collect(reflect.TypeFor[Config](), "")

	return s
})

func (s fieldSchema) collect(t reflect.Type, prefix string) {
	for i := range t.NumField() {
		field := t.Field(i)

		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			continue
		}

		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		switch field.Type.Kind() {
		case reflect.Struct:
			s[path] = shapeSection
			s.collect(field.Type, path)
		case reflect.Slice:
			s[path] = shapeList
		case reflect.Map:
			s[path] = shapeMap
		default:
			s[path] = shapeScalar
		}
	}
}

// resolve turns env segments into a tree path. Segments past a map field become a single
// key. Paths the schema does not know are returned unchanged so decoding rejects them.
func (s fieldSchema) resolve(segments []string) ([]string, fieldShape) {
	for i := range segments {
		shape, known := s[strings.Join(segments[:i+1], ".")]
		if !known {
			return segments, shapeScalar
		}

		if shape == shapeMap && i+1 < len(segments) {
			return append(segments[:i+1:i+1], strings.Join(segments[i+1:], ".")), shapeScalar
		}

		if shape != shapeSection {
			return segments, shape
		}
	}

	return segments, shapeSection
}
