package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyp3rd/ewrap"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFile is the YAML file read by FileLoader when no path is set.
	DefaultFile = "otelpipe.yaml"
	// DefaultEnvPrefix is the environment prefix read by EnvLoader when none is set.
	DefaultEnvPrefix = "OTELPIPE_"
)

// ErrSourceAbsent tells Load that a loader had nothing to contribute, for example a
// missing optional file. Load moves on to the next loader.
var ErrSourceAbsent = ewrap.New("configuration source absent")

// Loader produces a partial configuration tree keyed by the yaml names of Config.
type Loader interface {
	Load(ctx context.Context) (map[string]any, error)
}

// LoaderFunc adapts ordinary functions into Loader.
type LoaderFunc func(ctx context.Context) (map[string]any, error)

// Load implements Loader.
func (lf LoaderFunc) Load(ctx context.Context) (map[string]any, error) {
	return lf(ctx)
}

// Load layers the loaders over DefaultConfig in order, later loaders winning, and
// validates the result. Keys that name no configuration field are rejected.
func Load(ctx context.Context, loaders ...Loader) (Config, error) {
	cfg := DefaultConfig()

	for _, loader := range loaders {
		if loader == nil {
			continue
		}

		tree, err := loader.Load(ctx)
		if errors.Is(err, ErrSourceAbsent) {
			continue
		}

		if err != nil {
			return Config{}, err
		}

		err = decodeOnto(&cfg, tree)
		if err != nil {
			return Config{}, err
		}
	}

	err := Validate(cfg)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func decodeOnto(cfg *Config, tree map[string]any) error {
	if len(tree) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return ewrap.Wrap(err, "create config decoder")
	}

	err = decoder.Decode(tree)
	if err != nil {
		return ewrap.Wrap(err, "decode config")
	}

	return nil
}

// FileLoader reads a YAML file, from FS when set and from the OS otherwise. A missing file
// is not an error.
type FileLoader struct {
	Path string
	FS   fs.FS
}

// Load implements Loader.
func (fl FileLoader) Load(context.Context) (map[string]any, error) {
	path := fl.Path
	if path == "" {
		path = DefaultFile
	}

	path = filepath.Clean(path)

	var (
		data []byte
		err  error
	)

	if fl.FS != nil {
		data, err = fs.ReadFile(fl.FS, path)
	} else {
		data, err = os.ReadFile(path)
	}

	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSourceAbsent
	}

	if err != nil {
		return nil, ewrap.Wrapf(err, "read config file %q", path)
	}

	var tree map[string]any

	err = yaml.Unmarshal(data, &tree)
	if err != nil {
		return nil, ewrap.Wrapf(err, "parse config file %q", path)
	}

	return tree, nil
}
