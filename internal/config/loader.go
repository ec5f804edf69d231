package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix of environment overrides.
const DefaultEnvPrefix = "SOLVEGRID_"

// DefaultDotenvFiles are read, when present, before the environment is consulted.
var DefaultDotenvFiles = []string{".env.local", ".env"}

// Loader merges defaults, a YAML file and the environment, in that order of
// increasing priority.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	dotenv    []string
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile sets the YAML file to read. An empty path skips the file.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithDotenv sets the dotenv files loaded into the process environment.
// Missing files are skipped; earlier files win.
func WithDotenv(files ...string) Option {
	return func(l *Loader) { l.dotenv = files }
}

// NewLoader creates a loader with no file and no dotenv files.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load layers defaults, file and environment and unmarshals the result into
// target, whose fields carry dotted koanf tags such as "node.timeout".
func (l *Loader) Load(defaults map[string]any, target any) error {
	if err := l.k.Load(mapProvider(defaults), nil); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}

	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}

	for _, name := range l.dotenv {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}

	// SOLVEGRID_NODE_TIMEOUT -> node.timeout
	transform := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, l.envPrefix)), "_", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	conf := koanf.UnmarshalConf{
		Tag:       "koanf",
		FlatPaths: true,
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           target,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}
	if err := l.k.UnmarshalWithConf("", target, conf); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// String returns the merged value of key, for diagnostics.
func (l *Loader) String(key string) string {
	return l.k.String(key)
}

// mapProvider feeds a map with dotted keys to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m, "."), nil
}
