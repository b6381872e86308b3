package refmap

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix used by LoadConfig
// when none is given.
const DefaultEnvPrefix = "REFMAP_"

// Config is the file and environment form of the Map options.
type Config struct {
	InitialCapacity  int     `koanf:"initial_capacity"`
	LoadFactor       float64 `koanf:"load_factor"`
	ConcurrencyLevel int     `koanf:"concurrency_level"`
	// ReferenceType is "soft" or "weak".
	ReferenceType string `koanf:"reference_type"`
	PurgeOnRead   bool   `koanf:"purge_on_read"`
	GCReclaim     bool   `koanf:"gc_reclaim"`
	// SoftHeapLimit is in bytes.
	SoftHeapLimit uint64 `koanf:"soft_heap_limit"`
}

// DefaultConfig returns the configuration NewMap uses without options.
func DefaultConfig() Config {
	return Config{
		InitialCapacity:  DefaultInitialCapacity,
		LoadFactor:       DefaultLoadFactor,
		ConcurrencyLevel: DefaultConcurrencyLevel,
		ReferenceType:    SoftReference.String(),
	}
}

// LoadConfig loads a Config on top of DefaultConfig. Later sources override
// earlier ones:
//  1. the YAML file at path, if path is not empty
//  2. environment variables named envPrefix + upper-cased key,
//     e.g. REFMAP_LOAD_FACTOR=0.5
//
// An empty envPrefix means DefaultEnvPrefix.
func LoadConfig(path, envPrefix string) (Config, error) {
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// REFMAP_LOAD_FACTOR -> load_factor
	envTransformer := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}
	if err := k.Load(env.Provider(envPrefix, ".", envTransformer), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Options converts c into NewMap options. The numeric fields are checked
// by NewMap itself.
func (c Config) Options() ([]func(*MapConfig), error) {
	t, err := ParseReferenceType(c.ReferenceType)
	if err != nil {
		return nil, err
	}
	opts := []func(*MapConfig){
		WithInitialCapacity(c.InitialCapacity),
		WithLoadFactor(c.LoadFactor),
		WithConcurrencyLevel(c.ConcurrencyLevel),
		WithReferenceType(t),
		WithSoftHeapLimit(c.SoftHeapLimit),
	}
	if c.PurgeOnRead {
		opts = append(opts, WithPurgeOnRead())
	}
	if c.GCReclaim {
		opts = append(opts, WithGCReclaim())
	}
	return opts, nil
}
