package partner

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrUnknownPartner is returned by Lookup when the partner name is not registered.
var ErrUnknownPartner = errors.New("unknown partner")

//go:embed partners.toml
var defaultPartners []byte

// Registry is an immutable set of partner configurations keyed by name.
type Registry struct {
	partners map[string]Config
}

// Default returns the registry built from the embedded partner list.
func Default() (*Registry, error) {
	return Load(defaultPartners)
}

// Load parses a TOML document whose top-level tables are partner names.
func Load(src []byte) (*Registry, error) {
	raw, err := toml.Parser().Unmarshal(src)
	if err != nil {
		return nil, fmt.Errorf("parsing partner settings: %w", err)
	}

	k := koanf.New(".")
	// Empty delimiter: the parsed map is already nested.
	if err := k.Load(confmap.Provider(raw, ""), nil); err != nil {
		return nil, fmt.Errorf("loading partner settings: %w", err)
	}
	return fromKoanf(k)
}

// LoadFile reads partner settings from a TOML file on disk.
func LoadFile(path string) (*Registry, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("loading partner settings from %s: %w", path, err)
	}
	return fromKoanf(k)
}

// New builds a registry from already constructed configurations.
// Intended for tests and callers that fabricate partners programmatically.
func New(configs ...Config) (*Registry, error) {
	r := &Registry{partners: make(map[string]Config, len(configs))}
	validate := validator.New()
	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, errors.New("partner name cannot be empty")
		}
		if err := validate.Struct(cfg); err != nil {
			return nil, fmt.Errorf("invalid partner %s: %w", cfg.Name, err)
		}
		r.partners[cfg.Name] = cfg.clone()
	}
	return r, nil
}

func fromKoanf(k *koanf.Koanf) (*Registry, error) {
	entries := make(map[string]Config)
	if err := k.UnmarshalWithConf("", &entries, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decoding partner settings: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("no partners configured")
	}

	configs := make([]Config, 0, len(entries))
	for name, cfg := range entries {
		cfg.Name = name
		configs = append(configs, cfg)
	}
	return New(configs...)
}

// Lookup returns the configuration of the named partner.
func (r *Registry) Lookup(name string) (Config, error) {
	cfg, ok := r.partners[name]
	if !ok {
		return Config{}, fmt.Errorf("%w %q, choose one of: %s", ErrUnknownPartner, name, strings.Join(r.Names(), ", "))
	}
	return cfg.clone(), nil
}

// Names returns the registered partner names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.partners))
}
