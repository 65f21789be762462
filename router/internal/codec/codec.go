// Package codec defines the pluggable decoders that turn raw envelopes into
// messages, and the registry that finds them by name.
package codec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/telhawk-systems/telhawk-router/router/internal/model"
)

// KeyOverrideSource is the configuration key whose value replaces the
// decoded message source.
const KeyOverrideSource = "override_source"

// Configuration holds per-envelope codec options.
type Configuration map[string]any

// String returns a non-blank string option.
func (c Configuration) String(key string) (string, bool) {
	s, ok := c[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Bool returns a boolean option, or def when unset.
func (c Configuration) Bool(key string, def bool) bool {
	if b, ok := c[key].(bool); ok {
		return b
	}
	return def
}

// Codec decodes a single envelope. Decode returns (nil, nil) when the
// payload was understood but holds no message, and an error when the
// payload is malformed.
type Codec interface {
	Name() string
	Configuration() Configuration
	Decode(env *model.RawEnvelope) (*model.Message, error)
}

// Factory creates a codec for one envelope's configuration.
type Factory interface {
	Create(cfg Configuration) (Codec, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(cfg Configuration) (Codec, error)

// Create calls f.
func (f FactoryFunc) Create(cfg Configuration) (Codec, error) {
	return f(cfg)
}

// Registry maps codec names to factories. Populate it at startup; lookups
// are safe for concurrent use once registration is done.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the json and raw codecs.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(JSONCodecName, FactoryFunc(NewJSON))
	r.MustRegister(RawCodecName, FactoryFunc(NewRaw))
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("codec name is empty")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("codec %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered codec names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
