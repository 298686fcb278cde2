// Package runtimes resolves a runtime name to the container image, default
// command and default code filename used to run it.
//
// A Registry is built once from the configuration and never mutated
// afterwards, so it is safe to share between concurrent sessions.
package runtimes

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/isdmx/livecode/config"
)

// ErrUnknownRuntime is returned by Lookup for names that are not configured.
var ErrUnknownRuntime = errors.New("unknown runtime")

// Spec is the launch recipe of one runtime.
type Spec struct {
	Name         string
	Image        string
	Command      []string
	CodeFilename string
	Env          []string
}

// Registry is an immutable name → Spec table.
type Registry struct {
	specs map[string]Spec
}

// New builds a registry from the runtimes section of cfg.
func New(cfg *config.Config) *Registry {
	return FromMap(cfg.Runtimes)
}

// FromMap builds a registry from raw runtime definitions.
func FromMap(defs map[string]config.Runtime) *Registry {
	specs := make(map[string]Spec, len(defs))
	for name, def := range defs {
		specs[strings.ToLower(name)] = Spec{
			Name:         strings.ToLower(name),
			Image:        def.Image,
			Command:      slices.Clone(def.Command),
			CodeFilename: def.CodeFilename,
			Env:          slices.Clone(def.Environment),
		}
	}
	return &Registry{specs: specs}
}

// Lookup returns the spec registered under name.
// The returned slices are copies; callers may modify them.
func (r *Registry) Lookup(name string) (Spec, error) {
	spec, ok := r.specs[strings.ToLower(name)]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownRuntime, name)
	}
	spec.Command = slices.Clone(spec.Command)
	spec.Env = slices.Clone(spec.Env)
	return spec, nil
}

// Has reports whether name is configured.
func (r *Registry) Has(name string) bool {
	_, ok := r.specs[strings.ToLower(name)]
	return ok
}

// Names returns the configured runtime names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.specs))
}
