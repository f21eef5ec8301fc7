// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownKind is returned when no step kind is registered under the
// requested tag.
var ErrUnknownKind = errors.New("unknown step kind")

// Definition describes one registered step kind: how to construct it for
// decoding plus display metadata for catalogs and tooling.
type Definition struct {
	// Tag is the `type` discriminator used in authored sources.
	Tag string
	// New returns a fresh zero value of the concrete step type. The codec
	// decodes the step's remaining fields into it.
	New func() Step
	// DisplayName is a human-readable name for the kind.
	DisplayName string
	// Description is a short description of what the kind does.
	Description string
}

// Registry maps step kind tags to their definitions. It is populated at
// process startup (built-in kinds via init, plugin kinds before the
// server starts serving) and is read-only afterwards, so no mutex is
// needed.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry creates a new, empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register installs a step kind. It panics if the definition is
// incomplete or the tag is already bound; both are configuration errors
// that must surface at startup.
func (r *Registry) Register(def Definition) {
	if def.Tag == "" {
		panic("step: Register called with empty tag")
	}
	if def.New == nil {
		panic(fmt.Sprintf("step: Register(%q) called with nil constructor", def.Tag))
	}
	if _, exists := r.defs[def.Tag]; exists {
		panic(fmt.Sprintf("step: kind %q is already registered", def.Tag))
	}
	r.defs[def.Tag] = def
}

// Lookup returns the definition registered under tag. It returns
// ErrUnknownKind (wrapped with the tag) if no kind is registered.
func (r *Registry) Lookup(tag string) (Definition, error) {
	def, ok := r.defs[tag]
	if !ok {
		return Definition{}, fmt.Errorf("step kind %q: %w", tag, ErrUnknownKind)
	}
	return def, nil
}

// Has reports whether a kind is registered under tag.
func (r *Registry) Has(tag string) bool {
	_, ok := r.defs[tag]
	return ok
}

// Kinds returns all registered tags in alphabetical order.
func (r *Registry) Kinds() []string {
	tags := make([]string, 0, len(r.defs))
	for tag := range r.defs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// DefaultRegistry is the package-level singleton. Built-in kinds register
// into it from init functions; plugin packages do the same when imported.
var DefaultRegistry = NewRegistry()

// Register installs def into DefaultRegistry. See Registry.Register for
// panic conditions.
func Register(def Definition) { DefaultRegistry.Register(def) }

// Lookup returns the definition registered under tag in DefaultRegistry.
func Lookup(tag string) (Definition, error) { return DefaultRegistry.Lookup(tag) }

// Has reports whether tag is registered in DefaultRegistry.
func Has(tag string) bool { return DefaultRegistry.Has(tag) }

// Kinds returns all tags registered in DefaultRegistry, sorted.
func Kinds() []string { return DefaultRegistry.Kinds() }
