package solver

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrRegistered reports a duplicate variant registration.
	ErrRegistered = errors.New("solver: variant already registered")
	// ErrUnknownVariant reports a lookup of a name never registered.
	ErrUnknownVariant = errors.New("solver: unknown variant")
)

// Constructor builds a solver for one variant.
type Constructor func(cfg Config, comp Components) (*Solver, error)

// Registry maps variant names to constructors. It is an explicit value
// handed to callers, not process-global state; independent registries do
// not interact.
type Registry struct {
	ctors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a named variant. Registering the same name twice fails.
func (r *Registry) Register(name string, ctor Constructor) error {
	if _, ok := r.ctors[name]; ok {
		return fmt.Errorf("%w: %q", ErrRegistered, name)
	}
	r.ctors[name] = ctor
	return nil
}

// New constructs the named variant.
func (r *Registry) New(name string, cfg Config, comp Components) (*Solver, error) {
	ctor, ok := r.ctors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return ctor(cfg, comp)
}

// Names returns the registered variant names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a fresh registry with the built-in variants.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, ctor := range map[string]Constructor{
		"ddim": NewDDIM,
		"treg": NewTReg,
		"psld": NewPSLD,
		"p2l":  NewP2L,
	} {
		if err := r.Register(name, ctor); err != nil {
			panic(err) // unreachable: fresh registry, distinct names
		}
	}
	return r
}
