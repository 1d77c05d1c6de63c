package profile

import (
	"fmt"
	"sort"

	"vrnode/pkg/errors"
	"vrnode/pkg/models"
)

// Registry holds the profile template of every known device family.
type Registry struct {
	families map[string]*models.Profile
}

// NewRegistry builds a registry from family templates.
func NewRegistry(families ...*models.Profile) *Registry {
	r := &Registry{families: make(map[string]*models.Profile, len(families))}

	for _, f := range families {
		r.families[f.Family] = f
	}

	return r
}

// Default returns the registry of built-in families.
func Default() *Registry {
	return NewRegistry(builtinFamilies()...)
}

// Names returns the registered families in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Lookup returns the template of a family.
func (r *Registry) Lookup(family string) (*models.Profile, error) {
	p, ok := r.families[family]
	if !ok {
		return nil, fmt.Errorf("%s (known: %v): %w", family, r.Names(), errors.ErrUnknownFamily)
	}

	return p, nil
}
