// Package registry binds names used in rule expressions to Go callables.
//
// Functions are pure and appear in conditions; actions run when a rule fires
// and may return a replacement facts.Facts. Both registries refuse to overwrite
// an existing name.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is the name table shared by Functions and Actions. It is safe for
// concurrent use.
type Registry struct {
	kind    Kind
	mu      sync.RWMutex
	entries map[string]Metadata
}

func (r *Registry) init(kind Kind) {
	r.kind = kind
	r.entries = make(map[string]Metadata)
}

// Register adds md under name. Signature fields left empty in md are derived
// from md.Func; fields that were supplied must agree with it.
func (r *Registry) Register(name string, md Metadata) error {
	checked, err := md.check(r.kind, name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%s '%s': %w", r.kind, name, ErrDuplicate)
	}
	r.entries[name] = checked
	log.Debug().Str("kind", string(r.kind)).Str("name", name).Int("params", len(checked.Params)).Bool("facts", checked.WantsFacts).Msg("Registered callable")
	return nil
}

// RegisterFunc registers fn under name, deriving its signature.
func (r *Registry) RegisterFunc(name string, fn any) error {
	return r.Register(name, Metadata{Func: fn})
}

// RegisterAll registers every definition or none of them.
func (r *Registry) RegisterAll(defs []Definition) error {
	checked := make([]Metadata, len(defs))
	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		md, err := Metadata{Func: def.Func}.check(r.kind, def.Name)
		if err != nil {
			return err
		}
		if seen[def.Name] {
			return fmt.Errorf("%s '%s': %w", r.kind, def.Name, ErrDuplicate)
		}
		seen[def.Name] = true
		checked[i] = md
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, md := range checked {
		if _, exists := r.entries[md.Name]; exists {
			return fmt.Errorf("%s '%s': %w", r.kind, md.Name, ErrDuplicate)
		}
	}
	for _, md := range checked {
		r.entries[md.Name] = md
	}
	log.Debug().Str("kind", string(r.kind)).Int("count", len(checked)).Msg("Registered callables")
	return nil
}

// RegisterFrom registers everything p provides.
func (r *Registry) RegisterFrom(p Provider) error {
	return r.RegisterAll(p.Definitions())
}

// Get returns the metadata for name or a *NotFoundError.
func (r *Registry) Get(name string) (Metadata, error) {
	r.mu.RLock()
	md, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Metadata{}, &NotFoundError{Kind: r.kind, Name: name}
	}
	return md, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Remove deletes name and reports whether it was registered.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	return ok
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Metadata)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
