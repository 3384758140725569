// Package registry implements the namespaced object store shared by all
// layers of an emulation. Objects are addressed by (scope, class, name) and
// are listed in insertion order.
package registry

import (
	"fmt"
	"iter"

	"seedemu/internal/errdefs"
)

// Common class tags.
const (
	ClassRouter      = "rnode"
	ClassHost        = "hnode"
	ClassRouteServer = "rs"
	ClassBridge      = "vpnnode"
	ClassNetwork     = "net"
	ClassHostPort    = "hostport"
)

// Common scopes that are not AS numbers.
const (
	ScopeExchange = "ix"
	ScopeEmulator = "seedemu"
)

// Key identifies one registry entry.
type Key struct {
	Scope string `json:"scope" yaml:"scope"`
	Class string `json:"class" yaml:"class"`
	Name  string `json:"name" yaml:"name"`
}

// String returns the key as scope/class/name.
func (k Key) String() string {
	return k.Scope + "/" + k.Class + "/" + k.Name
}

type entry struct {
	key Key
	obj any
}

// Registry is an insertion-ordered associative store. It does not validate
// the shape of stored objects.
type Registry struct {
	index   map[Key]int
	entries []entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		index: make(map[Key]int),
	}
}

// Register stores obj under (scope, class, name). Registering an existing
// triple fails with errdefs.ErrDuplicateKey and leaves the registry unchanged.
func (r *Registry) Register(scope, class, name string, obj any) error {
	key := Key{Scope: scope, Class: class, Name: name}
	if _, exists := r.index[key]; exists {
		return fmt.Errorf("register %s: %w", key, errdefs.ErrDuplicateKey)
	}
	r.index[key] = len(r.entries)
	r.entries = append(r.entries, entry{key: key, obj: obj})
	return nil
}

// Get returns the object stored under (scope, class, name).
func (r *Registry) Get(scope, class, name string) (any, error) {
	key := Key{Scope: scope, Class: class, Name: name}
	i, ok := r.index[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, errdefs.ErrNotFound)
	}
	return r.entries[i].obj, nil
}

// Has reports whether (scope, class, name) is registered.
func (r *Registry) Has(scope, class, name string) bool {
	_, ok := r.index[Key{Scope: scope, Class: class, Name: name}]
	return ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// All yields every entry in insertion order.
func (r *Registry) All() iter.Seq2[Key, any] {
	return func(yield func(Key, any) bool) {
		for _, e := range r.entries {
			if !yield(e.key, e.obj) {
				return
			}
		}
	}
}

// ListByClass yields all entries of the given class in insertion order. The
// sequence can be ranged over any number of times.
func (r *Registry) ListByClass(class string) iter.Seq2[Key, any] {
	return func(yield func(Key, any) bool) {
		for _, e := range r.entries {
			if e.key.Class != class {
				continue
			}
			if !yield(e.key, e.obj) {
				return
			}
		}
	}
}

// ListByScopeAndClass yields the entries of class within scope.
func (r *Registry) ListByScopeAndClass(scope, class string) iter.Seq2[Key, any] {
	return func(yield func(Key, any) bool) {
		for _, e := range r.entries {
			if e.key.Scope != scope || e.key.Class != class {
				continue
			}
			if !yield(e.key, e.obj) {
				return
			}
		}
	}
}

// GetAs returns the object under (scope, class, name) asserted to T. A stored
// object of another type is reported as errdefs.ErrNotFound.
func GetAs[T any](r *Registry, scope, class, name string) (T, error) {
	var zero T
	obj, err := r.Get(scope, class, name)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("get %s/%s/%s: stored %T: %w", scope, class, name, obj, errdefs.ErrNotFound)
	}
	return v, nil
}
