package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nfrund/duochat/internal/config"
)

// Key names a service together with its type. Use "owner.service", for
// example "core.store" or "chat.service".
type Key[T any] string

// Registry is where the core services and the module services meet at boot.
// It is safe for concurrent use.
type Registry struct {
	services sync.Map
	cfg      config.Provider
}

// New creates a registry carrying cfg.
func New(cfg config.Provider) *Registry {
	return &Registry{cfg: cfg}
}

// Config returns the configuration the registry was created with. It may be
// nil in tests.
func (r *Registry) Config() config.Provider {
	return r.cfg
}

// Set stores value under key, replacing any previous value. The core
// services are installed this way.
func Set[T any](r *Registry, key Key[T], value T) {
	r.services.Store(string(key), value)
}

// Provide stores value under key and fails if the key is taken, so two
// modules cannot silently export the same service.
func Provide[T any](r *Registry, key Key[T], value T) error {
	if _, loaded := r.services.LoadOrStore(string(key), value); loaded {
		return fmt.Errorf("service %q is already provided", string(key))
	}
	return nil
}

// Get returns the service under key. It reports false when nothing is stored
// or the stored value is not a T.
func Get[T any](r *Registry, key Key[T]) (T, bool) {
	var zero T
	val, ok := r.services.Load(string(key))
	if !ok {
		return zero, false
	}
	result, ok := val.(T)
	if !ok {
		return zero, false
	}
	return result, true
}

// MustGet is Get for services a module cannot boot without.
func MustGet[T any](r *Registry, key Key[T]) T {
	val, ok := Get(r, key)
	if !ok {
		var zero T
		panic(fmt.Sprintf("no %T registered under %q", zero, string(key)))
	}
	return val
}

// Names lists the registered keys in order.
func (r *Registry) Names() []string {
	var names []string
	r.services.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	slices.Sort(names)
	return names
}
