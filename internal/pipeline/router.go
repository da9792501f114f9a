package pipeline

import (
	"maps"
	"slices"

	"github.com/m-mizutani/goerr/v2"
)

// ErrNoBackend is returned when neither the requested engine nor the fallback is registered.
var ErrNoBackend = goerr.New("no backend for engine")

// Router resolves an engine name to one of a fixed set of backends. Unknown
// or empty names resolve to the fallback engine.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

// NewRouter copies backends, so later changes to the map do not affect routing.
func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	return &Router[T]{backends: maps.Clone(backends), fallback: fallback}
}

func (r *Router[T]) Route(engine string) (T, error) {
	for _, name := range [2]string{engine, r.fallback} {
		if backend, ok := r.backends[name]; ok && name != "" {
			return backend, nil
		}
	}
	var zero T
	return zero, goerr.Wrap(ErrNoBackend, "route", goerr.V("engine", engine), goerr.V("fallback", r.fallback))
}

func (r *Router[T]) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines returns the registered engine names in sorted order.
func (r *Router[T]) Engines() []string {
	return slices.Sorted(maps.Keys(r.backends))
}
