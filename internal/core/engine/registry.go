package engine

import (
	"fmt"
	"sync"

	"github.com/docmill/docmill/internal/core/pipeline"
)

// Registry maps pipeline kinds to registered converters.
type Registry struct {
	mu         sync.RWMutex
	converters map[pipeline.Kind]Converter
}

func NewRegistry() *Registry {
	return &Registry{
		converters: make(map[pipeline.Kind]Converter),
	}
}

// Register binds a converter to one or more pipeline kinds. A later
// registration for the same kind replaces the earlier one.
func (r *Registry) Register(c Converter, kinds ...pipeline.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range kinds {
		r.converters[k] = c
	}
}

func (r *Registry) Get(kind pipeline.Kind) (Converter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.converters[kind]
	if !ok {
		return nil, fmt.Errorf("no converter registered for pipeline %q", kind)
	}
	return c, nil
}

// Kinds lists the pipeline kinds with a registered converter.
func (r *Registry) Kinds() []pipeline.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]pipeline.Kind, 0, len(r.converters))
	for k := range r.converters {
		kinds = append(kinds, k)
	}
	return kinds
}
