package bridge

import (
	"context"
	"slices"
	"sync"
)

// Registry owns the bridges of a host, one per panel identity. Bridges are
// created by Open and released by Close; nothing is global.
type Registry struct {
	mu      sync.Mutex
	factory func(id string) Options
	bridges map[string]*Bridge
}

// NewRegistry creates a registry that builds each bridge's options with
// factory.
func NewRegistry(factory func(id string) Options) *Registry {
	return &Registry{factory: factory, bridges: make(map[string]*Bridge)}
}

// Open returns the bridge for id, creating it when needed. created reports
// whether a new bridge was made; the caller starts new bridges.
func (r *Registry) Open(id string) (b *Bridge, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bridges[id]; ok {
		return b, false
	}
	b = New(r.factory(id))
	r.bridges[id] = b
	return b, true
}

func (r *Registry) Get(id string) (*Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[id]
	return b, ok
}

// IDs lists the open panel identities in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.bridges))
	for id := range r.bridges {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close disposes the bridge for id. Closing an unknown id does nothing.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	b, ok := r.bridges[id]
	delete(r.bridges, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return b.Close(ctx)
}

// CloseAll disposes every bridge and returns the first error.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	bridges := r.bridges
	r.bridges = make(map[string]*Bridge)
	r.mu.Unlock()

	var first error
	for _, b := range bridges {
		if err := b.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
