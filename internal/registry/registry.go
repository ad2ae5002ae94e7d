// Package registry is the process-wide, per-region singleton client
// table: one cluster client per region, created on first use and reused
// after, expressed as an explicit keyed container rather than hidden
// package-level globals.
package registry

import (
	"sync"

	"github.com/geocache/geocache/internal/client"
)

// Factory builds a new client.Cluster for a region on first use.
type Factory func(region string) *client.Cluster

// Registry hands out one client.Cluster per region, constructing it
// lazily via Factory and caching it thereafter.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	clients map[string]*client.Cluster
}

// New creates a Registry that builds clients with factory.
func New(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		clients: make(map[string]*client.Cluster),
	}
}

// GetOrCreate returns the cached client for region, building one via the
// factory if this is the first request for that region.
func (r *Registry) GetOrCreate(region string) *client.Cluster {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[region]; ok {
		return c
	}
	c := r.factory(region)
	r.clients[region] = c
	return c
}

// Clear drops the cached client for region, if any, so the next
// GetOrCreate rebuilds it from scratch. Primarily useful for tests that
// need a fresh round-robin cursor or latency table between scenarios.
func (r *Registry) Clear(region string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, region)
}

// ClearAll drops every cached client.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = make(map[string]*client.Cluster)
}
