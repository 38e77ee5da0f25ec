package zone

import (
	"github.com/krishan2005op/safe-track-go/internal/models"
)

// Resolver maps points to zones against the registry's current snapshot.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver bound to registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve returns the containing zone id or models.Unzoned.
func (r *Resolver) Resolve(p models.Point) string {
	return r.registry.Snapshot().Resolve(p)
}

// ResolveZone is Resolve returning the full zone; ok is false when unzoned.
func (r *Resolver) ResolveZone(p models.Point) (models.Zone, bool) {
	snap := r.registry.Snapshot()
	id := snap.Resolve(p)
	if id == models.Unzoned {
		return models.Zone{}, false
	}
	return snap.Lookup(id)
}
