package zone

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/krishan2005op/safe-track-go/internal/models"

	"go.uber.org/zap"
)

// compiledZone is a zone with its precomputed bounding box.
type compiledZone struct {
	zone   models.Zone
	bounds bbox
}

func (c *compiledZone) contains(p models.Point) bool {
	if !c.bounds.contains(p) {
		return false
	}
	if c.zone.Geometry.Type == models.GeometryRect {
		// rectangle edges are inclusive
		return true
	}
	return crossingNumber(c.zone.Geometry.Polygon, p)
}

// Snapshot is an immutable view of one loaded zone set.
type Snapshot struct {
	version uint64
	// active zones ordered by priority desc, then id asc: the first hit wins
	ordered []*compiledZone
	byID    map[string]models.Zone
}

var emptySnapshot = &Snapshot{byID: map[string]models.Zone{}}

// Version is the load counter that produced this snapshot (0 before any load).
func (s *Snapshot) Version() uint64 { return s.version }

// Len is the number of zones, active or not.
func (s *Snapshot) Len() int { return len(s.byID) }

// Lookup returns a copy of a zone by id.
func (s *Snapshot) Lookup(id string) (models.Zone, bool) {
	z, ok := s.byID[id]
	if !ok {
		return models.Zone{}, false
	}
	return cloneZone(z), true
}

// Zones returns copies of all zones sorted by id.
func (s *Snapshot) Zones() []models.Zone {
	out := make([]models.Zone, 0, len(s.byID))
	for _, z := range s.byID {
		out = append(out, cloneZone(z))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve returns the id of the highest-priority active zone containing p, or
// models.Unzoned. Ties on priority go to the lexicographically smallest id.
func (s *Snapshot) Resolve(p models.Point) string {
	for _, cz := range s.ordered {
		if cz.contains(p) {
			return cz.zone.ID
		}
	}
	return models.Unzoned
}

// Registry holds the active zone set. Reads are lock-free; Load swaps the whole
// set atomically so readers never observe a partial set.
type Registry struct {
	current atomic.Pointer[Snapshot]
	loads   atomic.Uint64
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger}
	r.current.Store(emptySnapshot)
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Load validates zones and replaces the active set. On error nothing changes.
// It returns the new and the replaced snapshot.
func (r *Registry) Load(zones []models.Zone) (next *Snapshot, prev *Snapshot, err error) {
	byID := make(map[string]models.Zone, len(zones))
	ordered := make([]*compiledZone, 0, len(zones))

	for i, z := range zones {
		if z.ID == "" {
			return nil, nil, fmt.Errorf("%w: zone at index %d has empty id", models.ErrValidation, i)
		}
		if _, dup := byID[z.ID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate zone id %q", models.ErrValidation, z.ID)
		}
		if !z.RiskLevel.Valid() {
			return nil, nil, fmt.Errorf("%w: zone %q has unknown risk level %q", models.ErrValidation, z.ID, z.RiskLevel)
		}
		if err := validateGeometry(z.Geometry); err != nil {
			return nil, nil, fmt.Errorf("%w: zone %q: %v", models.ErrValidation, z.ID, err)
		}

		z = cloneZone(z)
		byID[z.ID] = z
		if z.Active {
			ordered = append(ordered, &compiledZone{zone: z, bounds: boundsOf(z.Geometry)})
		}
	}

	sort.Slice(ordered, func(i, j int) bool {
		pi, pj := ordered[i].zone.Priority(), ordered[j].zone.Priority()
		if pi != pj {
			return pi > pj
		}
		return ordered[i].zone.ID < ordered[j].zone.ID
	})

	next = &Snapshot{
		version: r.loads.Add(1),
		ordered: ordered,
		byID:    byID,
	}
	prev = r.current.Swap(next)

	r.logger.Info("Zone set loaded",
		zap.Uint64("version", next.version),
		zap.Int("zone_count", len(byID)),
		zap.Int("active_count", len(ordered)),
	)

	return next, prev, nil
}

// cloneZone copies the geometry so a snapshot shares no storage with callers.
func cloneZone(z models.Zone) models.Zone {
	if z.Geometry.Rect != nil {
		r := *z.Geometry.Rect
		z.Geometry.Rect = &r
	}
	if z.Geometry.Polygon != nil {
		z.Geometry.Polygon = append([]models.Point(nil), z.Geometry.Polygon...)
	}
	return z
}
