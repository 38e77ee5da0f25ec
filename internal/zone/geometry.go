package zone

import (
	"fmt"
	"math"

	"github.com/krishan2005op/safe-track-go/internal/models"
)

// minArea below which a shape is treated as degenerate.
const minArea = 1e-9

// bbox is an axis-aligned bounding box used to short-circuit polygon tests.
type bbox struct {
	minX, minY, maxX, maxY float64
}

func (b bbox) contains(p models.Point) bool {
	return p.X >= b.minX && p.X <= b.maxX && p.Y >= b.minY && p.Y <= b.maxY
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// validateGeometry rejects shapes that cannot contain anything.
func validateGeometry(g models.Geometry) error {
	switch g.Type {
	case models.GeometryRect:
		if g.Rect == nil {
			return fmt.Errorf("rect geometry without rect")
		}
		r := g.Rect
		if !finite(r.X, r.Y, r.Width, r.Height) {
			return fmt.Errorf("rect has non-finite coordinates")
		}
		if r.Width <= 0 || r.Height <= 0 || r.Width*r.Height < minArea {
			return fmt.Errorf("rect has zero area (width=%g, height=%g)", r.Width, r.Height)
		}
	case models.GeometryPolygon:
		if len(g.Polygon) < 3 {
			return fmt.Errorf("polygon needs at least 3 vertices, got %d", len(g.Polygon))
		}
		for i, p := range g.Polygon {
			if !finite(p.X, p.Y) {
				return fmt.Errorf("polygon vertex %d has non-finite coordinates", i)
			}
		}
		if math.Abs(polygonArea(g.Polygon)) < minArea {
			return fmt.Errorf("polygon has zero area")
		}
	default:
		return fmt.Errorf("unknown geometry type %q", g.Type)
	}
	return nil
}

// polygonArea is the signed shoelace area.
func polygonArea(pts []models.Point) float64 {
	var sum float64
	n := len(pts)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return sum / 2
}

func boundsOf(g models.Geometry) bbox {
	if g.Type == models.GeometryRect {
		r := g.Rect
		return bbox{minX: r.X, minY: r.Y, maxX: r.X + r.Width, maxY: r.Y + r.Height}
	}
	b := bbox{minX: math.Inf(1), minY: math.Inf(1), maxX: math.Inf(-1), maxY: math.Inf(-1)}
	for _, p := range g.Polygon {
		b.minX = math.Min(b.minX, p.X)
		b.minY = math.Min(b.minY, p.Y)
		b.maxX = math.Max(b.maxX, p.X)
		b.maxY = math.Max(b.maxY, p.Y)
	}
	return b
}

// crossingNumber reports whether p lies inside the polygon using the even-odd rule.
func crossingNumber(pts []models.Point, p models.Point) bool {
	inside := false
	n := len(pts)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := pts[i], pts[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			xCross := (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if p.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}
