package models

import (
	"fmt"
	"strings"
)

// Unzoned is the sentinel zone id for points outside every active zone.
const Unzoned = ""

// RiskLevel classifies how dangerous a zone is.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "Safe"
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Priority orders risk levels; higher wins zone overlaps. Unknown levels return -1.
func (r RiskLevel) Priority() int {
	switch r {
	case RiskSafe:
		return 0
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return -1
	}
}

// Valid reports whether r is one of the known levels.
func (r RiskLevel) Valid() bool {
	return r.Priority() >= 0
}

// ParseRiskLevel parses a level name case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for _, lvl := range []RiskLevel{RiskSafe, RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		if strings.EqualFold(string(lvl), strings.TrimSpace(s)) {
			return lvl, nil
		}
	}
	return "", fmt.Errorf("%w: unknown risk level %q", ErrValidation, s)
}

// Point is a planar coordinate. Map coordinates are percent-of-map in the demo catalog.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// GeometryType selects how a zone's shape is interpreted.
type GeometryType string

const (
	GeometryRect    GeometryType = "rect"
	GeometryPolygon GeometryType = "polygon"
)

// Rect is an axis-aligned rectangle anchored at its minimum corner.
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Geometry is either a rectangle or a simple polygon.
type Geometry struct {
	Type    GeometryType `json:"type" yaml:"type"`
	Rect    *Rect        `json:"rect,omitempty" yaml:"rect,omitempty"`
	Polygon []Point      `json:"polygon,omitempty" yaml:"polygon,omitempty"`
}

// Zone is a named region with a risk level. Zones are immutable once loaded.
type Zone struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Geometry  Geometry  `json:"geometry" yaml:"geometry"`
	RiskLevel RiskLevel `json:"risk_level" yaml:"risk_level"`
	Active    bool      `json:"active" yaml:"active"`
}

// Priority is the overlap priority derived from the risk level.
func (z Zone) Priority() int {
	return z.RiskLevel.Priority()
}
