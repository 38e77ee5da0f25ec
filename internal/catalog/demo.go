// Package catalog supplies zone catalogs: the built-in demo set and YAML files
// with hot reload.
package catalog

import "github.com/krishan2005op/safe-track-go/internal/models"

func rect(id, name string, risk models.RiskLevel, x, y, w, h float64) models.Zone {
	return models.Zone{
		ID:        id,
		Name:      name,
		RiskLevel: risk,
		Active:    true,
		Geometry: models.Geometry{
			Type: models.GeometryRect,
			Rect: &models.Rect{X: x, Y: y, Width: w, Height: h},
		},
	}
}

// AdventureZones is the outdoor demo map in percent-of-map coordinates.
func AdventureZones() []models.Zone {
	return []models.Zone{
		rect("base-camp", "Base Camp", models.RiskSafe, 40, 70, 20, 15),
		rect("trail-path", "Trail Path", models.RiskLow, 30, 40, 40, 25),
		rect("rocky-terrain", "Rocky Terrain", models.RiskMedium, 65, 30, 25, 35),
		rect("cliff-edge", "Cliff Edge", models.RiskHigh, 15, 15, 30, 20),
		rect("weather-alert", "Weather Alert Zone", models.RiskCritical, 75, 10, 20, 25),
	}
}

// HeritageZones are the crowd-monitored site areas. They sit beyond x=200 so
// they never overlap the adventure map.
func HeritageZones() []models.Zone {
	return []models.Zone{
		rect("entrance", "Main Entrance", models.RiskLow, 200, 0, 20, 20),
		rect("courtyard", "Central Courtyard", models.RiskLow, 220, 0, 40, 40),
		rect("exhibition", "Exhibition Hall", models.RiskSafe, 260, 0, 40, 30),
		rect("gardens", "Heritage Gardens", models.RiskSafe, 200, 40, 60, 40),
		rect("parking", "Parking Area", models.RiskLow, 260, 40, 40, 40),
	}
}

// DemoZones is the full demo catalog.
func DemoZones() []models.Zone {
	return append(AdventureZones(), HeritageZones()...)
}
