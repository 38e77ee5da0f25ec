package catalog

import (
	"fmt"
	"os"

	"github.com/krishan2005op/safe-track-go/internal/models"

	"gopkg.in/yaml.v3"
)

// fileZone is the on-disk form; active defaults to true when omitted.
type fileZone struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	RiskLevel string          `yaml:"risk_level"`
	Active    *bool           `yaml:"active"`
	Geometry  models.Geometry `yaml:"geometry"`
}

type fileCatalog struct {
	Zones []fileZone `yaml:"zones"`
}

// LoadFile reads a YAML zone catalog.
func LoadFile(path string) ([]models.Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zone file %s: %w", path, err)
	}
	zones, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("zone file %s: %w", path, err)
	}
	return zones, nil
}

// Parse decodes a YAML zone catalog. Geometry is validated later by the registry.
func Parse(data []byte) ([]models.Zone, error) {
	var doc fileCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	zones := make([]models.Zone, 0, len(doc.Zones))
	for i, fz := range doc.Zones {
		risk, err := models.ParseRiskLevel(fz.RiskLevel)
		if err != nil {
			return nil, fmt.Errorf("zone %d (%q): %w", i, fz.ID, err)
		}
		active := true
		if fz.Active != nil {
			active = *fz.Active
		}
		name := fz.Name
		if name == "" {
			name = fz.ID
		}
		zones = append(zones, models.Zone{
			ID:        fz.ID,
			Name:      name,
			Geometry:  fz.Geometry,
			RiskLevel: risk,
			Active:    active,
		})
	}
	return zones, nil
}
