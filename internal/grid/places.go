package grid

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// PlaceSeed is one named place in the reference seed file. Radius is given
// in kilometers in the file and converted to degrees on load.
type PlaceSeed struct {
	Name     string  `yaml:"name"`
	Lat      float64 `yaml:"lat"`
	Lng      float64 `yaml:"lng"`
	RadiusKM float64 `yaml:"radius_km"`
}

// LoadPlacesFile reads a YAML seed file of named places, used to populate the
// geographic reference table.
func LoadPlacesFile(path string) ([]PlaceSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: read places file %s", path)
	}

	var seeds []PlaceSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, eris.Wrapf(err, "grid: parse places file %s", path)
	}

	for i := range seeds {
		if seeds[i].Name == "" {
			return nil, eris.Errorf("grid: places file entry %d has no name", i)
		}
	}
	return seeds, nil
}

// RadiusDeg returns the seed's radius converted to coordinate degrees.
func (s PlaceSeed) RadiusDeg() float64 {
	return s.RadiusKM * DegreesPerKM
}
