package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	_ "embed"

	"github.com/maps4go/maps4go/generator/osm"
)

//go:embed building_schema.json
var defaultBuildings []byte

// Building matches OSM building footprints to a placeholder asset by tags
// and footprint area in square metres.
type Building struct {
	Name        string      `json:"name"`
	ReferenceID int         `json:"reference_id"`
	Tags        osm.Matcher `json:"tags"`
	MinArea     float64     `json:"min_area"`
	MaxArea     float64     `json:"max_area"`
}

// Matches reports whether a footprint with the given tags and area fits
// this entry. A MaxArea of 0 means unbounded.
func (b Building) Matches(tags osm.Tags, area float64) bool {
	if !b.Tags.Match(tags) {
		return false
	}
	if area < b.MinArea {
		return false
	}
	return b.MaxArea == 0 || area <= b.MaxArea
}

// DefaultBuildings returns the embedded building schema.
func DefaultBuildings() []Building {
	buildings, err := LoadBuildings(bytes.NewReader(defaultBuildings))
	if err != nil {
		panic("schema: embedded building schema invalid: " + err.Error())
	}
	return buildings
}

// LoadBuildingsFile reads and validates a building schema from a JSON file.
func LoadBuildingsFile(path string) ([]Building, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open building schema: %w", err)
	}
	defer f.Close()
	return LoadBuildings(f)
}

// LoadBuildings reads and validates a building schema from JSON. Entries
// are matched in order; put specific entries before catch-alls.
func LoadBuildings(r io.Reader) ([]Building, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var buildings []Building
	if err := dec.Decode(&buildings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	if len(buildings) == 0 {
		return nil, fmt.Errorf("%w: no buildings", ErrBadSchema)
	}
	for _, b := range buildings {
		if b.Name == "" {
			return nil, fmt.Errorf("%w: building without a name", ErrBadSchema)
		}
		if b.MinArea < 0 || (b.MaxArea != 0 && b.MaxArea < b.MinArea) {
			return nil, fmt.Errorf("%w: building %s has area range %v..%v", ErrBadSchema, b.Name, b.MinArea, b.MaxArea)
		}
	}
	return buildings, nil
}
