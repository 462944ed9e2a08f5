// Package texture implements the texture-schema-driven rasterization of OSM
// features into terrain weight maps.
package texture

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/maps4go/maps4go/generator/osm"
)

// ErrBadSchema is wrapped by all schema validation failures.
var ErrBadSchema = errors.New("texture: invalid schema")

//go:embed schema/texture_schema.json
var defaultSchema []byte

// Layer is one texture schema entry, mapping OSM tags to a terrain texture
// and its weight-map files.
type Layer struct {
	// Name is the texture name used in weight-map file names.
	Name string `json:"name"`
	// Count is the number of weight-map files the texture owns.
	Count int `json:"count"`
	// Tags selects the OSM features painted with this texture. Entries
	// without tags (pure in-game variation textures) are never painted but
	// still get their weight files.
	Tags osm.Matcher `json:"tags,omitempty"`
	// Width is the stroke width in metres for line features.
	Width float64 `json:"width,omitempty"`
	// Color is the preview colour.
	Color [3]uint8 `json:"color,omitempty"`
	// Priority resolves overlaps: the higher-priority layer owns the
	// pixel. Equal priorities resolve by schema order.
	Priority int `json:"priority,omitempty"`
	// Usage is a free-form hint consumed by other components, e.g.
	// "field", "forest", "water", "road".
	Usage string `json:"usage,omitempty"`
	// Background marks layers that also shape the background terrain.
	Background bool `json:"background,omitempty"`
	// Base marks the fallback texture receiving all unpainted pixels.
	// Exactly one layer must be the base.
	Base bool `json:"base,omitempty"`
	// ExcludeWeight suppresses weight-map files for info-only entries.
	ExcludeWeight bool `json:"exclude_weight,omitempty"`
}

// Schema is a parsed and validated texture schema.
type Schema struct {
	Layers []Layer
	base   int
}

// DefaultSchema returns the schema compiled into the binary.
func DefaultSchema() *Schema {
	s, err := LoadSchema(bytes.NewReader(defaultSchema))
	if err != nil {
		panic("texture: embedded schema invalid: " + err.Error())
	}
	return s
}

// LoadSchemaFile loads and validates a schema from a JSON file.
func LoadSchemaFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("texture: open schema: %w", err)
	}
	defer f.Close()
	s, err := LoadSchema(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// LoadSchema decodes and validates a texture schema. Unknown fields are
// rejected so typos in hand-edited schemas fail loudly instead of silently
// painting nothing.
func LoadSchema(r io.Reader) (*Schema, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var layers []Layer
	if err := dec.Decode(&layers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	return NewSchema(layers)
}

// NewSchema validates the layer list.
func NewSchema(layers []Layer) (*Schema, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrBadSchema)
	}
	base := -1
	seen := make(map[string]bool, len(layers))
	for i, l := range layers {
		switch {
		case l.Name == "":
			return nil, fmt.Errorf("%w: layer %d has no name", ErrBadSchema, i)
		case seen[l.Name]:
			return nil, fmt.Errorf("%w: duplicate layer %q", ErrBadSchema, l.Name)
		case l.Count < 1 && !l.ExcludeWeight:
			return nil, fmt.Errorf("%w: layer %q needs a weight-map count of at least 1", ErrBadSchema, l.Name)
		case l.Width < 0:
			return nil, fmt.Errorf("%w: layer %q has negative width", ErrBadSchema, l.Name)
		}
		seen[l.Name] = true
		if l.Base {
			if base >= 0 {
				return nil, fmt.Errorf("%w: layers %q and %q both marked base", ErrBadSchema, layers[base].Name, l.Name)
			}
			base = i
		}
	}
	if base < 0 {
		return nil, fmt.Errorf("%w: no base layer", ErrBadSchema)
	}
	return &Schema{Layers: layers, base: base}, nil
}

// Base returns the index of the base layer.
func (s *Schema) Base() int { return s.base }

// ByUsage returns all layers with the given usage hint.
func (s *Schema) ByUsage(usage string) []Layer {
	var out []Layer
	for _, l := range s.Layers {
		if l.Usage == usage {
			out = append(out, l)
		}
	}
	return out
}
