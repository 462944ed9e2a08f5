// Package osm fetches and decodes OpenStreetMap data, the primary feature
// source of the generation pipeline. Features come from the Overpass API as
// OSM XML and are reduced to tagged polylines and polygons in geographic
// coordinates.
package osm

import (
	"encoding/json"
	"fmt"

	"github.com/maps4go/maps4go/generator/geo"
)

// Kind distinguishes the geometry of a feature.
type Kind uint8

const (
	// KindLine is an open polyline, e.g. a road or stream.
	KindLine Kind = iota
	// KindPolygon is a closed ring, e.g. a field, lake or building.
	KindPolygon
	// KindPoint is a single node, e.g. a standalone tree.
	KindPoint
)

// Tags is the key/value tag set of an OSM element.
type Tags map[string]string

// Has reports whether the key is present with any value.
func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// Matcher selects features by tag. Keys are alternatives: the feature
// matches when any listed key is present with an accepted value. An empty
// value list accepts any value, otherwise the tag value must be listed.
type Matcher map[string][]string

// Match reports whether the tags satisfy the matcher. A nil matcher matches
// nothing, so unconfigured schema entries stay inert.
func (m Matcher) Match(t Tags) bool {
	for key, values := range m {
		v, ok := t[key]
		if !ok {
			continue
		}
		if len(values) == 0 {
			return true
		}
		for _, want := range values {
			if v == want {
				return true
			}
		}
	}
	return false
}

// UnmarshalJSON accepts the schema-file forms of a matcher: values may be a
// single string, a list of strings, or true for "any value".
func (m *Matcher) UnmarshalJSON(b []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(b, &rawMap); err != nil {
		return fmt.Errorf("osm: matcher: %w", err)
	}
	out := make(Matcher, len(rawMap))
	for key, raw := range rawMap {
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			out[key] = []string{single}
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			out[key] = list
			continue
		}
		var any bool
		if err := json.Unmarshal(raw, &any); err == nil && any {
			out[key] = nil
			continue
		}
		return fmt.Errorf("osm: matcher: tag %q must map to a string, a list of strings or true", key)
	}
	*m = out
	return nil
}

// Feature is a single OSM element reduced to its geometry and tags. Polygon
// features may carry inner rings (holes) assembled from multipolygon
// relations.
type Feature struct {
	ID     int64
	Kind   Kind
	Points []geo.Point
	Inner  [][]geo.Point
	Tags   Tags
}

// Closed reports whether the outer ring is explicitly closed.
func (f Feature) Closed() bool {
	if len(f.Points) < 3 {
		return false
	}
	return f.Points[0] == f.Points[len(f.Points)-1]
}

// Data is a decoded OSM extract.
type Data struct {
	Bounds   geo.BBox
	Features []Feature
}

// Filter returns all features matching m, preserving order.
func (d *Data) Filter(m Matcher) []Feature {
	var out []Feature
	for _, f := range d.Features {
		if m.Match(f.Tags) {
			out = append(out, f)
		}
	}
	return out
}
