package osm

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/brentp/intintmap"
	"github.com/maps4go/maps4go/generator/geo"
)

// areaKeys are tag keys whose presence marks a closed way as a polygon
// rather than a circular path. highway and barrier rings (roundabouts,
// fences) stay lines.
var areaKeys = []string{
	"building", "landuse", "natural", "leisure", "amenity", "water",
	"waterway", "area",
}

// xml element shapes for stream decoding. Only the attributes the pipeline
// needs are mapped.
type (
	xmlNode struct {
		ID  int64    `xml:"id,attr"`
		Lat float64  `xml:"lat,attr"`
		Lon float64  `xml:"lon,attr"`
		Tag []xmlTag `xml:"tag"`
	}
	xmlTag struct {
		K string `xml:"k,attr"`
		V string `xml:"v,attr"`
	}
	xmlWay struct {
		ID  int64    `xml:"id,attr"`
		Nd  []xmlRef `xml:"nd"`
		Tag []xmlTag `xml:"tag"`
	}
	xmlRef struct {
		Ref int64 `xml:"ref,attr"`
	}
	xmlMember struct {
		Type string `xml:"type,attr"`
		Ref  int64  `xml:"ref,attr"`
		Role string `xml:"role,attr"`
	}
	xmlRelation struct {
		ID     int64       `xml:"id,attr"`
		Member []xmlMember `xml:"member"`
		Tag    []xmlTag    `xml:"tag"`
	}
)

type rawWay struct {
	id   int64
	refs []int64
	tags Tags
}

// Decode reads an OSM XML document into Data. Geometry is resolved after
// the whole document is read: Overpass prints recursed member nodes after
// the ways referencing them, so a single pass cannot connect them. Node
// coordinates are indexed with an int64-keyed open-addressing map; extracts
// for a 16 km map easily reach millions of nodes and a Go map of boxed keys
// doubles the decode memory.
func Decode(r io.Reader) (*Data, error) {
	dec := xml.NewDecoder(r)

	var (
		coords    []geo.Point
		index     = intintmap.New(1<<16, 0.6)
		ways      []rawWay
		relations []xmlRelation
		nodeFeats []Feature
		data      = &Data{}
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("osm: decode: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "bounds":
			for _, attr := range start.Attr {
				switch attr.Name.Local {
				case "minlat":
					fmt.Sscan(attr.Value, &data.Bounds.South)
				case "minlon":
					fmt.Sscan(attr.Value, &data.Bounds.West)
				case "maxlat":
					fmt.Sscan(attr.Value, &data.Bounds.North)
				case "maxlon":
					fmt.Sscan(attr.Value, &data.Bounds.East)
				}
			}
		case "node":
			var n xmlNode
			if err := dec.DecodeElement(&n, &start); err != nil {
				return nil, fmt.Errorf("osm: decode node: %w", err)
			}
			if _, seen := index.Get(n.ID); !seen {
				index.Put(n.ID, int64(len(coords)))
				coords = append(coords, geo.Point{Lat: n.Lat, Lon: n.Lon})
			}
			if len(n.Tag) > 0 {
				nodeFeats = append(nodeFeats, Feature{
					ID:     n.ID,
					Kind:   KindPoint,
					Points: []geo.Point{{Lat: n.Lat, Lon: n.Lon}},
					Tags:   tagMap(n.Tag),
				})
			}
		case "way":
			var w xmlWay
			if err := dec.DecodeElement(&w, &start); err != nil {
				return nil, fmt.Errorf("osm: decode way: %w", err)
			}
			refs := make([]int64, len(w.Nd))
			for i, nd := range w.Nd {
				refs[i] = nd.Ref
			}
			raw := rawWay{id: w.ID, refs: refs}
			if len(w.Tag) > 0 {
				raw.tags = tagMap(w.Tag)
			}
			ways = append(ways, raw)
		case "relation":
			var rel xmlRelation
			if err := dec.DecodeElement(&rel, &start); err != nil {
				return nil, fmt.Errorf("osm: decode relation: %w", err)
			}
			relations = append(relations, rel)
		}
	}

	// Resolve way geometry now that all nodes are known. Ways may still
	// reference nodes clipped off by the bbox; those vertices are skipped.
	wayPoints := make(map[int64][]geo.Point, len(ways))
	for _, w := range ways {
		pts := make([]geo.Point, 0, len(w.refs))
		for _, ref := range w.refs {
			if i, ok := index.Get(ref); ok {
				pts = append(pts, coords[i])
			}
		}
		wayPoints[w.id] = pts
	}

	// Multipolygon relations swallow their member ways.
	member := make(map[int64]bool)
	data.Features = append(data.Features, nodeFeats...)
	for _, rel := range relations {
		tags := tagMap(rel.Tag)
		if tags["type"] != "multipolygon" {
			continue
		}
		f, ok := assembleMultipolygon(rel, wayPoints, tags)
		if !ok {
			continue
		}
		data.Features = append(data.Features, f)
		for _, m := range rel.Member {
			if m.Type == "way" {
				member[m.Ref] = true
			}
		}
	}

	for _, w := range ways {
		if len(w.tags) == 0 || member[w.id] {
			continue
		}
		pts := wayPoints[w.id]
		if len(pts) < 2 {
			continue
		}
		kind := KindLine
		if pts[0] == pts[len(pts)-1] && len(pts) >= 4 && isArea(w.tags) {
			kind = KindPolygon
		}
		data.Features = append(data.Features, Feature{ID: w.id, Kind: kind, Points: pts, Tags: w.tags})
	}
	return data, nil
}

func tagMap(tags []xmlTag) Tags {
	m := make(Tags, len(tags))
	for _, t := range tags {
		m[t.K] = t.V
	}
	return m
}

func isArea(t Tags) bool {
	if t["area"] == "no" {
		return false
	}
	for _, key := range areaKeys {
		if t.Has(key) {
			return true
		}
	}
	return false
}

// assembleMultipolygon stitches the outer member ways of a multipolygon
// relation into a single ring and collects inner rings as holes. Relations
// whose outer ring cannot be closed are dropped; a torn ring rasterizes
// into garbage.
func assembleMultipolygon(rel xmlRelation, ways map[int64][]geo.Point, tags Tags) (Feature, bool) {
	var outers, inners [][]geo.Point
	for _, m := range rel.Member {
		if m.Type != "way" {
			continue
		}
		pts, ok := ways[m.Ref]
		if !ok || len(pts) < 2 {
			continue
		}
		switch m.Role {
		case "inner":
			inners = append(inners, pts)
		default: // outer and legacy empty roles
			outers = append(outers, pts)
		}
	}
	ring, ok := stitchRing(outers)
	if !ok {
		return Feature{}, false
	}
	return Feature{ID: rel.ID, Kind: KindPolygon, Points: ring, Inner: closedRings(inners), Tags: tags}, true
}

// stitchRing joins way segments end-to-end into one closed ring.
func stitchRing(segments [][]geo.Point) ([]geo.Point, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	ring := append([]geo.Point(nil), segments[0]...)
	remaining := append([][]geo.Point(nil), segments[1:]...)
	for len(remaining) > 0 {
		tail := ring[len(ring)-1]
		attached := false
		for i, seg := range remaining {
			switch {
			case seg[0] == tail:
				ring = append(ring, seg[1:]...)
			case seg[len(seg)-1] == tail:
				for j := len(seg) - 2; j >= 0; j-- {
					ring = append(ring, seg[j])
				}
			default:
				continue
			}
			remaining = append(remaining[:i], remaining[i+1:]...)
			attached = true
			break
		}
		if !attached {
			return nil, false
		}
	}
	if len(ring) < 4 || ring[0] != ring[len(ring)-1] {
		return nil, false
	}
	return ring, true
}

// closedRings keeps each already-closed inner ring and drops the rest.
func closedRings(segments [][]geo.Point) [][]geo.Point {
	var out [][]geo.Point
	for _, seg := range segments {
		if len(seg) >= 4 && seg[0] == seg[len(seg)-1] {
			out = append(out, seg)
		}
	}
	return out
}
