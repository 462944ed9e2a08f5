package i3d

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/osm"
	"github.com/maps4go/maps4go/generator/roads"
	"github.com/maps4go/maps4go/generator/schema"
)

// HeightFunc resolves the terrain height in metres at a map-local position.
type HeightFunc func(pos mgl64.Vec2) float64

// Config holds the options for building the scene.
type Config struct {
	Log  *slog.Logger
	Grid geo.Grid
	// Name is the scene name, usually the map name.
	Name string
	// Trees is the tree schema used for forest placement.
	Trees []schema.Tree
	// Buildings is the building schema matching footprints to assets.
	Buildings []schema.Building
	// FieldTags selects the polygons that become fields. Defaults to
	// landuse=farmland.
	FieldTags osm.Matcher
	// ForestTags selects the polygons that get tree cover. Defaults to
	// landuse=forest and natural=wood.
	ForestTags []osm.Matcher
	// TreeSpacing is the planting grid step in metres. Zero selects 12.
	TreeSpacing float64
	// Seed makes tree placement reproducible across runs.
	Seed uint64
	// Height, when set, drapes scene nodes onto the terrain.
	Height HeightFunc
}

// builder carries the node id counter through scene assembly.
type builder struct {
	conf   Config
	nextID int
}

// Build assembles the scene document from the decoded OSM data and the
// prepared road segments.
func (conf Config) Build(data *osm.Data, segments []roads.Segment) (*Document, error) {
	if conf.Name == "" {
		conf.Name = "map"
	}
	if conf.TreeSpacing <= 0 {
		conf.TreeSpacing = 12
	}
	if conf.FieldTags == nil {
		conf.FieldTags = osm.Matcher{"landuse": {"farmland"}}
	}
	if conf.ForestTags == nil {
		conf.ForestTags = []osm.Matcher{
			{"landuse": {"forest"}},
			{"natural": {"wood"}},
		}
	}
	log := conf.Log
	if log == nil {
		log = slog.Default()
	}

	b := &builder{conf: conf, nextID: 1}
	doc := &Document{Name: conf.Name, Version: "1.6"}

	doc.Scene.Groups = append(doc.Scene.Groups, b.group("terrain"))

	fields := b.buildFields(data)
	doc.Scene.Groups = append(doc.Scene.Groups, fields)

	forests, planted := b.buildForests(data)
	doc.Scene.Groups = append(doc.Scene.Groups, forests)

	roadsGroup, shapes := b.buildRoads(segments)
	doc.Scene.Groups = append(doc.Scene.Groups, roadsGroup)
	if len(shapes.Curves) > 0 {
		doc.Shapes = shapes
	}

	buildings := b.buildBuildings(data)
	doc.Scene.Groups = append(doc.Scene.Groups, buildings)

	log.Debug("Scene assembled.",
		"fields", len(fields.Groups), "trees", planted,
		"roads", len(roadsGroup.Shapes), "buildings", len(buildings.Groups))
	return doc, nil
}

func (b *builder) group(name string) *TransformGroup {
	g := &TransformGroup{Name: name, NodeID: b.nextID}
	b.nextID++
	return g
}

// buildFields turns farmland polygons into field nodes carrying their
// boundary as polygon points, the structure field tooling expects.
func (b *builder) buildFields(data *osm.Data) *TransformGroup {
	root := b.group("fields")
	for _, f := range sortedPolygons(data, b.conf.FieldTags) {
		ring := b.ring(f.Points)
		if len(ring) < 3 {
			continue
		}
		c := centroid(ring)
		field := b.group(fmt.Sprintf("field%02d", len(root.Groups)+1))
		field.Translation = vec3(b.world(c))

		points := b.group("polygonPoints")
		for i, p := range ring {
			node := b.group(fmt.Sprintf("p%d", i+1))
			rel := p.Sub(c)
			node.Translation = vec3(mgl64.Vec3{rel.X(), 0, -rel.Y()})
			points.Groups = append(points.Groups, node)
		}
		field.Groups = append(field.Groups, points)
		root.Groups = append(root.Groups, field)
	}
	return root
}

// buildForests plants trees on a jittered grid inside every forest
// polygon. Placement is seeded per polygon, so edits elsewhere in the map
// never reshuffle a forest.
func (b *builder) buildForests(data *osm.Data) (*TransformGroup, int) {
	root := b.group("forests")
	if len(b.conf.Trees) == 0 {
		return root, 0
	}
	var features []osm.Feature
	for _, m := range b.conf.ForestTags {
		features = append(features, sortedPolygons(data, m)...)
	}
	sort.Slice(features, func(i, j int) bool { return features[i].ID < features[j].ID })

	planted := 0
	for _, f := range features {
		ring := b.ring(f.Points)
		if len(ring) < 3 {
			continue
		}
		var inners [][]mgl64.Vec2
		for _, in := range f.Inner {
			inners = append(inners, b.ring(in))
		}

		forest := b.group(fmt.Sprintf("forest%02d", len(root.Groups)+1))
		rng := rand.New(rand.NewPCG(b.conf.Seed, uint64(f.ID)))
		step := b.conf.TreeSpacing
		jitter := step * 0.35

		lo, hi := bounds(ring)
		for y := lo.Y(); y <= hi.Y(); y += step {
			for x := lo.X(); x <= hi.X(); x += step {
				pos := mgl64.Vec2{
					x + (rng.Float64()*2-1)*jitter,
					y + (rng.Float64()*2-1)*jitter,
				}
				if !inRing(pos, ring) || inAny(pos, inners) {
					continue
				}
				t := b.conf.Trees[rng.IntN(len(b.conf.Trees))]
				h := t.MinHeight + rng.Float64()*(t.MaxHeight-t.MinHeight)
				// Tree assets are authored at their species' maximum
				// height; scaling down yields the sampled height.
				s := h / t.MaxHeight
				tree := b.group(fmt.Sprintf("%s_%03d", t.Name, planted+1))
				tree.Translation = vec3(b.world(pos))
				tree.Rotation = fmt.Sprintf("0 %.1f 0", rng.Float64()*360)
				tree.Scale = fmt.Sprintf("%.3f %.3f %.3f", s, s, s)
				tree.ReferenceID = t.ReferenceID
				forest.Groups = append(forest.Groups, tree)
				planted++
			}
		}
		if len(forest.Groups) > 0 {
			root.Groups = append(root.Groups, forest)
		}
	}
	return root, planted
}

// buildRoads emits one spline shape per road segment and references them
// from the scene.
func (b *builder) buildRoads(segments []roads.Segment) (*TransformGroup, *Shapes) {
	root := b.group("roads")
	shapes := &Shapes{}
	for i, seg := range segments {
		if len(seg.Points) < 2 {
			continue
		}
		curve := &NurbsCurve{
			Name:    fmt.Sprintf("%s_%03d", seg.Texture, i+1),
			ShapeID: len(shapes.Curves) + 1,
			Degree:  3,
			Form:    "open",
		}
		for _, p := range seg.Points {
			curve.Points = append(curve.Points, CV{C: vec3(b.world(p))})
		}
		shapes.Curves = append(shapes.Curves, curve)
		root.Shapes = append(root.Shapes, &ShapeRef{
			Name:    curve.Name,
			NodeID:  b.nextID,
			ShapeID: curve.ShapeID,
		})
		b.nextID++
	}
	return root, shapes
}

// buildBuildings matches building footprints against the schema and places
// the first matching placeholder at the footprint centroid, rotated to the
// longest wall.
func (b *builder) buildBuildings(data *osm.Data) *TransformGroup {
	root := b.group("buildings")
	if len(b.conf.Buildings) == 0 {
		return root
	}
	for _, f := range sortedPolygons(data, osm.Matcher{"building": nil}) {
		ring := b.ring(f.Points)
		if len(ring) < 3 {
			continue
		}
		area := math.Abs(signedArea(ring))
		matched := false
		var entry schema.Building
		for _, candidate := range b.conf.Buildings {
			if candidate.Matches(f.Tags, area) {
				entry, matched = candidate, true
				break
			}
		}
		if !matched {
			continue
		}
		node := b.group(fmt.Sprintf("%s_%03d", entry.Name, len(root.Groups)+1))
		node.Translation = vec3(b.world(centroid(ring)))
		node.Rotation = fmt.Sprintf("0 %.1f 0", longestEdgeAngle(ring))
		node.ReferenceID = entry.ReferenceID
		root.Groups = append(root.Groups, node)
	}
	return root
}

// ring converts a geographic ring to map-local metres, dropping the closing
// duplicate.
func (b *builder) ring(points []geo.Point) []mgl64.Vec2 {
	ring := make([]mgl64.Vec2, 0, len(points))
	for _, p := range points {
		ring = append(ring, b.conf.Grid.MetresAt(p))
	}
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	return ring
}

// world lifts a map-local position into scene space.
func (b *builder) world(pos mgl64.Vec2) mgl64.Vec3 {
	h := 0.0
	if b.conf.Height != nil {
		h = b.conf.Height(pos)
	}
	return mgl64.Vec3{pos.X(), h, -pos.Y()}
}

// sortedPolygons returns the matching polygon features in id order, so node
// numbering is stable across runs.
func sortedPolygons(data *osm.Data, m osm.Matcher) []osm.Feature {
	var out []osm.Feature
	for _, f := range data.Features {
		if f.Kind == osm.KindPolygon && m.Match(f.Tags) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func centroid(ring []mgl64.Vec2) mgl64.Vec2 {
	var sum mgl64.Vec2
	for _, p := range ring {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(ring)))
}

func bounds(ring []mgl64.Vec2) (lo, hi mgl64.Vec2) {
	lo, hi = ring[0], ring[0]
	for _, p := range ring[1:] {
		lo = mgl64.Vec2{math.Min(lo.X(), p.X()), math.Min(lo.Y(), p.Y())}
		hi = mgl64.Vec2{math.Max(hi.X(), p.X()), math.Max(hi.Y(), p.Y())}
	}
	return lo, hi
}

// inRing is an even-odd point-in-polygon test.
func inRing(p mgl64.Vec2, ring []mgl64.Vec2) bool {
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y() > p.Y()) != (b.Y() > p.Y()) &&
			p.X() < (b.X()-a.X())*(p.Y()-a.Y())/(b.Y()-a.Y())+a.X() {
			inside = !inside
		}
	}
	return inside
}

func inAny(p mgl64.Vec2, rings [][]mgl64.Vec2) bool {
	for _, r := range rings {
		if len(r) >= 3 && inRing(p, r) {
			return true
		}
	}
	return false
}

func signedArea(ring []mgl64.Vec2) float64 {
	area := 0.0
	for i := range ring {
		j := (i + 1) % len(ring)
		area += ring[i].X()*ring[j].Y() - ring[j].X()*ring[i].Y()
	}
	return area / 2
}

// longestEdgeAngle returns the rotation in degrees about the up axis that
// aligns an asset with the footprint's longest wall.
func longestEdgeAngle(ring []mgl64.Vec2) float64 {
	best, angle := 0.0, 0.0
	for i := range ring {
		j := (i + 1) % len(ring)
		d := ring[j].Sub(ring[i])
		if l := d.Len(); l > best {
			best = l
			// Map north is scene -Z, so the scene yaw flips sign.
			angle = -math.Atan2(d.Y(), d.X()) * 180 / math.Pi
		}
	}
	return angle
}
