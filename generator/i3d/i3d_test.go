package i3d_test

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/i3d"
	"github.com/maps4go/maps4go/generator/osm"
	"github.com/maps4go/maps4go/generator/roads"
	"github.com/maps4go/maps4go/generator/schema"
)

var centre = geo.Point{Lat: 45.28, Lon: 20.23}

// testGrid is 2048 m at 128 px, 16 m per pixel.
func testGrid() geo.Grid {
	return geo.NewGrid(centre, 2048, 128, 0)
}

func ring(g geo.Grid, px [][2]int) []geo.Point {
	pts := make([]geo.Point, 0, len(px)+1)
	for _, p := range px {
		pts = append(pts, g.PointAt(p[0], p[1]))
	}
	return append(pts, pts[0])
}

func testData(g geo.Grid) *osm.Data {
	return &osm.Data{Features: []osm.Feature{
		{
			ID: 10, Kind: osm.KindPolygon,
			Points: ring(g, [][2]int{{10, 10}, {50, 10}, {50, 40}, {10, 40}}),
			Tags:   osm.Tags{"landuse": "farmland"},
		},
		{
			ID: 20, Kind: osm.KindPolygon,
			Points: ring(g, [][2]int{{60, 60}, {110, 60}, {110, 110}, {60, 110}}),
			Tags:   osm.Tags{"natural": "wood"},
		},
		{
			ID: 30, Kind: osm.KindPolygon,
			Points: ring(g, [][2]int{{20, 60}, {22, 60}, {22, 62}, {20, 62}}),
			Tags:   osm.Tags{"building": "barn"},
		},
	}}
}

func findGroup(doc *i3d.Document, name string) *i3d.TransformGroup {
	for _, g := range doc.Scene.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

func build(t *testing.T, conf i3d.Config, segments []roads.Segment) *i3d.Document {
	t.Helper()
	g := testGrid()
	if conf.Grid == (geo.Grid{}) {
		conf.Grid = g
	}
	doc, err := conf.Build(testData(conf.Grid), segments)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return doc
}

func TestBuildFields(t *testing.T) {
	t.Parallel()

	doc := build(t, i3d.Config{Name: "test"}, nil)
	fields := findGroup(doc, "fields")
	if fields == nil || len(fields.Groups) != 1 {
		t.Fatalf("fields group missing or wrong size: %+v", fields)
	}
	field := fields.Groups[0]
	if field.Name != "field01" || field.Translation == "" {
		t.Errorf("field node = %+v", field)
	}
	if len(field.Groups) != 1 || field.Groups[0].Name != "polygonPoints" {
		t.Fatalf("field has no polygonPoints child")
	}
	if got := len(field.Groups[0].Groups); got != 4 {
		t.Errorf("field has %d polygon points, want 4", got)
	}
}

func TestBuildForestsDeterministic(t *testing.T) {
	t.Parallel()

	conf := i3d.Config{Trees: schema.DefaultTrees(), Seed: 7}
	var first, second bytes.Buffer
	if _, err := buildDoc(t, conf).WriteTo(&first); err != nil {
		t.Fatal(err)
	}
	if _, err := buildDoc(t, conf).WriteTo(&second); err != nil {
		t.Fatal(err)
	}
	if first.String() != second.String() {
		t.Error("same seed produced different scenes")
	}

	forests := findGroup(buildDoc(t, conf), "forests")
	if forests == nil || len(forests.Groups) != 1 {
		t.Fatalf("forests group missing: %+v", forests)
	}
	trees := forests.Groups[0].Groups
	// An 800x800 m wood at 12 m spacing holds thousands of trees.
	if len(trees) < 1000 {
		t.Fatalf("only %d trees planted", len(trees))
	}
	for _, tree := range trees[:10] {
		if tree.ReferenceID == 0 || tree.Scale == "" || tree.Translation == "" {
			t.Errorf("tree node incomplete: %+v", tree)
		}
	}
}

func buildDoc(t *testing.T, conf i3d.Config) *i3d.Document {
	t.Helper()
	return build(t, conf, nil)
}

func TestBuildBuildings(t *testing.T) {
	t.Parallel()

	doc := build(t, i3d.Config{Buildings: schema.DefaultBuildings()}, nil)
	buildings := findGroup(doc, "buildings")
	if buildings == nil || len(buildings.Groups) != 1 {
		t.Fatalf("buildings group missing or wrong size: %+v", buildings)
	}
	barn := buildings.Groups[0]
	// A 32x32 m barn footprint lands in the barn schema entry.
	if !strings.HasPrefix(barn.Name, "barn_") || barn.ReferenceID != 20 {
		t.Errorf("building node = %+v", barn)
	}
}

func TestBuildRoadSplines(t *testing.T) {
	t.Parallel()

	segments := []roads.Segment{
		{Texture: "asphalt", Width: 8, Points: []mgl64.Vec2{{0, 0}, {100, 0}, {200, 50}}, V: []float64{0, 0.5, 1}},
		{Texture: "gravel", Width: 5, Points: []mgl64.Vec2{{-50, -50}, {-50, 100}}, V: []float64{0, 1}},
	}
	doc := build(t, i3d.Config{}, segments)
	if doc.Shapes == nil || len(doc.Shapes.Curves) != 2 {
		t.Fatalf("expected 2 spline shapes, got %+v", doc.Shapes)
	}
	curve := doc.Shapes.Curves[0]
	if curve.Name != "asphalt_001" || curve.Degree != 3 || curve.Form != "open" {
		t.Errorf("curve = %+v", curve)
	}
	if len(curve.Points) != 3 {
		t.Errorf("curve has %d control points, want 3", len(curve.Points))
	}
	roadsGroup := findGroup(doc, "roads")
	if roadsGroup == nil || len(roadsGroup.Shapes) != 2 {
		t.Fatalf("roads group missing shape references")
	}
	if roadsGroup.Shapes[0].ShapeID != doc.Shapes.Curves[0].ShapeID {
		t.Error("shape reference does not match curve id")
	}
}

func TestWriteToRoundTrip(t *testing.T) {
	t.Parallel()

	doc := build(t, i3d.Config{
		Name:      "roundtrip",
		Trees:     schema.DefaultTrees(),
		Buildings: schema.DefaultBuildings(),
	}, []roads.Segment{{Texture: "asphalt", Width: 8, Points: []mgl64.Vec2{{0, 0}, {10, 10}}, V: []float64{0, 1}}})

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasPrefix(buf.String(), xml.Header) {
		t.Error("missing XML header")
	}
	var back i3d.Document
	if err := xml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Name != "roundtrip" || back.Version != "1.6" {
		t.Errorf("round-tripped document = %s/%s", back.Name, back.Version)
	}
	if len(back.Scene.Groups) != len(doc.Scene.Groups) {
		t.Errorf("scene groups %d, want %d", len(back.Scene.Groups), len(doc.Scene.Groups))
	}
}

func TestHeightFuncDrapesNodes(t *testing.T) {
	t.Parallel()

	doc := build(t, i3d.Config{
		Buildings: schema.DefaultBuildings(),
		Height:    func(mgl64.Vec2) float64 { return 123 },
	}, nil)
	barn := findGroup(doc, "buildings").Groups[0]
	if !strings.Contains(barn.Translation, " 123.000 ") {
		t.Errorf("building translation %q not at terrain height", barn.Translation)
	}
}
