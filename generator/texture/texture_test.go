package texture_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/osm"
	"github.com/maps4go/maps4go/generator/texture"
)

var centre = geo.Point{Lat: 45.28, Lon: 20.23}

func testSchema(t *testing.T) *texture.Schema {
	t.Helper()
	s, err := texture.NewSchema([]texture.Layer{
		{Name: "grass", Count: 1, Base: true, Color: [3]uint8{110, 150, 80}},
		{Name: "plowed", Count: 2, Priority: 3, Usage: "field",
			Tags: osm.Matcher{"landuse": {"farmland"}}, Color: [3]uint8{120, 90, 60}},
		{Name: "asphalt", Count: 1, Priority: 6, Width: 8, Usage: "road",
			Tags: osm.Matcher{"highway": nil}, Color: [3]uint8{70, 70, 70}},
	})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func TestDefaultSchemaValid(t *testing.T) {
	t.Parallel()

	s := texture.DefaultSchema()
	if len(s.Layers) == 0 {
		t.Fatal("default schema has no layers")
	}
	if !s.Layers[s.Base()].Base {
		t.Error("base index does not point at base layer")
	}
	if len(s.ByUsage("road")) == 0 {
		t.Error("default schema has no road layers")
	}
}

func TestLoadSchemaRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := texture.LoadSchema(strings.NewReader(
		`[{"name": "grass", "count": 1, "base": true, "colour": [1,2,3]}]`))
	if !errors.Is(err, texture.ErrBadSchema) {
		t.Fatalf("expected ErrBadSchema, got %v", err)
	}
}

func TestNewSchemaValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		layers []texture.Layer
	}{
		{"empty", nil},
		{"no base", []texture.Layer{{Name: "grass", Count: 1}}},
		{"two bases", []texture.Layer{
			{Name: "a", Count: 1, Base: true},
			{Name: "b", Count: 1, Base: true},
		}},
		{"duplicate name", []texture.Layer{
			{Name: "a", Count: 1, Base: true},
			{Name: "a", Count: 1},
		}},
		{"zero count", []texture.Layer{{Name: "a", Base: true}}},
	}
	for _, c := range cases {
		if _, err := texture.NewSchema(c.layers); !errors.Is(err, texture.ErrBadSchema) {
			t.Errorf("%s: expected ErrBadSchema, got %v", c.name, err)
		}
	}
}

// farm builds test data with a farmland polygon crossed by a road.
func farm(grid geo.Grid) *osm.Data {
	return &osm.Data{Features: []osm.Feature{
		{
			ID: 1, Kind: osm.KindPolygon, Tags: osm.Tags{"landuse": "farmland"},
			Points: []geo.Point{
				grid.PointAt(8, 8), grid.PointAt(56, 8),
				grid.PointAt(56, 56), grid.PointAt(8, 56), grid.PointAt(8, 8),
			},
		},
		{
			ID: 2, Kind: osm.KindLine, Tags: osm.Tags{"highway": "secondary"},
			Points: []geo.Point{grid.PointAt(0, 32), grid.PointAt(63, 32)},
		},
	}}
}

func TestRasterizePriority(t *testing.T) {
	t.Parallel()

	grid := geo.NewGrid(centre, 1024, 64, 0)
	res, err := texture.Config{Grid: grid, Schema: testSchema(t), Data: farm(grid)}.
		Rasterize(context.Background())
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}

	// The road has priority 6 and crosses the field (priority 3).
	if got := res.Owner(32, 32); got != 2 {
		t.Errorf("road pixel owned by layer %d, want asphalt (2)", got)
	}
	// Field interior away from the road.
	if got := res.Owner(32, 12); got != 1 {
		t.Errorf("field pixel owned by layer %d, want plowed (1)", got)
	}
	// Corner outside everything falls to base.
	if got := res.Owner(1, 1); got != 0 {
		t.Errorf("outside pixel owned by layer %d, want grass (0)", got)
	}
	if res.PaintedPixels(2) == 0 {
		t.Error("no painted road pixels counted")
	}
}

func TestWriteFilesNaming(t *testing.T) {
	t.Parallel()

	grid := geo.NewGrid(centre, 1024, 64, 0)
	res, err := texture.Config{Grid: grid, Schema: testSchema(t), Data: farm(grid)}.
		Rasterize(context.Background())
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	dir := t.TempDir()
	if err := res.WriteFiles(dir); err != nil {
		t.Fatalf("write files: %v", err)
	}
	for _, name := range []string{
		"grass01_weight.png", "plowed01_weight.png", "plowed02_weight.png", "asphalt01_weight.png",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing weight map %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "plowed03_weight.png")); err == nil {
		t.Error("unexpected third plowed weight map")
	}
	if _, err := os.Stat(filepath.Join(dir, "preview.png")); err != nil {
		t.Errorf("missing preview: %v", err)
	}
}

func TestWeightMapMatchesOwnership(t *testing.T) {
	t.Parallel()

	grid := geo.NewGrid(centre, 1024, 64, 0)
	res, err := texture.Config{Grid: grid, Schema: testSchema(t), Data: farm(grid)}.
		Rasterize(context.Background())
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	img := res.WeightMap(1)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			want := uint8(0)
			if res.Owner(x, y) == 1 {
				want = 255
			}
			if got := img.GrayAt(x, y).Y; got != want {
				t.Fatalf("weight map mismatch at (%d,%d): %d != %d", x, y, got, want)
			}
		}
	}
}

func TestMatcherJSONForms(t *testing.T) {
	t.Parallel()

	schemaJSON := `[
		{"name": "grass", "count": 1, "base": true},
		{"name": "mixed", "count": 1, "tags": {"highway": "track", "landuse": ["forest", "wood"], "building": true}}
	]`
	s, err := texture.LoadSchema(strings.NewReader(schemaJSON))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m := s.Layers[1].Tags
	if !m.Match(osm.Tags{"highway": "track", "landuse": "forest", "building": "yes"}) {
		t.Error("matcher should accept listed values and any building")
	}
	if m.Match(osm.Tags{"highway": "track", "landuse": "forest"}) {
		t.Error("matcher should require all keys")
	}
}
