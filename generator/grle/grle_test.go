package grle_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/grle"
	"github.com/maps4go/maps4go/generator/osm"
)

var centre = geo.Point{Lat: 45.28, Lon: 20.23}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	const w, h = 37, 23
	values := make([]uint16, w*h)
	for i := range values {
		switch {
		case i%7 == 0:
			values[i] = 3
		case i%31 == 0:
			values[i] = 65535
		}
	}
	var buf bytes.Buffer
	if err := grle.Encode(&buf, w, h, values); err != nil {
		t.Fatalf("encode: %v", err)
	}
	gw, gh, got, err := grle.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gw != w || gh != h {
		t.Fatalf("size %dx%d, want %dx%d", gw, gh, w, h)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Fatalf("value %d = %d, want %d", i, got[i], values[i])
		}
	}
}

func TestEncodeCompressesRuns(t *testing.T) {
	t.Parallel()

	const w, h = 256, 256
	values := make([]uint16, w*h)
	var buf bytes.Buffer
	if err := grle.Encode(&buf, w, h, values); err != nil {
		t.Fatalf("encode: %v", err)
	}
	// A constant raster is one run per row plus the header.
	if buf.Len() > 16+h*4 {
		t.Errorf("constant raster encoded to %d bytes", buf.Len())
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, payload := range [][]byte{
		nil,
		[]byte("not a grle payload"),
		[]byte("GRLE"),
	} {
		if _, _, _, err := grle.Decode(bytes.NewReader(payload)); !errors.Is(err, grle.ErrFormat) {
			t.Errorf("payload %q: expected ErrFormat, got %v", payload, err)
		}
	}
}

func square(id int64, grid geo.Grid, x0, y0, x1, y1 int) osm.Feature {
	return osm.Feature{
		ID: id, Kind: osm.KindPolygon, Tags: osm.Tags{"landuse": "farmland"},
		Points: []geo.Point{
			grid.PointAt(x0, y0), grid.PointAt(x1, y0),
			grid.PointAt(x1, y1), grid.PointAt(x0, y1), grid.PointAt(x0, y0),
		},
	}
}

func TestFarmlandsStableIDs(t *testing.T) {
	t.Parallel()

	grid := geo.NewGrid(centre, 1024, 64, 0)
	a := square(100, grid, 4, 4, 28, 28)
	b := square(50, grid, 36, 36, 60, 60)

	// Input order must not influence numbering.
	fl1, err := grle.FarmlandsConfig{Grid: grid, Features: []osm.Feature{a, b}}.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	fl2, err := grle.FarmlandsConfig{Grid: grid, Features: []osm.Feature{b, a}}.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(fl1.Entries) != 2 || len(fl2.Entries) != 2 {
		t.Fatalf("entries: %d / %d, want 2", len(fl1.Entries), len(fl2.Entries))
	}
	for i := range fl1.IDs {
		if fl1.IDs[i] != fl2.IDs[i] {
			t.Fatalf("id raster differs at %d: %d != %d", i, fl1.IDs[i], fl2.IDs[i])
		}
	}
	// Lower OSM id numbers first.
	if fl1.IDs[40*64+40] != 1 {
		t.Errorf("polygon with osm id 50 should be farmland 1, got %d", fl1.IDs[40*64+40])
	}
	if fl1.IDs[16*64+16] != 2 {
		t.Errorf("polygon with osm id 100 should be farmland 2, got %d", fl1.IDs[16*64+16])
	}
}

func TestFarmlandsAreaAndFiles(t *testing.T) {
	t.Parallel()

	grid := geo.NewGrid(centre, 1024, 64, 0)
	// 24x24 pixels at 16 m/px is 384x384 m = 14.7456 ha.
	fl, err := grle.FarmlandsConfig{Grid: grid, Features: []osm.Feature{square(1, grid, 4, 4, 28, 28)}}.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got := fl.Entries[0].AreaHa
	if got < 14 || got > 15.5 {
		t.Errorf("area = %v ha, want about 14.75", got)
	}

	dir := t.TempDir()
	grlePath := filepath.Join(dir, "infoLayer_farmlands.grle")
	xmlPath := filepath.Join(dir, "farmlands.xml")
	if err := fl.WriteGRLE(grlePath); err != nil {
		t.Fatalf("write grle: %v", err)
	}
	if err := fl.WriteXML(xmlPath); err != nil {
		t.Fatalf("write xml: %v", err)
	}

	f, err := os.Open(grlePath)
	if err != nil {
		t.Fatalf("open grle: %v", err)
	}
	defer f.Close()
	w, h, ids, err := grle.Decode(f)
	if err != nil || w != 64 || h != 64 {
		t.Fatalf("decode grle: %dx%d, %v", w, h, err)
	}
	if ids[16*64+16] != 1 {
		t.Errorf("farmland pixel lost in round trip")
	}

	xmlData, err := os.ReadFile(xmlPath)
	if err != nil {
		t.Fatalf("read xml: %v", err)
	}
	s := string(xmlData)
	for _, want := range []string{`<farmlands`, `infoLayer="farmlands"`, `<farmland id="1"`} {
		if !strings.Contains(s, want) {
			t.Errorf("farmlands.xml missing %q:\n%s", want, s)
		}
	}
}

func TestFarmlandsMargin(t *testing.T) {
	t.Parallel()

	grid := geo.NewGrid(centre, 1024, 64, 0)
	plain, err := grle.FarmlandsConfig{Grid: grid, Features: []osm.Feature{square(1, grid, 20, 20, 40, 40)}}.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	grown, err := grle.FarmlandsConfig{Grid: grid, Features: []osm.Feature{square(1, grid, 20, 20, 40, 40)}, Margin: 2}.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	count := func(ids []uint16) int {
		n := 0
		for _, v := range ids {
			if v != 0 {
				n++
			}
		}
		return n
	}
	if count(grown.IDs) <= count(plain.IDs) {
		t.Errorf("margin did not grow farmland: %d vs %d", count(grown.IDs), count(plain.IDs))
	}
}
