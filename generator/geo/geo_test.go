package geo_test

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/maps4go/maps4go/generator/geo"
)

func TestProjectionRoundTrip(t *testing.T) {
	t.Parallel()

	origins := []geo.Point{
		{Lat: 0, Lon: 0},
		{Lat: 45.2861, Lon: 20.2370},
		{Lat: -33.8688, Lon: 151.2093},
		{Lat: 60.1699, Lon: 24.9384},
	}
	offsets := []mgl64.Vec2{{0, 0}, {100, 0}, {0, -250}, {-1024, 2048}, {8192, 8192}}

	for _, origin := range origins {
		pr := geo.NewProjection(origin)
		for _, off := range offsets {
			p := pr.ToPoint(off)
			back := pr.ToMetres(p)
			if math.Abs(back.X()-off.X()) > 1e-6 || math.Abs(back.Y()-off.Y()) > 1e-6 {
				t.Errorf("origin %v offset %v: round trip gave %v", origin, off, back)
			}
		}
	}
}

func TestRotatePreservesLength(t *testing.T) {
	t.Parallel()

	v := mgl64.Vec2{300, -400}
	for _, deg := range []float64{0, 25, 90, 180, -45, 359} {
		r := geo.Rotate(v, deg)
		if math.Abs(r.Len()-500) > 1e-9 {
			t.Errorf("rotation by %v changed length: %v", deg, r.Len())
		}
	}
	if r := geo.Rotate(mgl64.Vec2{1, 0}, 90); math.Abs(r.X()) > 1e-12 || math.Abs(r.Y()-1) > 1e-12 {
		t.Errorf("90 degree rotation of east is not north: %v", r)
	}
}

func TestNormalizeRotation(t *testing.T) {
	t.Parallel()

	cases := map[float64]float64{
		0:    0,
		180:  -180,
		-180: -180,
		270:  -90,
		540:  -180,
		-361: -1,
		25:   25,
	}
	for in, want := range cases {
		if got := geo.NormalizeRotation(in); math.Abs(got-want) > 1e-12 {
			t.Errorf("NormalizeRotation(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestMapBoundsCoversRotatedSquare(t *testing.T) {
	t.Parallel()

	c := geo.Point{Lat: 45.28, Lon: 20.23}
	plain := geo.MapBounds(c, 2048, 0)
	rotated := geo.MapBounds(c, 2048, 25)

	if !plain.Valid() || !rotated.Valid() {
		t.Fatalf("invalid bounds: %v / %v", plain, rotated)
	}
	if !plain.Contains(c) {
		t.Errorf("bounds %v does not contain centre", plain)
	}
	// A rotated square needs a strictly larger axis-aligned cover.
	if rotated.North-rotated.South <= plain.North-plain.South {
		t.Errorf("rotated bounds %v not taller than plain %v", rotated, plain)
	}
}

func TestGridPixelRoundTrip(t *testing.T) {
	t.Parallel()

	g := geo.NewGrid(geo.Point{Lat: 45.28, Lon: 20.23}, 2048, 512, 25)
	for _, px := range [][2]int{{0, 0}, {511, 511}, {256, 256}, {12, 400}} {
		p := g.PointAt(px[0], px[1])
		x, y, ok := g.PixelAt(p)
		if !ok {
			t.Fatalf("pixel %v mapped out of range", px)
		}
		if x != px[0] || y != px[1] {
			t.Errorf("pixel %v round-tripped to (%d, %d)", px, x, y)
		}
	}
}

func TestGridOrientation(t *testing.T) {
	t.Parallel()

	g := geo.NewGrid(geo.Point{Lat: 10, Lon: 10}, 1000, 100, 0)
	top := g.PointAt(50, 0)
	bottom := g.PointAt(50, 99)
	if top.Lat <= bottom.Lat {
		t.Errorf("row 0 should be north of row 99: %v vs %v", top, bottom)
	}
	left := g.PointAt(0, 50)
	right := g.PointAt(99, 50)
	if left.Lon >= right.Lon {
		t.Errorf("column 0 should be west of column 99: %v vs %v", left, right)
	}
}
