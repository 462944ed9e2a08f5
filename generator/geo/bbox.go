package geo

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// BBox is a geographic bounding box. South/West are inclusive minimums,
// North/East inclusive maximums, all in degrees.
type BBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// String formats the box in the south,west,north,east order used by the
// Overpass API.
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.South, b.West, b.North, b.East)
}

// Valid reports whether the box is non-empty and within projection limits.
func (b BBox) Valid() bool {
	return b.South < b.North && b.West < b.East &&
		Point{Lat: b.South, Lon: b.West}.Valid() &&
		Point{Lat: b.North, Lon: b.East}.Valid()
}

// Center returns the geographic centre of the box.
func (b BBox) Center() Point {
	return Point{Lat: (b.South + b.North) / 2, Lon: (b.West + b.East) / 2}
}

// Contains reports whether p lies within the box.
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.South && p.Lat <= b.North && p.Lon >= b.West && p.Lon <= b.East
}

// Extend grows the box to include p.
func (b BBox) Extend(p Point) BBox {
	return BBox{
		South: math.Min(b.South, p.Lat),
		West:  math.Min(b.West, p.Lon),
		North: math.Max(b.North, p.Lat),
		East:  math.Max(b.East, p.Lon),
	}
}

// Union returns the smallest box containing both boxes.
func (b BBox) Union(o BBox) BBox {
	return b.Extend(Point{Lat: o.South, Lon: o.West}).Extend(Point{Lat: o.North, Lon: o.East})
}

// MapBounds computes the bounding box that covers a square map of sizeMetres
// centred on c and rotated by rotation degrees. The box covers the rotated
// square entirely, so a rotated map fetches a larger geographic area.
func MapBounds(c Point, sizeMetres float64, rotation float64) BBox {
	half := sizeMetres / 2
	pr := NewProjection(c)
	b := BBox{South: c.Lat, West: c.Lon, North: c.Lat, East: c.Lon}
	for _, corner := range [4]mgl64.Vec2{{-half, -half}, {half, -half}, {half, half}, {-half, half}} {
		b = b.Extend(pr.ToPoint(Rotate(corner, rotation)))
	}
	return b
}

// Grid maps between the geographic plane and raster pixels of a generated
// map. Pixel (0,0) is the north-west corner of the unrotated map square;
// rotation is applied when resolving a pixel to a geographic point.
type Grid struct {
	proj       Projection
	sizeMetres float64
	sizePixels int
	rotation   float64
}

// NewGrid creates a pixel grid for a map of sizeMetres metres and sizePixels
// pixels square, centred on c and rotated by rotation degrees.
func NewGrid(c Point, sizeMetres float64, sizePixels int, rotation float64) Grid {
	return Grid{
		proj:       NewProjection(c),
		sizeMetres: sizeMetres,
		sizePixels: sizePixels,
		rotation:   rotation,
	}
}

// Size returns the raster size in pixels.
func (g Grid) Size() int { return g.sizePixels }

// PixelSize returns the edge length of one pixel in metres.
func (g Grid) PixelSize() float64 { return g.sizeMetres / float64(g.sizePixels) }

// PointAt resolves the geographic point at the centre of pixel (x, y).
func (g Grid) PointAt(x, y int) Point {
	px := g.sizeMetres * ((float64(x)+0.5)/float64(g.sizePixels) - 0.5)
	py := g.sizeMetres * (0.5 - (float64(y)+0.5)/float64(g.sizePixels))
	return g.proj.ToPoint(Rotate(mgl64.Vec2{px, py}, g.rotation))
}

// PixelAt resolves the pixel containing the geographic point p. The second
// return value is false when the point falls outside the raster.
func (g Grid) PixelAt(p Point) (x, y int, ok bool) {
	m := Rotate(g.proj.ToMetres(p), -g.rotation)
	fx := (m.X()/g.sizeMetres + 0.5) * float64(g.sizePixels)
	fy := (0.5 - m.Y()/g.sizeMetres) * float64(g.sizePixels)
	x, y = int(math.Floor(fx)), int(math.Floor(fy))
	if x < 0 || y < 0 || x >= g.sizePixels || y >= g.sizePixels {
		return x, y, false
	}
	return x, y, true
}

// Project converts geographic points into continuous pixel coordinates of
// the raster, for use by rasterizers. Unlike PixelAt the result is not
// clipped to the raster.
func (g Grid) Project(pts []Point) [][2]float64 {
	size := float64(g.sizePixels)
	out := make([][2]float64, len(pts))
	for i, p := range pts {
		m := g.MetresAt(p)
		out[i] = [2]float64{m.X()/g.PixelSize() + size/2, size/2 - m.Y()/g.PixelSize()}
	}
	return out
}

// MetresAt converts the geographic point p into unrotated map-local metres,
// with the origin at the map centre, X growing east towards the right edge
// of the raster and Y growing north towards its top edge.
func (g Grid) MetresAt(p Point) mgl64.Vec2 {
	return Rotate(g.proj.ToMetres(p), -g.rotation)
}
