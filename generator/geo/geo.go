// Package geo implements the coordinate math shared by the generation
// pipeline: conversions between geographic coordinates and local map metres,
// bounding boxes and map rotation.
package geo

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// EarthRadius is the mean earth radius in metres used by the equirectangular
// projection. All distance maths in the pipeline derives from it.
const EarthRadius = 6371000.0

// metresPerDegreeLat is the length of one degree of latitude. It is treated
// as constant; the error of doing so is far below the resolution of any
// supported DTM source.
const metresPerDegreeLat = EarthRadius * math.Pi / 180

// Point is a geographic coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// String formats the point as "lat, lon" with enough precision to reproduce
// the generation.
func (p Point) String() string {
	return fmt.Sprintf("%.6f, %.6f", p.Lat, p.Lon)
}

// Valid reports if the point lies within the latitude band supported by the
// projection. Beyond 85 degrees the cos(lat) scaling degenerates.
func (p Point) Valid() bool {
	return p.Lat >= -85 && p.Lat <= 85 && p.Lon >= -180 && p.Lon <= 180
}

// Projection converts between geographic coordinates and a local metre grid
// centred on an origin point. X grows east, Y grows north.
type Projection struct {
	origin       Point
	metresPerLon float64
}

// NewProjection creates a projection centred on origin.
func NewProjection(origin Point) Projection {
	return Projection{
		origin:       origin,
		metresPerLon: metresPerDegreeLat * math.Cos(origin.Lat*math.Pi/180),
	}
}

// Origin returns the centre point the projection was created with.
func (pr Projection) Origin() Point { return pr.origin }

// ToMetres converts a geographic point to local metres relative to the
// origin.
func (pr Projection) ToMetres(p Point) mgl64.Vec2 {
	return mgl64.Vec2{
		(p.Lon - pr.origin.Lon) * pr.metresPerLon,
		(p.Lat - pr.origin.Lat) * metresPerDegreeLat,
	}
}

// ToPoint converts local metres back to a geographic point.
func (pr Projection) ToPoint(m mgl64.Vec2) Point {
	return Point{
		Lat: pr.origin.Lat + m.Y()/metresPerDegreeLat,
		Lon: pr.origin.Lon + m.X()/pr.metresPerLon,
	}
}

// Rotate rotates a local-metre vector by deg degrees counter-clockwise
// around the origin.
func Rotate(m mgl64.Vec2, deg float64) mgl64.Vec2 {
	rad := deg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	return mgl64.Vec2{m.X()*cos - m.Y()*sin, m.X()*sin + m.Y()*cos}
}

// NormalizeRotation maps an arbitrary rotation in degrees into [-180, 180).
func NormalizeRotation(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg >= 180 {
		deg -= 360
	} else if deg < -180 {
		deg += 360
	}
	return deg
}
