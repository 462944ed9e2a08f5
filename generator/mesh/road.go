package mesh

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/maps4go/maps4go/generator/roads"
)

// RoadHeightFunc resolves the terrain height in metres at a map-local
// position, used to drape road geometry onto the terrain.
type RoadHeightFunc func(pos mgl64.Vec2) float64

// roadLift is how far road surfaces float above the terrain, in metres,
// to avoid z-fighting with the ground texture.
const roadLift = 0.05

// Road builds the surface mesh of one road segment: a triangle strip of the
// segment's width, U spanning the width and V the segment's arc length.
func Road(seg roads.Segment, height RoadHeightFunc) *Mesh {
	m := &Mesh{Name: seg.Texture}
	if len(seg.Points) < 2 {
		return m
	}
	half := seg.Width / 2
	for i, p := range seg.Points {
		dir := stripDirection(seg.Points, i)
		perp := mgl64.Vec2{-dir.Y(), dir.X()}
		left := p.Add(perp.Mul(half))
		right := p.Sub(perp.Mul(half))
		m.Vertices = append(m.Vertices,
			toWorld(left, height),
			toWorld(right, height),
		)
		m.UVs = append(m.UVs,
			mgl64.Vec2{0, seg.V[i]},
			mgl64.Vec2{1, seg.V[i]},
		)
		up := mgl64.Vec3{0, 1, 0}
		m.Normals = append(m.Normals, up, up)
	}
	for i := 0; i+1 < len(seg.Points); i++ {
		l0, r0, l1, r1 := 2*i, 2*i+1, 2*i+2, 2*i+3
		m.Faces = append(m.Faces, [3]int{l0, r0, l1}, [3]int{l1, r0, r1})
	}
	return m
}

// Junction builds the quad patch of a T-junction, oriented along the
// through road.
func Junction(j roads.Junction, height RoadHeightFunc) *Mesh {
	m := &Mesh{Name: "junction"}
	half := j.Width / 2
	along := j.Along.Mul(half)
	perp := mgl64.Vec2{-j.Along.Y(), j.Along.X()}.Mul(half)
	corners := [4]mgl64.Vec2{
		j.At.Sub(along).Add(perp),
		j.At.Add(along).Add(perp),
		j.At.Add(along).Sub(perp),
		j.At.Sub(along).Sub(perp),
	}
	uvs := [4]mgl64.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	for i, c := range corners {
		m.Vertices = append(m.Vertices, toWorld(c, height))
		m.UVs = append(m.UVs, uvs[i])
		m.Normals = append(m.Normals, mgl64.Vec3{0, 1, 0})
	}
	m.Faces = append(m.Faces, [3]int{0, 1, 2}, [3]int{0, 2, 3})
	return m
}

// toWorld lifts a map-local 2D position into world space on the terrain.
// Map Y (north) maps onto world -Z.
func toWorld(pos mgl64.Vec2, height RoadHeightFunc) mgl64.Vec3 {
	h := roadLift
	if height != nil {
		h += height(pos)
	}
	return mgl64.Vec3{pos.X(), h, -pos.Y()}
}

// stripDirection averages the directions of the polyline segments adjacent
// to point i, keeping mitred strip edges smooth.
func stripDirection(pts []mgl64.Vec2, i int) mgl64.Vec2 {
	var dir mgl64.Vec2
	if i > 0 {
		dir = dir.Add(safeNormalize(pts[i].Sub(pts[i-1])))
	}
	if i+1 < len(pts) {
		dir = dir.Add(safeNormalize(pts[i+1].Sub(pts[i])))
	}
	return safeNormalize(dir)
}

func safeNormalize(v mgl64.Vec2) mgl64.Vec2 {
	l := v.Len()
	if l < 1e-12 || math.IsNaN(l) {
		return mgl64.Vec2{1, 0}
	}
	return v.Mul(1 / l)
}
