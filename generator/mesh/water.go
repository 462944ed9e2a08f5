package mesh

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/osm"
)

// WaterPlane triangulates a water polygon into a flat plane at the given
// surface height. Inner rings are ignored; islands poke through the plane
// by their own terrain, as in the game.
func WaterPlane(grid geo.Grid, f osm.Feature, surface float64) *Mesh {
	m := &Mesh{Name: "water"}
	ring := make([]mgl64.Vec2, 0, len(f.Points))
	for _, p := range f.Points {
		ring = append(ring, grid.MetresAt(p))
	}
	// Drop the closing duplicate.
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 {
		return m
	}
	tris := earClip(ring)
	for _, v := range ring {
		m.Vertices = append(m.Vertices, mgl64.Vec3{v.X(), surface, -v.Y()})
		m.Normals = append(m.Normals, mgl64.Vec3{0, 1, 0})
	}
	m.Faces = tris
	return m
}

// earClip triangulates a simple polygon by ear clipping. The ring must not
// self-intersect; OSM water rings occasionally do, in which case leftover
// vertices are fanned as a fallback so the mesh stays watertight enough for
// a visual plane.
func earClip(ring []mgl64.Vec2) [][3]int {
	n := len(ring)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if signedArea(ring) < 0 {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			idx[i], idx[j] = idx[j], idx[i]
		}
	}

	var tris [][3]int
	guard := 0
	for len(idx) > 3 && guard < n*n {
		guard++
		clipped := false
		for i := 0; i < len(idx); i++ {
			a, b, c := idx[(i+len(idx)-1)%len(idx)], idx[i], idx[(i+1)%len(idx)]
			if !isEar(ring, idx, a, b, c) {
				continue
			}
			tris = append(tris, [3]int{a, b, c})
			idx = append(idx[:i], idx[i+1:]...)
			clipped = true
			break
		}
		if !clipped {
			// Degenerate ring: fan the rest.
			for i := 1; i+1 < len(idx); i++ {
				tris = append(tris, [3]int{idx[0], idx[i], idx[i+1]})
			}
			return tris
		}
	}
	if len(idx) == 3 {
		tris = append(tris, [3]int{idx[0], idx[1], idx[2]})
	}
	return tris
}

func isEar(ring []mgl64.Vec2, idx []int, a, b, c int) bool {
	if cross(ring[a], ring[b], ring[c]) <= 0 {
		return false
	}
	for _, i := range idx {
		if i == a || i == b || i == c {
			continue
		}
		if pointInTriangle(ring[i], ring[a], ring[b], ring[c]) {
			return false
		}
	}
	return true
}

func cross(o, a, b mgl64.Vec2) float64 {
	return (a.X()-o.X())*(b.Y()-o.Y()) - (a.Y()-o.Y())*(b.X()-o.X())
}

func pointInTriangle(p, a, b, c mgl64.Vec2) bool {
	d1 := cross(p, a, b)
	d2 := cross(p, b, c)
	d3 := cross(p, c, a)
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

func signedArea(ring []mgl64.Vec2) float64 {
	area := 0.0
	for i := range ring {
		j := (i + 1) % len(ring)
		area += ring[i].X()*ring[j].Y() - ring[j].X()*ring[i].Y()
	}
	return area / 2
}
