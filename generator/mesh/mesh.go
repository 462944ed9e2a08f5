// Package mesh builds the triangle geometry exported with a map: the
// background terrain surrounding the playable square, road surfaces and
// water planes. Meshes use the game's axes: X east, Y up, Z south.
package mesh

import (
	"bufio"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl64"
)

// Mesh is an indexed triangle mesh. Vertices, normals and UVs share
// indices; Faces index into them.
type Mesh struct {
	Name     string
	Vertices []mgl64.Vec3
	Normals  []mgl64.Vec3
	UVs      []mgl64.Vec2
	Faces    [][3]int
}

// WriteOBJ writes the mesh in Wavefront OBJ format. Indices in OBJ are
// 1-based.
func (m *Mesh) WriteOBJ(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if m.Name != "" {
		fmt.Fprintf(bw, "o %s\n", m.Name)
	}
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "v %.4f %.4f %.4f\n", v.X(), v.Y(), v.Z())
	}
	for _, uv := range m.UVs {
		fmt.Fprintf(bw, "vt %.6f %.6f\n", uv.X(), uv.Y())
	}
	for _, n := range m.Normals {
		fmt.Fprintf(bw, "vn %.4f %.4f %.4f\n", n.X(), n.Y(), n.Z())
	}
	hasUV, hasN := len(m.UVs) > 0, len(m.Normals) > 0
	for _, f := range m.Faces {
		switch {
		case hasUV && hasN:
			fmt.Fprintf(bw, "f %d/%d/%d %d/%d/%d %d/%d/%d\n",
				f[0]+1, f[0]+1, f[0]+1, f[1]+1, f[1]+1, f[1]+1, f[2]+1, f[2]+1, f[2]+1)
		case hasUV:
			fmt.Fprintf(bw, "f %d/%d %d/%d %d/%d\n", f[0]+1, f[0]+1, f[1]+1, f[1]+1, f[2]+1, f[2]+1)
		default:
			fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("mesh: write obj: %w", err)
	}
	return nil
}

// TriangleCount returns the number of faces.
func (m *Mesh) TriangleCount() int { return len(m.Faces) }
