package mesh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/maps4go/maps4go/generator/dem"
)

// TerrainConfig holds the options for building the background terrain mesh.
type TerrainConfig struct {
	// DEM is the heightmap including the background margin.
	DEM *dem.DEM
	// PixelSize is the edge length of one DEM pixel in metres.
	PixelSize float64
	// Decimation merges this many DEM pixels into one mesh quad. Values
	// of 0 or lower select 4, which keeps a 16 km background mesh near a
	// million triangles.
	Decimation int
}

// Terrain builds the full-extent terrain mesh from the DEM. UVs span [0, 1]
// over the whole mesh so the stitched satellite image drapes directly onto
// it.
func (conf TerrainConfig) Terrain() (*Mesh, error) {
	if conf.DEM == nil {
		return nil, fmt.Errorf("mesh: dem is required")
	}
	if conf.Decimation <= 0 {
		conf.Decimation = 4
	}
	d := conf.DEM
	step := conf.Decimation
	cells := (d.Size - 1) / step
	if cells < 1 {
		return nil, fmt.Errorf("mesh: dem of size %d too small for decimation %d", d.Size, step)
	}
	n := cells + 1
	half := float64(d.Size) * conf.PixelSize / 2

	m := &Mesh{
		Name:     "background",
		Vertices: make([]mgl64.Vec3, 0, n*n),
		Normals:  make([]mgl64.Vec3, 0, n*n),
		UVs:      make([]mgl64.Vec2, 0, n*n),
	}
	for gy := 0; gy < n; gy++ {
		py := clamp(gy*step, d.Size-1)
		for gx := 0; gx < n; gx++ {
			px := clamp(gx*step, d.Size-1)
			m.Vertices = append(m.Vertices, mgl64.Vec3{
				float64(px)*conf.PixelSize - half,
				d.Height(px, py),
				float64(py)*conf.PixelSize - half,
			})
			m.Normals = append(m.Normals, normalAt(d, px, py, conf.PixelSize))
			m.UVs = append(m.UVs, mgl64.Vec2{
				float64(px) / float64(d.Size-1),
				1 - float64(py)/float64(d.Size-1),
			})
		}
	}
	for gy := 0; gy < cells; gy++ {
		for gx := 0; gx < cells; gx++ {
			i := gy*n + gx
			// Counter-clockwise seen from above (negative Y is up in OBJ
			// viewers with Y-up and Z towards the viewer).
			m.Faces = append(m.Faces,
				[3]int{i, i + n, i + 1},
				[3]int{i + 1, i + n, i + n + 1},
			)
		}
	}
	return m, nil
}

// normalAt computes the surface normal from central height differences.
func normalAt(d *dem.DEM, x, y int, pixelSize float64) mgl64.Vec3 {
	hx := d.Height(clamp(x+1, d.Size-1), y) - d.Height(clamp(x-1, d.Size-1), y)
	hz := d.Height(x, clamp(y+1, d.Size-1)) - d.Height(x, clamp(y-1, d.Size-1))
	return mgl64.Vec3{-hx, 2 * pixelSize, -hz}.Normalize()
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
