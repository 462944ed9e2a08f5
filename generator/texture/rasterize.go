package texture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/internal/raster"
	"github.com/maps4go/maps4go/generator/osm"
)

// Config holds the inputs of a rasterization pass.
type Config struct {
	Log    *slog.Logger
	Grid   geo.Grid
	Schema *Schema
	Data   *osm.Data
}

// Result is a finished rasterization: every pixel is owned by exactly one
// schema layer.
type Result struct {
	Size   int
	Schema *Schema
	// owner holds the layer index per pixel.
	owner []int16
	// painted counts painted (non-base-fallback) pixels per layer.
	painted []int
}

// Rasterize paints all matching OSM features into a per-pixel layer
// ownership raster. Layers paint in ascending priority order so
// higher-priority layers overwrite lower ones; unpainted pixels fall to the
// base layer.
func (conf Config) Rasterize(ctx context.Context) (*Result, error) {
	if conf.Schema == nil || conf.Data == nil {
		return nil, fmt.Errorf("texture: schema and data are required")
	}
	log := conf.Log
	if log == nil {
		log = slog.Default()
	}
	size := conf.Grid.Size()
	res := &Result{
		Size:    size,
		Schema:  conf.Schema,
		owner:   make([]int16, size*size),
		painted: make([]int, len(conf.Schema.Layers)),
	}
	base := int16(conf.Schema.Base())
	for i := range res.owner {
		res.owner[i] = base
	}

	// Paint in ascending priority; schema order breaks ties, so the later
	// equal-priority layer wins, matching how schema authors expect
	// overrides to work.
	order := make([]int, len(conf.Schema.Layers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return conf.Schema.Layers[order[a]].Priority < conf.Schema.Layers[order[b]].Priority
	})

	for _, li := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		layer := conf.Schema.Layers[li]
		if len(layer.Tags) == 0 {
			continue
		}
		idx := int16(li)
		set := func(x, y int) { res.owner[y*size+x] = idx }
		count := 0
		for _, f := range conf.Data.Filter(layer.Tags) {
			switch f.Kind {
			case osm.KindPolygon:
				raster.FillPolygon(size, size, projectRings(conf.Grid, f), set)
			case osm.KindLine:
				widthPx := layer.Width / conf.Grid.PixelSize()
				raster.StrokeLine(size, size, conf.Grid.Project(f.Points), widthPx, set)
			default:
				// Point features carry no area to paint.
				continue
			}
			count++
		}
		log.Debug("Painted texture layer.", "layer", layer.Name, "features", count)
	}

	for _, o := range res.owner {
		res.painted[o]++
	}
	return res, nil
}

// Owner returns the layer index owning pixel (x, y).
func (r *Result) Owner(x, y int) int {
	return int(r.owner[y*r.Size+x])
}

// PaintedPixels returns the number of pixels owned by the layer index.
func (r *Result) PaintedPixels(layer int) int {
	return r.painted[layer]
}

// WeightMap renders the 8-bit weight map of a layer index.
func (r *Result) WeightMap(layer int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.Size, r.Size))
	idx := int16(layer)
	for i, o := range r.owner {
		if o == idx {
			img.Pix[i] = 255
		}
	}
	return img
}

// WriteFiles writes all weight maps to dir using the
// {texture}{index}_weight.png naming convention. A layer's painted pixels
// land in its first file; the remaining files exist for in-game variation
// painting and are written empty.
func (r *Result) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("texture: create output dir: %w", err)
	}
	empty := image.NewGray(image.Rect(0, 0, r.Size, r.Size))
	for li, layer := range r.Schema.Layers {
		if layer.ExcludeWeight {
			continue
		}
		for n := 1; n <= layer.Count; n++ {
			img := empty
			if n == 1 {
				img = r.WeightMap(li)
			}
			name := fmt.Sprintf("%s%02d_weight.png", layer.Name, n)
			if err := writePNG(filepath.Join(dir, name), img); err != nil {
				return err
			}
		}
	}
	return writePNG(filepath.Join(dir, "preview.png"), r.Preview())
}

// Preview renders an RGB composite of the ownership raster using the schema
// colours.
func (r *Result) Preview() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Size, r.Size))
	for i, o := range r.owner {
		c := r.Schema.Layers[o].Color
		img.SetRGBA(i%r.Size, i/r.Size, color.RGBA{R: c[0], G: c[1], B: c[2], A: 255})
	}
	return img
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("texture: create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("texture: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("texture: close %s: %w", path, err)
	}
	return nil
}

// projectRings converts a polygon feature into pixel-space rings.
func projectRings(grid geo.Grid, f osm.Feature) [][][2]float64 {
	rings := make([][][2]float64, 0, 1+len(f.Inner))
	rings = append(rings, grid.Project(f.Points))
	for _, inner := range f.Inner {
		rings = append(rings, grid.Project(inner))
	}
	return rings
}
