package dtm

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/internal/raster"
)

func init() {
	Register("file", func(env Env) (Provider, error) {
		path := env.Option("file", "")
		if path == "" {
			return nil, fmt.Errorf("file provider: the \"file\" option naming a 16-bit grayscale PNG is required")
		}
		f := &File{Path: path, MinHeight: 0, MaxHeight: 655.35}
		if v := env.Option("min_height", ""); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("file provider: parse min_height: %w", err)
			}
			f.MinHeight = parsed
		}
		if v := env.Option("max_height", ""); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("file provider: parse max_height: %w", err)
			}
			f.MaxHeight = parsed
		}
		if f.MaxHeight <= f.MinHeight {
			return nil, fmt.Errorf("file provider: max_height %v must exceed min_height %v", f.MaxHeight, f.MinHeight)
		}
		return f, nil
	})
}

// File serves elevation from a user-supplied DEM. The raster must be a
// 16-bit grayscale PNG and is assumed to cover the requested bounding box
// exactly; raw values map linearly onto [MinHeight, MaxHeight] metres.
type File struct {
	Path      string
	MinHeight float64
	MaxHeight float64
}

// Name ...
func (*File) Name() string { return "file" }

// Resolution ...
func (*File) Resolution() float64 { return 1 }

// Fetch decodes the raster and stretches it over the bounding box.
func (f *File) Fetch(_ context.Context, bbox geo.BBox) (*Tile, error) {
	if !bbox.Valid() {
		return nil, fmt.Errorf("file provider: invalid bounds %v", bbox)
	}
	r, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("file provider: %w", err)
	}
	defer r.Close()

	width, height, values, err := raster.DecodeGray16(r)
	if err != nil {
		return nil, fmt.Errorf("file provider: %s: %w", f.Path, err)
	}
	t := NewTile(bbox, height, width)
	scale := (f.MaxHeight - f.MinHeight) / 65535
	for i, v := range values {
		t.Samples[i] = f.MinHeight + float64(v)*scale
	}
	return t, nil
}
