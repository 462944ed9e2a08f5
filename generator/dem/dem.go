// Package dem converts bare-earth elevation into the 16-bit heightmap the
// game terrain is built from.
package dem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/maps4go/maps4go/generator/dtm"
	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/internal/raster"
	"github.com/maps4go/maps4go/generator/osm"
)

// Config holds the options for building a DEM.
type Config struct {
	Log *slog.Logger
	// Provider supplies the elevation data.
	Provider dtm.Provider
	// Grid is the raster the DEM is sampled onto. With background terrain
	// enabled the grid covers map size + 4096 metres.
	Grid geo.Grid
	// HeightScale is the elevation range in metres mapped onto the full
	// 16-bit value range. Defaults to 255, leaving headroom for editing
	// the terrain upwards in most real-world areas.
	HeightScale float64
	// BlurRadius smooths the sampled terrain with a box blur of this pixel
	// radius, removing the stair-stepping of coarse DTM sources. 0 keeps
	// the raw samples.
	BlurRadius int
	// Plateau raises the whole terrain by a constant number of metres above
	// the value-zero floor, so that rivers can be carved below the lowest
	// real elevation.
	Plateau float64
	// WaterDepth lowers terrain covered by water features by this many
	// metres, compensating for DTM sources that report the water surface
	// instead of the bed.
	WaterDepth float64
	// Water are the features water carving applies to; only polygons are
	// considered.
	Water []osm.Feature
}

// DEM is a built heightmap.
type DEM struct {
	Size   int
	Values []uint16
	// BaseElevation is the real-world elevation in metres represented by
	// value 0. With a plateau configured it lies below the lowest sampled
	// elevation.
	BaseElevation float64
	// HeightScale is the metres-per-full-range factor the values were
	// encoded with.
	HeightScale float64
}

// Build samples the provider onto the grid and applies the configured
// post-processing steps.
func (conf Config) Build(ctx context.Context) (*DEM, error) {
	if conf.Provider == nil {
		return nil, fmt.Errorf("dem: provider is required")
	}
	if conf.HeightScale <= 0 {
		conf.HeightScale = 255
	}
	log := conf.Log
	if log == nil {
		log = slog.Default()
	}

	// Cover all grid corners with one pixel of slack so edge samples
	// interpolate inside the fetched tile. PointAt applies the map
	// rotation, so the bounds grow with rotated maps as they must.
	size := conf.Grid.Size()
	centre := conf.Grid.PointAt(size/2, size/2)
	bounds := geo.BBox{South: centre.Lat, West: centre.Lon, North: centre.Lat, East: centre.Lon}
	for _, corner := range [4][2]int{{-1, -1}, {size, -1}, {size, size}, {-1, size}} {
		bounds = bounds.Extend(conf.Grid.PointAt(corner[0], corner[1]))
	}

	tile, err := conf.Provider.Fetch(ctx, bounds)
	if err != nil {
		return nil, fmt.Errorf("dem: fetch elevation: %w", err)
	}

	elev := make([]float64, size*size)
	minElev := math.Inf(1)
	for y := 0; y < size; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < size; x++ {
			v := tile.Sample(conf.Grid.PointAt(x, y))
			elev[y*size+x] = v
			minElev = math.Min(minElev, v)
		}
	}

	if conf.WaterDepth > 0 {
		carveWater(conf.Grid, conf.Water, elev, conf.WaterDepth)
		minElev = math.Min(minElev, minSlice(elev))
	}

	scale := 65535 / conf.HeightScale
	values := make([]uint16, len(elev))
	clipped := 0
	for i, v := range elev {
		h := (v - minElev + conf.Plateau) * scale
		if h < 0 {
			h = 0
		}
		if h > 65535 {
			h = 65535
			clipped++
		}
		values[i] = uint16(math.Round(h))
	}
	if clipped > 0 {
		log.Warn("DEM relief exceeds height scale, peaks clipped.",
			"clipped_pixels", clipped, "height_scale", conf.HeightScale)
	}

	raster.BoxBlur16(values, size, size, conf.BlurRadius)

	return &DEM{
		Size:   size,
		Values: values,
		// The plateau shifts the zero point below the lowest sampled
		// elevation.
		BaseElevation: minElev - conf.Plateau,
		HeightScale:   conf.HeightScale,
	}, nil
}

// carveWater lowers pixels covered by water polygons by depth metres.
func carveWater(grid geo.Grid, water []osm.Feature, elev []float64, depth float64) {
	size := grid.Size()
	for _, f := range water {
		if f.Kind != osm.KindPolygon {
			continue
		}
		rings := projectRings(grid, f)
		raster.FillPolygon(size, size, rings, func(x, y int) {
			elev[y*size+x] -= depth
		})
	}
}

// projectRings converts a polygon feature into pixel-space rings of the
// grid.
func projectRings(grid geo.Grid, f osm.Feature) [][][2]float64 {
	rings := make([][][2]float64, 0, 1+len(f.Inner))
	rings = append(rings, grid.Project(f.Points))
	for _, inner := range f.Inner {
		rings = append(rings, grid.Project(inner))
	}
	return rings
}

// Height returns the elevation in metres encoded at pixel (x, y).
func (d *DEM) Height(x, y int) float64 {
	return d.BaseElevation + float64(d.Values[y*d.Size+x])*d.HeightScale/65535
}

// Encode writes the DEM as a 16-bit grayscale PNG.
func (d *DEM) Encode(w io.Writer) error {
	return raster.EncodeGray16(w, d.Size, d.Size, d.Values)
}

func minSlice(s []float64) float64 {
	min := math.Inf(1)
	for _, v := range s {
		min = math.Min(min, v)
	}
	return min
}
