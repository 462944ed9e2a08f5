package dtm

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
	"github.com/maps4go/maps4go/generator/cache"
	"github.com/maps4go/maps4go/generator/geo"
)

// srtmSamples is the edge length of a 1-arc-second SRTM tile. Tiles overlap
// their neighbours by one row/column.
const srtmSamples = 3601

// srtmVoid marks missing data in SRTM rasters.
const srtmVoid = -32768

// defaultSRTMURL is the mirror the srtm30 provider downloads from when the
// configuration does not name one. The {tile} token is replaced with the
// tile name, e.g. N45E006.
const defaultSRTMURL = "https://elevation-tiles.s3.amazonaws.com/skadi/{lat}/{tile}.hgt.gz"

func init() {
	Register("srtm30", func(env Env) (Provider, error) {
		return &SRTM30{
			log:   env.Log,
			cache: env.Cache,
			url:   env.Option("url", defaultSRTMURL),
		}, nil
	})
}

// SRTM30 downloads 1-arc-second (roughly 30 m) bare-earth tiles in the SRTM
// HGT layout: 3601x3601 big-endian int16 metres, row 0 at the northern
// edge. Downloads go through go-getter, so mirrors may be plain http(s), S3
// buckets or local archives, and compressed tiles are unpacked
// transparently.
type SRTM30 struct {
	log   *slog.Logger
	cache *cache.Cache
	url   string
}

// Name ...
func (*SRTM30) Name() string { return "srtm30" }

// Resolution ...
func (*SRTM30) Resolution() float64 { return 30 }

// TileName returns the SRTM tile name containing the given whole-degree
// cell, e.g. N45E006 or S34W059.
func TileName(latIdx, lonIdx int) string {
	ns, lat := "N", latIdx
	if latIdx < 0 {
		ns, lat = "S", -latIdx
	}
	ew, lon := "E", lonIdx
	if lonIdx < 0 {
		ew, lon = "W", -lonIdx
	}
	return fmt.Sprintf("%s%02d%s%03d", ns, lat, ew, lon)
}

// Fetch downloads and mosaics all SRTM tiles intersecting bbox into a
// single elevation grid at the native 1-arc-second resolution.
func (p *SRTM30) Fetch(ctx context.Context, bbox geo.BBox) (*Tile, error) {
	if !bbox.Valid() {
		return nil, fmt.Errorf("srtm30: invalid bounds %v", bbox)
	}

	type cell struct{ lat, lon int }
	grids := make(map[cell]*Tile)
	for lat := int(math.Floor(bbox.South)); lat <= int(math.Floor(bbox.North)); lat++ {
		for lon := int(math.Floor(bbox.West)); lon <= int(math.Floor(bbox.East)); lon++ {
			t, err := p.tile(ctx, lat, lon)
			if err != nil {
				return nil, err
			}
			grids[cell{lat, lon}] = t
		}
	}

	// Size the mosaic at native resolution.
	const step = 1.0 / (srtmSamples - 1)
	rows := int(math.Ceil((bbox.North-bbox.South)/step)) + 1
	cols := int(math.Ceil((bbox.East-bbox.West)/step)) + 1
	out := NewTile(bbox, rows, cols)
	for r := 0; r < rows; r++ {
		lat := bbox.North - float64(r)/float64(rows-1)*(bbox.North-bbox.South)
		for c := 0; c < cols; c++ {
			lon := bbox.West + float64(c)/float64(cols-1)*(bbox.East-bbox.West)
			src, ok := grids[cell{int(math.Floor(lat)), int(math.Floor(lon))}]
			if !ok {
				// The northern/eastern edges land exactly on the next cell
				// boundary; the previous tile still covers them.
				src = grids[cell{int(math.Floor(lat - step/2)), int(math.Floor(lon - step/2))}]
			}
			out.Samples[r*cols+c] = src.Sample(geo.Point{Lat: lat, Lon: lon})
		}
	}
	return out, nil
}

// tile returns the parsed elevation grid for a whole-degree cell, consulting
// the cache first.
func (p *SRTM30) tile(ctx context.Context, latIdx, lonIdx int) (*Tile, error) {
	name := TileName(latIdx, lonIdx)
	var (
		raw []byte
		err error
	)
	if p.cache != nil {
		raw, err = p.cache.GetOrFill("srtm30", name, func() ([]byte, error) {
			return p.download(ctx, name)
		})
	} else {
		raw, err = p.download(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	return parseHGT(name, latIdx, lonIdx, raw)
}

// download fetches one raw HGT tile through go-getter.
func (p *SRTM30) download(ctx context.Context, name string) ([]byte, error) {
	src := strings.NewReplacer("{tile}", name, "{lat}", name[:3]).Replace(p.url)
	dst := filepath.Join(os.TempDir(), "maps4go-dtm", name+".hgt")
	if err := os.MkdirAll(filepath.Dir(dst), 0777); err != nil {
		return nil, fmt.Errorf("srtm30: create download dir: %w", err)
	}
	if p.log != nil {
		p.log.Debug("Downloading DTM tile.", "tile", name, "src", src)
	}
	client := &getter.Client{Ctx: ctx, Src: src, Dst: dst, Mode: getter.ClientModeFile}
	if err := client.Get(); err != nil {
		return nil, fmt.Errorf("%w: tile %s: %v", ErrNoCoverage, name, err)
	}
	defer os.Remove(dst)
	raw, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("srtm30: read downloaded tile: %w", err)
	}
	return raw, nil
}

// parseHGT decodes a raw SRTM HGT payload into a Tile and fills voids.
func parseHGT(name string, latIdx, lonIdx int, raw []byte) (*Tile, error) {
	if len(raw) != srtmSamples*srtmSamples*2 {
		return nil, fmt.Errorf("srtm30: tile %s has %d bytes, want %d", name, len(raw), srtmSamples*srtmSamples*2)
	}
	t := NewTile(geo.BBox{
		South: float64(latIdx), West: float64(lonIdx),
		North: float64(latIdx) + 1, East: float64(lonIdx) + 1,
	}, srtmSamples, srtmSamples)
	for i := range t.Samples {
		v := int16(binary.BigEndian.Uint16(raw[2*i:]))
		if v == srtmVoid {
			t.Samples[i] = math.NaN()
			continue
		}
		t.Samples[i] = float64(v)
	}
	fillVoids(t)
	return t, nil
}

// fillVoids replaces NaN samples with the nearest valid value along the row,
// falling back to a column scan and finally to sea level. SRTM voids are
// small (steep slopes, water) so nearest-neighbour filling is adequate.
func fillVoids(t *Tile) {
	for r := 0; r < t.Rows; r++ {
		row := t.Samples[r*t.Cols : (r+1)*t.Cols]
		last := math.NaN()
		for c := 0; c < t.Cols; c++ {
			if !math.IsNaN(row[c]) {
				last = row[c]
				continue
			}
			if !math.IsNaN(last) {
				row[c] = last
			}
		}
		last = math.NaN()
		for c := t.Cols - 1; c >= 0; c-- {
			if !math.IsNaN(row[c]) {
				last = row[c]
				continue
			}
			if !math.IsNaN(last) {
				row[c] = last
			}
		}
	}
	// Rows that were entirely void copy the nearest valid row below, then
	// above, so trailing void rows at either edge still pick up terrain.
	for r := 0; r < t.Rows; r++ {
		if !math.IsNaN(t.Samples[r*t.Cols]) {
			continue
		}
		for rr := r + 1; rr < t.Rows; rr++ {
			if !math.IsNaN(t.Samples[rr*t.Cols]) {
				copy(t.Samples[r*t.Cols:(r+1)*t.Cols], t.Samples[rr*t.Cols:(rr+1)*t.Cols])
				break
			}
		}
		if !math.IsNaN(t.Samples[r*t.Cols]) {
			continue
		}
		for rr := r - 1; rr >= 0; rr-- {
			if !math.IsNaN(t.Samples[rr*t.Cols]) {
				copy(t.Samples[r*t.Cols:(r+1)*t.Cols], t.Samples[rr*t.Cols:(rr+1)*t.Cols])
				break
			}
		}
		if math.IsNaN(t.Samples[r*t.Cols]) {
			for c := 0; c < t.Cols; c++ {
				t.Samples[r*t.Cols+c] = 0
			}
		}
	}
}
