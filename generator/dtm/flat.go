package dtm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/maps4go/maps4go/generator/geo"
)

func init() {
	Register("flat", func(env Env) (Provider, error) {
		elevation := 0.0
		if v := env.Option("elevation", ""); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("flat provider: parse elevation: %w", err)
			}
			elevation = parsed
		}
		return Flat{Elevation: elevation}, nil
	})
}

// Flat is a provider returning a constant elevation everywhere. It backs
// fully flat maps and is the provider of choice in tests.
type Flat struct {
	Elevation float64
}

// Name ...
func (Flat) Name() string { return "flat" }

// Resolution ...
func (Flat) Resolution() float64 { return 30 }

// Fetch returns a minimal constant tile covering the bounding box.
func (f Flat) Fetch(_ context.Context, bbox geo.BBox) (*Tile, error) {
	if !bbox.Valid() {
		return nil, fmt.Errorf("flat provider: invalid bounds %v", bbox)
	}
	t := NewTile(bbox, 2, 2)
	for i := range t.Samples {
		t.Samples[i] = f.Elevation
	}
	return t, nil
}
