// Package dtm implements the pluggable digital terrain model framework. A
// Provider resolves bare-earth elevation (in metres) for a geographic
// bounding box; implementations cover remote tile archives as well as local
// user-supplied rasters.
package dtm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/maps4go/maps4go/generator/cache"
	"github.com/maps4go/maps4go/generator/geo"
)

var (
	// ErrUnknownProvider is returned by ByName for unregistered names.
	ErrUnknownProvider = errors.New("dtm: unknown provider")
	// ErrNoCoverage is returned when a provider has no data for the
	// requested area.
	ErrNoCoverage = errors.New("dtm: no coverage for requested area")
)

// Provider supplies bare-earth elevation data for arbitrary bounding boxes.
type Provider interface {
	// Name is the stable identifier used in configuration files.
	Name() string
	// Resolution returns the approximate ground resolution in metres per
	// sample, used to size intermediate grids.
	Resolution() float64
	// Fetch returns an elevation tile covering at least the given bounding
	// box. Implementations must honour ctx cancellation while downloading.
	Fetch(ctx context.Context, bbox geo.BBox) (*Tile, error)
}

// Env carries the shared infrastructure a provider factory may use. Cache
// may be nil, in which case providers download on every fetch.
type Env struct {
	Log   *slog.Logger
	Cache *cache.Cache
	// Options are free-form provider settings from the user configuration,
	// for example "url" for tile mirrors or "file" for local rasters.
	Options map[string]string
}

// Option returns a provider option or a fallback.
func (e Env) Option(key, fallback string) string {
	if v, ok := e.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Factory constructs a provider from the shared environment.
type Factory func(env Env) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a provider factory available under a name. Registering the
// same name twice panics, like a duplicate registration in any other
// registry.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, ok := factories[name]; ok {
		panic("dtm: provider " + name + " registered twice")
	}
	factories[name] = f
}

// New constructs the provider registered under name.
func New(name string, env Env) (Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return f(env)
}

// Providers returns the names of all registered providers, sorted.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tile is an elevation grid in metres covering a bounding box. Samples are
// row-major with row 0 at the northern edge, matching raster conventions.
type Tile struct {
	Bounds  geo.BBox
	Rows    int
	Cols    int
	Samples []float64
}

// NewTile allocates a zeroed tile.
func NewTile(bounds geo.BBox, rows, cols int) *Tile {
	return &Tile{Bounds: bounds, Rows: rows, Cols: cols, Samples: make([]float64, rows*cols)}
}

// At returns the sample at the given row and column, clamped to the grid so
// edge interpolation never reads out of range.
func (t *Tile) At(row, col int) float64 {
	if row < 0 {
		row = 0
	} else if row >= t.Rows {
		row = t.Rows - 1
	}
	if col < 0 {
		col = 0
	} else if col >= t.Cols {
		col = t.Cols - 1
	}
	return t.Samples[row*t.Cols+col]
}

// Sample returns the bilinearly interpolated elevation at a geographic
// point. Points outside the tile clamp to the nearest edge.
func (t *Tile) Sample(p geo.Point) float64 {
	fx := (p.Lon - t.Bounds.West) / (t.Bounds.East - t.Bounds.West) * float64(t.Cols-1)
	fy := (t.Bounds.North - p.Lat) / (t.Bounds.North - t.Bounds.South) * float64(t.Rows-1)
	fx = math.Max(0, math.Min(fx, float64(t.Cols-1)))
	fy = math.Max(0, math.Min(fy, float64(t.Rows-1)))

	x0, y0 := int(fx), int(fy)
	dx, dy := fx-float64(x0), fy-float64(y0)

	top := t.At(y0, x0)*(1-dx) + t.At(y0, x0+1)*dx
	bottom := t.At(y0+1, x0)*(1-dx) + t.At(y0+1, x0+1)*dx
	return top*(1-dy) + bottom*dy
}

// MinMax returns the lowest and highest sample of the tile.
func (t *Tile) MinMax() (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, v := range t.Samples {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	return min, max
}
