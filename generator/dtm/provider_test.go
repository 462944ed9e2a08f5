package dtm_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/maps4go/maps4go/generator/dtm"
	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/internal/raster"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	names := dtm.Providers()
	for _, want := range []string{"flat", "srtm30", "file"} {
		found := false
		for _, name := range names {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Errorf("provider %q not registered, have %v", want, names)
		}
	}
	if _, err := dtm.New("no-such-provider", dtm.Env{}); !errors.Is(err, dtm.ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestFlatProvider(t *testing.T) {
	t.Parallel()

	p, err := dtm.New("flat", dtm.Env{Options: map[string]string{"elevation": "120.5"}})
	if err != nil {
		t.Fatalf("new flat: %v", err)
	}
	tile, err := p.Fetch(context.Background(), geo.BBox{South: 45, West: 6, North: 45.1, East: 6.1})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v := tile.Sample(geo.Point{Lat: 45.05, Lon: 6.05}); v != 120.5 {
		t.Errorf("sample = %v, want 120.5", v)
	}
}

func TestTileName(t *testing.T) {
	t.Parallel()

	cases := map[[2]int]string{
		{45, 6}:     "N45E006",
		{-34, -59}:  "S34W059",
		{0, 0}:      "N00E000",
		{-1, 151}:   "S01E151",
		{60, -150}:  "N60W150",
		{8, -80}:    "N08W080",
	}
	for in, want := range cases {
		if got := dtm.TileName(in[0], in[1]); got != want {
			t.Errorf("TileName(%d, %d) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestTileBilinearSample(t *testing.T) {
	t.Parallel()

	tile := dtm.NewTile(geo.BBox{South: 0, West: 0, North: 1, East: 1}, 2, 2)
	// Row 0 is the northern edge.
	tile.Samples = []float64{100, 200, 0, 0}
	if v := tile.Sample(geo.Point{Lat: 1, Lon: 0}); v != 100 {
		t.Errorf("north-west corner = %v, want 100", v)
	}
	if v := tile.Sample(geo.Point{Lat: 1, Lon: 1}); v != 200 {
		t.Errorf("north-east corner = %v, want 200", v)
	}
	if v := tile.Sample(geo.Point{Lat: 1, Lon: 0.5}); v != 150 {
		t.Errorf("north midpoint = %v, want 150", v)
	}
	if v := tile.Sample(geo.Point{Lat: 0.5, Lon: 0}); v != 50 {
		t.Errorf("west midpoint = %v, want 50", v)
	}
	// Clamped outside the bounds.
	if v := tile.Sample(geo.Point{Lat: 2, Lon: -1}); v != 100 {
		t.Errorf("clamped sample = %v, want 100", v)
	}
}

func TestFileProvider(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "dem.png")
	values := []uint16{0, 65535, 32768, 0}
	payload, err := raster.EncodeGray16Bytes(2, 2, values)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, payload, 0666); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := dtm.New("file", dtm.Env{Options: map[string]string{
		"file": path, "min_height": "0", "max_height": "100",
	}})
	if err != nil {
		t.Fatalf("new file provider: %v", err)
	}
	tile, err := p.Fetch(context.Background(), geo.BBox{South: 0, West: 0, North: 1, East: 1})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v := tile.Sample(geo.Point{Lat: 1, Lon: 1}); math.Abs(v-100) > 1e-9 {
		t.Errorf("full-range value = %v, want 100", v)
	}
	if v := tile.Sample(geo.Point{Lat: 1, Lon: 0}); v != 0 {
		t.Errorf("zero value = %v, want 0", v)
	}
}

func TestFileProviderRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := dtm.New("file", dtm.Env{}); err == nil {
		t.Fatal("expected error for missing file option")
	}
}
