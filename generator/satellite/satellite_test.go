package satellite

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/maps4go/maps4go/generator/geo"
)

var centre = geo.Point{Lat: 45.28, Lon: 20.23}

// tileServer serves the same solid-colour PNG for every tile and counts
// requests.
func tileServer(t *testing.T, c color.RGBA, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode tile: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildStitchesTiles(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := tileServer(t, color.RGBA{R: 30, G: 120, B: 60, A: 255}, &hits)

	img, err := Config{
		Grid: geo.NewGrid(centre, 1024, 64, 25),
		URL:  srv.URL + "/{z}/{x}/{y}.png",
		Zoom: 12,
	}.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if img.Rect.Dx() != 64 || img.Rect.Dy() != 64 {
		t.Fatalf("image is %v, want 64x64", img.Rect)
	}
	if hits.Load() == 0 {
		t.Fatal("no tiles downloaded")
	}
	c := img.RGBAAt(32, 32)
	if c.R != 30 || c.G != 120 || c.B != 60 {
		t.Errorf("centre pixel %v, want the tile colour", c)
	}
}

func TestBuildFailsOnMissingTiles(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	_, err := Config{
		Grid: geo.NewGrid(centre, 1024, 64, 0),
		URL:  srv.URL + "/{z}/{x}/{y}.png",
		Zoom: 12,
	}.Build(context.Background())
	if err == nil {
		t.Fatal("expected error for missing tiles")
	}
}

func TestZoomFor(t *testing.T) {
	t.Parallel()

	for _, c := range []struct {
		lat, wanted float64
		want        int
	}{
		{0, 160000, 0},
		{0, 10, 14},
		{60, 10, 13},
		{45, 0.01, maxZoom},
	} {
		if got := zoomFor(c.lat, c.wanted); got != c.want {
			t.Errorf("zoomFor(%v, %v) = %d, want %d", c.lat, c.wanted, got, c.want)
		}
	}
}

func TestMercYOrientation(t *testing.T) {
	t.Parallel()

	if mercY(60) >= mercY(-60) {
		t.Error("northern latitudes must map to smaller y")
	}
	if y := mercY(0); y < 0.499 || y > 0.501 {
		t.Errorf("equator maps to %v, want 0.5", y)
	}
}

func TestWriteFiles(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 4096, 4096))
	dir := t.TempDir()
	if err := WriteFiles(dir, img); err != nil {
		t.Fatalf("write files: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "satellite.png"))
	if err != nil {
		t.Fatalf("open satellite.png: %v", err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode satellite.png: %v", err)
	}
	if decoded.Bounds().Dx() != 4096 {
		t.Errorf("satellite.png width %d, want 4096", decoded.Bounds().Dx())
	}

	cfg, err := decodeConfig(filepath.Join(dir, "overview.jpg"))
	if err != nil {
		t.Fatalf("decode overview.jpg: %v", err)
	}
	if cfg.Width > overviewEdge {
		t.Errorf("overview width %d exceeds %d", cfg.Width, overviewEdge)
	}
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}
