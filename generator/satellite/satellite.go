// Package satellite downloads and stitches web-mercator imagery tiles into
// a single north-up-or-rotated image covering the map square, used as the
// background terrain texture and as a previewing overview.
package satellite

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	getter "github.com/hashicorp/go-getter"
	"golang.org/x/sync/errgroup"

	"github.com/maps4go/maps4go/generator/cache"
	"github.com/maps4go/maps4go/generator/geo"
)

// DefaultTileURL is the XYZ tile template used when the configuration does
// not name one.
const DefaultTileURL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"

// tileSize is the edge length of one XYZ tile in pixels.
const tileSize = 256

// earthCircumference is the equatorial circumference of the web-mercator
// sphere, in metres.
const earthCircumference = 2 * math.Pi * 6378137

// maxZoom bounds automatic zoom selection; most public tile servers stop
// at 19.
const maxZoom = 18

// Config holds the options for building the satellite image.
type Config struct {
	Log   *slog.Logger
	Cache *cache.Cache
	// Grid defines the output image: one output pixel per grid pixel,
	// rotation included. Pass a margin-sized grid to texture the
	// background terrain.
	Grid geo.Grid
	// URL is the XYZ tile template with {z}, {x} and {y} tokens.
	URL string
	// Zoom selects the tile zoom level. Zero picks the lowest zoom whose
	// ground resolution at the map centre is at least the grid's.
	Zoom int
	// Workers bounds concurrent tile downloads. Zero selects 8.
	Workers int
}

// Build downloads all tiles covering the grid, stitches them and resamples
// the mosaic onto the grid, applying the map rotation. The returned image
// has the grid's pixel dimensions.
func (conf Config) Build(ctx context.Context) (*image.RGBA, error) {
	if conf.URL == "" {
		conf.URL = DefaultTileURL
	}
	if conf.Workers <= 0 {
		conf.Workers = 8
	}
	log := conf.Log
	if log == nil {
		log = slog.Default()
	}

	size := conf.Grid.Size()
	centre := conf.Grid.PointAt(size/2, size/2)
	zoom := conf.Zoom
	if zoom <= 0 {
		zoom = zoomFor(centre.Lat, conf.Grid.PixelSize())
	}

	// Tile range covering all four rotated corners.
	n := 1 << zoom
	x0, y0 := n, n
	x1, y1 := 0, 0
	for _, c := range [][2]int{{0, 0}, {size - 1, 0}, {0, size - 1}, {size - 1, size - 1}} {
		p := conf.Grid.PointAt(c[0], c[1])
		tx := int(mercX(p.Lon) * float64(n))
		ty := int(mercY(p.Lat) * float64(n))
		x0, y0 = min(x0, tx), min(y0, ty)
		x1, y1 = max(x1, tx), max(y1, ty)
	}
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, n-1), min(y1, n-1)

	cols, rows := x1-x0+1, y1-y0+1
	log.Debug("Downloading satellite tiles.", "zoom", zoom, "tiles", cols*rows)
	mosaic := image.NewRGBA(image.Rect(0, 0, cols*tileSize, rows*tileSize))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(conf.Workers)
	for ty := y0; ty <= y1; ty++ {
		for tx := x0; tx <= x1; tx++ {
			tx, ty := tx, ty
			g.Go(func() error {
				img, err := conf.tile(ctx, zoom, tx, ty)
				if err != nil {
					return err
				}
				// Tiles never overlap, so concurrent draws are safe.
				r := image.Rect((tx-x0)*tileSize, (ty-y0)*tileSize, (tx-x0+1)*tileSize, (ty-y0+1)*tileSize)
				draw.Draw(mosaic, r, img, img.Bounds().Min, draw.Src)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Resample the mosaic onto the rotated grid.
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	scale := float64(n) * tileSize
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			p := conf.Grid.PointAt(x, y)
			sx := mercX(p.Lon)*scale - float64(x0*tileSize)
			sy := mercY(p.Lat)*scale - float64(y0*tileSize)
			out.SetRGBA(x, y, bilinear(mosaic, sx, sy))
		}
	}
	return out, nil
}

// tile returns one decoded XYZ tile, consulting the cache first.
func (conf Config) tile(ctx context.Context, z, x, y int) (image.Image, error) {
	name := fmt.Sprintf("%s|%d/%d/%d", conf.URL, z, x, y)
	var (
		raw []byte
		err error
	)
	if conf.Cache != nil {
		raw, err = conf.Cache.GetOrFill("satellite", name, func() ([]byte, error) {
			return conf.download(ctx, z, x, y)
		})
	} else {
		raw, err = conf.download(ctx, z, x, y)
	}
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("satellite: decode tile %d/%d/%d: %w", z, x, y, err)
	}
	return img, nil
}

// download fetches one raw tile through go-getter.
func (conf Config) download(ctx context.Context, z, x, y int) ([]byte, error) {
	src := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(conf.URL)
	dir, err := os.MkdirTemp("", "maps4go-satellite-")
	if err != nil {
		return nil, fmt.Errorf("satellite: create download dir: %w", err)
	}
	defer os.RemoveAll(dir)
	dst := filepath.Join(dir, fmt.Sprintf("%d-%d-%d.img", z, x, y))
	client := &getter.Client{Ctx: ctx, Src: src, Dst: dst, Mode: getter.ClientModeFile}
	if err := client.Get(); err != nil {
		return nil, fmt.Errorf("satellite: download tile %d/%d/%d: %w", z, x, y, err)
	}
	raw, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("satellite: read downloaded tile: %w", err)
	}
	return raw, nil
}

// zoomFor returns the lowest zoom whose ground resolution at the given
// latitude is at least wanted metres per pixel.
func zoomFor(lat, wanted float64) int {
	if wanted <= 0 {
		return maxZoom
	}
	ground := earthCircumference * math.Cos(lat*math.Pi/180) / tileSize
	z := int(math.Ceil(math.Log2(ground / wanted)))
	if z < 0 {
		z = 0
	}
	if z > maxZoom {
		z = maxZoom
	}
	return z
}

// mercX maps longitude onto [0, 1) in web-mercator space.
func mercX(lon float64) float64 {
	return (lon + 180) / 360
}

// mercY maps latitude onto [0, 1) in web-mercator space, 0 at the northern
// edge of the projection.
func mercY(lat float64) float64 {
	rad := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2
}

// bilinear samples the image at a fractional position, clamping to the
// edges.
func bilinear(img *image.RGBA, x, y float64) color.RGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	x0 := clampInt(int(math.Floor(x)), w-1)
	y0 := clampInt(int(math.Floor(y)), h-1)
	x1 := clampInt(x0+1, w-1)
	y1 := clampInt(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)
	fx, fy = math.Max(0, math.Min(1, fx)), math.Max(0, math.Min(1, fy))

	blend := func(a, b [4]uint8, t float64) [4]uint8 {
		var out [4]uint8
		for i := range a {
			out[i] = uint8(float64(a[i])*(1-t) + float64(b[i])*t + 0.5)
		}
		return out
	}
	top := blend(at(img, x0, y0), at(img, x1, y0), fx)
	bottom := blend(at(img, x0, y1), at(img, x1, y1), fx)
	c := blend(top, bottom, fy)
	return color.RGBA{R: c[0], G: c[1], B: c[2], A: c[3]}
}

func at(img *image.RGBA, x, y int) [4]uint8 {
	i := img.PixOffset(x, y)
	return [4]uint8{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
}

func clampInt(v, upper int) int {
	if v < 0 {
		return 0
	}
	if v > upper {
		return upper
	}
	return v
}
