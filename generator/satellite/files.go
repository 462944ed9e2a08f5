package satellite

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
)

// overviewEdge is the longest edge of the overview JPEG.
const overviewEdge = 2048

// WriteFiles writes the stitched image as satellite.png plus a downscaled
// overview.jpg into dir.
func WriteFiles(dir string, img *image.RGBA) error {
	if err := writePNG(filepath.Join(dir, "satellite.png"), img); err != nil {
		return err
	}
	return writeJPEG(filepath.Join(dir, "overview.jpg"), downscale(img, overviewEdge))
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("satellite: create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("satellite: encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("satellite: create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("satellite: encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// downscale shrinks the image so its longest edge is at most edge pixels,
// averaging the source pixels of each output pixel.
func downscale(img *image.RGBA, edge int) *image.RGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	step := 1
	for max(w, h)/step > edge {
		step *= 2
	}
	if step == 1 {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, w/step, h/step))
	for y := 0; y < h/step; y++ {
		for x := 0; x < w/step; x++ {
			var sum [4]int
			for dy := 0; dy < step; dy++ {
				for dx := 0; dx < step; dx++ {
					c := at(img, x*step+dx, y*step+dy)
					for i := range c {
						sum[i] += int(c[i])
					}
				}
			}
			i := out.PixOffset(x, y)
			for k := range sum {
				out.Pix[i+k] = uint8(sum[k] / (step * step))
			}
		}
	}
	return out
}
