// Package raster holds small raster helpers shared between the DEM builder
// and the DTM file provider.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
)

// EncodeGray16 encodes a 16-bit grayscale image to PNG. The values slice is
// row-major, length w*h.
func EncodeGray16(w io.Writer, width, height int, values []uint16) error {
	if len(values) != width*height {
		return fmt.Errorf("encode gray16: %d values for %dx%d raster", len(values), width, height)
	}
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for i, v := range values {
		// PNG stores 16-bit samples big-endian; Gray16 does likewise.
		img.Pix[2*i] = byte(v >> 8)
		img.Pix[2*i+1] = byte(v)
	}
	return png.Encode(w, img)
}

// DecodeGray16 decodes a 16-bit grayscale PNG. It fails when the image is
// not Gray16, since silently widening 8-bit input would produce terraced
// terrain.
func DecodeGray16(r io.Reader) (width, height int, values []uint16, err error) {
	img, err := png.Decode(r)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decode gray16: %w", err)
	}
	g, ok := img.(*image.Gray16)
	if !ok {
		return 0, 0, nil, fmt.Errorf("decode gray16: image is %T, want 16-bit grayscale", img)
	}
	b := g.Bounds()
	width, height = b.Dx(), b.Dy()
	values = make([]uint16, width*height)
	for y := 0; y < height; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < width; x++ {
			values[y*width+x] = uint16(row[2*x])<<8 | uint16(row[2*x+1])
		}
	}
	return width, height, values, nil
}

// EncodeGray16Bytes is EncodeGray16 into a byte slice.
func EncodeGray16Bytes(width, height int, values []uint16) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeGray16(&buf, width, height, values); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
