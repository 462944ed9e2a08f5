// Package grle reads and writes GRLE info layers, the run-length encoded
// single-channel rasters the game engine uses for density and info maps.
package grle

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// magic identifies a GRLE payload.
var magic = [4]byte{'G', 'R', 'L', 'E'}

// version is the encoding version written by this package.
const version = 1

// ErrFormat is wrapped by all decode failures caused by malformed input.
var ErrFormat = errors.New("grle: malformed payload")

// header is the fixed-size prefix of a GRLE payload. Values after it are
// (count, value) varint pairs in row-major order.
type header struct {
	Magic   [4]byte
	Version uint16
	Bits    uint8
	_       uint8
	Width   uint32
	Height  uint32
}

// Encode writes a width x height raster as a GRLE payload. Runs never cross
// row boundaries so rows stay independently addressable by the engine.
func Encode(w io.Writer, width, height int, values []uint16) error {
	if len(values) != width*height {
		return fmt.Errorf("grle: %d values for %dx%d raster", len(values), width, height)
	}
	bw := bufio.NewWriter(w)
	h := header{Magic: magic, Version: version, Bits: 16, Width: uint32(width), Height: uint32(height)}
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("grle: write header: %w", err)
	}
	var buf [binary.MaxVarintLen64]byte
	for y := 0; y < height; y++ {
		row := values[y*width : (y+1)*width]
		for x := 0; x < width; {
			run := 1
			for x+run < width && row[x+run] == row[x] {
				run++
			}
			n := binary.PutUvarint(buf[:], uint64(run))
			n += binary.PutUvarint(buf[n:], uint64(row[x]))
			if _, err := bw.Write(buf[:n]); err != nil {
				return fmt.Errorf("grle: write run: %w", err)
			}
			x += run
		}
	}
	return bw.Flush()
}

// Decode reads a GRLE payload.
func Decode(r io.Reader) (width, height int, values []uint16, err error) {
	br := bufio.NewReader(r)
	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	if h.Magic != magic {
		return 0, 0, nil, fmt.Errorf("%w: bad magic %q", ErrFormat, h.Magic)
	}
	if h.Version != version {
		return 0, 0, nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, h.Version)
	}
	if h.Bits != 16 {
		return 0, 0, nil, fmt.Errorf("%w: unsupported bit depth %d", ErrFormat, h.Bits)
	}
	width, height = int(h.Width), int(h.Height)
	if width <= 0 || height <= 0 || width*height > 1<<30 {
		return 0, 0, nil, fmt.Errorf("%w: implausible size %dx%d", ErrFormat, width, height)
	}
	values = make([]uint16, width*height)
	for y := 0; y < height; y++ {
		row := values[y*width : (y+1)*width]
		for x := 0; x < width; {
			run, err := binary.ReadUvarint(br)
			if err != nil {
				return 0, 0, nil, fmt.Errorf("%w: run length: %v", ErrFormat, err)
			}
			value, err := binary.ReadUvarint(br)
			if err != nil {
				return 0, 0, nil, fmt.Errorf("%w: run value: %v", ErrFormat, err)
			}
			if run == 0 || int(run) > width-x || value > 0xffff {
				return 0, 0, nil, fmt.Errorf("%w: run %d/value %d at row %d", ErrFormat, run, value, y)
			}
			for i := 0; i < int(run); i++ {
				row[x+i] = uint16(value)
			}
			x += int(run)
		}
	}
	return width, height, values, nil
}
