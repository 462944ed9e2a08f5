package raster

import (
	"math"
	"sort"
)

// FillPolygon rasterizes a polygon given as one or more rings in pixel
// coordinates, calling set for every covered pixel. Multiple rings are
// combined with the even-odd rule, so inner rings cut holes. Pixels outside
// [0,width)x[0,height) are clipped.
func FillPolygon(width, height int, rings [][][2]float64, set func(x, y int)) {
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, ring := range rings {
		for _, p := range ring {
			minY = math.Min(minY, p[1])
			maxY = math.Max(maxY, p[1])
		}
	}
	if math.IsInf(minY, 1) {
		return
	}
	y0 := int(math.Max(0, math.Floor(minY)))
	y1 := int(math.Min(float64(height-1), math.Ceil(maxY)))

	var xs []float64
	for y := y0; y <= y1; y++ {
		cy := float64(y) + 0.5
		xs = xs[:0]
		for _, ring := range rings {
			n := len(ring)
			if n < 3 {
				continue
			}
			for i := 0; i < n; i++ {
				a, b := ring[i], ring[(i+1)%n]
				if (a[1] <= cy) == (b[1] <= cy) {
					continue
				}
				t := (cy - a[1]) / (b[1] - a[1])
				xs = append(xs, a[0]+t*(b[0]-a[0]))
			}
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			x0 := int(math.Max(0, math.Ceil(xs[i]-0.5)))
			x1 := int(math.Min(float64(width-1), math.Floor(xs[i+1]-0.5)))
			for x := x0; x <= x1; x++ {
				set(x, y)
			}
		}
	}
}

// StrokeLine rasterizes a polyline with the given stroke width in pixels,
// calling set for every covered pixel. Each segment is stamped as a disc
// swept along its length, which keeps joints round without corner maths.
func StrokeLine(width, height int, pts [][2]float64, strokeWidth float64, set func(x, y int)) {
	if len(pts) == 0 {
		return
	}
	r := math.Max(strokeWidth/2, 0.5)
	if len(pts) == 1 {
		stampDisc(width, height, pts[0][0], pts[0][1], r, set)
		return
	}
	for i := 0; i+1 < len(pts); i++ {
		a, b := pts[i], pts[i+1]
		dx, dy := b[0]-a[0], b[1]-a[1]
		length := math.Hypot(dx, dy)
		steps := int(math.Ceil(length/(r/2))) + 1
		for s := 0; s <= steps; s++ {
			t := float64(s) / float64(steps)
			stampDisc(width, height, a[0]+t*dx, a[1]+t*dy, r, set)
		}
	}
}

func stampDisc(width, height int, cx, cy, r float64, set func(x, y int)) {
	x0 := int(math.Max(0, math.Floor(cx-r)))
	x1 := int(math.Min(float64(width-1), math.Ceil(cx+r)))
	y0 := int(math.Max(0, math.Floor(cy-r)))
	y1 := int(math.Min(float64(height-1), math.Ceil(cy+r)))
	rr := r * r
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			dx := float64(x) + 0.5 - cx
			dy := float64(y) + 0.5 - cy
			if dx*dx+dy*dy <= rr {
				set(x, y)
			}
		}
	}
}

// BoxBlur16 applies a separable box blur of the given radius to a 16-bit
// raster in place. Radius 0 is a no-op.
func BoxBlur16(values []uint16, width, height, radius int) {
	if radius <= 0 {
		return
	}
	tmp := make([]uint32, len(values))
	window := uint32(2*radius + 1)

	// Horizontal pass.
	for y := 0; y < height; y++ {
		row := values[y*width : (y+1)*width]
		var sum uint32
		for x := -radius; x <= radius; x++ {
			sum += uint32(row[clampInt(x, width)])
		}
		for x := 0; x < width; x++ {
			tmp[y*width+x] = sum / window
			sum -= uint32(row[clampInt(x-radius, width)])
			sum += uint32(row[clampInt(x+radius+1, width)])
		}
	}
	// Vertical pass.
	for x := 0; x < width; x++ {
		var sum uint32
		for y := -radius; y <= radius; y++ {
			sum += tmp[clampInt(y, height)*width+x]
		}
		for y := 0; y < height; y++ {
			values[y*width+x] = uint16(sum / window)
			sum -= tmp[clampInt(y-radius, height)*width+x]
			sum += tmp[clampInt(y+radius+1, height)*width+x]
		}
	}
}

func clampInt(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
