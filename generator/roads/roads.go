// Package roads turns OSM highway polylines into the spline and mesh
// geometry of the map: smoothed centrelines in map-local metres, split into
// UV-complete segments, with junction patches where roads meet.
package roads

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/osm"
	"github.com/maps4go/maps4go/generator/texture"
)

// MaxSegmentLength is the longest road piece emitted, in metres. The road
// shader maps V over a single segment, and UV coordinates degrade beyond
// this range, so longer roads are split.
const MaxSegmentLength = 300.0

// Road is one OSM way converted to a map-local centreline.
type Road struct {
	ID      int64
	Texture string
	Width   float64
	// Points is the smoothed centreline in map-local metres.
	Points []mgl64.Vec2
}

// Segment is a piece of road at most MaxSegmentLength long. V holds the
// texture V coordinate per point, spanning [0, 1] over the segment.
type Segment struct {
	RoadID  int64
	Texture string
	Width   float64
	Points  []mgl64.Vec2
	V       []float64
}

// Length returns the arc length of the segment in metres.
func (s Segment) Length() float64 {
	total := 0.0
	for i := 0; i+1 < len(s.Points); i++ {
		total += s.Points[i+1].Sub(s.Points[i]).Len()
	}
	return total
}

// Junction is a patch generated where the endpoint of one road meets the
// interior of another.
type Junction struct {
	// At is the patch centre on the through road.
	At mgl64.Vec2
	// Along is the unit direction of the through road at the patch.
	Along mgl64.Vec2
	// Width is the patch edge length, the wider of the two roads.
	Width float64
}

// Network is the generated road geometry of a map.
type Network struct {
	Roads     []Road
	Segments  []Segment
	Junctions []Junction
}

// Config holds the inputs for building a road network.
type Config struct {
	Log  *slog.Logger
	Grid geo.Grid
	Data *osm.Data
	// Layers are the texture schema entries with road usage; their tags
	// select the ways and their width sizes the geometry.
	Layers []texture.Layer
	// SmoothStep is the spline sampling step in metres. Defaults to 10.
	SmoothStep float64
	// JunctionTolerance is the distance in metres within which a road
	// endpoint counts as touching another road. Defaults to half the
	// through road's width plus one metre.
	JunctionTolerance float64
}

// Build converts all matching OSM ways into the road network.
func (conf Config) Build() (*Network, error) {
	if conf.Data == nil {
		return nil, fmt.Errorf("roads: data is required")
	}
	if conf.SmoothStep <= 0 {
		conf.SmoothStep = 10
	}
	log := conf.Log
	if log == nil {
		log = slog.Default()
	}

	n := &Network{}
	for _, layer := range conf.Layers {
		width := layer.Width
		if width <= 0 {
			width = 4
		}
		for _, f := range conf.Data.Filter(layer.Tags) {
			if f.Kind != osm.KindLine || len(f.Points) < 2 {
				continue
			}
			pts := make([]mgl64.Vec2, len(f.Points))
			for i, p := range f.Points {
				pts[i] = conf.Grid.MetresAt(p)
			}
			smoothed := Smooth(pts, conf.SmoothStep)
			if len(smoothed) < 2 {
				continue
			}
			n.Roads = append(n.Roads, Road{
				ID:      f.ID,
				Texture: layer.Name,
				Width:   width,
				Points:  smoothed,
			})
		}
	}

	for _, r := range n.Roads {
		n.Segments = append(n.Segments, split(r)...)
	}
	n.Junctions = findJunctions(n.Roads, conf.JunctionTolerance)
	log.Info("Built road network.", "roads", len(n.Roads), "segments", len(n.Segments), "junctions", len(n.Junctions))
	return n, nil
}

// Smooth samples a Catmull-Rom spline through the control points at the
// given step. Polylines with fewer than three points are only resampled.
func Smooth(pts []mgl64.Vec2, step float64) []mgl64.Vec2 {
	if len(pts) < 2 {
		return pts
	}
	if len(pts) == 2 {
		return resample(pts, step)
	}

	// Phantom endpoints mirror the first and last control points so the
	// spline passes through them.
	ctrl := make([]mgl64.Vec2, 0, len(pts)+2)
	ctrl = append(ctrl, pts[0].Mul(2).Sub(pts[1]))
	ctrl = append(ctrl, pts...)
	ctrl = append(ctrl, pts[len(pts)-1].Mul(2).Sub(pts[len(pts)-2]))

	var out []mgl64.Vec2
	for i := 0; i+3 < len(ctrl); i++ {
		p0, p1, p2, p3 := ctrl[i], ctrl[i+1], ctrl[i+2], ctrl[i+3]
		span := p2.Sub(p1).Len()
		steps := int(math.Max(1, math.Ceil(span/step)))
		for s := 0; s < steps; s++ {
			out = append(out, catmullRom(p0, p1, p2, p3, float64(s)/float64(steps)))
		}
	}
	return append(out, pts[len(pts)-1])
}

func catmullRom(p0, p1, p2, p3 mgl64.Vec2, t float64) mgl64.Vec2 {
	t2, t3 := t*t, t*t*t
	return p1.Mul(2).
		Add(p2.Sub(p0).Mul(t)).
		Add(p0.Mul(2).Sub(p1.Mul(5)).Add(p2.Mul(4)).Sub(p3).Mul(t2)).
		Add(p1.Mul(3).Sub(p0).Sub(p2.Mul(3)).Add(p3).Mul(t3)).
		Mul(0.5)
}

// resample distributes points along a straight polyline at the given step.
func resample(pts []mgl64.Vec2, step float64) []mgl64.Vec2 {
	out := []mgl64.Vec2{pts[0]}
	for i := 0; i+1 < len(pts); i++ {
		seg := pts[i+1].Sub(pts[i])
		length := seg.Len()
		steps := int(math.Max(1, math.Ceil(length/step)))
		for s := 1; s <= steps; s++ {
			out = append(out, pts[i].Add(seg.Mul(float64(s)/float64(steps))))
		}
	}
	return out
}

// split cuts a road into segments of at most MaxSegmentLength and assigns
// V coordinates spanning [0, 1] per segment by arc length.
func split(r Road) []Segment {
	var (
		segments []Segment
		current  = []mgl64.Vec2{r.Points[0]}
		length   = 0.0
	)
	flush := func() {
		if len(current) < 2 {
			return
		}
		segments = append(segments, finishSegment(r, current))
	}
	for i := 1; i < len(r.Points); i++ {
		p := r.Points[i]
		d := p.Sub(current[len(current)-1]).Len()
		for length+d > MaxSegmentLength {
			// Cut exactly at the limit; the cut point starts the next
			// segment.
			remain := MaxSegmentLength - length
			dir := p.Sub(current[len(current)-1]).Normalize()
			cut := current[len(current)-1].Add(dir.Mul(remain))
			current = append(current, cut)
			flush()
			current = []mgl64.Vec2{cut}
			length = 0
			d = p.Sub(cut).Len()
		}
		current = append(current, p)
		length += d
	}
	flush()
	return segments
}

func finishSegment(r Road, pts []mgl64.Vec2) Segment {
	seg := Segment{
		RoadID:  r.ID,
		Texture: r.Texture,
		Width:   r.Width,
		Points:  append([]mgl64.Vec2(nil), pts...),
		V:       make([]float64, len(pts)),
	}
	total := seg.Length()
	if total == 0 {
		return seg
	}
	acc := 0.0
	for i := 1; i < len(pts); i++ {
		acc += pts[i].Sub(pts[i-1]).Len()
		seg.V[i] = acc / total
	}
	return seg
}

// findJunctions locates T-junctions: an endpoint of one road lying on the
// interior of another. Patches are generated automatically so the junction
// area gets a closed surface.
func findJunctions(roads []Road, tolerance float64) []Junction {
	var out []Junction
	for i, a := range roads {
		for _, end := range [2]mgl64.Vec2{a.Points[0], a.Points[len(a.Points)-1]} {
			for j, b := range roads {
				if i == j {
					continue
				}
				tol := tolerance
				if tol <= 0 {
					tol = b.Width/2 + 1
				}
				at, along, ok := nearestInterior(b, end, tol)
				if !ok {
					continue
				}
				out = append(out, Junction{
					At:    at,
					Along: along,
					Width: math.Max(a.Width, b.Width),
				})
			}
		}
	}
	return out
}

// nearestInterior projects p onto road r and reports the closest interior
// point within tol. Projections near r's own endpoints do not count; two
// roads meeting end-to-end continue each other instead of forming a T.
func nearestInterior(r Road, p mgl64.Vec2, tol float64) (at, along mgl64.Vec2, ok bool) {
	best := tol
	endTol := math.Max(tol, 1)
	start, end := r.Points[0], r.Points[len(r.Points)-1]
	for i := 0; i+1 < len(r.Points); i++ {
		a, b := r.Points[i], r.Points[i+1]
		ab := b.Sub(a)
		length := ab.Len()
		if length == 0 {
			continue
		}
		t := p.Sub(a).Dot(ab) / (length * length)
		t = math.Max(0, math.Min(1, t))
		proj := a.Add(ab.Mul(t))
		d := p.Sub(proj).Len()
		if d >= best {
			continue
		}
		if proj.Sub(start).Len() < endTol || proj.Sub(end).Len() < endTol {
			continue
		}
		best = d
		at = proj
		along = ab.Mul(1 / length)
		ok = true
	}
	return at, along, ok
}
