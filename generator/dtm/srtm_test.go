package dtm

import (
	"math"
	"testing"

	"github.com/maps4go/maps4go/generator/geo"
)

func TestFillVoids(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	bounds := geo.BBox{South: 0, West: 0, North: 1, East: 1}

	t.Run("row interior", func(t *testing.T) {
		t.Parallel()
		tile := NewTile(bounds, 1, 5)
		tile.Samples = []float64{10, nan, nan, 40, nan}
		fillVoids(tile)
		want := []float64{10, 10, 10, 40, 40}
		for i, v := range want {
			if tile.Samples[i] != v {
				t.Errorf("sample %d = %v, want %v", i, tile.Samples[i], v)
			}
		}
	})

	t.Run("void rows at both edges", func(t *testing.T) {
		t.Parallel()
		tile := NewTile(bounds, 4, 2)
		tile.Samples = []float64{
			nan, nan,
			30, 40,
			nan, nan,
			nan, nan,
		}
		fillVoids(tile)
		// Every void row copies the single valid one, including the
		// trailing rows below it.
		want := []float64{30, 40, 30, 40, 30, 40, 30, 40}
		for i, v := range want {
			if tile.Samples[i] != v {
				t.Errorf("sample %d = %v, want %v", i, tile.Samples[i], v)
			}
		}
	})

	t.Run("all void", func(t *testing.T) {
		t.Parallel()
		tile := NewTile(bounds, 2, 2)
		tile.Samples = []float64{nan, nan, nan, nan}
		fillVoids(tile)
		for i, v := range tile.Samples {
			if v != 0 {
				t.Errorf("sample %d = %v, want 0", i, v)
			}
		}
	})
}
