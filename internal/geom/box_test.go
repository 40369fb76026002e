package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestChildBoxPartition(t *testing.T) {
	parents := []r3.Box{
		r3.NewBox(0, 0, 0, 10, 10, 10),
		r3.NewBox(-3, 2, 5, 7, 2.5, 100),
		r3.NewBox(1e6, 2e6, 10, 1e6+64, 2e6+32, 26),
	}

	for _, parent := range parents {
		var total float64
		children := make([]r3.Box, 8)
		for i := 0; i < 8; i++ {
			children[i] = ChildBox(parent, i)
			total += Volume(children[i])
			assert.InDelta(t, Volume(parent)/8, Volume(children[i]), 1e-9*Volume(parent))
			assert.True(t, parent.Contains(children[i].Min))
			assert.True(t, parent.Contains(children[i].Max))
		}
		assert.InDelta(t, Volume(parent), total, 1e-9*Volume(parent))

		// Children only touch on faces, so interiors never overlap.
		for i := 0; i < 8; i++ {
			for j := i + 1; j < 8; j++ {
				assert.Zero(t, overlapVolume(children[i], children[j]), "children %d and %d overlap", i, j)
			}
		}
	}
}

func TestChildBoxOctantBits(t *testing.T) {
	parent := r3.NewBox(0, 0, 0, 10, 10, 10)

	tests := []struct {
		index int
		want  r3.Box
	}{
		{0, r3.NewBox(0, 0, 0, 5, 5, 5)},
		{1, r3.NewBox(0, 0, 5, 5, 5, 10)},
		{2, r3.NewBox(0, 5, 0, 5, 10, 5)},
		{4, r3.NewBox(5, 0, 0, 10, 5, 5)},
		{7, r3.NewBox(5, 5, 5, 10, 10, 10)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChildBox(parent, tt.index), "index %d", tt.index)
	}
}

func TestTransformBox(t *testing.T) {
	b := r3.NewBox(0, 0, 0, 1, 2, 3)
	got := TransformBox(b, Translation(Vec3(1, 1, 1)))
	assert.Equal(t, r3.NewBox(1, 1, 1, 2, 3, 4), got)
}

func overlapVolume(a, b r3.Box) float64 {
	dx := math.Min(a.Max.X, b.Max.X) - math.Max(a.Min.X, b.Min.X)
	dy := math.Min(a.Max.Y, b.Max.Y) - math.Max(a.Min.Y, b.Min.Y)
	dz := math.Min(a.Max.Z, b.Max.Z) - math.Max(a.Min.Z, b.Min.Z)
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return 0
	}
	return dx * dy * dz
}
