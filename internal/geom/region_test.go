package geom

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestBoxRegionContainment(t *testing.T) {
	region, err := BoxRegion(r3.NewBox(2, 2, 2, 4, 4, 4))
	require.NoError(t, err)

	assert.True(t, region.ContainsPoint(Vec3(3, 3, 3)))
	assert.True(t, region.ContainsPoint(Vec3(2, 2, 2)))
	assert.True(t, region.ContainsPoint(Vec3(4, 4, 4)))
	assert.False(t, region.ContainsPoint(Vec3(1.99, 3, 3)))
	assert.False(t, region.ContainsPoint(Vec3(3, 4.01, 3)))
	assert.False(t, region.ContainsPoint(Vec3(3, 3, 5)))

	assert.True(t, region.IntersectsBox(r3.NewBox(0, 0, 0, 5, 5, 5)))
	assert.True(t, region.IntersectsBox(r3.NewBox(3.5, 3.5, 3.5, 10, 10, 10)))
	assert.False(t, region.IntersectsBox(r3.NewBox(5, 5, 5, 10, 10, 10)))
	assert.False(t, region.IntersectsBox(r3.NewBox(0, 0, 0, 1, 1, 1)))
}

func TestFrustumFromArrays(t *testing.T) {
	// x >= 1 and x <= 3
	f, err := FrustumFromArrays([][]float64{{1, 0, 0, -1}, {-2, 0, 0, 6}})
	require.NoError(t, err)

	assert.Len(t, f.Planes(), 2)
	assert.InDelta(t, 3.0, f.Planes()[1].Constant, 1e-12)
	assert.True(t, f.ContainsPoint(Vec3(2, 100, -100)))
	assert.False(t, f.ContainsPoint(Vec3(0.5, 0, 0)))

	_, err = FrustumFromArrays([][]float64{{1, 0, 0}})
	assert.Error(t, err)
	_, err = FrustumFromArrays([][]float64{{0, 0, 0, 1}})
	assert.Error(t, err)
	_, err = FrustumFromArrays(nil)
	assert.Error(t, err)
}

func TestPlaneTransformKeepsIncidence(t *testing.T) {
	p, err := NewPlane(Vec3(1, 1, 0), -2)
	require.NoError(t, err)

	m := Translation(Vec3(5, -1, 2)).Multiply(rotationZ(0.3)).Multiply(Scaling(Vec3(2, 1, 3)))
	moved, err := p.Transform(m)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, r3.Norm(moved.Normal), 1e-12)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		v := Vec3(rng.Float64()*20-10, rng.Float64()*20-10, rng.Float64()*20-10)
		before := p.Distance(v)
		after := moved.Distance(m.ApplyToPoint(v))
		if math.Abs(before) > 1e-6 {
			assert.Equal(t, before > 0, after > 0, "side of plane changed for %v", v)
		}
	}
}

func TestRegionWorldToLocal(t *testing.T) {
	// The cloud sits at +100 in world space; a world region around x=103
	// must land around x=3 locally.
	cloudToWorld := Translation(Vec3(100, 0, 0))
	worldRegion, err := BoxRegion(r3.NewBox(102, 2, 2, 104, 4, 4))
	require.NoError(t, err)

	inv, err := cloudToWorld.Invert()
	require.NoError(t, err)
	local, err := TransformRegions([]ClipRegion{worldRegion}, inv)
	require.NoError(t, err)

	assert.True(t, AnyContainsPoint(local, Vec3(3, 3, 3)))
	assert.False(t, AnyContainsPoint(local, Vec3(103, 3, 3)))
	assert.True(t, AnyIntersectsBox(local, r3.NewBox(0, 0, 0, 5, 5, 5)))
}

func TestOrientedBoxSingular(t *testing.T) {
	_, err := BoxRegion(r3.Box{Min: Vec3(1, 1, 1), Max: Vec3(1, 2, 2)})
	assert.ErrorIs(t, err, ErrSingularTransform)
}

func TestAnyRegionIsLogicalOr(t *testing.T) {
	a, err := BoxRegion(r3.NewBox(0, 0, 0, 1, 1, 1))
	require.NoError(t, err)
	b, err := BoxRegion(r3.NewBox(5, 5, 5, 6, 6, 6))
	require.NoError(t, err)
	regions := []ClipRegion{a, b}

	assert.True(t, AnyContainsPoint(regions, Vec3(0.5, 0.5, 0.5)))
	assert.True(t, AnyContainsPoint(regions, Vec3(5.5, 5.5, 5.5)))
	assert.False(t, AnyContainsPoint(regions, Vec3(3, 3, 3)))
	assert.False(t, AnyIntersectsBox(regions, r3.NewBox(2, 2, 2, 4, 4, 4)))
	assert.False(t, AnyContainsPoint(nil, Vec3(0, 0, 0)))
}

// A box that the region rejects can never hold a point the region accepts.
func TestContainmentMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		region := randomRegion(t, rng)
		box := randomBox(rng)
		if region.IntersectsBox(box) {
			continue
		}
		size := box.Size()
		for i := 0; i < 100; i++ {
			p := Vec3(
				box.Min.X+rng.Float64()*size.X,
				box.Min.Y+rng.Float64()*size.Y,
				box.Min.Z+rng.Float64()*size.Z,
			)
			if region.ContainsPoint(p) {
				t.Fatalf("trial %d: point %v inside region but box %v rejected", trial, p, box)
			}
		}
	}
}

func TestPlaneMarshalJSON(t *testing.T) {
	f, err := FrustumFromArrays([][]float64{{0, 0, 1, -2}})
	require.NoError(t, err)

	got, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"normal":[0,0,1],"distance":-2}]`, string(got))
}

func randomRegion(t *testing.T, rng *rand.Rand) ClipRegion {
	t.Helper()
	if rng.Intn(2) == 0 {
		m := Translation(Vec3(rng.Float64()*20-10, rng.Float64()*20-10, rng.Float64()*20-10)).
			Multiply(rotationZ(rng.Float64() * math.Pi)).
			Multiply(Scaling(Vec3(1+rng.Float64()*5, 1+rng.Float64()*5, 1+rng.Float64()*5)))
		r, err := NewOrientedBox(m)
		require.NoError(t, err)
		return r
	}
	raw := make([][]float64, 3+rng.Intn(4))
	for i := range raw {
		raw[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.Float64() * 5}
	}
	f, err := FrustumFromArrays(raw)
	require.NoError(t, err)
	return f
}

func randomBox(rng *rand.Rand) r3.Box {
	x, y, z := rng.Float64()*40-20, rng.Float64()*40-20, rng.Float64()*40-20
	return r3.NewBox(x, y, z, x+0.1+rng.Float64()*6, y+0.1+rng.Float64()*6, z+0.1+rng.Float64()*6)
}
