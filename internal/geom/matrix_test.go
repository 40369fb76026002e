package geom

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestMatrix4InvertMatchesGonum(t *testing.T) {
	tests := []struct {
		name string
		m    Matrix4
	}{
		{"identity", Identity()},
		{"translation", Translation(Vec3(10, -4, 2.5))},
		{"scale", Scaling(Vec3(2, 0.5, 4))},
		{"rotate_z_then_translate", Translation(Vec3(1, 2, 3)).Multiply(rotationZ(0.7))},
		{"general", Matrix4{
			2, 0.1, 0, 0,
			0.3, 1.5, -0.2, 0,
			0, 0.4, 3, 0,
			5, -6, 7, 1,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.m.Invert()
			if err != nil {
				t.Fatalf("Invert() error = %v", err)
			}

			var want mat.Dense
			if err := want.Inverse(dense(tt.m)); err != nil {
				t.Fatalf("gonum inverse: %v", err)
			}
			for r := 0; r < 4; r++ {
				for c := 0; c < 4; c++ {
					if math.Abs(got.At(r, c)-want.At(r, c)) > 1e-9 {
						t.Errorf("inverse(%d,%d) = %v, want %v", r, c, got.At(r, c), want.At(r, c))
					}
				}
			}

			round := tt.m.Multiply(got)
			for i := range round {
				if math.Abs(round[i]-Identity()[i]) > 1e-9 {
					t.Fatalf("m * inverse(m) = %v, want identity", round)
				}
			}
		})
	}
}

func TestMatrix4InvertSingular(t *testing.T) {
	singular := []Matrix4{
		{},
		Scaling(Vec3(1, 0, 1)),
		{
			1, 2, 3, 0,
			2, 4, 6, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
		},
	}
	for i, m := range singular {
		if _, err := m.Invert(); !errors.Is(err, ErrSingularTransform) {
			t.Errorf("case %d: Invert() error = %v, want ErrSingularTransform", i, err)
		}
	}
}

func TestMatrix4ApplyToPoint(t *testing.T) {
	m := Translation(Vec3(1, 2, 3)).Multiply(Scaling(Vec3(2, 2, 2)))
	got := m.ApplyToPoint(Vec3(1, 1, 1))
	want := Vec3(3, 4, 5)
	if got != want {
		t.Errorf("ApplyToPoint() = %v, want %v", got, want)
	}

	dir := m.ApplyToDirection(Vec3(1, 0, 0))
	if dir != Vec3(2, 0, 0) {
		t.Errorf("ApplyToDirection() = %v, want (2,0,0)", dir)
	}
}

func TestMatrixFromSlice(t *testing.T) {
	if _, err := MatrixFromSlice([]float64{1, 2, 3}); err == nil {
		t.Error("expected error for short slice")
	}
	id := Identity()
	m, err := MatrixFromSlice(id[:])
	if err != nil {
		t.Fatalf("MatrixFromSlice() error = %v", err)
	}
	if !m.IsIdentity() {
		t.Errorf("MatrixFromSlice(identity) = %v", m)
	}
}

func TestMatrix4Determinant(t *testing.T) {
	m := Scaling(Vec3(2, 3, 4))
	if got := m.Determinant(); math.Abs(got-24) > 1e-12 {
		t.Errorf("Determinant() = %v, want 24", got)
	}
}

func rotationZ(theta float64) Matrix4 {
	c, s := math.Cos(theta), math.Sin(theta)
	m := Identity()
	m[0], m[1] = c, s
	m[4], m[5] = -s, c
	return m
}

// dense returns m as a row-major gonum matrix for cross-checking.
func dense(m Matrix4) *mat.Dense {
	d := mat.NewDense(4, 4, nil)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			d.Set(r, c, m.At(r, c))
		}
	}
	return d
}
