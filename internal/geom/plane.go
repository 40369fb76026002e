package geom

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Plane is a half-space boundary. Distance is positive on the inside.
type Plane struct {
	Normal   r3.Vec
	Constant float64
}

// NewPlane builds a plane from a normal and signed distance. The normal is
// normalised and the constant scaled to match.
func NewPlane(normal r3.Vec, distance float64) (Plane, error) {
	n := r3.Norm(normal)
	if nearlyZero(n, 1e-15) {
		return Plane{}, errors.New("plane normal has zero length")
	}
	return Plane{Normal: r3.Scale(1/n, normal), Constant: distance / n}, nil
}

// PlaneFromArray parses the [nx, ny, nz, d] wire form.
func PlaneFromArray(v []float64) (Plane, error) {
	if len(v) != 4 {
		return Plane{}, fmt.Errorf("plane needs 4 values, got %d", len(v))
	}
	return NewPlane(Vec3(v[0], v[1], v[2]), v[3])
}

// Distance returns the signed distance from p to the plane.
func (p Plane) Distance(v r3.Vec) float64 {
	return r3.Dot(p.Normal, v) + p.Constant
}

// CoplanarPoint returns the point on the plane closest to the origin.
func (p Plane) CoplanarPoint() r3.Vec {
	return r3.Scale(-p.Constant, p.Normal)
}

// Transform maps the plane through m. The normal goes through the
// inverse-transpose of m so that non-uniform scales keep it perpendicular.
func (p Plane) Transform(m Matrix4) (Plane, error) {
	inv, err := m.Invert()
	if err != nil {
		return Plane{}, err
	}
	normalMatrix := inv.Transpose()
	ref := m.ApplyToPoint(p.CoplanarPoint())
	n := normalMatrix.ApplyToDirection(p.Normal)
	l := r3.Norm(n)
	if nearlyZero(l, 1e-15) {
		return Plane{}, fmt.Errorf("%w: plane normal collapsed", ErrSingularTransform)
	}
	n = r3.Scale(1/l, n)
	return Plane{Normal: n, Constant: -r3.Dot(ref, n)}, nil
}

// MarshalJSON writes the report form {"normal": [x,y,z], "distance": d}.
func (p Plane) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Normal   [3]float64 `json:"normal"`
		Distance float64    `json:"distance"`
	}{VecToArray(p.Normal), p.Constant})
}
