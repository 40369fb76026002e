package geom

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ClipRegion is a convex volume bounded by planes. A point is inside when it
// lies on the inner side of every plane.
type ClipRegion interface {
	Planes() []Plane
	IntersectsBox(b r3.Box) bool
	ContainsPoint(p r3.Vec) bool
	// Transform maps the region through m.
	Transform(m Matrix4) (ClipRegion, error)
}

// Frustum is an arbitrary plane-bounded convex region.
type Frustum struct {
	planes []Plane
}

// NewFrustum returns a region bounded by planes.
func NewFrustum(planes []Plane) (*Frustum, error) {
	if len(planes) == 0 {
		return nil, errors.New("clip region has no planes")
	}
	return &Frustum{planes: append([]Plane(nil), planes...)}, nil
}

// FrustumFromArrays parses the [[nx,ny,nz,d], ...] wire form.
func FrustumFromArrays(raw [][]float64) (*Frustum, error) {
	planes := make([]Plane, 0, len(raw))
	for i, v := range raw {
		p, err := PlaneFromArray(v)
		if err != nil {
			return nil, fmt.Errorf("plane %d: %w", i, err)
		}
		planes = append(planes, p)
	}
	return NewFrustum(planes)
}

// Planes returns the bounding planes.
func (f *Frustum) Planes() []Plane { return f.planes }

// IntersectsBox reports whether no plane separates b from the region. For
// each plane only the corner furthest along the normal needs checking.
func (f *Frustum) IntersectsBox(b r3.Box) bool {
	return planesIntersectBox(f.planes, b)
}

// ContainsPoint reports whether p is inside every plane.
func (f *Frustum) ContainsPoint(p r3.Vec) bool {
	return planesContainPoint(f.planes, p)
}

// Transform maps every plane through m.
func (f *Frustum) Transform(m Matrix4) (ClipRegion, error) {
	planes, err := transformPlanes(f.planes, m)
	if err != nil {
		return nil, err
	}
	return &Frustum{planes: planes}, nil
}

// MarshalJSON writes the region as its list of planes.
func (f *Frustum) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.planes)
}

// OrientedBox is the unit cube centred on the origin placed in space by a
// transform. Its six faces are kept as planes.
type OrientedBox struct {
	Frustum
	matrix Matrix4
}

// NewOrientedBox returns the box obtained by transforming the unit cube
// [-0.5, 0.5]^3 with m.
func NewOrientedBox(m Matrix4) (*OrientedBox, error) {
	unit := []Plane{
		{Normal: Vec3(1, 0, 0), Constant: 0.5},
		{Normal: Vec3(-1, 0, 0), Constant: 0.5},
		{Normal: Vec3(0, 1, 0), Constant: 0.5},
		{Normal: Vec3(0, -1, 0), Constant: 0.5},
		{Normal: Vec3(0, 0, 1), Constant: 0.5},
		{Normal: Vec3(0, 0, -1), Constant: 0.5},
	}
	planes, err := transformPlanes(unit, m)
	if err != nil {
		return nil, err
	}
	return &OrientedBox{Frustum: Frustum{planes: planes}, matrix: m}, nil
}

// BoxRegion returns an oriented box equal to the axis-aligned box b.
func BoxRegion(b r3.Box) (*OrientedBox, error) {
	return NewOrientedBox(Translation(b.Center()).Multiply(Scaling(b.Size())))
}

// Matrix returns the transform that places the unit cube.
func (o *OrientedBox) Matrix() Matrix4 { return o.matrix }

// Transform composes m with the box transform.
func (o *OrientedBox) Transform(m Matrix4) (ClipRegion, error) {
	return NewOrientedBox(m.Multiply(o.matrix))
}

// AnyIntersectsBox reports whether b intersects at least one region.
func AnyIntersectsBox(regions []ClipRegion, b r3.Box) bool {
	for _, r := range regions {
		if r.IntersectsBox(b) {
			return true
		}
	}
	return false
}

// AnyContainsPoint reports whether p lies inside at least one region.
func AnyContainsPoint(regions []ClipRegion, p r3.Vec) bool {
	for _, r := range regions {
		if r.ContainsPoint(p) {
			return true
		}
	}
	return false
}

// TransformRegions maps every region through m.
func TransformRegions(regions []ClipRegion, m Matrix4) ([]ClipRegion, error) {
	out := make([]ClipRegion, 0, len(regions))
	for i, r := range regions {
		t, err := r.Transform(m)
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func planesIntersectBox(planes []Plane, b r3.Box) bool {
	for _, p := range planes {
		var far r3.Vec
		if p.Normal.X > 0 {
			far.X = b.Max.X
		} else {
			far.X = b.Min.X
		}
		if p.Normal.Y > 0 {
			far.Y = b.Max.Y
		} else {
			far.Y = b.Min.Y
		}
		if p.Normal.Z > 0 {
			far.Z = b.Max.Z
		} else {
			far.Z = b.Min.Z
		}
		if p.Distance(far) < 0 {
			return false
		}
	}
	return true
}

func planesContainPoint(planes []Plane, v r3.Vec) bool {
	for _, p := range planes {
		if p.Distance(v) < 0 {
			return false
		}
	}
	return true
}

func transformPlanes(planes []Plane, m Matrix4) ([]Plane, error) {
	out := make([]Plane, len(planes))
	for i, p := range planes {
		t, err := p.Transform(m)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
