package geom

import "gonum.org/v1/gonum/spatial/r3"

// ChildBox returns the octant of b selected by index. Bit 0 picks the upper
// z half, bit 1 the upper y half and bit 2 the upper x half.
func ChildBox(b r3.Box, index int) r3.Box {
	min, max := b.Min, b.Max
	half := r3.Scale(0.5, b.Size())

	if index&0b001 != 0 {
		min.Z += half.Z
	} else {
		max.Z -= half.Z
	}
	if index&0b010 != 0 {
		min.Y += half.Y
	} else {
		max.Y -= half.Y
	}
	if index&0b100 != 0 {
		min.X += half.X
	} else {
		max.X -= half.X
	}
	return r3.Box{Min: min, Max: max}
}

// Volume returns the volume of b.
func Volume(b r3.Box) float64 {
	s := b.Size()
	return s.X * s.Y * s.Z
}

// TransformBox returns the axis-aligned bounds of b's eight corners after
// applying m.
func TransformBox(b r3.Box, m Matrix4) r3.Box {
	vs := b.Vertices()
	first := m.ApplyToPoint(vs[0])
	out := r3.Box{Min: first, Max: first}
	for _, v := range vs[1:] {
		p := m.ApplyToPoint(v)
		out = out.Union(r3.Box{Min: p, Max: p})
	}
	return out
}
