// Package geom holds the geometry used to cull octree nodes and test points
// against clip regions. Vectors and boxes are gonum r3 values; everything in
// here is a pure function of its inputs and safe for concurrent use.
package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is shorthand for constructing an r3.Vec.
func Vec3(x, y, z float64) r3.Vec {
	return r3.Vec{X: x, Y: y, Z: z}
}

// VecToArray returns the components of v in x, y, z order.
func VecToArray(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// nearlyZero reports whether v is within eps of zero.
func nearlyZero(v, eps float64) bool {
	return math.Abs(v) < eps
}
