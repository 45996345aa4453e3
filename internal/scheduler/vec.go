package scheduler

import "math"

// Vec3 is a world-space position or direction.
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// SqrLen returns the squared length. The classifier never takes square roots.
func (v Vec3) SqrLen() float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Len returns the Euclidean length.
func (v Vec3) Len() float64 {
	return math.Sqrt(v.SqrLen())
}

// SqrDist returns the squared distance between two points.
func SqrDist(a, b Vec3) float64 {
	return a.Sub(b).SqrLen()
}

// Quat is a rotation quaternion. The zero value is treated as identity by
// consumers.
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat returns the identity rotation.
func IdentityQuat() Quat {
	return Quat{W: 1}
}

// YawQuat returns a rotation of angle radians around the Y axis.
func YawQuat(angle float64) Quat {
	s, c := math.Sincos(angle / 2)
	return Quat{Y: s, W: c}
}
