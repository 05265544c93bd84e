package xform

import "math"

// Quat is a quaternion W + Xi + Yj + Zk. Rotations use unit quaternions.
type Quat struct {
	W, X, Y, Z float64
}

// QuatIdentity returns the rotation that does nothing.
func QuatIdentity() Quat { return Quat{W: 1} }

// FromAxisAngle returns the rotation of angle radians about axis. A zero axis
// yields the identity.
func FromAxisAngle(axis Vec3, angle float64) Quat {
	l := axis.Len()
	if l == 0 {
		return QuatIdentity()
	}
	s := math.Sin(angle/2) / l
	return Quat{W: math.Cos(angle / 2), X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s}
}

// FromEuler builds a rotation from XYZ Euler angles in radians: about X
// first, then Y, then Z, all in the fixed world frame.
func FromEuler(x, y, z float64) Quat {
	qx := FromAxisAngle(Vec3{1, 0, 0}, x)
	qy := FromAxisAngle(Vec3{0, 1, 0}, y)
	qz := FromAxisAngle(Vec3{0, 0, 1}, z)
	return qz.Mul(qy).Mul(qx)
}

// Mul returns the Hamilton product q·r, the rotation r followed by q.
func (q Quat) Mul(r Quat) Quat {
	return Quat{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

func (q Quat) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q scaled to unit length. The zero quaternion becomes the
// identity.
func (q Quat) Normalize() Quat {
	n := q.Norm()
	if n == 0 || math.IsNaN(n) {
		return QuatIdentity()
	}
	return Quat{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Angle returns the rotation angle in [0, π].
func (q Quat) Angle() float64 {
	q = q.Normalize()
	v := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	return 2 * math.Atan2(v, math.Abs(q.W))
}

// AxisAngle returns a unit axis and an angle in radians. The identity
// returns the Z axis and angle 0.
func (q Quat) AxisAngle() (Vec3, float64) {
	q = q.Normalize()
	if q.W < 0 {
		q = Quat{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
	}
	v := Vec3{q.X, q.Y, q.Z}
	s := v.Len()
	if s < 1e-12 {
		return Vec3{0, 0, 1}, 0
	}
	return v.Scale(1 / s), 2 * math.Atan2(s, q.W)
}
