// Package xform holds the rigid-plus-scale transform carried by every scene
// object and the rules for composing edits into it.
//
// A Transform maps object-local coordinates to world coordinates as
// T·R·S: scale first, then rotate, then translate. Rotation is stored as a
// unit quaternion so repeated small rotations do not accumulate gimbal or
// matrix drift.
package xform

import (
	"fmt"
	"math"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/kernel"
)

// Vec3 is a 3D vector.
type Vec3 struct {
	X, Y, Z float64
}

// V returns a Vec3.
func V(x, y, z float64) Vec3 { return Vec3{x, y, z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Mul multiplies componentwise.
func (v Vec3) Mul(o Vec3) Vec3 { return Vec3{v.X * o.X, v.Y * o.Y, v.Z * o.Z} }

func (v Vec3) Scale(f float64) Vec3 { return Vec3{v.X * f, v.Y * f, v.Z * f} }
func (v Vec3) Dot(o Vec3) float64   { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Len() float64         { return math.Sqrt(v.Dot(v)) }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{v.Y*o.Z - v.Z*o.Y, v.Z*o.X - v.X*o.Z, v.X*o.Y - v.Y*o.X}
}

// Array returns the components as an array, the form the kernel takes.
func (v Vec3) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func (v Vec3) finite() bool {
	return !math.IsNaN(v.X+v.Y+v.Z) && !math.IsInf(v.X+v.Y+v.Z, 0)
}

func (v Vec3) String() string { return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z) }

// Transform is a cumulative object transform.
type Transform struct {
	Translation Vec3 `json:"translation" msgpack:"translation"`
	Rotation    Quat `json:"rotation" msgpack:"rotation"`
	Scale       Vec3 `json:"scale" msgpack:"scale"`
}

// Identity returns the transform that leaves geometry unchanged.
func Identity() Transform {
	return Transform{Rotation: QuatIdentity(), Scale: Vec3{1, 1, 1}}
}

// IsIdentity reports whether t is the identity within eps.
func (t Transform) IsIdentity(eps float64) bool {
	return t.Translation.Len() <= eps &&
		t.Rotation.Angle() <= eps &&
		t.Scale.Sub(Vec3{1, 1, 1}).Len() <= eps
}

// Delta is one edit to a Transform. Nil fields are left alone.
type Delta struct {
	Translate *Vec3 `json:"translate,omitempty"`
	// Rotate is XYZ Euler angles in radians, applied in world space.
	Rotate *Vec3 `json:"rotate,omitempty"`
	// Scale multiplies the current scale componentwise.
	Scale *Vec3 `json:"scale,omitempty"`
}

// IsZero reports whether d changes nothing.
func (d Delta) IsZero() bool {
	return d.Translate == nil && d.Rotate == nil && d.Scale == nil
}

// Compose applies d to t. Translation adds; rotation pre-multiplies the
// normalized delta quaternion and renormalizes; scale multiplies
// componentwise. Every resulting scale component must be finite and strictly
// positive, otherwise the edit fails with DegenerateTransform and t is
// returned unchanged.
func (t Transform) Compose(d Delta) (Transform, error) {
	out := t
	if d.Translate != nil {
		if !d.Translate.finite() {
			return t, caderr.New(caderr.DegenerateTransform, "translation %s is not finite", *d.Translate)
		}
		out.Translation = out.Translation.Add(*d.Translate)
	}
	if d.Rotate != nil {
		if !d.Rotate.finite() {
			return t, caderr.New(caderr.DegenerateTransform, "rotation %s is not finite", *d.Rotate)
		}
		q := FromEuler(d.Rotate.X, d.Rotate.Y, d.Rotate.Z)
		out.Rotation = q.Mul(out.Rotation).Normalize()
	}
	if d.Scale != nil {
		out.Scale = out.Scale.Mul(*d.Scale)
	}
	if err := validScale(out.Scale); err != nil {
		return t, err
	}
	return out, nil
}

func validScale(s Vec3) error {
	for i, c := range s.Array() {
		if math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
			return caderr.New(caderr.DegenerateTransform,
				"scale component %c is %g, must be finite and positive", "XYZ"[i], c)
		}
	}
	return nil
}

// Validate checks a transform loaded from storage or built by hand.
func (t Transform) Validate() error {
	if !t.Translation.finite() {
		return caderr.New(caderr.DegenerateTransform, "translation %s is not finite", t.Translation)
	}
	if n := t.Rotation.Norm(); math.IsNaN(n) || math.Abs(n-1) > 1e-6 {
		return caderr.New(caderr.DegenerateTransform, "rotation is not a unit quaternion (norm %g)", n)
	}
	return validScale(t.Scale)
}

// Placement converts t to the kernel's single-pass placement.
func (t Transform) Placement() kernel.Placement {
	axis, angle := t.Rotation.AxisAngle()
	return kernel.Placement{
		Scale:     t.Scale.Array(),
		Axis:      axis.Array(),
		Angle:     angle,
		Translate: t.Translation.Array(),
	}
}
