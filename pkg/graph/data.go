package graph

import (
	"fmt"
	"math"
)

// Vec3 is a 3D vector in millimetres (or degrees for rotations).
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Scale returns v scaled by f.
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{v.X * f, v.Y * f, v.Z * f}
}

// Min returns the smallest component.
func (v Vec3) Min() float64 {
	return min(v.X, v.Y, v.Z)
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// Vec2 is a point of a 2D profile.
type Vec2 struct {
	X, Y float64
}

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

// BoxData is an axis-aligned box centred on the origin.
type BoxData struct {
	Size  Vec3    `json:"size"`
	Round float64 `json:"round,omitempty"` // edge rounding radius
}

func (BoxData) nodeData() {}

// CylinderData is a Z-axis cylinder centred on the origin.
type CylinderData struct {
	Height float64 `json:"height"`
	Radius float64 `json:"radius"`
	Round  float64 `json:"round,omitempty"`
}

func (CylinderData) nodeData() {}

// SphereData is a sphere centred on the origin.
type SphereData struct {
	Radius float64 `json:"radius"`
}

func (SphereData) nodeData() {}

// ProfileKind distinguishes 2D extrusion profiles.
type ProfileKind int

const (
	ProfileRect ProfileKind = iota
	ProfileCircle
	ProfilePolygon
)

func (k ProfileKind) String() string {
	switch k {
	case ProfileRect:
		return "rect"
	case ProfileCircle:
		return "circle"
	case ProfilePolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// Profile is a closed 2D outline.
type Profile struct {
	Kind   ProfileKind `json:"kind"`
	Width  float64     `json:"width,omitempty"`
	Height float64     `json:"height,omitempty"`
	Radius float64     `json:"radius,omitempty"`
	Points []Vec2      `json:"points,omitempty"`
}

// Area returns the enclosed area; for polygons the absolute shoelace sum.
func (p Profile) Area() float64 {
	switch p.Kind {
	case ProfileRect:
		return p.Width * p.Height
	case ProfileCircle:
		return math.Pi * p.Radius * p.Radius
	case ProfilePolygon:
		var sum float64
		for i := range p.Points {
			a, b := p.Points[i], p.Points[(i+1)%len(p.Points)]
			sum += a.X*b.Y - b.X*a.Y
		}
		return math.Abs(sum) / 2
	}
	return 0
}

// ExtrudeData sweeps a profile along Z, centred on the origin.
type ExtrudeData struct {
	Profile Profile `json:"profile"`
	Height  float64 `json:"height"`
}

func (ExtrudeData) nodeData() {}

// ---------------------------------------------------------------------------
// Transform
// ---------------------------------------------------------------------------

// TransformData is a spatial transformation applied to the single child.
// Exactly one field is set per node; nesting expresses composition.
type TransformData struct {
	Translation *Vec3 `json:"translation,omitempty"`
	Rotation    *Vec3 `json:"rotation,omitempty"` // Euler angles in degrees
	Scale       *Vec3 `json:"scale,omitempty"`
}

func (TransformData) nodeData() {}

// ---------------------------------------------------------------------------
// Boolean
// ---------------------------------------------------------------------------

// BoolOp enumerates CSG operations.
type BoolOp int

const (
	OpUnion BoolOp = iota
	OpSubtract
	OpIntersect
)

func (op BoolOp) String() string {
	switch op {
	case OpUnion:
		return "union"
	case OpSubtract:
		return "subtract"
	case OpIntersect:
		return "intersect"
	default:
		return "unknown"
	}
}

// ParseBoolOp maps an operation name to a BoolOp.
func ParseBoolOp(s string) (BoolOp, error) {
	switch s {
	case "union":
		return OpUnion, nil
	case "subtract", "difference":
		return OpSubtract, nil
	case "intersect", "intersection":
		return OpIntersect, nil
	}
	return 0, fmt.Errorf("unknown boolean operation %q", s)
}

// BooleanData combines the children in order. Subtract removes every later
// child from the first.
type BooleanData struct {
	Op BoolOp `json:"op"`
}

func (BooleanData) nodeData() {}

// ---------------------------------------------------------------------------
// Group
// ---------------------------------------------------------------------------

// GroupData collects several result solids. The engine wraps a list result in
// a group root.
type GroupData struct{}

func (GroupData) nodeData() {}
