// Package kernel defines the abstract geometry kernel interface.
// Implementations provide solid modeling and boolean operations behind this
// interface. The kernel abstraction allows swapping backends without changing
// the rest of the system.
package kernel

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// ProfileKind distinguishes 2D extrusion profiles.
type ProfileKind int

const (
	ProfileRect ProfileKind = iota
	ProfileCircle
	ProfilePolygon
)

// Profile is a closed 2D outline in the XY plane, centred on the origin for
// rect and circle.
type Profile struct {
	Kind   ProfileKind
	Width  float64      // rect
	Height float64      // rect
	Radius float64      // circle
	Points [][2]float64 // polygon, counter-clockwise
}

// Placement is a scale, then an axis-angle rotation, then a translation,
// applied to object-local coordinates as one affine map.
type Placement struct {
	Scale     [3]float64
	Axis      [3]float64 // unit rotation axis; ignored when Angle is 0
	Angle     float64    // radians
	Translate [3]float64
}

// Kernel is the abstract geometry kernel interface.
// Primitive constructors validate their arguments and return an error for
// geometry the backend cannot represent.
type Kernel interface {
	// Primitives, centred on the origin.
	Box(x, y, z, round float64) (Solid, error)
	Cylinder(height, radius, round float64) (Solid, error)
	Sphere(radius float64) (Solid, error)
	Extrude(p Profile, height float64) (Solid, error)

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Transforms
	Translate(s Solid, x, y, z float64) Solid
	Rotate(s Solid, x, y, z float64) Solid // Euler angles in degrees
	Scale(s Solid, x, y, z float64) Solid
	Place(s Solid, p Placement) Solid

	// Mesh output
	ToMesh(s Solid) (*Mesh, error)
}
