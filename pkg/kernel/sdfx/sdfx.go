// Package sdfx implements the kernel.Kernel interface using the
// github.com/deadsy/sdfx SDF-based CAD library.
package sdfx

import (
	"fmt"
	"math"

	"github.com/chazu/partsmith/pkg/kernel"
	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Compile-time interface check.
var _ kernel.Kernel = (*SdfxKernel)(nil)

// DefaultMeshCells controls marching cubes tessellation resolution along the
// longest bounding box axis.
const DefaultMeshCells = 200

// sdfxSolid wraps an sdf.SDF3 to implement kernel.Solid.
type sdfxSolid struct {
	s sdf.SDF3
}

// BoundingBox returns the axis-aligned bounding box.
func (s *sdfxSolid) BoundingBox() (min, max [3]float64) {
	bb := s.s.BoundingBox()
	min = [3]float64{bb.Min.X, bb.Min.Y, bb.Min.Z}
	max = [3]float64{bb.Max.X, bb.Max.Y, bb.Max.Z}
	return min, max
}

// SdfxKernel implements kernel.Kernel using sdfx.
type SdfxKernel struct {
	meshCells int
}

// Option configures an SdfxKernel.
type Option func(*SdfxKernel)

// WithMeshCells sets the marching cubes resolution.
func WithMeshCells(n int) Option {
	return func(k *SdfxKernel) {
		if n > 0 {
			k.meshCells = n
		}
	}
}

// New returns a new SdfxKernel.
func New(opts ...Option) *SdfxKernel {
	k := &SdfxKernel{meshCells: DefaultMeshCells}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// MeshCells returns the configured marching cubes resolution.
func (k *SdfxKernel) MeshCells() int { return k.meshCells }

// unwrap extracts the underlying sdf.SDF3 from a kernel.Solid.
func unwrap(s kernel.Solid) sdf.SDF3 {
	return s.(*sdfxSolid).s
}

// wrap creates a kernel.Solid from an sdf.SDF3.
func wrap(s sdf.SDF3) kernel.Solid {
	return &sdfxSolid{s: s}
}

// Box creates a box with the given dimensions centred on the origin. round
// rounds the edges and must not exceed half the smallest dimension.
func (k *SdfxKernel) Box(x, y, z, round float64) (kernel.Solid, error) {
	if x <= 0 || y <= 0 || z <= 0 {
		return nil, fmt.Errorf("box size must be positive, got %gx%gx%g", x, y, z)
	}
	if round < 0 || round > math.Min(x, math.Min(y, z))/2 {
		return nil, fmt.Errorf("box round radius %g out of range for %gx%gx%g", round, x, y, z)
	}
	s, err := sdf.Box3D(v3.Vec{X: x, Y: y, Z: z}, round)
	if err != nil {
		return nil, fmt.Errorf("sdfx.Box3D: %w", err)
	}
	return wrap(s), nil
}

// Cylinder creates a cylinder along the Z axis centred on the origin.
func (k *SdfxKernel) Cylinder(height, radius, round float64) (kernel.Solid, error) {
	if height <= 0 || radius <= 0 {
		return nil, fmt.Errorf("cylinder height and radius must be positive, got h=%g r=%g", height, radius)
	}
	if round < 0 || round > math.Min(radius, height/2) {
		return nil, fmt.Errorf("cylinder round radius %g out of range", round)
	}
	s, err := sdf.Cylinder3D(height, radius, round)
	if err != nil {
		return nil, fmt.Errorf("sdfx.Cylinder3D: %w", err)
	}
	return wrap(s), nil
}

// Sphere creates a sphere centred on the origin.
func (k *SdfxKernel) Sphere(radius float64) (kernel.Solid, error) {
	if radius <= 0 {
		return nil, fmt.Errorf("sphere radius must be positive, got %g", radius)
	}
	s, err := sdf.Sphere3D(radius)
	if err != nil {
		return nil, fmt.Errorf("sdfx.Sphere3D: %w", err)
	}
	return wrap(s), nil
}

// Extrude sweeps a 2D profile along Z. The result spans -height/2..height/2.
func (k *SdfxKernel) Extrude(p kernel.Profile, height float64) (kernel.Solid, error) {
	if height <= 0 {
		return nil, fmt.Errorf("extrude height must be positive, got %g", height)
	}
	var s2 sdf.SDF2
	switch p.Kind {
	case kernel.ProfileRect:
		if p.Width <= 0 || p.Height <= 0 {
			return nil, fmt.Errorf("rect profile must be positive, got %gx%g", p.Width, p.Height)
		}
		s2 = sdf.Box2D(v2.Vec{X: p.Width, Y: p.Height}, 0)
	case kernel.ProfileCircle:
		c, err := sdf.Circle2D(p.Radius)
		if err != nil {
			return nil, fmt.Errorf("sdfx.Circle2D: %w", err)
		}
		s2 = c
	case kernel.ProfilePolygon:
		if len(p.Points) < 3 {
			return nil, fmt.Errorf("polygon profile needs at least 3 points, got %d", len(p.Points))
		}
		verts := make([]v2.Vec, len(p.Points))
		for i, pt := range p.Points {
			verts[i] = v2.Vec{X: pt[0], Y: pt[1]}
		}
		poly, err := sdf.Polygon2D(verts)
		if err != nil {
			return nil, fmt.Errorf("sdfx.Polygon2D: %w", err)
		}
		s2 = poly
	default:
		return nil, fmt.Errorf("unknown profile kind %d", p.Kind)
	}
	return wrap(sdf.Extrude3D(s2, height)), nil
}

// Union returns the union of two solids.
func (k *SdfxKernel) Union(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Union3D(unwrap(a), unwrap(b)))
}

// Difference returns the difference a - b.
func (k *SdfxKernel) Difference(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Difference3D(unwrap(a), unwrap(b)))
}

// Intersection returns the intersection of two solids.
func (k *SdfxKernel) Intersection(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Intersect3D(unwrap(a), unwrap(b)))
}

// Translate moves a solid by (x, y, z).
func (k *SdfxKernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	m := sdf.Translate3d(v3.Vec{X: x, Y: y, Z: z})
	return wrap(sdf.Transform3D(unwrap(s), m))
}

// Rotate rotates a solid by Euler angles (degrees) around X, Y, Z axes.
func (k *SdfxKernel) Rotate(s kernel.Solid, x, y, z float64) kernel.Solid {
	xRad := x * math.Pi / 180.0
	yRad := y * math.Pi / 180.0
	zRad := z * math.Pi / 180.0

	m := sdf.RotateZ(zRad).Mul(sdf.RotateY(yRad)).Mul(sdf.RotateX(xRad))
	return wrap(sdf.Transform3D(unwrap(s), m))
}

// Scale scales a solid about the origin.
func (k *SdfxKernel) Scale(s kernel.Solid, x, y, z float64) kernel.Solid {
	m := sdf.Scale3d(v3.Vec{X: x, Y: y, Z: z})
	return wrap(sdf.Transform3D(unwrap(s), m))
}

// Place applies scale, rotation and translation as a single matrix so that
// repeated placements of the same base solid never nest transforms.
func (k *SdfxKernel) Place(s kernel.Solid, p kernel.Placement) kernel.Solid {
	m := sdf.Translate3d(v3.Vec{X: p.Translate[0], Y: p.Translate[1], Z: p.Translate[2]})
	if p.Angle != 0 {
		axis := v3.Vec{X: p.Axis[0], Y: p.Axis[1], Z: p.Axis[2]}
		m = m.Mul(sdf.Rotate3d(axis, p.Angle))
	}
	m = m.Mul(sdf.Scale3d(v3.Vec{X: p.Scale[0], Y: p.Scale[1], Z: p.Scale[2]}))
	return wrap(sdf.Transform3D(unwrap(s), m))
}

// ToMesh converts a solid to a triangle mesh using marching cubes.
// Solids with a degenerate bounding box (for example the intersection of
// disjoint shapes) produce an empty mesh.
func (k *SdfxKernel) ToMesh(s kernel.Solid) (mesh *kernel.Mesh, err error) {
	sdf3 := unwrap(s)

	bb := sdf3.BoundingBox()
	size := bb.Size()
	if !(size.X > 0 && size.Y > 0 && size.Z > 0) {
		return &kernel.Mesh{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			mesh, err = nil, fmt.Errorf("sdfx: marching cubes failed: %v", r)
		}
	}()

	renderer := render.NewMarchingCubesUniform(k.meshCells)
	triangles := render.ToTriangles(sdf3, renderer)

	numTri := len(triangles)
	numVerts := numTri * 3

	vertices := make([]float32, 0, numVerts*3)
	normals := make([]float32, 0, numVerts*3)
	indices := make([]uint32, 0, numVerts)

	for i, tri := range triangles {
		// Compute face normal.
		n := tri.Normal()
		nx := float32(n.X)
		ny := float32(n.Y)
		nz := float32(n.Z)

		for j := 0; j < 3; j++ {
			v := tri[j]
			vertices = append(vertices, float32(v.X), float32(v.Y), float32(v.Z))
			normals = append(normals, nx, ny, nz)
			indices = append(indices, uint32(i*3+j))
		}
	}

	return &kernel.Mesh{
		Vertices: vertices,
		Normals:  normals,
		Indices:  indices,
	}, nil
}

// WriteSTL renders a solid with marching cubes and writes it as binary STL.
func (k *SdfxKernel) WriteSTL(s kernel.Solid, path string) (err error) {
	sdf3 := unwrap(s)
	size := sdf3.BoundingBox().Size()
	if !(size.X > 0 && size.Y > 0 && size.Z > 0) {
		return fmt.Errorf("sdfx: cannot export empty solid")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sdfx: marching cubes failed: %v", r)
		}
	}()
	triangles := render.ToTriangles(sdf3, render.NewMarchingCubesUniform(k.meshCells))
	if err := render.SaveSTL(path, triangles); err != nil {
		return fmt.Errorf("sdfx: writing %s: %w", path, err)
	}
	return nil
}
