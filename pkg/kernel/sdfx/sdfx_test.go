package sdfx

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/chazu/partsmith/pkg/kernel"
)

// testCells keeps marching cubes fast in tests.
const testCells = 48

func mustSolid(t *testing.T) func(kernel.Solid, error) kernel.Solid {
	return func(s kernel.Solid, err error) kernel.Solid {
		t.Helper()
		if err != nil {
			t.Fatalf("constructor failed: %v", err)
		}
		return s
	}
}

func assertBounds(t *testing.T, s kernel.Solid, wantMin, wantMax [3]float64, tol float64) {
	t.Helper()
	min, max := s.BoundingBox()
	for i := 0; i < 3; i++ {
		if math.Abs(min[i]-wantMin[i]) > tol {
			t.Errorf("min[%d] = %f, expected ~%f", i, min[i], wantMin[i])
		}
		if math.Abs(max[i]-wantMax[i]) > tol {
			t.Errorf("max[%d] = %f, expected ~%f", i, max[i], wantMax[i])
		}
	}
}

func TestBox(t *testing.T) {
	k := New(WithMeshCells(testCells))
	box := mustSolid(t)(k.Box(20, 10, 5, 0))
	mesh, err := k.ToMesh(box)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	if mesh.IsEmpty() {
		t.Fatal("mesh is empty")
	}
	triCount := mesh.TriangleCount()
	if len(mesh.Vertices) != len(mesh.Normals) {
		t.Fatalf("vertices length %d != normals length %d", len(mesh.Vertices), len(mesh.Normals))
	}
	if len(mesh.Indices) != triCount*3 {
		t.Fatalf("indices length %d != triCount*3 %d", len(mesh.Indices), triCount*3)
	}
	if v := mesh.Volume(); math.Abs(v-1000)/1000 > 0.1 {
		t.Errorf("box volume = %f, expected ~1000", v)
	}
}

func TestPrimitiveValidation(t *testing.T) {
	k := New()
	tests := []struct {
		name string
		fn   func() (kernel.Solid, error)
	}{
		{"box zero size", func() (kernel.Solid, error) { return k.Box(0, 10, 10, 0) }},
		{"box negative size", func() (kernel.Solid, error) { return k.Box(10, -1, 10, 0) }},
		{"box round too large", func() (kernel.Solid, error) { return k.Box(10, 10, 4, 3) }},
		{"cylinder zero radius", func() (kernel.Solid, error) { return k.Cylinder(10, 0, 0) }},
		{"cylinder round too large", func() (kernel.Solid, error) { return k.Cylinder(10, 2, 3) }},
		{"sphere negative radius", func() (kernel.Solid, error) { return k.Sphere(-1) }},
		{"extrude zero height", func() (kernel.Solid, error) {
			return k.Extrude(kernel.Profile{Kind: kernel.ProfileCircle, Radius: 2}, 0)
		}},
		{"extrude two-point polygon", func() (kernel.Solid, error) {
			return k.Extrude(kernel.Profile{Kind: kernel.ProfilePolygon, Points: [][2]float64{{0, 0}, {1, 0}}}, 5)
		}},
		{"extrude flat rect", func() (kernel.Solid, error) {
			return k.Extrude(kernel.Profile{Kind: kernel.ProfileRect, Width: 4, Height: 0}, 5)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.fn(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCylinderAndSphere(t *testing.T) {
	k := New(WithMeshCells(testCells))
	cyl := mustSolid(t)(k.Cylinder(50, 10, 0))
	assertBounds(t, cyl, [3]float64{-10, -10, -25}, [3]float64{10, 10, 25}, 0.01)

	sph := mustSolid(t)(k.Sphere(5))
	mesh, err := k.ToMesh(sph)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	want := 4.0 / 3.0 * math.Pi * 125
	if v := mesh.Volume(); math.Abs(v-want)/want > 0.1 {
		t.Errorf("sphere volume = %f, expected ~%f", v, want)
	}
}

func TestExtrudeProfiles(t *testing.T) {
	k := New(WithMeshCells(testCells))
	rect := mustSolid(t)(k.Extrude(kernel.Profile{Kind: kernel.ProfileRect, Width: 10, Height: 4}, 6))
	assertBounds(t, rect, [3]float64{-5, -2, -3}, [3]float64{5, 2, 3}, 0.01)

	tri := mustSolid(t)(k.Extrude(kernel.Profile{
		Kind:   kernel.ProfilePolygon,
		Points: [][2]float64{{0, 0}, {10, 0}, {0, 10}},
	}, 2))
	mesh, err := k.ToMesh(tri)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	if v := mesh.Volume(); math.Abs(v-100)/100 > 0.15 {
		t.Errorf("triangular prism volume = %f, expected ~100", v)
	}
}

func TestDifference(t *testing.T) {
	k := New(WithMeshCells(testCells))

	box := mustSolid(t)(k.Box(100, 100, 100, 0))
	boxMesh, err := k.ToMesh(box)
	if err != nil {
		t.Fatalf("ToMesh(box) failed: %v", err)
	}

	cyl := mustSolid(t)(k.Cylinder(120, 20, 0))
	diff := k.Difference(box, cyl)
	diffMesh, err := k.ToMesh(diff)
	if err != nil {
		t.Fatalf("ToMesh(diff) failed: %v", err)
	}
	if diffMesh.IsEmpty() {
		t.Fatal("difference mesh is empty")
	}
	if diffMesh.Volume() >= boxMesh.Volume() {
		t.Fatalf("difference volume %f should be below box volume %f", diffMesh.Volume(), boxMesh.Volume())
	}
}

func TestUnion(t *testing.T) {
	k := New(WithMeshCells(testCells))
	box1 := mustSolid(t)(k.Box(50, 50, 50, 0))
	box2 := k.Translate(mustSolid(t)(k.Box(50, 50, 50, 0)), 30, 0, 0)
	u := k.Union(box1, box2)
	assertBounds(t, u, [3]float64{-25, -25, -25}, [3]float64{55, 25, 25}, 0.5)
	mesh, err := k.ToMesh(u)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	if mesh.IsEmpty() {
		t.Fatal("union mesh is empty")
	}
}

func TestIntersectionDisjointIsEmpty(t *testing.T) {
	k := New(WithMeshCells(testCells))
	a := mustSolid(t)(k.Box(10, 10, 10, 0))
	b := k.Translate(mustSolid(t)(k.Box(10, 10, 10, 0)), 100, 0, 0)
	mesh, err := k.ToMesh(k.Intersection(a, b))
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	if !mesh.IsEmpty() {
		t.Errorf("disjoint intersection produced %d triangles", mesh.TriangleCount())
	}
}

func TestTranslate(t *testing.T) {
	k := New()
	box := mustSolid(t)(k.Box(10, 10, 10, 0))
	translated := k.Translate(box, 100, 200, 300)
	assertBounds(t, translated, [3]float64{95, 195, 295}, [3]float64{105, 205, 305}, 0.5)
}

func TestRotate(t *testing.T) {
	k := New()
	box := mustSolid(t)(k.Box(100, 10, 10, 0))

	// A long box along X rotated 90 degrees around Z should extend along Y instead.
	rotated := k.Rotate(box, 0, 0, 90)
	min, max := rotated.BoundingBox()

	const tol = 1.0
	if xExtent := max[0] - min[0]; math.Abs(xExtent-10) > tol {
		t.Errorf("rotated X extent = %f, expected ~10", xExtent)
	}
	if yExtent := max[1] - min[1]; math.Abs(yExtent-100) > tol {
		t.Errorf("rotated Y extent = %f, expected ~100", yExtent)
	}
}

func TestPlace(t *testing.T) {
	k := New()
	box := mustSolid(t)(k.Box(10, 2, 2, 0))
	placed := k.Place(box, kernel.Placement{
		Scale:     [3]float64{2, 1, 1},
		Axis:      [3]float64{0, 0, 1},
		Angle:     math.Pi / 2,
		Translate: [3]float64{0, 0, 50},
	})
	// Scaled to 20 along X, then turned onto Y, then lifted.
	assertBounds(t, placed, [3]float64{-1, -10, 49}, [3]float64{1, 10, 51}, 0.5)
}

func TestWriteSTL(t *testing.T) {
	k := New(WithMeshCells(24))
	box := mustSolid(t)(k.Box(10, 10, 10, 0))
	path := filepath.Join(t.TempDir(), "box.stl")
	if err := k.WriteSTL(box, path); err != nil {
		t.Fatalf("WriteSTL failed: %v", err)
	}
}
