package xform

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/partsmith/pkg/caderr"
)

const eps = 1e-9

func near(a, b Vec3, tol float64) bool {
	return a.Sub(b).Len() <= tol
}

func ptr(v Vec3) *Vec3 { return &v }

func TestComposeTranslationAdds(t *testing.T) {
	tr := Identity()
	var err error
	for _, d := range []Vec3{{1, 2, 3}, {-4, 0, 1}, {0.5, 0.5, 0.5}} {
		tr, err = tr.Compose(Delta{Translate: ptr(d)})
		if err != nil {
			t.Fatal(err)
		}
	}
	if want := (Vec3{-2.5, 2.5, 4.5}); !near(tr.Translation, want, eps) {
		t.Errorf("translation = %v, want %v", tr.Translation, want)
	}
}

func TestComposeScaleMultiplies(t *testing.T) {
	tr, err := Identity().Compose(Delta{Scale: ptr(V(2, 3, 4))})
	if err != nil {
		t.Fatal(err)
	}
	tr, err = tr.Compose(Delta{Scale: ptr(V(0.5, 1, 2))})
	if err != nil {
		t.Fatal(err)
	}
	if want := V(1, 3, 8); !near(tr.Scale, want, eps) {
		t.Errorf("scale = %v, want %v", tr.Scale, want)
	}
}

func TestComposeRejectsDegenerateScale(t *testing.T) {
	tests := []struct {
		name  string
		scale Vec3
	}{
		{"zero", V(1, 0, 1)},
		{"negative", V(-1, 1, 1)},
		{"nan", V(math.NaN(), 1, 1)},
		{"inf", V(1, math.Inf(1), 1)},
	}
	start, _ := Identity().Compose(Delta{Translate: ptr(V(5, 0, 0))})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := start.Compose(Delta{Scale: ptr(tt.scale)})
			if !errors.Is(err, caderr.ErrDegenerateTransform) {
				t.Fatalf("err = %v, want DegenerateTransform", err)
			}
			if got != start {
				t.Errorf("transform changed on failure: %+v", got)
			}
		})
	}
}

func TestComposeRejectsNonFiniteRotation(t *testing.T) {
	_, err := Identity().Compose(Delta{Rotate: ptr(V(math.NaN(), 0, 0))})
	if !errors.Is(err, caderr.ErrDegenerateTransform) {
		t.Fatalf("err = %v, want DegenerateTransform", err)
	}
}

func TestRotationDrift(t *testing.T) {
	tr := Identity()
	step := Delta{Rotate: ptr(V(0, 0, 0.01))}
	var err error
	for i := 0; i < 10000; i++ {
		if tr, err = tr.Compose(step); err != nil {
			t.Fatal(err)
		}
	}
	direct, err := Identity().Compose(Delta{Rotate: ptr(V(0, 0, 100))})
	if err != nil {
		t.Fatal(err)
	}
	if d := angleBetween(tr.Rotation, direct.Rotation); d > 1e-4 {
		t.Errorf("accumulated rotation drifted %g rad from the direct rotation", d)
	}
	if n := tr.Rotation.Norm(); math.Abs(n-1) > 1e-12 {
		t.Errorf("rotation norm = %v, want 1", n)
	}
}

func TestEulerOrder(t *testing.T) {
	// 90° about X then 90° about Z takes +Y to +Z, then leaves it on +Z.
	q := FromEuler(math.Pi/2, 0, math.Pi/2)
	if got := rotate(q, V(0, 1, 0)); !near(got, V(0, 0, 1), 1e-12) {
		t.Errorf("rotate +Y = %v, want +Z", got)
	}
	// +X is untouched by the X turn and then goes to +Y.
	if got := rotate(q, V(1, 0, 0)); !near(got, V(0, 1, 0), 1e-12) {
		t.Errorf("rotate +X = %v, want +Y", got)
	}
}

func TestPlacementRoundTrip(t *testing.T) {
	tr, _ := Identity().Compose(Delta{Rotate: ptr(V(0, 0, math.Pi/2))})
	p := tr.Placement()
	if math.Abs(p.Angle-math.Pi/2) > 1e-12 {
		t.Errorf("angle = %v, want π/2", p.Angle)
	}
	if !near(V(p.Axis[0], p.Axis[1], p.Axis[2]), V(0, 0, 1), 1e-12) {
		t.Errorf("axis = %v, want +Z", p.Axis)
	}
	if p.Scale != [3]float64{1, 1, 1} {
		t.Errorf("scale = %v", p.Scale)
	}
}

func TestIdentity(t *testing.T) {
	if !Identity().IsIdentity(eps) {
		t.Error("Identity() is not identity")
	}
	if err := Identity().Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if (Transform{}).Validate() == nil {
		t.Error("zero Transform should not validate")
	}
}

// rotate applies q to v.
func rotate(q Quat, v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// angleBetween returns the angle of the rotation taking a to b.
func angleBetween(a, b Quat) float64 {
	d := math.Abs(a.W*b.W + a.X*b.X + a.Y*b.Y + a.Z*b.Z)
	return 2 * math.Acos(math.Min(1, d))
}
