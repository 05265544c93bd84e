package graph

import (
	"math"
	"testing"

	"github.com/chazu/partsmith/pkg/caderr"
)

// single wraps one node as the root of a fresh graph.
func single(n *Node) *DesignGraph {
	g := New()
	if n.ID.IsZero() {
		n.ID = NewNodeID("single")
	}
	g.AddNode(n)
	g.AddRoot(n.ID)
	return g
}

func prim(d NodeData) *Node {
	return &Node{Kind: NodePrimitive, Source: SourceRef{Form: "prim", Line: 4}, Data: d}
}

func TestGeometryValidation(t *testing.T) {
	tests := []struct {
		name   string
		node   *Node
		reason caderr.Reason // empty means valid
	}{
		{"valid box", prim(BoxData{Size: Vec3{10, 10, 10}}), ""},
		{"rounded box", prim(BoxData{Size: Vec3{10, 10, 4}, Round: 2}), ""},
		{"zero box side", prim(BoxData{Size: Vec3{10, 0, 10}}), caderr.ReasonNegativeSize},
		{"negative box side", prim(BoxData{Size: Vec3{-1, 10, 10}}), caderr.ReasonNegativeSize},
		{"infinite box side", prim(BoxData{Size: Vec3{math.Inf(1), 10, 10}}), caderr.ReasonNegativeSize},
		{"box round too large", prim(BoxData{Size: Vec3{10, 10, 4}, Round: 2.5}), caderr.ReasonRoundRadius},
		{"box negative round", prim(BoxData{Size: Vec3{10, 10, 4}, Round: -1}), caderr.ReasonRoundRadius},
		{"cylinder negative radius", prim(CylinderData{Height: 5, Radius: -2}), caderr.ReasonNegativeSize},
		{"cylinder round too large", prim(CylinderData{Height: 4, Radius: 10, Round: 3}), caderr.ReasonRoundRadius},
		{"sphere zero", prim(SphereData{}), caderr.ReasonNegativeSize},
		{"extrude zero height", prim(ExtrudeData{Profile: Profile{Kind: ProfileCircle, Radius: 1}}), caderr.ReasonNegativeSize},
		{"two point polygon", prim(ExtrudeData{
			Profile: Profile{Kind: ProfilePolygon, Points: []Vec2{{0, 0}, {1, 0}}}, Height: 1,
		}), caderr.ReasonDegenerateProfile},
		{"collinear polygon", prim(ExtrudeData{
			Profile: Profile{Kind: ProfilePolygon, Points: []Vec2{{0, 0}, {1, 0}, {2, 0}}}, Height: 1,
		}), caderr.ReasonDegenerateProfile},
		{"flat rect", prim(ExtrudeData{Profile: Profile{Kind: ProfileRect, Width: 3}, Height: 1}), caderr.ReasonDegenerateProfile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs, _ := validateGeometry(single(tt.node))
			if tt.reason == "" {
				if len(errs) != 0 {
					t.Fatalf("unexpected errors: %v", errs)
				}
				return
			}
			if len(errs) == 0 {
				t.Fatalf("expected %s error", tt.reason)
			}
			if errs[0].Reason != tt.reason {
				t.Errorf("reason = %q, want %q (%v)", errs[0].Reason, tt.reason, errs[0])
			}
			if errs[0].Line != 4 {
				t.Errorf("line = %d, want 4", errs[0].Line)
			}
		})
	}
}

func TestScaleValidation(t *testing.T) {
	child := prim(SphereData{Radius: 1})
	child.ID = NewNodeID("sphere/1")
	for _, s := range []Vec3{{1, 0, 1}, {1, -1, 1}, {math.NaN(), 1, 1}} {
		g := New()
		g.AddNode(child)
		scale := s
		n := &Node{
			ID: NewNodeID("scale/2"), Kind: NodeTransform, Children: []NodeID{child.ID},
			Data: TransformData{Scale: &scale},
		}
		g.AddNode(n)
		g.AddRoot(n.ID)
		errs, _ := validateGeometry(g)
		if len(errs) != 1 || errs[0].Reason != caderr.ReasonDegenerateScale {
			t.Errorf("scale %v: errs = %v", s, errs)
		}
	}
}

func TestFeatureSizeWarning(t *testing.T) {
	errs, warnings := validateGeometry(single(prim(BoxData{Size: Vec3{10, 10, 0.001}})))
	if len(errs) != 0 {
		t.Fatalf("tiny but positive box should not error: %v", errs)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want 1", warnings)
	}
}

func TestValidateAllReportsGeometry(t *testing.T) {
	g := buildBracket()
	hole := g.Get(NewNodeID("cylinder/2"))
	hole.Data = CylinderData{Height: 10, Radius: 3, Round: 4}
	res := ValidateAll(g)
	if res.OK() {
		t.Fatal("expected geometry error")
	}
	if res.Errors[0].Reason != caderr.ReasonRoundRadius {
		t.Errorf("reason = %q", res.Errors[0].Reason)
	}
}
