package tessellate_test

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/partsmith/pkg/graph"
	"github.com/chazu/partsmith/pkg/kernel"
	"github.com/chazu/partsmith/pkg/kernel/sdfx"
	"github.com/chazu/partsmith/pkg/tessellate"
)

// newKernel returns a coarse sdfx kernel for testing.
func newKernel() kernel.Kernel {
	return sdfx.New(sdfx.WithMeshCells(40))
}

func makeBox(name string, x, y, z float64) *graph.Node {
	return &graph.Node{
		ID:     graph.NewNodeID(name),
		Kind:   graph.NodePrimitive,
		Name:   name,
		Source: graph.SourceRef{Form: "box"},
		Data:   graph.BoxData{Size: graph.Vec3{X: x, Y: y, Z: z}},
	}
}

func makeTranslate(name string, tx, ty, tz float64, child graph.NodeID) *graph.Node {
	t := graph.Vec3{X: tx, Y: ty, Z: tz}
	return &graph.Node{
		ID:       graph.NewNodeID(name),
		Kind:     graph.NodeTransform,
		Children: []graph.NodeID{child},
		Data:     graph.TransformData{Translation: &t},
	}
}

func makeBoolean(name string, op graph.BoolOp, children ...graph.NodeID) *graph.Node {
	return &graph.Node{
		ID:       graph.NewNodeID(name),
		Kind:     graph.NodeBoolean,
		Name:     name,
		Children: children,
		Data:     graph.BooleanData{Op: op},
	}
}

func add(g *graph.DesignGraph, nodes ...*graph.Node) {
	for _, n := range nodes {
		g.AddNode(n)
	}
}

func TestSingleBox(t *testing.T) {
	k := newKernel()
	g := graph.New()
	box := makeBox("block", 10, 20, 30)
	add(g, box)
	g.AddRoot(box.ID)

	meshes, err := tessellate.Tessellate(g, k)
	if err != nil {
		t.Fatalf("Tessellate: %v", err)
	}
	if len(meshes) != 1 {
		t.Fatalf("meshes = %d, want 1", len(meshes))
	}
	if meshes[0].PartName != "block" {
		t.Errorf("PartName = %q, want block", meshes[0].PartName)
	}
	min, max, ok := meshes[0].Bounds()
	if !ok {
		t.Fatal("empty mesh")
	}
	for i, want := range []float64{10, 20, 30} {
		if got := max[i] - min[i]; math.Abs(got-want) > 1 {
			t.Errorf("extent[%d] = %f, want ~%f", i, got, want)
		}
	}
}

func TestTransformMovesSubtree(t *testing.T) {
	k := newKernel()
	g := graph.New()
	box := makeBox("b", 10, 10, 10)
	move := makeTranslate("move", 100, 0, 0, box.ID)
	add(g, box, move)
	g.AddRoot(move.ID)

	solids, err := tessellate.Build(g, k)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	min, max := solids[0].BoundingBox()
	if math.Abs(min[0]-95) > 0.5 || math.Abs(max[0]-105) > 0.5 {
		t.Errorf("X bounds = %f..%f, want 95..105", min[0], max[0])
	}
}

func TestSubtractFoldsLeft(t *testing.T) {
	k := newKernel()
	g := graph.New()
	a := makeBox("a", 10, 10, 10)
	b := makeBox("b", 4, 4, 4)
	bMoved := makeTranslate("b-moved", 5, 5, 5, b.ID)
	cut := makeBoolean("cut", graph.OpSubtract, a.ID, bMoved.ID)
	add(g, a, b, bMoved, cut)
	g.AddRoot(cut.ID)

	meshes, err := tessellate.Tessellate(g, k)
	if err != nil {
		t.Fatalf("Tessellate: %v", err)
	}
	v := meshes[0].Volume()
	if v <= 900 || v >= 1000 {
		t.Errorf("notched cube volume = %f, want in (900, 1000)", v)
	}
}

func TestGroupRootYieldsOneSolidPerChild(t *testing.T) {
	k := newKernel()
	g := graph.New()
	a := makeBox("a", 5, 5, 5)
	b := makeBox("b", 6, 6, 6)
	grp := &graph.Node{
		ID: graph.NewNodeID("group"), Kind: graph.NodeGroup,
		Children: []graph.NodeID{a.ID, b.ID}, Data: graph.GroupData{},
	}
	add(g, a, b, grp)
	g.AddRoot(grp.ID)

	meshes, err := tessellate.Tessellate(g, k)
	if err != nil {
		t.Fatalf("Tessellate: %v", err)
	}
	if len(meshes) != 2 {
		t.Fatalf("meshes = %d, want 2", len(meshes))
	}
	if meshes[0].PartName != "a" || meshes[1].PartName != "b" {
		t.Errorf("names = %q, %q", meshes[0].PartName, meshes[1].PartName)
	}
}

func TestSharedSubtreeBuiltOnce(t *testing.T) {
	g := graph.New()
	box := makeBox("shared", 2, 2, 2)
	left := makeTranslate("left", -5, 0, 0, box.ID)
	right := makeTranslate("right", 5, 0, 0, box.ID)
	u := makeBoolean("pair", graph.OpUnion, left.ID, right.ID)
	add(g, box, left, right, u)
	g.AddRoot(u.ID)

	ck := &countingKernel{Kernel: newKernel()}
	if _, err := tessellate.Build(g, ck); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ck.boxes != 1 {
		t.Errorf("Box called %d times, want 1", ck.boxes)
	}
}

func TestKernelErrorCarriesNode(t *testing.T) {
	g := graph.New()
	box := makeBox("bad", -1, 10, 10)
	box.Source.Line = 7
	add(g, box)
	g.AddRoot(box.ID)

	_, err := tessellate.Build(g, newKernel())
	var ne *tessellate.NodeError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %v, want *NodeError", err)
	}
	if ne.Node.Source.Line != 7 {
		t.Errorf("line = %d, want 7", ne.Node.Source.Line)
	}
}

func TestNilGraph(t *testing.T) {
	solids, err := tessellate.Build(nil, newKernel())
	if err != nil || solids != nil {
		t.Errorf("Build(nil) = %v, %v", solids, err)
	}
}

type countingKernel struct {
	kernel.Kernel
	boxes int
}

func (c *countingKernel) Box(x, y, z, round float64) (kernel.Solid, error) {
	c.boxes++
	return c.Kernel.Box(x, y, z, round)
}
