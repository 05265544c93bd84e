// Package tessellate walks a CSG graph and evaluates it into kernel solids
// and triangle meshes. One solid (and one mesh) is produced per result node.
package tessellate

import (
	"fmt"

	"github.com/chazu/partsmith/pkg/graph"
	"github.com/chazu/partsmith/pkg/kernel"
)

// NodeError reports a kernel failure while building a specific node.
type NodeError struct {
	Node *graph.Node
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("tessellate: %s node %s (line %d): %v", e.Node.Source.Form, e.Node.ID.Short(), e.Node.Source.Line, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// builder evaluates nodes post-order. Shared subtrees are built once.
type builder struct {
	g     *graph.DesignGraph
	k     kernel.Kernel
	cache map[graph.NodeID]kernel.Solid
}

// Build evaluates the graph's result nodes into solids, in result order. The
// builder is read-only and never mutates the graph.
func Build(g *graph.DesignGraph, k kernel.Kernel) ([]kernel.Solid, error) {
	if g == nil {
		return nil, nil
	}
	b := &builder{g: g, k: k, cache: make(map[graph.NodeID]kernel.Solid)}

	var solids []kernel.Solid
	for _, id := range g.Results() {
		n := g.Get(id)
		if n == nil {
			return nil, fmt.Errorf("tessellate: result node %s does not exist", id.Short())
		}
		s, err := b.build(n)
		if err != nil {
			return nil, err
		}
		solids = append(solids, s)
	}
	return solids, nil
}

// Tessellate builds the graph and meshes every result solid. Each mesh is
// named after its node's Name, falling back to the short id.
func Tessellate(g *graph.DesignGraph, k kernel.Kernel) ([]*kernel.Mesh, error) {
	solids, err := Build(g, k)
	if err != nil {
		return nil, err
	}
	results := g.Results()
	meshes := make([]*kernel.Mesh, 0, len(solids))
	for i, s := range solids {
		mesh, err := k.ToMesh(s)
		if err != nil {
			return nil, fmt.Errorf("tessellate: ToMesh failed for node %s: %w", results[i].Short(), err)
		}
		if n := g.Get(results[i]); n != nil && n.Name != "" {
			mesh.PartName = n.Name
		} else {
			mesh.PartName = results[i].Short()
		}
		meshes = append(meshes, mesh)
	}
	return meshes, nil
}

func (b *builder) build(n *graph.Node) (kernel.Solid, error) {
	if s, ok := b.cache[n.ID]; ok {
		return s, nil
	}

	var (
		s   kernel.Solid
		err error
	)
	switch n.Kind {
	case graph.NodePrimitive:
		s, err = b.primitive(n)
	case graph.NodeTransform:
		s, err = b.transform(n)
	case graph.NodeBoolean:
		s, err = b.boolean(n)
	case graph.NodeGroup:
		s, err = b.group(n)
	default:
		return nil, fmt.Errorf("unknown node kind: %v", n.Kind)
	}
	if err != nil {
		return nil, err
	}
	b.cache[n.ID] = s
	return s, nil
}

// primitive creates geometry for a primitive node.
func (b *builder) primitive(n *graph.Node) (kernel.Solid, error) {
	var (
		s   kernel.Solid
		err error
	)
	switch d := n.Data.(type) {
	case graph.BoxData:
		s, err = b.k.Box(d.Size.X, d.Size.Y, d.Size.Z, d.Round)
	case graph.CylinderData:
		s, err = b.k.Cylinder(d.Height, d.Radius, d.Round)
	case graph.SphereData:
		s, err = b.k.Sphere(d.Radius)
	case graph.ExtrudeData:
		s, err = b.k.Extrude(profile(d.Profile), d.Height)
	default:
		return nil, fmt.Errorf("primitive node %s has unsupported data type %T", n.ID.Short(), n.Data)
	}
	if err != nil {
		return nil, &NodeError{Node: n, Err: err}
	}
	return s, nil
}

func profile(p graph.Profile) kernel.Profile {
	out := kernel.Profile{Width: p.Width, Height: p.Height, Radius: p.Radius}
	switch p.Kind {
	case graph.ProfileRect:
		out.Kind = kernel.ProfileRect
	case graph.ProfileCircle:
		out.Kind = kernel.ProfileCircle
	case graph.ProfilePolygon:
		out.Kind = kernel.ProfilePolygon
		out.Points = make([][2]float64, len(p.Points))
		for i, pt := range p.Points {
			out.Points[i] = [2]float64{pt.X, pt.Y}
		}
	}
	return out
}

// transform builds the child, then applies the node's scale, rotation and
// translation in that order.
func (b *builder) transform(n *graph.Node) (kernel.Solid, error) {
	td, ok := n.Data.(graph.TransformData)
	if !ok {
		return nil, fmt.Errorf("transform node %s has unexpected data type %T", n.ID.Short(), n.Data)
	}
	children := b.g.Children(n)
	if len(children) != 1 {
		return nil, fmt.Errorf("transform node %s has %d children, want 1", n.ID.Short(), len(children))
	}
	s, err := b.build(children[0])
	if err != nil {
		return nil, err
	}
	if td.Scale != nil {
		s = b.k.Scale(s, td.Scale.X, td.Scale.Y, td.Scale.Z)
	}
	if r := td.Rotation; r != nil && (r.X != 0 || r.Y != 0 || r.Z != 0) {
		s = b.k.Rotate(s, r.X, r.Y, r.Z)
	}
	if t := td.Translation; t != nil && (t.X != 0 || t.Y != 0 || t.Z != 0) {
		s = b.k.Translate(s, t.X, t.Y, t.Z)
	}
	return s, nil
}

// boolean folds the children left to right with the node's operation.
func (b *builder) boolean(n *graph.Node) (kernel.Solid, error) {
	bd, ok := n.Data.(graph.BooleanData)
	if !ok {
		return nil, fmt.Errorf("boolean node %s has unexpected data type %T", n.ID.Short(), n.Data)
	}
	var acc kernel.Solid
	for _, child := range b.g.Children(n) {
		s, err := b.build(child)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = s
			continue
		}
		switch bd.Op {
		case graph.OpUnion:
			acc = b.k.Union(acc, s)
		case graph.OpSubtract:
			acc = b.k.Difference(acc, s)
		case graph.OpIntersect:
			acc = b.k.Intersection(acc, s)
		default:
			return nil, fmt.Errorf("boolean node %s has unknown op %v", n.ID.Short(), bd.Op)
		}
	}
	if acc == nil {
		return nil, fmt.Errorf("boolean node %s has no operands", n.ID.Short())
	}
	return acc, nil
}

// group unions its children. Groups only appear below the root when a list
// result is passed to a transform.
func (b *builder) group(n *graph.Node) (kernel.Solid, error) {
	var acc kernel.Solid
	for _, child := range b.g.Children(n) {
		s, err := b.build(child)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = s
		} else {
			acc = b.k.Union(acc, s)
		}
	}
	if acc == nil {
		return nil, fmt.Errorf("group node %s is empty", n.ID.Short())
	}
	return acc, nil
}
