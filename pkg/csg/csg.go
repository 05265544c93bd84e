// Package csg combines scene objects with boolean operations.
package csg

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/geom"
	"github.com/chazu/partsmith/pkg/kernel"
	"github.com/chazu/partsmith/pkg/scene"
	"github.com/chazu/partsmith/pkg/xform"
	"github.com/samber/lo"
)

// Op is a boolean operation on solids.
type Op int

const (
	Union Op = iota
	Subtract
	Intersect
)

func (op Op) String() string {
	switch op {
	case Union:
		return "union"
	case Subtract:
		return "subtract"
	case Intersect:
		return "intersect"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// ParseOp maps an operation name to an Op.
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "union":
		return Union, nil
	case "subtract", "difference":
		return Subtract, nil
	case "intersect", "intersection":
		return Intersect, nil
	}
	return 0, fmt.Errorf("unknown boolean operation %q", s)
}

// OverlapIndex answers whether objects' bounding boxes share a region.
// scene.Store implements it with its R-tree.
type OverlapIndex interface {
	Overlapping(ids ...scene.ID) bool
}

type options struct {
	index OverlapIndex
	now   func() time.Time
}

// Option configures Combine.
type Option func(*options)

// WithIndex lets Intersect reject disjoint operands through a spatial index
// instead of comparing bounding boxes itself.
func WithIndex(idx OverlapIndex) Option {
	return func(o *options) { o.index = idx }
}

// Combine applies op to the world-space solids of operands and returns a new
// object. Subtract removes every later operand from the first; Union and
// Intersect are order independent. The result has an identity transform, no
// source, and takes its name and colour from the first operand. Operands are
// never modified.
func Combine(k kernel.Kernel, operands []*scene.Object, op Op, opts ...Option) (res *scene.Object, err error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if len(operands) < 2 {
		return nil, caderr.New(caderr.InsufficientOperands, "%s needs at least 2 objects, got %d", op, len(operands))
	}
	ids := lo.Map(operands, func(obj *scene.Object, _ int) scene.ID { return obj.ID })
	if dups := lo.FindDuplicates(ids); len(dups) > 0 {
		return nil, caderr.New(caderr.InsufficientOperands, "object %s appears more than once", dups[0])
	}
	for _, obj := range operands {
		if obj.Solid == nil {
			return nil, caderr.New(caderr.CSGError, "object %s has no geometry", obj.ID)
		}
	}

	if op == Intersect && !overlapping(o.index, operands) {
		return nil, caderr.WithReason(caderr.CSGError, caderr.ReasonDisjoint,
			"intersection is empty: objects do not overlap")
	}

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, caderr.New(caderr.CSGError, "%s failed: %v", op, r)
		}
	}()

	acc := operands[0].Solid.Handle()
	for _, obj := range operands[1:] {
		h := obj.Solid.Handle()
		switch op {
		case Union:
			acc = k.Union(acc, h)
		case Subtract:
			acc = k.Difference(acc, h)
		case Intersect:
			acc = k.Intersection(acc, h)
		default:
			return nil, caderr.New(caderr.CSGError, "unsupported operation %s", op)
		}
	}

	mesh, meshErr := k.ToMesh(acc)
	if meshErr != nil {
		return nil, caderr.Wrap(caderr.CSGError, meshErr, "%s failed", op)
	}
	if mesh.IsEmpty() {
		return nil, caderr.WithReason(caderr.CSGError, caderr.ReasonEmptySolid, "%s produced an empty solid", op)
	}

	solid := geom.FromMesh(k, acc, mesh)
	first := operands[0]
	return &scene.Object{
		ID:         scene.NewID(),
		Name:       first.Name,
		Color:      first.Color,
		Transform:  xform.Identity(),
		Base:       solid,
		Solid:      solid,
		Provenance: scene.BooleanProvenance(op.String()),
		CreatedAt:  o.now(),
	}, nil
}

func overlapping(idx OverlapIndex, operands []*scene.Object) bool {
	if idx != nil {
		return idx.Overlapping(lo.Map(operands, func(obj *scene.Object, _ int) scene.ID { return obj.ID })...)
	}
	cmin, cmax := operands[0].Bounds()
	for _, obj := range operands[1:] {
		omin, omax := obj.Bounds()
		for i := range cmin {
			cmin[i] = math.Max(cmin[i], omin[i])
			cmax[i] = math.Min(cmax[i], omax[i])
			if cmin[i] > cmax[i] {
				return false
			}
		}
	}
	return true
}
