package engine

import (
	"time"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/geom"
	"github.com/chazu/partsmith/pkg/graph"
)

// Result is the outcome of one compilation: either Success with one or more
// solids, or Failure with a classified error. A Result is never partially
// applied; callers check OK before touching Solids.
type Result struct {
	// Solids are the program's result shapes in program order.
	Solids []*geom.Solid
	// Solid is the union of Solids, already meshed. It is what a scene
	// object stores as its base geometry.
	Solid *geom.Solid
	// Graph is the evaluated CSG graph, kept for inspection.
	Graph    *graph.DesignGraph
	Warnings []graph.ValidationWarning
	Err      *caderr.Error
	Elapsed  time.Duration
}

// Success builds a successful Result.
func Success(g *graph.DesignGraph, combined *geom.Solid, solids []*geom.Solid) Result {
	return Result{Graph: g, Solid: combined, Solids: solids}
}

// Failure builds a failed Result.
func Failure(err *caderr.Error) Result {
	return Result{Err: err}
}

// OK reports whether the compilation succeeded.
func (r Result) OK() bool {
	return r.Err == nil && r.Solid != nil
}

// Error returns the failure as an error value, or nil on success.
func (r Result) Error() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}
