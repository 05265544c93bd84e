package graph

import (
	"fmt"

	"github.com/chazu/partsmith/pkg/caderr"
)

// ValidationSeverity indicates whether a validation finding blocks compilation
// or is merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // blocks compilation
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// ValidationError describes a single validation finding. Geometric findings
// carry a Reason; structural ones leave it empty.
type ValidationError struct {
	NodeID   NodeID             // which node has the problem (zero if graph-level)
	Message  string             // human-readable description
	Severity ValidationSeverity // error or warning
	Reason   caderr.Reason
	Line     int // source line of the offending form, 0 when unknown
}

func (e ValidationError) Error() string {
	if e.NodeID.IsZero() {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] node %s: %s", e.Severity, e.NodeID.Short(), e.Message)
}

// ValidationWarning describes a non-blocking advisory finding.
type ValidationWarning struct {
	NodeID  NodeID
	Message string
}

// ValidationResult bundles errors (blocking) and warnings (advisory)
// from all validation tiers.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// OK reports whether no blocking errors were found.
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Validate runs all structural checks on the graph and returns a slice of
// findings. An empty slice means the graph is well formed. This function is
// read-only and never mutates the graph.
func Validate(g *DesignGraph) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateDAG(g)...)
	errs = append(errs, validateReferences(g)...)
	errs = append(errs, validateNames(g)...)
	errs = append(errs, validateRoots(g)...)
	errs = append(errs, validateArity(g)...)
	return errs
}

// ValidateAll runs the structural and geometric tiers and returns a
// ValidationResult with separated errors and warnings.
func ValidateAll(g *DesignGraph) ValidationResult {
	structural := Validate(g)
	geoErrs, geoWarnings := validateGeometry(g)

	var result ValidationResult
	for _, e := range structural {
		if e.Severity == SeverityWarning {
			result.Warnings = append(result.Warnings, ValidationWarning{
				NodeID:  e.NodeID,
				Message: e.Message,
			})
		} else {
			result.Errors = append(result.Errors, e)
		}
	}
	result.Errors = append(result.Errors, geoErrs...)
	result.Warnings = append(result.Warnings, geoWarnings...)
	return result
}

// validateDAG checks for cycles using DFS with 3-color marking.
// White (0) = unvisited, gray (1) = in current DFS path, black (2) = fully explored.
// If we encounter a gray node during traversal, we have found a cycle.
func validateDAG(g *DesignGraph) []ValidationError {
	const (
		white = iota
		gray
		black
	)

	color := make(map[NodeID]int)
	var errs []ValidationError

	var visit func(id NodeID) bool // returns true if cycle found
	visit = func(id NodeID) bool {
		switch color[id] {
		case black:
			return false
		case gray:
			errs = append(errs, ValidationError{
				NodeID:   id,
				Message:  fmt.Sprintf("cycle detected: node %s is part of a cycle", id.Short()),
				Severity: SeverityError,
			})
			return true
		}

		color[id] = gray

		node, ok := g.Nodes[id]
		if !ok {
			// Dangling reference; handled by validateReferences.
			color[id] = black
			return false
		}

		for _, childID := range node.Children {
			if visit(childID) {
				return true
			}
		}

		color[id] = black
		return false
	}

	// Start DFS from every node to catch disconnected components.
	for id := range g.Nodes {
		if color[id] == white {
			if visit(id) {
				break
			}
		}
	}

	return errs
}

// validateReferences checks that every child id points to a node that
// actually exists in g.Nodes.
func validateReferences(g *DesignGraph) []ValidationError {
	var errs []ValidationError
	for _, node := range g.Nodes {
		for _, childID := range node.Children {
			if _, ok := g.Nodes[childID]; !ok {
				errs = append(errs, ValidationError{
					NodeID:   node.ID,
					Message:  fmt.Sprintf("child reference %s does not exist", childID.Short()),
					Severity: SeverityError,
				})
			}
		}
	}
	return errs
}

// validateNames checks that the NameIndex is injective and that every entry
// points to an existing node.
func validateNames(g *DesignGraph) []ValidationError {
	var errs []ValidationError

	for name, id := range g.NameIndex {
		if _, ok := g.Nodes[id]; !ok {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("name index entry %q references non-existent node %s", name, id.Short()),
				Severity: SeverityError,
			})
		}
	}

	nameToNodes := make(map[string][]NodeID)
	for id, node := range g.Nodes {
		if node.Name != "" {
			nameToNodes[node.Name] = append(nameToNodes[node.Name], id)
		}
	}
	for name, ids := range nameToNodes {
		if len(ids) > 1 {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("duplicate name %q assigned to %d nodes", name, len(ids)),
				Severity: SeverityError,
			})
		}
	}

	return errs
}

// validateRoots checks that the graph has at least one root, that every root
// exists, and warns about nodes unreachable from any root. Unreachable nodes
// are shapes the program built but did not return.
func validateRoots(g *DesignGraph) []ValidationError {
	var errs []ValidationError

	if len(g.Roots) == 0 {
		errs = append(errs, ValidationError{
			Message:  "program produced no shapes",
			Severity: SeverityError,
			Reason:   caderr.ReasonNoResult,
		})
	}

	for _, rid := range g.Roots {
		if _, ok := g.Nodes[rid]; !ok {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("root reference %s does not exist", rid.Short()),
				Severity: SeverityError,
			})
		}
	}

	if len(g.Nodes) == 0 {
		return errs
	}

	reachable := make(map[NodeID]bool)
	queue := make([]NodeID, 0, len(g.Roots))
	for _, rid := range g.Roots {
		if _, ok := g.Nodes[rid]; ok && !reachable[rid] {
			reachable[rid] = true
			queue = append(queue, rid)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		node := g.Nodes[current]
		if node == nil {
			continue
		}
		for _, childID := range node.Children {
			if !reachable[childID] {
				reachable[childID] = true
				queue = append(queue, childID)
			}
		}
	}

	for id, node := range g.Nodes {
		if !reachable[id] {
			name := node.Name
			if name == "" {
				name = node.Source.Form + " " + id.Short()
			}
			errs = append(errs, ValidationError{
				NodeID:   id,
				Message:  fmt.Sprintf("node %q is not part of the result (unused shape)", name),
				Severity: SeverityWarning,
				Line:     node.Source.Line,
			})
		}
	}

	return errs
}

// validateArity checks that each node kind has the number of children its
// operation needs and carries the matching data payload.
func validateArity(g *DesignGraph) []ValidationError {
	var errs []ValidationError
	bad := func(n *Node, format string, args ...any) {
		errs = append(errs, ValidationError{
			NodeID:   n.ID,
			Message:  fmt.Sprintf(format, args...),
			Severity: SeverityError,
			Line:     n.Source.Line,
		})
	}

	for _, node := range g.Nodes {
		switch node.Kind {
		case NodePrimitive:
			if len(node.Children) != 0 {
				bad(node, "primitive has %d children, want 0", len(node.Children))
			}
			switch node.Data.(type) {
			case BoxData, CylinderData, SphereData, ExtrudeData:
			default:
				bad(node, "primitive carries %T", node.Data)
			}
		case NodeTransform:
			if len(node.Children) != 1 {
				bad(node, "transform has %d children, want 1", len(node.Children))
			}
			if _, ok := node.Data.(TransformData); !ok {
				bad(node, "transform carries %T", node.Data)
			}
		case NodeBoolean:
			bd, ok := node.Data.(BooleanData)
			if !ok {
				bad(node, "boolean carries %T", node.Data)
				continue
			}
			if len(node.Children) < 1 {
				bad(node, "%s needs at least one shape", bd.Op)
			}
		case NodeGroup:
			if len(node.Children) == 0 {
				bad(node, "group is empty")
			}
		}
	}
	return errs
}
