// Package graph defines the CSG graph types produced by evaluating a part
// program. The graph is an immutable DAG of primitives, transforms, boolean
// operations and groups; each evaluation produces a new graph.
package graph
