package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NodeKind enumerates the types of nodes in the CSG graph.
type NodeKind int

const (
	NodePrimitive NodeKind = iota // box, cylinder, sphere, extrusion
	NodeTransform                 // translate/rotate/scale of one child
	NodeBoolean                   // union/subtract/intersect of children
	NodeGroup                     // several result solids returned together
)

func (k NodeKind) String() string {
	switch k {
	case NodePrimitive:
		return "primitive"
	case NodeTransform:
		return "transform"
	case NodeBoolean:
		return "boolean"
	case NodeGroup:
		return "group"
	default:
		return "unknown"
	}
}

// NodeID is a content-addressed node identifier.
type NodeID [32]byte

// NewNodeID derives a NodeID from a stable path string such as "box/3".
func NewNodeID(path string) NodeID {
	return NodeID(sha256.Sum256([]byte(path)))
}

// IsZero reports whether the id is unset.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// Short returns the first 6 bytes in hex, for messages.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:6])
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText encodes the id as hex.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a hex id.
func (id *NodeID) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("graph: bad node id: %w", err)
	}
	if len(raw) != len(id) {
		return fmt.Errorf("graph: node id has %d bytes, want %d", len(raw), len(id))
	}
	copy(id[:], raw)
	return nil
}

// SourceRef points back at the form that created a node.
type SourceRef struct {
	Form string `json:"form"`           // builtin name, e.g. "box"
	Line int    `json:"line,omitempty"` // 1-based, 0 when unknown
}

// Node is the fundamental element of the CSG graph.
type Node struct {
	ID       NodeID    `json:"id"`
	Kind     NodeKind  `json:"kind"`
	Name     string    `json:"name,omitempty"`
	Source   SourceRef `json:"source"`
	Children []NodeID  `json:"children,omitempty"`
	Data     NodeData  `json:"data"`
}

// NodeData is the interface for kind-specific node payloads.
type NodeData interface {
	nodeData() // marker method restricting implementations to this package
}
