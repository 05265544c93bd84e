// Package scene holds the ordered set of compiled objects the editor works on.
package scene

import (
	"time"

	"github.com/chazu/partsmith/pkg/geom"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/chazu/partsmith/pkg/xform"
	"github.com/google/uuid"
)

// ID identifies an object. Ids are random and never reused.
type ID string

// NewID returns a fresh object id.
func NewID() ID { return ID(uuid.NewString()) }

func (id ID) String() string { return string(id) }

// Provenance records where an object's geometry came from.
type Provenance string

const (
	FromCode      Provenance = "code"
	FromTemplate  Provenance = "template"
	FromGenerated Provenance = "generated"
)

// BooleanProvenance is the provenance of a combine result.
func BooleanProvenance(op string) Provenance { return Provenance("boolean:" + op) }

// IsBoolean reports whether the object came from a boolean combine.
func (p Provenance) IsBoolean() bool { return len(p) > 8 && p[:8] == "boolean:" }

// Source is the program and parameters an object was compiled from. Boolean
// results have none.
type Source struct {
	Code    string         `json:"code"`
	Schema  params.Schema  `json:"schema,omitempty"`
	Binding params.Binding `json:"binding,omitempty"`
}

// Parametric reports whether the object can be recompiled.
func (s Source) Parametric() bool { return s.Code != "" }

// Object is one scene entry. It is a value: every change builds a new Object
// and replaces the pointer in the Store, so a *Object handed out earlier
// never changes under the holder.
type Object struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Source Source `json:"source"`

	Transform xform.Transform `json:"transform"`

	// Base is the compiled solid in object-local space; Solid is Base
	// placed by Transform.
	Base  *geom.Solid `json:"-"`
	Solid *geom.Solid `json:"-"`

	Hidden     bool       `json:"hidden,omitempty"`
	Provenance Provenance `json:"provenance"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// clone returns a shallow copy; solids are immutable and shared.
func (o *Object) clone() *Object {
	c := *o
	c.Source.Binding = o.Source.Binding.Clone()
	return &c
}

// With returns a copy of o with fn applied.
func (o *Object) With(fn func(*Object)) *Object {
	c := o.clone()
	fn(c)
	return c
}

// Bounds returns the world-space bounding box.
func (o *Object) Bounds() (min, max [3]float64) {
	return o.Solid.BoundingBox()
}
