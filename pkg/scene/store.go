package scene

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/engine"
	"github.com/chazu/partsmith/pkg/geom"
	"github.com/chazu/partsmith/pkg/kernel"
	"github.com/chazu/partsmith/pkg/xform"
	"github.com/samber/lo"
)

// DefaultColor is used when an object is added without one.
const DefaultColor = "#8a9bb0"

// Spec describes an object to add from a compile result.
type Spec struct {
	Name       string
	Color      string
	Source     Source
	Transform  *xform.Transform // nil means identity
	Provenance Provenance
}

// Store is the ordered object collection. It is not safe for concurrent
// use; the editor serializes every call.
type Store struct {
	k       kernel.Kernel
	objects []*Object
	byID    map[ID]*Object
	spatial *spatialIndex
	now     func() time.Time
}

// NewStore returns an empty store whose transformed solids are built with k.
func NewStore(k kernel.Kernel) *Store {
	return &Store{
		k:       k,
		byID:    make(map[ID]*Object),
		spatial: newSpatialIndex(),
		now:     time.Now,
	}
}

// Kernel returns the kernel used to place solids.
func (s *Store) Kernel() kernel.Kernel { return s.k }

// Add appends a new object built from a successful compile result. A failed
// result is rejected with InvalidGeometry and the store is unchanged.
func (s *Store) Add(res engine.Result, spec Spec) (*Object, error) {
	obj, err := s.Build(res, spec)
	if err != nil {
		return nil, err
	}
	s.Insert(obj, len(s.objects))
	return obj, nil
}

// Build makes the object Add would append without inserting it.
func (s *Store) Build(res engine.Result, spec Spec) (*Object, error) {
	if !res.OK() {
		msg := "compile result carries no solid"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		return nil, &caderr.Error{Kind: caderr.InvalidGeometry, Message: msg, Err: res.Error()}
	}
	t := xform.Identity()
	if spec.Transform != nil {
		t = *spec.Transform
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	obj := &Object{
		ID:         NewID(),
		Name:       spec.Name,
		Color:      lo.Ternary(spec.Color == "", DefaultColor, spec.Color),
		Source:     spec.Source,
		Transform:  t,
		Base:       res.Solid,
		Solid:      Place(s.k, res.Solid, t),
		Provenance: lo.Ternary(spec.Provenance == "", FromCode, spec.Provenance),
		CreatedAt:  s.now(),
	}
	obj.Source.Binding = spec.Source.Binding.Clone()
	if obj.Name == "" {
		obj.Name = fmt.Sprintf("Object %d", len(s.objects)+1)
	}
	return obj, nil
}

// Insert places obj at index (clamped to the valid range). Inserting an id
// that is already present is a programming error and panics.
func (s *Store) Insert(obj *Object, index int) {
	if _, dup := s.byID[obj.ID]; dup {
		panic(fmt.Sprintf("scene: duplicate object id %s", obj.ID))
	}
	index = max(0, min(index, len(s.objects)))
	s.objects = slices.Insert(s.objects, index, obj)
	s.byID[obj.ID] = obj
	s.index(obj)
}

// Replace swaps in a new version of an existing object, keeping its position.
func (s *Store) Replace(obj *Object) error {
	i := s.IndexOf(obj.ID)
	if i < 0 {
		return caderr.New(caderr.NotFound, "object %s not found", obj.ID)
	}
	s.objects[i] = obj
	s.byID[obj.ID] = obj
	s.index(obj)
	return nil
}

// Remove deletes the object and returns it with its former index.
func (s *Store) Remove(id ID) (*Object, int, error) {
	i := s.IndexOf(id)
	if i < 0 {
		return nil, -1, caderr.New(caderr.NotFound, "object %s not found", id)
	}
	obj := s.objects[i]
	s.objects = slices.Delete(s.objects, i, i+1)
	delete(s.byID, id)
	s.spatial.remove(id)
	return obj, i, nil
}

// Get returns the object with id.
func (s *Store) Get(id ID) (*Object, error) {
	obj, ok := s.byID[id]
	if !ok {
		return nil, caderr.New(caderr.NotFound, "object %s not found", id)
	}
	return obj, nil
}

// Has reports whether id is in the store.
func (s *Store) Has(id ID) bool {
	_, ok := s.byID[id]
	return ok
}

// IndexOf returns the position of id, or -1.
func (s *Store) IndexOf(id ID) int {
	return slices.IndexFunc(s.objects, func(o *Object) bool { return o.ID == id })
}

// Len returns the number of objects, hidden ones included.
func (s *Store) Len() int { return len(s.objects) }

// Objects returns all objects in insertion order.
func (s *Store) Objects() []*Object { return slices.Clone(s.objects) }

// Visible returns the objects that are not hidden, in insertion order.
func (s *Store) Visible() []*Object {
	return lo.Filter(s.objects, func(o *Object, _ int) bool { return !o.Hidden })
}

// Bounds returns the box enclosing every visible object. ok is false when
// nothing is visible.
func (s *Store) Bounds() (min, max [3]float64, ok bool) {
	for i := range min {
		min[i], max[i] = math.Inf(1), math.Inf(-1)
	}
	for _, o := range s.Visible() {
		omin, omax := o.Bounds()
		for i := range min {
			min[i] = math.Min(min[i], omin[i])
			max[i] = math.Max(max[i], omax[i])
		}
		ok = true
	}
	return min, max, ok
}

// Overlapping reports whether the bounding boxes of all of ids share a
// common region. It is the fast reject used before intersecting.
func (s *Store) Overlapping(ids ...ID) bool {
	if len(ids) == 0 {
		return false
	}
	var cmin, cmax [3]float64
	for n, id := range ids {
		obj, ok := s.byID[id]
		if !ok {
			return false
		}
		omin, omax := obj.Bounds()
		if n == 0 {
			cmin, cmax = omin, omax
			continue
		}
		for i := range cmin {
			cmin[i] = math.Max(cmin[i], omin[i])
			cmax[i] = math.Min(cmax[i], omax[i])
			if cmin[i] > cmax[i] {
				return false
			}
		}
	}
	hits := s.spatial.search(cmin, cmax)
	return lo.EveryBy(ids, func(id ID) bool { return hits[id] })
}

func (s *Store) index(obj *Object) {
	if obj.Solid == nil {
		s.spatial.remove(obj.ID)
		return
	}
	min, max := obj.Bounds()
	s.spatial.put(obj.ID, min, max)
}

// Place returns base positioned by t, sharing base when t is the identity.
func Place(k kernel.Kernel, base *geom.Solid, t xform.Transform) *geom.Solid {
	if base == nil || t.IsIdentity(0) {
		return base
	}
	return geom.New(k, k.Place(base.Handle(), t.Placement()))
}
