package scene

import (
	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/kernel"
	"github.com/chazu/partsmith/pkg/xform"
)

// ApplyTransform returns a copy of obj with delta composed into its
// cumulative transform. The world solid is regenerated from Base in one
// placement, never from the previous world solid, so repeated edits do not
// compound resampling error. obj itself is not modified; on error it is
// still the current version.
func ApplyTransform(k kernel.Kernel, obj *Object, delta xform.Delta) (*Object, error) {
	if obj.Base == nil {
		return nil, caderr.New(caderr.InvalidGeometry, "object %s has no geometry", obj.ID)
	}
	t, err := obj.Transform.Compose(delta)
	if err != nil {
		return nil, err
	}
	return SetTransform(k, obj, t), nil
}

// SetTransform returns a copy of obj placed by t. t must already be valid.
func SetTransform(k kernel.Kernel, obj *Object, t xform.Transform) *Object {
	return obj.With(func(o *Object) {
		o.Transform = t
		o.Solid = Place(k, o.Base, t)
	})
}
