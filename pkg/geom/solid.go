// Package geom provides the immutable Solid value shared by the compiler, the
// scene store and the editing engines.
package geom

import (
	"sync"

	"github.com/chazu/partsmith/pkg/kernel"
)

// Solid is an immutable compiled solid. The triangle mesh is computed on first
// use and cached; a Solid is safe for concurrent readers.
type Solid struct {
	handle kernel.Solid
	k      kernel.Kernel

	once sync.Once
	mesh *kernel.Mesh
	err  error
}

// New wraps a kernel solid.
func New(k kernel.Kernel, handle kernel.Solid) *Solid {
	return &Solid{handle: handle, k: k}
}

// FromMesh wraps a kernel solid whose mesh has already been computed.
func FromMesh(k kernel.Kernel, handle kernel.Solid, mesh *kernel.Mesh) *Solid {
	s := &Solid{handle: handle, k: k, mesh: mesh}
	s.once.Do(func() {})
	return s
}

// Handle returns the underlying kernel solid.
func (s *Solid) Handle() kernel.Solid { return s.handle }

// BoundingBox returns the kernel's axis-aligned bounds.
func (s *Solid) BoundingBox() (min, max [3]float64) {
	return s.handle.BoundingBox()
}

// Mesh returns the cached triangle mesh. Callers must not modify it.
func (s *Solid) Mesh() (*kernel.Mesh, error) {
	s.once.Do(func() {
		s.mesh, s.err = s.k.ToMesh(s.handle)
	})
	return s.mesh, s.err
}

// Volume returns the enclosed volume of the mesh, or 0 when meshing fails.
func (s *Solid) Volume() float64 {
	m, err := s.Mesh()
	if err != nil || m == nil {
		return 0
	}
	return m.Volume()
}

// IsEmpty reports whether the solid meshes to nothing.
func (s *Solid) IsEmpty() bool {
	m, err := s.Mesh()
	return err != nil || m == nil || m.IsEmpty()
}
