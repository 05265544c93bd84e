package kernel

import (
	"math"
)

// Mesh is a triangle mesh suitable for rendering.
// All arrays are flat: vertices has 3 floats per vertex (x,y,z),
// normals has 3 floats per vertex, indices has 3 uint32s per triangle.
type Mesh struct {
	Vertices []float32 `json:"vertices"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float32 `json:"normals"`  // [nx0,ny0,nz0, ...]
	Indices  []uint32  `json:"indices"`  // [i0,i1,i2, ...] triangles
	PartName string    `json:"partName"` // which scene object this came from
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

func (m *Mesh) vertex(i uint32) [3]float64 {
	return [3]float64{
		float64(m.Vertices[i*3]),
		float64(m.Vertices[i*3+1]),
		float64(m.Vertices[i*3+2]),
	}
}

// Volume returns the enclosed volume using the divergence theorem: the sum
// of signed tetrahedra spanned by each triangle and the origin. The result is
// only meaningful for closed meshes; the sign of the winding is ignored.
func (m *Mesh) Volume() float64 {
	var sum float64
	for t := 0; t+2 < len(m.Indices); t += 3 {
		a := m.vertex(m.Indices[t])
		b := m.vertex(m.Indices[t+1])
		c := m.vertex(m.Indices[t+2])
		sum += a[0]*(b[1]*c[2]-b[2]*c[1]) -
			a[1]*(b[0]*c[2]-b[2]*c[0]) +
			a[2]*(b[0]*c[1]-b[1]*c[0])
	}
	return math.Abs(sum) / 6
}

// Bounds returns the axis-aligned bounds of the vertices. ok is false for an
// empty mesh.
func (m *Mesh) Bounds() (min, max [3]float64, ok bool) {
	if m.IsEmpty() {
		return min, max, false
	}
	for i := 0; i < 3; i++ {
		min[i] = math.Inf(1)
		max[i] = math.Inf(-1)
	}
	for v := 0; v < len(m.Vertices); v += 3 {
		for i := 0; i < 3; i++ {
			f := float64(m.Vertices[v+i])
			min[i] = math.Min(min[i], f)
			max[i] = math.Max(max[i], f)
		}
	}
	return min, max, true
}

// weldKey quantizes a vertex so that coincident vertices from neighbouring
// triangles compare equal.
type weldKey [3]int64

const weldQuantum = 1e-4

func keyOf(v [3]float64) weldKey {
	return weldKey{
		int64(math.Round(v[0] / weldQuantum)),
		int64(math.Round(v[1] / weldQuantum)),
		int64(math.Round(v[2] / weldQuantum)),
	}
}

// IsClosed reports whether every edge of the welded mesh is shared by exactly
// two triangles, i.e. the surface is watertight.
func (m *Mesh) IsClosed() bool {
	if m.TriangleCount() == 0 {
		return false
	}
	ids := make(map[weldKey]int)
	id := func(i uint32) int {
		k := keyOf(m.vertex(i))
		n, ok := ids[k]
		if !ok {
			n = len(ids)
			ids[k] = n
		}
		return n
	}
	type edge struct{ a, b int }
	edges := make(map[edge]int)
	for t := 0; t+2 < len(m.Indices); t += 3 {
		v := [3]int{id(m.Indices[t]), id(m.Indices[t+1]), id(m.Indices[t+2])}
		if v[0] == v[1] || v[1] == v[2] || v[0] == v[2] {
			continue // degenerate sliver, contributes no edges
		}
		for j := 0; j < 3; j++ {
			a, b := v[j], v[(j+1)%3]
			if a > b {
				a, b = b, a
			}
			edges[edge{a, b}]++
		}
	}
	for _, n := range edges {
		if n != 2 {
			return false
		}
	}
	return len(edges) > 0
}

// Merge concatenates meshes into one, re-basing indices.
func Merge(name string, meshes ...*Mesh) *Mesh {
	out := &Mesh{PartName: name}
	for _, m := range meshes {
		if m == nil {
			continue
		}
		base := uint32(out.VertexCount())
		out.Vertices = append(out.Vertices, m.Vertices...)
		out.Normals = append(out.Normals, m.Normals...)
		for _, idx := range m.Indices {
			out.Indices = append(out.Indices, base+idx)
		}
	}
	return out
}
