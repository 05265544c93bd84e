package scene

import (
	"math"

	"github.com/dhconnelly/rtreego"
)

// minExtent keeps flat boxes representable; rtreego rejects zero lengths.
const minExtent = 1e-9

// entry is the spatial index record for one object.
type entry struct {
	id   ID
	rect rtreego.Rect
}

func (e *entry) Bounds() rtreego.Rect { return e.rect }

// spatialIndex maps object ids to world bounding boxes in an R-tree.
type spatialIndex struct {
	tree    *rtreego.Rtree
	entries map[ID]*entry
}

func newSpatialIndex() *spatialIndex {
	return &spatialIndex{
		tree:    rtreego.NewTree(3, 4, 16),
		entries: make(map[ID]*entry),
	}
}

func toRect(min, max [3]float64) (rtreego.Rect, bool) {
	lengths := make([]float64, 3)
	for i := range lengths {
		if math.IsNaN(min[i]) || math.IsNaN(max[i]) || math.IsInf(min[i], 0) || math.IsInf(max[i], 0) {
			return rtreego.Rect{}, false
		}
		lengths[i] = math.Max(max[i]-min[i], minExtent)
	}
	r, err := rtreego.NewRect(rtreego.Point{min[0], min[1], min[2]}, lengths)
	if err != nil {
		return rtreego.Rect{}, false
	}
	return r, true
}

// put inserts or refreshes the entry for id. Objects with unusable bounds
// (for example an empty solid) are left out of the index.
func (s *spatialIndex) put(id ID, min, max [3]float64) {
	s.remove(id)
	r, ok := toRect(min, max)
	if !ok {
		return
	}
	e := &entry{id: id, rect: r}
	s.entries[id] = e
	s.tree.Insert(e)
}

func (s *spatialIndex) remove(id ID) {
	if e, ok := s.entries[id]; ok {
		s.tree.Delete(e)
		delete(s.entries, id)
	}
}

// search returns the ids whose boxes intersect [min, max].
func (s *spatialIndex) search(min, max [3]float64) map[ID]bool {
	r, ok := toRect(min, max)
	if !ok {
		return nil
	}
	hits := s.tree.SearchIntersect(r)
	out := make(map[ID]bool, len(hits))
	for _, h := range hits {
		out[h.(*entry).id] = true
	}
	return out
}

func (s *spatialIndex) len() int { return len(s.entries) }
