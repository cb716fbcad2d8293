// Package spatial answers bounding-box queries over location geometries with
// an R-tree.
package spatial

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/dhconnelly/rtreego"

	"cabinmap/core-go/internal/geometry"
)

const (
	dimensions  = 2
	minChildren = 25
	maxChildren = 50

	// rtreego rejects zero-length sides, so markers and flat boxes are padded.
	minExtent = 1e-9
)

type entry struct {
	id   int64
	box  geometry.Box
	rect *rtreego.Rect
}

func (e *entry) Bounds() *rtreego.Rect {
	return e.rect
}

// Index is safe for concurrent use.
type Index struct {
	mu   sync.RWMutex
	tree *rtreego.Rtree
	size int
}

func New() *Index {
	return &Index{tree: rtreego.NewTree(dimensions, minChildren, maxChildren)}
}

// Insert adds id with its bounding box. The same id may be inserted more than
// once; Search returns it once.
func (x *Index) Insert(id int64, box geometry.Box) error {
	rect, err := toRect(box)
	if err != nil {
		return fmt.Errorf("index location %d: %w", id, err)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.tree.Insert(&entry{id: id, box: box, rect: rect})
	x.size++
	return nil
}

// Search returns the ids whose boxes intersect box, in ascending order.
func (x *Index) Search(box geometry.Box) ([]int64, error) {
	rect, err := toRect(box)
	if err != nil {
		return nil, fmt.Errorf("invalid bounding box: %w", err)
	}

	x.mu.RLock()
	results := x.tree.SearchIntersect(rect)
	x.mu.RUnlock()

	ids := make([]int64, 0, len(results))
	for _, r := range results {
		e, ok := r.(*entry)
		if !ok || !e.box.Intersects(box) {
			continue
		}
		ids = append(ids, e.id)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.size
}

func toRect(box geometry.Box) (*rtreego.Rect, error) {
	if box.MaxLat < box.MinLat || box.MaxLng < box.MinLng {
		return nil, fmt.Errorf("min corner (%g,%g) exceeds max corner (%g,%g)", box.MinLat, box.MinLng, box.MaxLat, box.MaxLng)
	}
	lengths := []float64{
		math.Max(box.MaxLat-box.MinLat, minExtent),
		math.Max(box.MaxLng-box.MinLng, minExtent),
	}
	return rtreego.NewRect(rtreego.Point{box.MinLat, box.MinLng}, lengths)
}
