/*
Copyright © 2024 the AMRKit authors.
This file is part of AMRKit.

AMRKit is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AMRKit is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AMRKit.  If not, see <http://www.gnu.org/licenses/>.*/

package amrkit

import (
	"sort"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// bboxOffset shrinks the bounds of index boxes in the tree so that boxes
// that only share a face do not intersect.
const bboxOffset = 0.25

// indexedBox is a box as stored in an rtree. Only the first two axes are
// indexed; the exact intersection test covers the rest.
type indexedBox struct {
	*Box
	bounds *geom.Bounds
}

func (b indexedBox) Bounds() *geom.Bounds { return b.bounds }

// treeBounds returns the bounds of the cells of ib along the first two
// axes, shrunk by bboxOffset.
func treeBounds(ib IndexBox) *geom.Bounds {
	b := &geom.Bounds{
		Min: geom.Point{X: float64(ib.Lo[0]) + bboxOffset, Y: bboxOffset},
		Max: geom.Point{X: float64(ib.Hi[0]+1) - bboxOffset, Y: 1 - bboxOffset},
	}
	if len(ib.Lo) > 1 {
		b.Min.Y = float64(ib.Lo[1]) + bboxOffset
		b.Max.Y = float64(ib.Hi[1]+1) - bboxOffset
	}
	return b
}

// levelIndex finds the boxes of one level that intersect a query box.
type levelIndex struct {
	tree *rtree.Rtree
}

func newLevelIndex(boxes []*Box) *levelIndex {
	idx := &levelIndex{tree: rtree.NewTree(25, 50)}
	for _, b := range boxes {
		idx.tree.Insert(indexedBox{Box: b, bounds: treeBounds(b.Index)})
	}
	return idx
}

// search returns the boxes intersecting q, ordered by box id.
func (idx *levelIndex) search(q IndexBox) []*Box {
	var o []*Box
	for _, s := range idx.tree.SearchIntersect(treeBounds(q)) {
		b := s.(indexedBox).Box
		if _, ok := b.Index.Intersect(q); ok {
			o = append(o, b)
		}
	}
	sort.Slice(o, func(i, j int) bool { return o[i].ID < o[j].ID })
	return o
}

// indexes lazily builds one levelIndex per level of a hierarchy, and
// the hierarchy's coverage resolver.
type indexes struct {
	once []sync.Once
	idx  []*levelIndex
	h    *Hierarchy

	covOnce sync.Once
	cov     *Coverage
}

func newIndexes(h *Hierarchy) *indexes {
	return &indexes{
		once: make([]sync.Once, len(h.Levels)),
		idx:  make([]*levelIndex, len(h.Levels)),
		h:    h,
	}
}

func (x *indexes) level(l int) *levelIndex {
	x.once[l].Do(func() { x.idx[l] = newLevelIndex(x.h.Levels[l].Boxes) })
	return x.idx[l]
}

// Coverage returns the coverage resolver of h, which is created on first
// use and shared by every operation on h.
func (h *Hierarchy) Coverage() *Coverage {
	h.index.covOnce.Do(func() { h.index.cov = NewCoverage(h, 0) })
	return h.index.cov
}

// Neighbors lists the ids of the same-level boxes that touch each face
// of a box. Low[d] holds the boxes adjacent to the lower face along
// dimension d and High[d] those adjacent to the upper face.
type Neighbors struct {
	Low, High [][]int
}

// Adjacency returns, for every box of the given level, the boxes of the
// same level that share a face with it, which are the boxes that supply
// its ghost cells.
func (h *Hierarchy) Adjacency(level int) []Neighbors {
	l := h.Levels[level]
	idx := newLevelIndex(l.Boxes)
	o := make([]Neighbors, len(l.Boxes))
	for i, b := range l.Boxes {
		n := Neighbors{Low: make([][]int, h.Dims), High: make([][]int, h.Dims)}
		for d := 0; d < h.Dims; d++ {
			lo := NewIndexBox(b.Index.Lo, b.Index.Hi)
			lo.Lo[d], lo.Hi[d] = b.Index.Lo[d]-1, b.Index.Lo[d]-1
			for _, nb := range idx.search(lo) {
				n.Low[d] = append(n.Low[d], nb.ID)
			}
			hi := NewIndexBox(b.Index.Lo, b.Index.Hi)
			hi.Lo[d], hi.Hi[d] = b.Index.Hi[d]+1, b.Index.Hi[d]+1
			for _, nb := range idx.search(hi) {
				n.High[d] = append(n.High[d], nb.ID)
			}
		}
		o[i] = n
	}
	return o
}
