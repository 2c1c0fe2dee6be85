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
	"context"
	"fmt"
	"runtime"

	"github.com/ctessum/requestcache"
	"github.com/ctessum/sparse"
)

// DefaultCoverageCacheSize is the number of masks a Coverage keeps in
// memory when no size is given.
const DefaultCoverageCacheSize = 1000

// Coverage computes which cells of each box are covered by boxes of finer
// levels. Masks hold, for every cell of a box, the fraction of the cell
// volume that is covered, in [0, 1]. With properly nested levels and
// integer refinement ratios every value is either 0 or 1.
//
// Masks are computed lazily and cached; a Coverage is safe for
// concurrent use. Callers must not modify the returned masks.
type Coverage struct {
	h     *Hierarchy
	cache *requestcache.Cache
}

type maskRequest struct {
	box      *Box
	maxLevel int
}

// NewCoverage returns a coverage resolver for h that caches up to
// cacheSize masks. A cacheSize <= 0 selects DefaultCoverageCacheSize.
func NewCoverage(h *Hierarchy, cacheSize int) *Coverage {
	if cacheSize <= 0 {
		cacheSize = DefaultCoverageCacheSize
	}
	c := &Coverage{h: h}
	c.cache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
		r := request.(maskRequest)
		return c.compute(r.box, r.maxLevel), nil
	}, runtime.GOMAXPROCS(-1), requestcache.Deduplicate(), requestcache.Memory(cacheSize))
	return c
}

// Mask returns the coverage of box b by every finer level.
func (c *Coverage) Mask(ctx context.Context, b *Box) (*sparse.DenseArray, error) {
	return c.MaskUpTo(ctx, b, c.h.MaxLevel())
}

// MaskUpTo returns the coverage of box b by the levels finer than b and
// no finer than maxLevel. It returns an all-zero mask if maxLevel is not
// finer than the level of b.
func (c *Coverage) MaskUpTo(ctx context.Context, b *Box, maxLevel int) (*sparse.DenseArray, error) {
	if err := c.h.checkData("coverage"); err != nil {
		return nil, err
	}
	if maxLevel > c.h.MaxLevel() {
		maxLevel = c.h.MaxLevel()
	}
	if maxLevel < b.Level {
		maxLevel = b.Level
	}
	req := c.cache.NewRequest(ctx, maskRequest{box: b, maxLevel: maxLevel},
		fmt.Sprintf("%d_%d_%d", b.Level, b.ID, maxLevel))
	result, err := req.Result()
	if err != nil {
		return nil, err
	}
	return result.(*sparse.DenseArray), nil
}

// compute builds the mask of b. The contributions of the boxes of one
// finer level are summed, because they do not overlap, and the levels
// are combined by taking the maximum, because each finer level lies
// within the next coarser one.
func (c *Coverage) compute(b *Box, maxLevel int) *sparse.DenseArray {
	shape := b.Shape()
	mask := sparse.ZerosDense(shape...)
	base := c.h.Levels[b.Level]
	for lev := b.Level + 1; lev <= maxLevel; lev++ {
		fine := c.h.Levels[lev]
		r := fine.Ratio / base.Ratio
		covered := sparse.ZerosDense(shape...)
		for _, fb := range c.h.index.level(lev).search(b.Index.Refine(r)) {
			addCoverage(covered, b.Index, fb.Index, r)
		}
		for i, v := range covered.Elements {
			if v > 1 {
				v = 1
			}
			if v > mask.Elements[i] {
				mask.Elements[i] = v
			}
		}
	}
	return mask
}

// addCoverage adds to dst, which has the shape of the coarse box cb, the
// fraction of each coarse cell covered by the fine box fb. Ratio is the
// refinement ratio between the two index spaces.
func addCoverage(dst *sparse.DenseArray, cb, fb IndexBox, ratio int) {
	ov, ok := fb.Intersect(cb.Refine(ratio))
	if !ok {
		return
	}
	region := ov.Coarsen(ratio)
	n := region.Dims()
	// Along each dimension the covered fraction of a coarse cell only
	// depends on its index along that dimension.
	frac := make([][]float64, n)
	for d := 0; d < n; d++ {
		frac[d] = make([]float64, region.Hi[d]-region.Lo[d]+1)
		for i := range frac[d] {
			c := region.Lo[d] + i
			lo := maxInt(c*ratio, ov.Lo[d])
			hi := minInt((c+1)*ratio-1, ov.Hi[d])
			frac[d][i] = float64(hi-lo+1) / float64(ratio)
		}
	}
	idx := make([]int, n)
	copy(idx, region.Lo)
	for {
		v := 1.0
		for d := 0; d < n; d++ {
			v *= frac[d][idx[d]-region.Lo[d]]
		}
		dst.Elements[cb.Offset(idx)] += v
		d := n - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] <= region.Hi[d] {
				break
			}
			idx[d] = region.Lo[d]
		}
		if d < 0 {
			return
		}
	}
}
