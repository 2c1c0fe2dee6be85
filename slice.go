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
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// SliceRequest specifies a planar cut through a 3D hierarchy.
type SliceRequest struct {
	// Axis is the axis normal to the plane: 0 for x, 1 for y, 2 for z.
	Axis int

	// Position is the physical coordinate of the plane along Axis.
	Position float64

	// Fields lists the fields to extract. Empty selects every field.
	Fields []string

	// MaxLevel is the finest level to use. A negative value selects the
	// finest level of the hierarchy.
	MaxLevel int

	// Window optionally restricts the plane to a physical rectangle. X
	// refers to the lower-numbered in-plane axis and Y to the other.
	Window *geom.Bounds
}

// LevelSlice is the plane extracted from one level. Arrays have the
// shape of Region, with the lower-numbered in-plane axis first.
type LevelSlice struct {
	Level int

	// Ratio is the cumulative refinement ratio of the level.
	Ratio int

	// Region is the in-plane index range of the pixels: the part of the
	// window spanned by the boxes of the level that reach the plane.
	Region IndexBox

	// Bounds is the physical extent of Region.
	Bounds *geom.Bounds

	// Dx is the pixel size along the two in-plane axes.
	Dx [2]float64

	// Layers are the two cell layers bracketing the plane and Frac is
	// the interpolation weight of the second one.
	Layers [2]int
	Frac   float64

	// Values holds one plane per requested field. Pixels without data
	// are NaN.
	Values []*sparse.DenseArray

	// Valid is 1 where Values hold data and 0 elsewhere.
	Valid *sparse.DenseArray

	// Covered is 1 where the cell holding the plane is covered by a finer
	// level no finer than the requested maximum level.
	Covered *sparse.DenseArray

	// Boxes holds the in-plane extents, within Region, of the boxes that
	// hold the first layer, in (box id) order.
	Boxes []IndexBox
}

// SliceResult holds the per-level planes of a slice.
type SliceResult struct {
	Axis     int
	Position float64

	// Time is the simulation time of the plotfile.
	Time float64

	// Plane holds the two in-plane axes in increasing order.
	Plane [2]int

	Fields []string

	// Levels holds one plane per level, from coarsest to finest. It
	// ends before the first level that has no boxes at the plane.
	Levels []*LevelSlice
}

// inPlane returns the axes orthogonal to axis.
func inPlane(axis int) [2]int {
	switch axis {
	case 0:
		return [2]int{1, 2}
	case 1:
		return [2]int{0, 2}
	default:
		return [2]int{0, 1}
	}
}

// Slice extracts the plane normal to req.Axis at req.Position from every
// level up to req.MaxLevel. Values are linearly interpolated between the
// two cell layers whose centers bracket the plane; at the domain faces
// the nearest layer is used. A *GeometryError is returned if the
// position is outside the domain or if no level yields any pixel.
func Slice(ctx context.Context, h *Hierarchy, req SliceRequest, d *Distributor) (*SliceResult, error) {
	const op = "slice"
	if err := h.checkData(op); err != nil {
		return nil, err
	}
	if h.Dims != 3 {
		return nil, &ConfigError{Op: op, Err: fmt.Errorf("slicing needs a 3D plotfile, this one is %dD", h.Dims)}
	}
	if req.Axis < 0 || req.Axis > 2 {
		return nil, &ConfigError{Op: op, Err: fmt.Errorf("invalid axis %d", req.Axis)}
	}
	maxLevel := req.MaxLevel
	if maxLevel < 0 {
		maxLevel = h.MaxLevel()
	} else if maxLevel > h.MaxLevel() {
		return nil, &ConfigError{Op: op, Err: fmt.Errorf("level %d is not in [0, %d]", maxLevel, h.MaxLevel())}
	}
	if p := req.Position; p < h.ProbLo[req.Axis] || p > h.ProbHi[req.Axis] || math.IsNaN(p) {
		return nil, &GeometryError{Op: op, Level: -1, Box: -1,
			Err: fmt.Errorf("position %g is outside the domain [%g, %g] along axis %d",
				p, h.ProbLo[req.Axis], h.ProbHi[req.Axis], req.Axis)}
	}
	fields, err := h.FieldIndices(req.Fields)
	if err != nil {
		return nil, err
	}
	res := &SliceResult{Axis: req.Axis, Position: req.Position, Time: h.Time, Plane: inPlane(req.Axis)}
	for _, f := range fields {
		res.Fields = append(res.Fields, h.FieldNames[f])
	}

	plans := make([]*slicePlan, maxLevel+1)
	var keys []Key
	for lev := 0; lev <= maxLevel; lev++ {
		pl := newSlicePlan(h, lev, req)
		if pl == nil {
			break
		}
		boxes := h.index.level(lev).search(pl.query())
		if len(boxes) == 0 {
			break
		}
		pl.allocate(h, boxes, len(fields))
		plans[lev] = pl
		for _, b := range boxes {
			keys = append(keys, Key{Level: lev, Box: b.ID})
		}
	}
	parts, err := Map(ctx, d, h, keys, func(ctx context.Context, k Key) (*boxSlice, error) {
		return plans[k.Level].extract(ctx, h, h.Levels[k.Level].Boxes[k.Box], fields, maxLevel)
	})
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		plans[k.Level].add(parts[i])
	}
	empty := true
	for _, pl := range plans {
		if pl == nil {
			continue
		}
		ls := pl.finish()
		if floats.Sum(ls.Valid.Elements) > 0 {
			empty = false
		}
		res.Levels = append(res.Levels, ls)
	}
	if empty {
		return nil, &GeometryError{Op: op, Level: -1, Box: -1,
			Err: fmt.Errorf("no data found at position %g along axis %d", req.Position, req.Axis)}
	}
	return res, nil
}

// slicePlan accumulates the plane of one level.
type slicePlan struct {
	level  *Level
	axis   int
	plane  [2]int
	i0, i1 int
	cell   int
	frac   float64
	window IndexBox
	region IndexBox
	bounds *geom.Bounds
	dx     [2]float64

	v0, v1       [][]float64
	have0, have1 []bool
	covered      []float64
	boxes        []IndexBox
}

// newSlicePlan returns the plan of level lev, or nil if the window does
// not intersect the level domain.
func newSlicePlan(h *Hierarchy, lev int, req SliceRequest) *slicePlan {
	l := h.Levels[lev]
	a := req.Axis
	pl := &slicePlan{level: l, axis: a, plane: inPlane(a)}

	t := (req.Position-h.ProbLo[a])/l.Dx[a] - 0.5
	if r := math.Round(t); math.Abs(t-r) < 1e-9 {
		t = r
	}
	pl.i0 = int(math.Floor(t))
	pl.frac = t - float64(pl.i0)
	switch {
	case pl.i0 < l.Domain.Lo[a]:
		pl.i0, pl.frac = l.Domain.Lo[a], 0
	case pl.i0 >= l.Domain.Hi[a]:
		pl.i0, pl.frac = l.Domain.Hi[a], 0
	}
	pl.i1 = pl.i0
	if pl.frac > 0 {
		pl.i1 = pl.i0 + 1
	}
	pl.cell = int(math.Floor((req.Position - h.ProbLo[a]) / l.Dx[a]))
	pl.cell = minInt(maxInt(pl.cell, l.Domain.Lo[a]), l.Domain.Hi[a])

	pl.window = IndexBox{Lo: make([]int, 2), Hi: make([]int, 2)}
	for i, ax := range pl.plane {
		pl.dx[i] = l.Dx[ax]
		lo, hi := l.Domain.Lo[ax], l.Domain.Hi[ax]
		if w := req.Window; w != nil {
			wmin, wmax := w.Min.X, w.Max.X
			if i == 1 {
				wmin, wmax = w.Min.Y, w.Max.Y
			}
			lo = maxInt(lo, int(math.Floor((wmin-h.ProbLo[ax])/l.Dx[ax])))
			hi = minInt(hi, int(math.Ceil((wmax-h.ProbLo[ax])/l.Dx[ax]))-1)
		}
		if hi < lo {
			return nil
		}
		pl.window.Lo[i], pl.window.Hi[i] = lo, hi
	}
	return pl
}

// allocate sets the region of the plan to the part of the window
// covered by the in-plane extents of boxes, which must intersect the
// window, and allocates the layers.
func (pl *slicePlan) allocate(h *Hierarchy, boxes []*Box, nfields int) {
	pl.region = IndexBox{Lo: make([]int, 2), Hi: make([]int, 2)}
	for i, ax := range pl.plane {
		lo, hi := boxes[0].Index.Lo[ax], boxes[0].Index.Hi[ax]
		for _, b := range boxes[1:] {
			lo = minInt(lo, b.Index.Lo[ax])
			hi = maxInt(hi, b.Index.Hi[ax])
		}
		pl.region.Lo[i] = maxInt(lo, pl.window.Lo[i])
		pl.region.Hi[i] = minInt(hi, pl.window.Hi[i])
	}
	pl.bounds = geom.NewBounds()
	pl.bounds.Min = geom.Point{
		X: h.ProbLo[pl.plane[0]] + float64(pl.region.Lo[0])*pl.dx[0],
		Y: h.ProbLo[pl.plane[1]] + float64(pl.region.Lo[1])*pl.dx[1],
	}
	pl.bounds.Max = geom.Point{
		X: h.ProbLo[pl.plane[0]] + float64(pl.region.Hi[0]+1)*pl.dx[0],
		Y: h.ProbLo[pl.plane[1]] + float64(pl.region.Hi[1]+1)*pl.dx[1],
	}

	n := pl.region.NumCells()
	pl.v0 = make([][]float64, nfields)
	pl.v1 = make([][]float64, nfields)
	for f := range pl.v0 {
		pl.v0[f] = make([]float64, n)
		pl.v1[f] = make([]float64, n)
	}
	pl.have0 = make([]bool, n)
	pl.have1 = make([]bool, n)
	pl.covered = make([]float64, n)
}

// query returns the 3D index box holding every cell the plan needs.
func (pl *slicePlan) query() IndexBox {
	q := IndexBox{Lo: make([]int, 3), Hi: make([]int, 3)}
	q.Lo[pl.axis] = minInt(pl.i0, pl.cell)
	q.Hi[pl.axis] = maxInt(pl.i1, pl.cell)
	for i, ax := range pl.plane {
		q.Lo[ax], q.Hi[ax] = pl.window.Lo[i], pl.window.Hi[i]
	}
	return q
}

// boxSlice holds the layers of one box that a plan needs.
type boxSlice struct {
	region  IndexBox
	v0, v1  [][]float64
	covered []float64
}

// extract reads box b and copies out the layers the plan needs.
func (pl *slicePlan) extract(ctx context.Context, h *Hierarchy, b *Box, fields []int, maxLevel int) (*boxSlice, error) {
	bs := &boxSlice{region: IndexBox{Lo: make([]int, 2), Hi: make([]int, 2)}}
	for i, ax := range pl.plane {
		bs.region.Lo[i] = maxInt(pl.region.Lo[i], b.Index.Lo[ax])
		bs.region.Hi[i] = minInt(pl.region.Hi[i], b.Index.Hi[ax])
	}
	blk, err := h.ReadBlock(ctx, b, fields, WidthAuto)
	if err != nil {
		return nil, err
	}
	in := func(layer int) bool { return layer >= b.Index.Lo[pl.axis] && layer <= b.Index.Hi[pl.axis] }
	idx := make([]int, 3)
	layer := func(k int, get func(i int) float64) []float64 {
		o := make([]float64, bs.region.NumCells())
		idx[pl.axis] = k
		p := 0
		for i := bs.region.Lo[0]; i <= bs.region.Hi[0]; i++ {
			for j := bs.region.Lo[1]; j <= bs.region.Hi[1]; j++ {
				idx[pl.plane[0]], idx[pl.plane[1]] = i, j
				o[p] = get(b.Index.Offset(idx))
				p++
			}
		}
		return o
	}
	for _, a := range blk.Data {
		get := func(i int) float64 { return a.Elements[i] }
		if in(pl.i0) {
			bs.v0 = append(bs.v0, layer(pl.i0, get))
		}
		if pl.i1 != pl.i0 && in(pl.i1) {
			bs.v1 = append(bs.v1, layer(pl.i1, get))
		}
	}
	if in(pl.cell) {
		mask, err := h.Coverage().MaskUpTo(ctx, b, maxLevel)
		if err != nil {
			return nil, err
		}
		bs.covered = layer(pl.cell, func(i int) float64 {
			if mask.Elements[i] > 0 {
				return 1
			}
			return 0
		})
	}
	return bs, nil
}

// add copies the layers of one box into the plan.
func (pl *slicePlan) add(bs *boxSlice) {
	if len(bs.v0) > 0 {
		pl.boxes = append(pl.boxes, bs.region)
	}
	n1 := pl.region.Hi[1] - pl.region.Lo[1] + 1
	p := 0
	for i := bs.region.Lo[0]; i <= bs.region.Hi[0]; i++ {
		for j := bs.region.Lo[1]; j <= bs.region.Hi[1]; j++ {
			q := (i-pl.region.Lo[0])*n1 + j - pl.region.Lo[1]
			for f := range bs.v0 {
				pl.v0[f][q] = bs.v0[f][p]
				pl.have0[q] = true
			}
			for f := range bs.v1 {
				pl.v1[f][q] = bs.v1[f][p]
				pl.have1[q] = true
			}
			if bs.covered != nil {
				pl.covered[q] = bs.covered[p]
			}
			p++
		}
	}
}

// finish combines the two layers of the plan.
func (pl *slicePlan) finish() *LevelSlice {
	shape := pl.region.Shape()
	ls := &LevelSlice{
		Level:   pl.level.Index,
		Ratio:   pl.level.Ratio,
		Region:  pl.region,
		Bounds:  pl.bounds,
		Dx:      pl.dx,
		Layers:  [2]int{pl.i0, pl.i1},
		Frac:    pl.frac,
		Values:  make([]*sparse.DenseArray, len(pl.v0)),
		Valid:   sparse.ZerosDense(shape[0], shape[1]),
		Covered: sparse.ZerosDense(shape[0], shape[1]),
		Boxes:   pl.boxes,
	}
	copy(ls.Covered.Elements, pl.covered)
	for f := range ls.Values {
		ls.Values[f] = sparse.ZerosDense(shape[0], shape[1])
	}
	for q := range pl.have0 {
		ok := pl.have0[q] && (pl.frac == 0 || pl.have1[q])
		if ok {
			ls.Valid.Elements[q] = 1
		}
		for f, v := range ls.Values {
			switch {
			case !ok:
				v.Elements[q] = math.NaN()
			case pl.frac == 0:
				v.Elements[q] = pl.v0[f][q]
			default:
				v.Elements[q] = (1-pl.frac)*pl.v0[f][q] + pl.frac*pl.v1[f][q]
			}
		}
	}
	return ls
}

// DensePlane is a slice merged over levels onto the pixels of the
// finest level.
type DensePlane struct {
	Field string

	// Data has the shape of the finest level plane. Pixels that no level
	// produced are NaN.
	Data *sparse.DenseArray

	// Level holds the level each pixel was taken from, or -1.
	Level *sparse.DenseArrayInt

	// Region is the index range of the pixels in the finest level: the
	// region of the coarsest plane, refined.
	Region IndexBox

	Bounds *geom.Bounds
	Dx     [2]float64

	// GapPixels counts the coarse pixels that are covered by a finer
	// level but for which the finer level produced no value, so that the
	// coarse value was kept. This happens where the plane is within
	// half a fine cell of the edge of a fine box.
	GapPixels int
}

// Dense merges the levels of r into one plane at the resolution of the
// finest level. Finer values replace coarser ones wherever they exist.
func (r *SliceResult) Dense(field string) (*DensePlane, error) {
	return r.DenseLevel(field, len(r.Levels)-1)
}

// DenseLevel is like Dense, but merges only r.Levels[0] through
// r.Levels[level] onto the pixels of r.Levels[level].
func (r *SliceResult) DenseLevel(field string, level int) (*DensePlane, error) {
	fi := -1
	for i, f := range r.Fields {
		if f == field {
			fi = i
		}
	}
	if fi < 0 {
		return nil, &UnknownFieldError{Field: field, Available: r.Fields}
	}
	if level < 0 || level >= len(r.Levels) {
		return nil, &GeometryError{Op: "dense slice", Level: -1, Box: -1, Err: fmt.Errorf("slice has no level %d", level)}
	}
	fine := r.Levels[level]
	base := r.Levels[0]
	region := base.Region.Refine(fine.Ratio / base.Ratio)
	shape := region.Shape()
	dp := &DensePlane{
		Field:  field,
		Data:   sparse.ZerosDense(shape[0], shape[1]),
		Level:  sparse.ZerosDenseInt(shape[0], shape[1]),
		Region: region,
		Bounds: base.Bounds,
		Dx:     fine.Dx,
	}
	for i := range dp.Data.Elements {
		dp.Data.Elements[i] = math.NaN()
		dp.Level.Elements[i] = -1
	}
	for li, ls := range r.Levels[:level+1] {
		ratio := fine.Ratio / ls.Ratio
		n1 := ls.Region.Hi[1] - ls.Region.Lo[1] + 1
		q := 0
		for i := 0; i < shape[0]; i++ {
			ci := floorDiv(region.Lo[0]+i, ratio)
			for j := 0; j < shape[1]; j++ {
				cj := floorDiv(region.Lo[1]+j, ratio)
				if ci >= ls.Region.Lo[0] && ci <= ls.Region.Hi[0] && cj >= ls.Region.Lo[1] && cj <= ls.Region.Hi[1] {
					p := (ci-ls.Region.Lo[0])*n1 + cj - ls.Region.Lo[1]
					if ls.Valid.Elements[p] > 0 {
						dp.Data.Elements[q] = ls.Values[fi].Elements[p]
						dp.Level.Elements[q] = li
					}
				}
				q++
			}
		}
	}
	for li, ls := range r.Levels[:level] {
		dp.GapPixels += gapPixels(ls, li, fine.Ratio, region, dp.Level)
	}
	return dp, nil
}

// gapPixels counts the valid, covered pixels of ls whose value is still
// shown somewhere in the merged plane.
func gapPixels(ls *LevelSlice, li int, fineRatio int, region IndexBox, level *sparse.DenseArrayInt) int {
	ratio := fineRatio / ls.Ratio
	n1f := region.Hi[1] - region.Lo[1] + 1
	n := 0
	p := 0
	for ci := ls.Region.Lo[0]; ci <= ls.Region.Hi[0]; ci++ {
		for cj := ls.Region.Lo[1]; cj <= ls.Region.Hi[1]; cj++ {
			if ls.Valid.Elements[p] > 0 && ls.Covered.Elements[p] > 0 {
				gap := false
				for i := maxInt(ci*ratio, region.Lo[0]); i <= minInt((ci+1)*ratio-1, region.Hi[0]) && !gap; i++ {
					for j := maxInt(cj*ratio, region.Lo[1]); j <= minInt((cj+1)*ratio-1, region.Hi[1]); j++ {
						if level.Elements[(i-region.Lo[0])*n1f+j-region.Lo[1]] == li {
							gap = true
							break
						}
					}
				}
				if gap {
					n++
				}
			}
			p++
		}
	}
	return n
}
