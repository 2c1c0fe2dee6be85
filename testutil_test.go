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
	"testing"

	"github.com/ctessum/sparse"
)

// testLayout describes a synthetic plotfile. Level 0 has n cells along
// every axis of the domain [0, size]^dims and each finer level is ratio
// times finer than the last.
type testLayout struct {
	dims  int
	n     int
	size  float64
	ratio int

	// boxes holds the index boxes of each level. The boxes of each level
	// are split across filesPerLevel data files.
	boxes         [][]IndexBox
	filesPerLevel int

	fields []string

	// value returns the value of field f at the cell center x of a cell
	// at level lev.
	value func(f int, lev int, x []float64) float64

	width Width
}

// uniformBoxes splits the domain of a level with m cells per axis into
// boxes with edge length k.
func uniformBoxes(dims, m, k int) []IndexBox {
	var o []IndexBox
	idx := make([]int, dims)
	for {
		lo, hi := make([]int, dims), make([]int, dims)
		for d := range idx {
			lo[d] = idx[d] * k
			hi[d] = minInt(lo[d]+k, m) - 1
		}
		o = append(o, NewIndexBox(lo, hi))
		d := dims - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d]*k < m {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return o
		}
	}
}

// template returns the geometry of the layout.
func (tl testLayout) template() *Hierarchy {
	h := &Hierarchy{
		Dims:   tl.dims,
		Time:   1.5,
		ProbLo: make([]float64, tl.dims),
		ProbHi: make([]float64, tl.dims),
	}
	for d := range h.ProbHi {
		h.ProbHi[d] = tl.size
	}
	ratio := 1
	for lev, boxes := range tl.boxes {
		m := tl.n * ratio
		l := &Level{
			Index:    lev,
			RefRatio: tl.ratio,
			Dx:       make([]float64, tl.dims),
			Domain:   NewIndexBox(make([]int, tl.dims), make([]int, tl.dims)),
			Step:     10 * (lev + 1),
		}
		if lev == 0 {
			l.RefRatio = 1
		}
		for d := range l.Dx {
			l.Dx[d] = tl.size / float64(m)
			l.Domain.Hi[d] = m - 1
		}
		for i, b := range boxes {
			l.Boxes = append(l.Boxes, &Box{Level: lev, ID: i, Index: b})
		}
		h.Levels = append(h.Levels, l)
		ratio *= tl.ratio
	}
	return h
}

// cellCenter returns the center of cell idx of level l of h.
func cellCenter(h *Hierarchy, l *Level, idx []int) []float64 {
	x := make([]float64, len(idx))
	for d := range idx {
		x[d] = h.ProbLo[d] + (float64(idx[d])+0.5)*l.Dx[d]
	}
	return x
}

// forEachCell calls fn with the index and row-major position of every
// cell of b.
func forEachCell(b IndexBox, fn func(idx []int, p int)) {
	idx := append([]int{}, b.Lo...)
	n := b.NumCells()
	for p := 0; p < n; p++ {
		fn(idx, p)
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] <= b.Hi[d] {
				break
			}
			idx[d] = b.Lo[d]
		}
	}
}

// write writes the layout to a new temporary directory and returns the
// hierarchy parsed back from it.
func (tl testLayout) write(t testing.TB) *Hierarchy {
	t.Helper()
	return tl.writeTo(t, DirStorage(t.TempDir()))
}

// writeTo writes the layout to s and returns the hierarchy parsed back
// from it.
func (tl testLayout) writeTo(t testing.TB, s Storage) *Hierarchy {
	t.Helper()
	tmpl := tl.template()
	pw, err := NewPlotfileWriter(s, tmpl, tl.fields)
	if err != nil {
		t.Fatal(err)
	}
	nfiles := tl.filesPerLevel
	if nfiles < 1 {
		nfiles = 1
	}
	w := tl.width
	if w == WidthAuto {
		w = Float64
	}
	ctx := context.Background()
	for _, l := range tmpl.Levels {
		for file := 0; file < nfiles; file++ {
			dw, err := pw.Create(ctx, l.Index, fmt.Sprintf("Cell_D_%05d", file))
			if err != nil {
				t.Fatal(err)
			}
			for i := file; i < len(l.Boxes); i += nfiles {
				b := l.Boxes[i]
				data := make([]*sparse.DenseArray, len(tl.fields))
				for f := range data {
					data[f] = sparse.ZerosDense(b.Index.Shape()...)
					forEachCell(b.Index, func(idx []int, p int) {
						data[f].Elements[p] = tl.value(f, l.Index, cellCenter(tmpl, l, idx))
					})
				}
				if err := dw.Write(i, data, w); err != nil {
					t.Fatal(err)
				}
			}
			if err := dw.Close(); err != nil {
				t.Fatal(err)
			}
		}
	}
	if _, err := pw.Close(ctx); err != nil {
		t.Fatal(err)
	}
	h, err := Parse(ctx, s, ParseOptions{MinMax: true})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// constant returns a value function that is k for every field.
func constant(k float64) func(int, int, []float64) float64 {
	return func(int, int, []float64) float64 { return k }
}

// linear returns a value function that is a different linear function of
// position for each field, the same on every level.
func linear(f, _ int, x []float64) float64 {
	v := float64(f + 1)
	for d, xd := range x {
		v += float64(d+1+f) * xd
	}
	return v
}

// twoLevel3D is a 3D layout with an 8^3 level 0 in 8 boxes of 4^3 cells
// and a level 1 with two boxes refining the coarse regions [1,4)^3 and
// [4,7)^3 by 2.
func twoLevel3D(value func(int, int, []float64) float64) testLayout {
	return testLayout{
		dims:  3,
		n:     8,
		size:  1,
		ratio: 2,
		boxes: [][]IndexBox{
			uniformBoxes(3, 8, 4),
			{
				NewIndexBox([]int{2, 2, 2}, []int{7, 7, 7}),
				NewIndexBox([]int{8, 8, 8}, []int{13, 13, 13}),
			},
		},
		filesPerLevel: 2,
		fields:        []string{"density", "temp"},
		value:         value,
	}
}

func different(a, b, tolerance float64) bool {
	if a == b {
		return false
	}
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}
