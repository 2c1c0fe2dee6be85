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

package output

import (
	"context"
	"fmt"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/amrkit"
)

// Plotfile writes the slice r to s as a 2D plotfile with the box
// structure of the sliced levels. The index space of the new plotfile
// starts at the lower corner of the coarsest plane. Levels above the
// first level without boxes in the plane are dropped. Empty fields
// selects every field of r.
func Plotfile(ctx context.Context, s amrkit.Storage, r *amrkit.SliceResult, fields []string, w amrkit.Width) (*amrkit.Hierarchy, error) {
	const op = "write slice plotfile"
	if len(fields) == 0 {
		fields = r.Fields
	}
	if len(r.Levels) == 0 || len(r.Levels[0].Boxes) == 0 {
		return nil, &amrkit.GeometryError{Op: op, Level: -1, Box: -1, Err: fmt.Errorf("the coarsest plane holds no boxes")}
	}
	if w == amrkit.WidthAuto {
		w = amrkit.Float64
	}
	base := r.Levels[0]
	tmpl := &amrkit.Hierarchy{
		Dims:   2,
		Time:   r.Time,
		ProbLo: []float64{base.Bounds.Min.X, base.Bounds.Min.Y},
		ProbHi: []float64{base.Bounds.Max.X, base.Bounds.Max.Y},
	}
	for k, ls := range r.Levels {
		if len(ls.Boxes) == 0 {
			break
		}
		ratio := ls.Ratio / base.Ratio
		shift := []int{base.Region.Lo[0] * ratio, base.Region.Lo[1] * ratio}
		l := &amrkit.Level{
			Index:  k,
			Dx:     []float64{ls.Dx[0], ls.Dx[1]},
			Domain: shiftBox(base.Region.Refine(ratio), shift),
		}
		if k > 0 {
			l.RefRatio = ls.Ratio / r.Levels[k-1].Ratio
		}
		for i, b := range ls.Boxes {
			l.Boxes = append(l.Boxes, &amrkit.Box{Level: k, ID: i, Index: shiftBox(b, shift)})
		}
		tmpl.Levels = append(tmpl.Levels, l)
	}

	pw, err := amrkit.NewPlotfileWriter(s, tmpl, fields)
	if err != nil {
		return nil, err
	}
	for k := range tmpl.Levels {
		ls := r.Levels[k]
		planes := make([]*amrkit.DensePlane, len(fields))
		for i, f := range fields {
			if planes[i], err = r.DenseLevel(f, k); err != nil {
				return nil, err
			}
		}
		dw, err := pw.Create(ctx, k, "Cell_D_00000")
		if err != nil {
			return nil, err
		}
		for i, b := range ls.Boxes {
			data := make([]*sparse.DenseArray, len(fields))
			for f, d := range planes {
				data[f] = extract(d.Data, d.Region, b)
			}
			if err := dw.Write(i, data, w); err != nil {
				dw.Close()
				return nil, err
			}
		}
		if err := dw.Close(); err != nil {
			return nil, err
		}
	}
	return pw.Close(ctx)
}

func shiftBox(b amrkit.IndexBox, shift []int) amrkit.IndexBox {
	o := amrkit.NewIndexBox(b.Lo, b.Hi)
	for i := range shift {
		o.Lo[i] -= shift[i]
		o.Hi[i] -= shift[i]
	}
	return o
}

// extract copies the part of plane, which spans region, that lies in b.
func extract(plane *sparse.DenseArray, region, b amrkit.IndexBox) *sparse.DenseArray {
	shape := b.Shape()
	o := sparse.ZerosDense(shape[0], shape[1])
	n1 := region.Hi[1] - region.Lo[1] + 1
	p := 0
	for i := b.Lo[0]; i <= b.Hi[0]; i++ {
		for j := b.Lo[1]; j <= b.Hi[1]; j++ {
			o.Elements[p] = plane.Elements[(i-region.Lo[0])*n1+j-region.Lo[1]]
			p++
		}
	}
	return o
}
