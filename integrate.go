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

	"gonum.org/v1/gonum/floats"
)

// IntegrateRequest specifies a volume integral.
type IntegrateRequest struct {
	// Fields lists the fields to integrate. Empty selects every field.
	Fields []string

	// Weight optionally names a field that multiplies every integrand.
	Weight string

	// Lo and Hi optionally restrict the integral to the cells whose
	// centers lie within a physical box. Both or neither must be set.
	Lo, Hi []float64

	// MaxLevel is the finest level to use. A negative value selects the
	// finest level of the hierarchy.
	MaxLevel int
}

// LevelIntegral holds the contribution of one level to an integral.
type LevelIntegral struct {
	Level  int                `toml:"level"`
	Values map[string]float64 `toml:"values"`
	Cells  float64            `toml:"cells"`
	Volume float64            `toml:"volume"`
}

// Integral is the result of Integrate.
type Integral struct {
	Fields []string           `toml:"fields"`
	Weight string             `toml:"weight,omitempty"`
	Values map[string]float64 `toml:"values"`

	// Cells is the number of cells that contributed, counting partly
	// covered cells by their uncovered fraction.
	Cells float64 `toml:"cells"`

	// Volume is the physical volume that contributed.
	Volume float64 `toml:"volume"`

	Levels []LevelIntegral `toml:"levels"`
}

// boxIntegral is the contribution of one box.
type boxIntegral struct {
	values []float64
	cells  float64
	volume float64
}

// Integrate computes the integral of each requested field over the
// hierarchy, counting every point of the domain once: cells covered by a
// finer level contribute nothing, so that only the finest available data
// is used. Box sums are added in (level, box) order so the result does
// not depend on the number of workers.
func Integrate(ctx context.Context, h *Hierarchy, req IntegrateRequest, d *Distributor) (*Integral, error) {
	const op = "integrate"
	if err := h.checkData(op); err != nil {
		return nil, err
	}
	if (req.Lo == nil) != (req.Hi == nil) {
		return nil, &ConfigError{Op: op, Err: fmt.Errorf("both or neither of the sub-domain bounds must be set")}
	}
	if req.Lo != nil {
		if len(req.Lo) != h.Dims || len(req.Hi) != h.Dims {
			return nil, &ConfigError{Op: op, Err: fmt.Errorf("sub-domain bounds need %d values", h.Dims)}
		}
		for i := range req.Lo {
			if req.Lo[i] > req.Hi[i] {
				return nil, &ConfigError{Op: op, Err: fmt.Errorf("sub-domain lower bound %v exceeds upper bound %v", req.Lo, req.Hi)}
			}
		}
	}
	maxLevel := req.MaxLevel
	if maxLevel < 0 {
		maxLevel = h.MaxLevel()
	} else if maxLevel > h.MaxLevel() {
		return nil, &ConfigError{Op: op, Err: fmt.Errorf("level %d is not in [0, %d]", maxLevel, h.MaxLevel())}
	}
	fields, err := h.FieldIndices(req.Fields)
	if err != nil {
		return nil, err
	}
	read := fields
	if req.Weight != "" {
		wi, err := h.FieldIndex(req.Weight)
		if err != nil {
			return nil, err
		}
		read = append(append([]int{}, fields...), wi)
	}

	keys := h.Keys(maxLevel)
	parts, err := Map(ctx, d, h, keys, func(ctx context.Context, k Key) (*boxIntegral, error) {
		return integrateBox(ctx, h, h.Levels[k.Level].Boxes[k.Box], read, len(fields), req, maxLevel)
	})
	if err != nil {
		return nil, err
	}

	o := &Integral{Weight: req.Weight, Values: make(map[string]float64), Levels: make([]LevelIntegral, maxLevel+1)}
	for _, f := range fields {
		o.Fields = append(o.Fields, h.FieldNames[f])
	}
	sums := make([]float64, len(fields))
	levelSums := make([][]float64, maxLevel+1)
	for i := range levelSums {
		levelSums[i] = make([]float64, len(fields))
		o.Levels[i].Level = i
	}
	for i, k := range keys {
		p := parts[i]
		floats.Add(sums, p.values)
		floats.Add(levelSums[k.Level], p.values)
		o.Cells += p.cells
		o.Volume += p.volume
		o.Levels[k.Level].Cells += p.cells
		o.Levels[k.Level].Volume += p.volume
	}
	for i, f := range o.Fields {
		o.Values[f] = sums[i]
	}
	for l := range o.Levels {
		o.Levels[l].Values = make(map[string]float64)
		for i, f := range o.Fields {
			o.Levels[l].Values[f] = levelSums[l][i]
		}
	}
	return o, nil
}

// integrateBox integrates one box. The last of the read fields is the
// weight if there are more read fields than nfields.
func integrateBox(ctx context.Context, h *Hierarchy, b *Box, read []int, nfields int, req IntegrateRequest, maxLevel int) (*boxIntegral, error) {
	blk, err := h.ReadBlock(ctx, b, read, WidthAuto)
	if err != nil {
		return nil, err
	}
	mask, err := h.Coverage().MaskUpTo(ctx, b, maxLevel)
	if err != nil {
		return nil, err
	}
	vol := h.CellVolume(b.Level)
	w := make([]float64, len(mask.Elements))
	for i, m := range mask.Elements {
		w[i] = (1 - m) * vol
	}
	if req.Lo != nil {
		floats.Mul(w, centerInside(h, b, req.Lo, req.Hi))
	}
	o := &boxIntegral{values: make([]float64, nfields)}
	o.volume = floats.Sum(w)
	o.cells = o.volume / vol
	if len(read) > nfields {
		floats.Mul(w, blk.Data[nfields].Elements)
	}
	for i := 0; i < nfields; i++ {
		o.values[i] = floats.Dot(w, blk.Data[i].Elements)
	}
	return o, nil
}

// centerInside returns, for every cell of b in row-major order, 1 if the
// cell center lies within [lo, hi] and 0 otherwise.
func centerInside(h *Hierarchy, b *Box, lo, hi []float64) []float64 {
	dx := h.Levels[b.Level].Dx
	n := b.Index.Dims()
	in := make([][]bool, n)
	for d := 0; d < n; d++ {
		in[d] = make([]bool, b.Index.Hi[d]-b.Index.Lo[d]+1)
		for i := range in[d] {
			c := h.ProbLo[d] + (float64(b.Index.Lo[d]+i)+0.5)*dx[d]
			in[d][i] = c >= lo[d] && c <= hi[d]
		}
	}
	o := make([]float64, b.Index.NumCells())
	idx := make([]int, n)
	for p := range o {
		ok := true
		for d := 0; d < n; d++ {
			if !in[d][idx[d]] {
				ok = false
				break
			}
		}
		if ok {
			o[p] = 1
		}
		for d := n - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < len(in[d]) {
				break
			}
			idx[d] = 0
		}
	}
	return o
}
