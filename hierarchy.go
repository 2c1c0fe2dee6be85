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
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/spatialmodel/amrkit/internal/hash"
)

// Hierarchy is the in-memory representation of a plotfile: its global
// metadata and the boxes of every level. A Hierarchy is not modified
// after it has been built.
type Hierarchy struct {
	// Version is the plotfile version string, e.g. "HyperCLaw-V1.1".
	Version string

	// Dims is the spatial dimensionality (2 or 3).
	Dims int

	// Time is the simulation time of the snapshot.
	Time float64

	// FieldNames lists the fields in the order they are stored.
	FieldNames []string

	// ProbLo and ProbHi are the physical bounds of the domain.
	ProbLo, ProbHi []float64

	// CoordSys is the coordinate system identifier.
	CoordSys int

	// FinestLevel is the finest level declared in the header, which may be
	// finer than the finest level in Levels if a level limit was applied.
	FinestLevel int

	// Levels holds the levels from coarsest to finest.
	Levels []*Level

	// HeaderOnly is true if the level box lists were not read, in which
	// case boxes have no data locators.
	HeaderOnly bool

	// Storage holds the plotfile files. Block data is read from it.
	Storage Storage

	fieldIndex map[string]int
	index      *indexes
}

// Level is one refinement tier of the hierarchy.
type Level struct {
	// Index is the level number, starting at 0 for the coarsest level.
	Index int

	// RefRatio is the refinement ratio between this level and the
	// next coarser one. It is 1 for level 0.
	RefRatio int

	// Ratio is the cumulative refinement ratio relative to level 0.
	Ratio int

	// Dx is the cell size along each dimension.
	Dx []float64

	// Domain is the index box of the whole domain at this level.
	Domain IndexBox

	// Step is the time step number of this level.
	Step int

	// CellPath is the directory of the level relative to the plotfile
	// root, e.g. "Level_0".
	CellPath string

	// NGhost is the number of ghost cells declared for the level data.
	NGhost int

	// Boxes holds the boxes of the level in header order.
	Boxes []*Box
}

// Box is a rectangular region of cells at one level with a contiguous
// block of data in a binary file.
type Box struct {
	Level int
	ID    int

	// Index is the cell range of the box in its level's index space.
	Index IndexBox

	// PhysLo and PhysHi are the physical bounds listed in the global header.
	PhysLo, PhysHi []float64

	// File is the data file path relative to the plotfile root,
	// e.g. "Level_0/Cell_D_00000".
	File string

	// Offset is the byte offset of the block within File.
	Offset int64

	// Min and Max hold per-field extrema if they were read from the
	// level header.
	Min, Max []float64
}

// Shape returns the declared shape of the box data.
func (b *Box) Shape() []int { return b.Index.Shape() }

func (b *Box) String() string {
	return fmt.Sprintf("level %d box %d %v", b.Level, b.ID, b.Index)
}

// finish completes the construction of h by indexing its fields and
// computing the cumulative refinement ratios.
func (h *Hierarchy) finish() error {
	h.fieldIndex = make(map[string]int, len(h.FieldNames))
	for i, f := range h.FieldNames {
		if _, ok := h.fieldIndex[f]; ok {
			return fmt.Errorf("duplicate field name %q", f)
		}
		h.fieldIndex[f] = i
	}
	for i, l := range h.Levels {
		if i == 0 {
			l.RefRatio = 1
			l.Ratio = 1
			continue
		}
		if l.RefRatio < 1 {
			return fmt.Errorf("level %d: refinement ratio %d is not a positive integer", i, l.RefRatio)
		}
		l.Ratio = h.Levels[i-1].Ratio * l.RefRatio
	}
	h.index = newIndexes(h)
	return nil
}

// NumFields returns the number of fields in the plotfile.
func (h *Hierarchy) NumFields() int { return len(h.FieldNames) }

// FieldIndex returns the storage index of the named field.
func (h *Hierarchy) FieldIndex(name string) (int, error) {
	i, ok := h.fieldIndex[name]
	if !ok {
		return -1, &UnknownFieldError{Field: name, Available: h.FieldNames}
	}
	return i, nil
}

// FieldIndices converts field names to storage indices. An empty list
// selects every field.
func (h *Hierarchy) FieldIndices(names []string) ([]int, error) {
	if len(names) == 0 {
		o := make([]int, len(h.FieldNames))
		for i := range o {
			o[i] = i
		}
		return o, nil
	}
	o := make([]int, len(names))
	for i, n := range names {
		var err error
		if o[i], err = h.FieldIndex(n); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Fields returns a copy of the mapping from field name to storage index.
func (h *Hierarchy) Fields() map[string]int {
	o := make(map[string]int, len(h.fieldIndex))
	for k, v := range h.fieldIndex {
		o[k] = v
	}
	return o
}

// MaxLevel returns the index of the finest level in h.
func (h *Hierarchy) MaxLevel() int { return len(h.Levels) - 1 }

// Box returns the box with the given id at the given level.
func (h *Hierarchy) Box(level, id int) (*Box, error) {
	if level < 0 || level >= len(h.Levels) {
		return nil, &ConfigError{Op: "box", Err: fmt.Errorf("level %d is not in [0, %d]", level, h.MaxLevel())}
	}
	l := h.Levels[level]
	if id < 0 || id >= len(l.Boxes) {
		return nil, &ConfigError{Op: "box", Err: fmt.Errorf("level %d has no box %d", level, id)}
	}
	return l.Boxes[id], nil
}

// BoxIterator yields the boxes of one level one at a time. It can be
// restarted with Reset. A BoxIterator must not be shared between
// goroutines; create one per consumer instead.
type BoxIterator struct {
	boxes []*Box
	i     int
}

// Boxes returns an iterator over the boxes of the given level.
func (h *Hierarchy) Boxes(level int) *BoxIterator {
	if level < 0 || level >= len(h.Levels) {
		return &BoxIterator{}
	}
	return &BoxIterator{boxes: h.Levels[level].Boxes}
}

// Next returns the next box, or false when the level is exhausted.
func (it *BoxIterator) Next() (*Box, bool) {
	if it.i >= len(it.boxes) {
		return nil, false
	}
	b := it.boxes[it.i]
	it.i++
	return b, true
}

// Reset restarts the iteration from the first box.
func (it *BoxIterator) Reset() { it.i = 0 }

// Len returns the total number of boxes the iterator yields.
func (it *BoxIterator) Len() int { return len(it.boxes) }

// IndexToPhysical returns the physical coordinate of the center of
// the cell at index on the given level.
func (h *Hierarchy) IndexToPhysical(level int, index []int) []float64 {
	l := h.Levels[level]
	o := make([]float64, len(index))
	for i, v := range index {
		o[i] = h.ProbLo[i] + (float64(v)+0.5)*l.Dx[i]
	}
	return o
}

// PhysicalToIndex returns the index of the cell at the given level that
// contains coord. Points on the upper domain face belong to the last cell.
func (h *Hierarchy) PhysicalToIndex(level int, coord []float64) ([]int, error) {
	l := h.Levels[level]
	o := make([]int, len(coord))
	for i, c := range coord {
		if c < h.ProbLo[i] || c > h.ProbHi[i] {
			return nil, &GeometryError{Op: "physical to index", Level: level, Box: -1,
				Err: fmt.Errorf("coordinate %g along axis %d is outside the domain [%g, %g]",
					c, i, h.ProbLo[i], h.ProbHi[i])}
		}
		o[i] = int(math.Floor((c - h.ProbLo[i]) / l.Dx[i]))
		o[i] = minInt(maxInt(o[i], l.Domain.Lo[i]), l.Domain.Hi[i])
	}
	return o, nil
}

// CellVolume returns the physical volume (or area in 2D) of one cell
// at the given level.
func (h *Hierarchy) CellVolume(level int) float64 {
	v := 1.0
	for _, d := range h.Levels[level].Dx {
		v *= d
	}
	return v
}

// DomainVolume returns the physical volume of the whole domain.
func (h *Hierarchy) DomainVolume() float64 {
	v := 1.0
	for i := range h.ProbLo {
		v *= h.ProbHi[i] - h.ProbLo[i]
	}
	return v
}

// Restrict returns a hierarchy holding levels 0 through maxLevel of h.
// The boxes are shared with h.
func (h *Hierarchy) Restrict(maxLevel int) (*Hierarchy, error) {
	if maxLevel < 0 || maxLevel > h.MaxLevel() {
		return nil, &ConfigError{Op: "restrict", Err: fmt.Errorf("level %d is not in [0, %d]", maxLevel, h.MaxLevel())}
	}
	o := *h
	o.Levels = h.Levels[:maxLevel+1]
	o.index = newIndexes(&o)
	return &o, nil
}

// CheckNesting verifies that every box lies within its level's domain,
// that the boxes of a level do not overlap and that every box, coarsened
// to the next coarser level, lies within exactly one coarser box.
func (h *Hierarchy) CheckNesting() error {
	for _, l := range h.Levels {
		idx := newLevelIndex(l.Boxes)
		for _, b := range l.Boxes {
			if !l.Domain.ContainsBox(b.Index) {
				return &GeometryError{Op: "check nesting", Level: l.Index, Box: b.ID,
					Err: fmt.Errorf("box %v extends past the level domain %v", b.Index, l.Domain)}
			}
			for _, o := range idx.search(b.Index) {
				if o.ID != b.ID {
					return &GeometryError{Op: "check nesting", Level: l.Index, Box: b.ID,
						Err: fmt.Errorf("box overlaps box %d", o.ID)}
				}
			}
		}
		if l.Index == 0 {
			continue
		}
		coarse := h.Levels[l.Index-1]
		cidx := newLevelIndex(coarse.Boxes)
		for _, b := range l.Boxes {
			cb := b.Index.Coarsen(l.RefRatio)
			n := 0
			for _, c := range cidx.search(cb) {
				if c.Index.ContainsBox(cb) {
					n++
				}
			}
			if n != 1 {
				return &GeometryError{Op: "check nesting", Level: l.Index, Box: b.ID,
					Err: fmt.Errorf("box is contained in %d boxes of level %d, want 1", n, coarse.Index)}
			}
		}
	}
	return nil
}

// Compatible returns whether h and o have the same box structure at
// every level. The fields and the distribution of the data over
// binary files may differ.
func (h *Hierarchy) Compatible(o *Hierarchy) bool {
	if len(h.Levels) != len(o.Levels) || h.Dims != o.Dims {
		return false
	}
	for i, l := range h.Levels {
		ol := o.Levels[i]
		if len(l.Boxes) != len(ol.Boxes) {
			return false
		}
		for j, b := range l.Boxes {
			if !b.Index.Equal(ol.Boxes[j].Index) {
				return false
			}
		}
	}
	return true
}

// UniqueBoxShapes returns the distinct box shapes present at any level,
// sorted lexicographically.
func (h *Hierarchy) UniqueBoxShapes() [][]int {
	seen := make(map[string]bool)
	var o [][]int
	for _, l := range h.Levels {
		for _, b := range l.Boxes {
			s := b.Shape()
			k := fmt.Sprint(s)
			if !seen[k] {
				seen[k] = true
				o = append(o, s)
			}
		}
	}
	sort.Slice(o, func(i, j int) bool {
		for d := range o[i] {
			if o[i][d] != o[j][d] {
				return o[i][d] < o[j][d]
			}
		}
		return false
	})
	return o
}

// DataFile holds the boxes of one level that are stored in the same
// binary file.
type DataFile struct {
	Name  string
	Boxes []*Box
}

// ByDataFile groups the boxes of a level by the binary file that holds
// their data. Files are sorted by name and boxes keep header order.
func (h *Hierarchy) ByDataFile(level int) []DataFile {
	m := make(map[string][]*Box)
	for _, b := range h.Levels[level].Boxes {
		m[b.File] = append(m[b.File], b)
	}
	o := make([]DataFile, 0, len(m))
	for n, bs := range m {
		o = append(o, DataFile{Name: n, Boxes: bs})
	}
	sort.Slice(o, func(i, j int) bool { return o[i].Name < o[j].Name })
	return o
}

// Fingerprint returns a hash of the box structure of h, which is equal
// for hierarchies that are Compatible.
func (h *Hierarchy) Fingerprint() string {
	type level struct {
		Ratio int
		Lo    [][]int
		Hi    [][]int
	}
	s := make([]level, len(h.Levels))
	for i, l := range h.Levels {
		s[i].Ratio = l.Ratio
		for _, b := range l.Boxes {
			s[i].Lo = append(s[i].Lo, b.Index.Lo)
			s[i].Hi = append(s[i].Hi, b.Index.Hi)
		}
	}
	return hash.Hash(struct {
		Dims   int
		Levels []level
	}{Dims: h.Dims, Levels: s})
}

var errHeaderOnly = errors.New("the hierarchy was parsed without level headers")

// checkData returns an error if the boxes of h have no data locators.
func (h *Hierarchy) checkData(op string) error {
	if h.HeaderOnly {
		return &ConfigError{Op: op, Err: errHeaderOnly}
	}
	return nil
}
