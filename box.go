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
	"fmt"
	"strconv"
	"strings"
)

// IndexBox is a rectangular range of cells in the index space of one
// level. Both Lo and Hi are inclusive.
type IndexBox struct {
	Lo, Hi []int
}

// NewIndexBox returns a box spanning lo through hi.
func NewIndexBox(lo, hi []int) IndexBox {
	b := IndexBox{Lo: make([]int, len(lo)), Hi: make([]int, len(hi))}
	copy(b.Lo, lo)
	copy(b.Hi, hi)
	return b
}

// Dims returns the dimensionality of b.
func (b IndexBox) Dims() int { return len(b.Lo) }

// Shape returns the number of cells along each dimension.
func (b IndexBox) Shape() []int {
	s := make([]int, len(b.Lo))
	for i := range b.Lo {
		s[i] = b.Hi[i] - b.Lo[i] + 1
	}
	return s
}

// NumCells returns the total number of cells in b.
func (b IndexBox) NumCells() int {
	n := 1
	for i := range b.Lo {
		n *= b.Hi[i] - b.Lo[i] + 1
	}
	return n
}

// Empty returns whether b contains no cells.
func (b IndexBox) Empty() bool {
	for i := range b.Lo {
		if b.Hi[i] < b.Lo[i] {
			return true
		}
	}
	return len(b.Lo) == 0
}

// Equal returns whether b and o span the same cells.
func (b IndexBox) Equal(o IndexBox) bool {
	if len(b.Lo) != len(o.Lo) {
		return false
	}
	for i := range b.Lo {
		if b.Lo[i] != o.Lo[i] || b.Hi[i] != o.Hi[i] {
			return false
		}
	}
	return true
}

// Contains returns whether index lies within b.
func (b IndexBox) Contains(index []int) bool {
	for i := range b.Lo {
		if index[i] < b.Lo[i] || index[i] > b.Hi[i] {
			return false
		}
	}
	return true
}

// ContainsBox returns whether every cell of o lies within b.
func (b IndexBox) ContainsBox(o IndexBox) bool {
	for i := range b.Lo {
		if o.Lo[i] < b.Lo[i] || o.Hi[i] > b.Hi[i] {
			return false
		}
	}
	return true
}

// Intersect returns the overlap of b and o and whether it is non-empty.
func (b IndexBox) Intersect(o IndexBox) (IndexBox, bool) {
	r := IndexBox{Lo: make([]int, len(b.Lo)), Hi: make([]int, len(b.Lo))}
	for i := range b.Lo {
		r.Lo[i] = maxInt(b.Lo[i], o.Lo[i])
		r.Hi[i] = minInt(b.Hi[i], o.Hi[i])
		if r.Hi[i] < r.Lo[i] {
			return r, false
		}
	}
	return r, true
}

// Refine maps b into the index space of a level ratio times finer.
func (b IndexBox) Refine(ratio int) IndexBox {
	r := IndexBox{Lo: make([]int, len(b.Lo)), Hi: make([]int, len(b.Lo))}
	for i := range b.Lo {
		r.Lo[i] = b.Lo[i] * ratio
		r.Hi[i] = (b.Hi[i]+1)*ratio - 1
	}
	return r
}

// Coarsen maps b into the index space of a level ratio times coarser.
// The result is the smallest coarse box containing every cell of b.
func (b IndexBox) Coarsen(ratio int) IndexBox {
	r := IndexBox{Lo: make([]int, len(b.Lo)), Hi: make([]int, len(b.Lo))}
	for i := range b.Lo {
		r.Lo[i] = floorDiv(b.Lo[i], ratio)
		r.Hi[i] = floorDiv(b.Hi[i], ratio)
	}
	return r
}

// Offset returns the row-major position of index within b.
func (b IndexBox) Offset(index []int) int {
	o := 0
	for i := range b.Lo {
		o = o*(b.Hi[i]-b.Lo[i]+1) + index[i] - b.Lo[i]
	}
	return o
}

// String formats b the way plotfile headers do, e.g.
// ((0,0,0) (7,7,7) (0,0,0)).
func (b IndexBox) String() string {
	t := make([]int, len(b.Lo))
	return fmt.Sprintf("(%s %s %s)", tuple(b.Lo), tuple(b.Hi), tuple(t))
}

func tuple(v []int) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = strconv.Itoa(x)
	}
	return "(" + strings.Join(s, ",") + ")"
}

// parseIndexBox parses a box in the format ((lo) (hi) (type)). Extra
// whitespace around the commas is tolerated.
func parseIndexBox(s string) (IndexBox, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "((") || !strings.HasSuffix(s, "))") {
		return IndexBox{}, fmt.Errorf("invalid box %q", s)
	}
	parts := strings.FieldsFunc(s[1:len(s)-1], func(r rune) bool { return r == '(' || r == ')' })
	var tuples [][]int
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := parseInts(strings.Split(p, ","))
		if err != nil {
			return IndexBox{}, fmt.Errorf("invalid box %q: %v", s, err)
		}
		tuples = append(tuples, v)
	}
	if len(tuples) < 2 || len(tuples[0]) != len(tuples[1]) || len(tuples[0]) == 0 {
		return IndexBox{}, fmt.Errorf("invalid box %q", s)
	}
	return IndexBox{Lo: tuples[0], Hi: tuples[1]}, nil
}

// splitBoxes splits a line holding several boxes, such as the domain line
// of a global header, into separate box strings.
func splitBoxes(line string) []string {
	var out []string
	depth, start := 0, -1
	for i, r := range line {
		switch r {
		case '(':
			if depth == 0 {
				start = i
			}
			depth++
		case ')':
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, line[start:i+1])
				start = -1
			}
		}
	}
	return out
}

func parseInts(f []string) ([]int, error) {
	o := make([]int, len(f))
	for i, s := range f {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		o[i] = v
	}
	return o, nil
}

func parseFloats(f []string) ([]float64, error) {
	o := make([]float64, len(f))
	for i, s := range f {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		o[i] = v
	}
	return o, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
