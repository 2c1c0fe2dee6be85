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
	"reflect"
	"testing"
)

func TestIndexBox(t *testing.T) {
	b := NewIndexBox([]int{-2, 0, 4}, []int{1, 3, 5})
	if have, want := b.Shape(), []int{4, 4, 2}; !reflect.DeepEqual(have, want) {
		t.Errorf("shape: have %v, want %v", have, want)
	}
	if have, want := b.NumCells(), 32; have != want {
		t.Errorf("cells: have %d, want %d", have, want)
	}
	if have, want := b.Offset([]int{-1, 2, 5}), 1*8+2*2+1; have != want {
		t.Errorf("offset: have %d, want %d", have, want)
	}
	if have, want := b.String(), "((-2,0,4) (1,3,5) (0,0,0))"; have != want {
		t.Errorf("string: have %s, want %s", have, want)
	}
	if !b.Contains([]int{-2, 3, 4}) || b.Contains([]int{2, 0, 4}) {
		t.Errorf("contains is wrong")
	}

	r := b.Refine(2)
	if want := NewIndexBox([]int{-4, 0, 8}, []int{3, 7, 11}); !r.Equal(want) {
		t.Errorf("refine: have %v, want %v", r, want)
	}
	if c := r.Coarsen(2); !c.Equal(b) {
		t.Errorf("coarsen(refine): have %v, want %v", c, b)
	}
	if c := NewIndexBox([]int{-3}, []int{2}).Coarsen(4); !c.Equal(NewIndexBox([]int{-1}, []int{0})) {
		t.Errorf("coarsen of negative indices: have %v", c)
	}

	o := NewIndexBox([]int{0, 2, 5}, []int{8, 8, 8})
	if in, ok := b.Intersect(o); !ok || !in.Equal(NewIndexBox([]int{0, 2, 5}, []int{1, 3, 5})) {
		t.Errorf("intersect: have %v, %v", in, ok)
	}
	if _, ok := b.Intersect(NewIndexBox([]int{2, 0, 4}, []int{3, 3, 5})); ok {
		t.Errorf("disjoint boxes intersect")
	}
	if !o.ContainsBox(NewIndexBox([]int{1, 2, 5}, []int{1, 2, 5})) || o.ContainsBox(b) {
		t.Errorf("contains box is wrong")
	}
}

func TestParseIndexBox(t *testing.T) {
	for _, test := range []struct {
		in   string
		want IndexBox
		err  bool
	}{
		{in: "((0,0,0) (15,15,15) (0,0,0))", want: NewIndexBox([]int{0, 0, 0}, []int{15, 15, 15})},
		{in: " ((4, 8) (7, 11) (1, 0)) ", want: NewIndexBox([]int{4, 8}, []int{7, 11})},
		{in: "((-4) (3) (0))", want: NewIndexBox([]int{-4}, []int{3})},
		{in: "((0,0) (15,15,15) (0,0,0))", err: true},
		{in: "(0,0) (1,1)", err: true},
		{in: "((a,0) (1,1) (0,0))", err: true},
	} {
		t.Run(test.in, func(t *testing.T) {
			have, err := parseIndexBox(test.in)
			if test.err {
				if err == nil {
					t.Errorf("have %v, want an error", have)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !have.Equal(test.want) {
				t.Errorf("have %v, want %v", have, test.want)
			}
		})
	}
}

func TestSplitBoxes(t *testing.T) {
	have := splitBoxes("((0,0) (3,3) (0,0)) ((0,0) (7,7) (0,0))")
	want := []string{"((0,0) (3,3) (0,0))", "((0,0) (7,7) (0,0))"}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("have %v, want %v", have, want)
	}
}
