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

package hash

import (
	"math"
	"testing"
)

func TestHash(t *testing.T) {
	type level struct {
		Ratio int
		Lo    [][]int
	}
	a := []level{{Ratio: 1, Lo: [][]int{{0, 0}}}, {Ratio: 2, Lo: [][]int{{4, 4}, {8, 0}}}}
	b := []level{{Ratio: 1, Lo: [][]int{{0, 0}}}, {Ratio: 2, Lo: [][]int{{4, 4}, {8, 0}}}}
	c := []level{{Ratio: 1, Lo: [][]int{{0, 0}}}, {Ratio: 2, Lo: [][]int{{4, 4}, {8, 1}}}}
	if Hash(a) != Hash(b) {
		t.Errorf("equal values: have %s and %s", Hash(a), Hash(b))
	}
	if Hash(a) == Hash(c) {
		t.Errorf("different values have the same hash %s", Hash(a))
	}
	if len(Hash(a)) != 32 {
		t.Errorf("hash length: have %d, want 32", len(Hash(a)))
	}
	m1 := map[string]float64{"x": math.NaN(), "y": 1}
	m2 := map[string]float64{"y": 1, "x": math.NaN()}
	if Hash(m1) != Hash(m2) {
		t.Errorf("maps: have %s and %s", Hash(m1), Hash(m2))
	}
}
