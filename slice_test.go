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
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// pixelCenter returns the 3D position of pixel (i, j) of ls in a slice
// normal to z at position z.
func pixelCenter(ls *LevelSlice, i, j int, z float64) []float64 {
	return []float64{
		(float64(ls.Region.Lo[0]+i) + 0.5) * ls.Dx[0],
		(float64(ls.Region.Lo[1]+j) + 0.5) * ls.Dx[1],
		z,
	}
}

func sameArray(a, b *sparse.DenseArray) bool {
	if len(a.Elements) != len(b.Elements) {
		return false
	}
	for i, v := range a.Elements {
		w := b.Elements[i]
		if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
			return false
		}
	}
	return true
}

func TestSlice(t *testing.T) {
	h := twoLevel3D(linear).write(t)
	const z = 0.5625
	r, err := Slice(context.Background(), h, SliceRequest{Axis: 2, Position: z, MaxLevel: -1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Levels) != 2 || r.Plane != [2]int{0, 1} || r.Time != 1.5 {
		t.Fatalf("have %d levels in plane %v at time %g", len(r.Levels), r.Plane, r.Time)
	}
	// The plane passes through the centers of layer 4 of level 0 and
	// between layers 8 and 9 of level 1.
	if l := r.Levels[0]; l.Layers != [2]int{4, 4} || l.Frac != 0 {
		t.Errorf("level 0 layers %v, frac %g", l.Layers, l.Frac)
	}
	if l := r.Levels[1]; l.Layers != [2]int{8, 9} || l.Frac != 0.5 {
		t.Errorf("level 1 layers %v, frac %g", l.Layers, l.Frac)
	}
	if n := len(r.Levels[0].Boxes); n != 4 {
		t.Errorf("level 0 boxes: have %d, want 4", n)
	}

	for _, ls := range r.Levels {
		shape := ls.Region.Shape()
		var valid, covered float64
		for i := 0; i < shape[0]; i++ {
			for j := 0; j < shape[1]; j++ {
				if ls.Valid.Get(i, j) == 0 {
					if !math.IsNaN(ls.Values[0].Get(i, j)) {
						t.Errorf("level %d pixel (%d, %d) has no data but is not NaN", ls.Level, i, j)
					}
					continue
				}
				valid++
				covered += ls.Covered.Get(i, j)
				for f := range r.Fields {
					want := linear(f, ls.Level, pixelCenter(ls, i, j, z))
					if have := ls.Values[f].Get(i, j); different(have, want, 1.e-12) {
						t.Errorf("level %d field %d pixel (%d, %d): have %g, want %g", ls.Level, f, i, j, have, want)
					}
				}
			}
		}
		wantValid, wantCovered := 64., 9.
		if ls.Level == 1 {
			wantValid, wantCovered = 36, 0
		}
		if valid != wantValid || covered != wantCovered {
			t.Errorf("level %d: have %g valid and %g covered pixels, want %g and %g",
				ls.Level, valid, covered, wantValid, wantCovered)
		}
	}

	dp, err := r.Dense("temp")
	if err != nil {
		t.Fatal(err)
	}
	if dp.GapPixels != 0 {
		t.Errorf("gap pixels: have %d, want 0", dp.GapPixels)
	}
	// Level 1 only spans the box that reaches the plane, while the
	// merged plane spans the whole domain.
	if want := NewIndexBox([]int{8, 8}, []int{13, 13}); !r.Levels[1].Region.Equal(want) {
		t.Errorf("level 1 region: have %v, want %v", r.Levels[1].Region, want)
	}
	if want := NewIndexBox([]int{0, 0}, []int{15, 15}); !dp.Region.Equal(want) {
		t.Errorf("dense region: have %v, want %v", dp.Region, want)
	}
	for i := 0; i < 16; i++ {
		for j := 0; j < 16; j++ {
			lev := dp.Level.Get(i, j)
			x := []float64{(float64(i) + 0.5) * dp.Dx[0], (float64(j) + 0.5) * dp.Dx[1], z}
			if lev == 0 {
				x = pixelCenter(r.Levels[0], i/2, j/2, z)
			}
			wantLev := 0
			if i >= 8 && i <= 13 && j >= 8 && j <= 13 {
				wantLev = 1
			}
			if lev != wantLev {
				t.Errorf("pixel (%d, %d): have level %d, want %d", i, j, lev, wantLev)
				continue
			}
			if want := linear(1, lev, x); different(dp.Data.Get(i, j), want, 1.e-12) {
				t.Errorf("pixel (%d, %d): have %g, want %g", i, j, dp.Data.Get(i, j), want)
			}
		}
	}
}

// A plane on the boundary between two fine boxes that do not share a
// layer is only covered by coarse data.
func TestSlice_gap(t *testing.T) {
	h := twoLevel3D(linear).write(t)
	r, err := Slice(context.Background(), h, SliceRequest{Axis: 2, Position: 0.5, Fields: []string{"density"}, MaxLevel: -1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range r.Levels[1].Valid.Elements {
		if v != 0 {
			t.Fatalf("level 1 should have no valid pixels")
		}
	}
	dp, err := r.Dense("density")
	if err != nil {
		t.Fatal(err)
	}
	if dp.GapPixels != 9 {
		t.Errorf("gap pixels: have %d, want 9", dp.GapPixels)
	}
	for i, l := range dp.Level.Elements {
		if l != 0 {
			t.Fatalf("pixel %d: have level %d, want 0", i, l)
		}
	}
}

func TestSlice_window(t *testing.T) {
	h := twoLevel3D(linear).write(t)
	r, err := Slice(context.Background(), h, SliceRequest{
		Axis:     0,
		Position: 0.3,
		MaxLevel: 0,
		Window:   &geom.Bounds{Min: geom.Point{X: 0, Y: 0}, Max: geom.Point{X: 0.5, Y: 0.25}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Levels) != 1 || r.Plane != [2]int{1, 2} {
		t.Fatalf("have %d levels in plane %v", len(r.Levels), r.Plane)
	}
	ls := r.Levels[0]
	if want := NewIndexBox([]int{0, 0}, []int{3, 1}); !ls.Region.Equal(want) {
		t.Errorf("region: have %v, want %v", ls.Region, want)
	}
	if ls.Bounds.Max.X != 0.5 || ls.Bounds.Max.Y != 0.25 {
		t.Errorf("bounds: have %+v", ls.Bounds)
	}
	// Layers 1 and 2 have centers at 0.1875 and 0.3125.
	if ls.Layers != [2]int{1, 2} || different(ls.Frac, 0.9, 1.e-12) {
		t.Errorf("layers %v, frac %g", ls.Layers, ls.Frac)
	}
	want := linear(0, 0, []float64{0.3, 0.0625, 0.0625})
	if have := ls.Values[0].Get(0, 0); different(have, want, 1.e-12) {
		t.Errorf("have %g, want %g", have, want)
	}
}

func TestSlice_domainFace(t *testing.T) {
	h := twoLevel3D(linear).write(t)
	r, err := Slice(context.Background(), h, SliceRequest{Axis: 1, Position: 1, MaxLevel: 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ls := r.Levels[0]; ls.Layers != [2]int{7, 7} || ls.Frac != 0 {
		t.Errorf("layers %v, frac %g", ls.Layers, ls.Frac)
	}
}

func TestSlice_workers(t *testing.T) {
	h := twoLevel3D(linear).write(t)
	ctx := context.Background()
	req := SliceRequest{Axis: 1, Position: 0.4, MaxLevel: -1}
	want, err := Slice(ctx, h, req, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []Partition{PerBox, PerLevel, PerFile} {
		for _, n := range []int{1, 2, 8} {
			t.Run(fmt.Sprintf("%v_%d", p, n), func(t *testing.T) {
				have, err := Slice(ctx, h, req, &Distributor{Workers: n, Partition: p})
				if err != nil {
					t.Fatal(err)
				}
				if len(have.Levels) != len(want.Levels) {
					t.Fatalf("have %d levels, want %d", len(have.Levels), len(want.Levels))
				}
				for l, ls := range have.Levels {
					if !ls.Region.Equal(want.Levels[l].Region) {
						t.Errorf("level %d region: have %v, want %v", l, ls.Region, want.Levels[l].Region)
					}
					for f := range ls.Values {
						if !sameArray(ls.Values[f], want.Levels[l].Values[f]) {
							t.Errorf("level %d field %d differs", l, f)
						}
					}
					if !sameArray(ls.Valid, want.Levels[l].Valid) {
						t.Errorf("level %d validity differs", l)
					}
					if !sameArray(ls.Covered, want.Levels[l].Covered) {
						t.Errorf("level %d coverage differs", l)
					}
				}
			})
		}
	}
}

func TestSlice_errors(t *testing.T) {
	h := twoLevel3D(linear).write(t)
	ctx := context.Background()
	for _, test := range []struct {
		name     string
		h        *Hierarchy
		req      SliceRequest
		geometry bool
	}{
		{name: "2D", h: threeLevel2D(t), req: SliceRequest{Axis: 0, Position: 0.5}},
		{name: "axis", h: h, req: SliceRequest{Axis: 3, Position: 0.5}},
		{name: "level", h: h, req: SliceRequest{Axis: 0, Position: 0.5, MaxLevel: 4}},
		{name: "below domain", h: h, req: SliceRequest{Axis: 0, Position: -0.1}, geometry: true},
		{name: "above domain", h: h, req: SliceRequest{Axis: 2, Position: 1.5}, geometry: true},
		{name: "NaN", h: h, req: SliceRequest{Axis: 2, Position: math.NaN()}, geometry: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Slice(ctx, test.h, test.req, nil)
			if test.geometry {
				var e *GeometryError
				if !errors.As(err, &e) {
					t.Errorf("have %v, want a *GeometryError", err)
				}
				return
			}
			var e *ConfigError
			if !errors.As(err, &e) {
				t.Errorf("have %v, want a *ConfigError", err)
			}
		})
	}

	r, err := Slice(ctx, h, SliceRequest{Axis: 2, Position: 0.5, Fields: []string{"temp"}, MaxLevel: -1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Dense("density"); err == nil {
		t.Errorf("missing field accepted")
	}
	if _, err := r.DenseLevel("temp", 2); err == nil {
		t.Errorf("missing level accepted")
	}
}
