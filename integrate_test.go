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
	"reflect"
	"testing"
)

const testTolerance = 1.e-10

func TestIntegrate_constant(t *testing.T) {
	h := twoLevel3D(constant(2)).write(t)
	r, err := Integrate(context.Background(), h, IntegrateRequest{Fields: []string{"density"}, MaxLevel: -1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if different(r.Values["density"], 2, testTolerance) {
		t.Errorf("density: have %g, want 2", r.Values["density"])
	}
	if different(r.Volume, h.DomainVolume(), testTolerance) {
		t.Errorf("volume: have %g, want %g", r.Volume, h.DomainVolume())
	}
	// Two level 1 boxes of 6^3 cells cover 2*3^3 cells of level 0.
	if want := float64(512 - 54 + 432); different(r.Cells, want, testTolerance) {
		t.Errorf("cells: have %g, want %g", r.Cells, want)
	}
	if r.Levels[0].Cells != 458 || r.Levels[1].Cells != 432 {
		t.Errorf("level cells: have %g and %g", r.Levels[0].Cells, r.Levels[1].Cells)
	}
	if !reflect.DeepEqual(r.Fields, []string{"density"}) {
		t.Errorf("fields: have %v", r.Fields)
	}
}

func TestIntegrate_linear(t *testing.T) {
	// The midpoint rule is exact for linear functions, so the composite
	// rule over both levels is too.
	h := twoLevel3D(linear).write(t)
	r, err := Integrate(context.Background(), h, IntegrateRequest{MaxLevel: -1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]float64{"density": 4, "temp": 6.5}
	for f, w := range want {
		if different(r.Values[f], w, testTolerance) {
			t.Errorf("%s: have %g, want %g", f, r.Values[f], w)
		}
	}
	var sum float64
	for _, l := range r.Levels {
		sum += l.Values["temp"]
	}
	if different(sum, r.Values["temp"], testTolerance) {
		t.Errorf("level sums: have %g, want %g", sum, r.Values["temp"])
	}
}

func TestIntegrate_maxLevel(t *testing.T) {
	h := twoLevel3D(constant(2)).write(t)
	r, err := Integrate(context.Background(), h, IntegrateRequest{MaxLevel: 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Cells != 512 || len(r.Levels) != 1 {
		t.Errorf("have %g cells in %d levels, want 512 in 1", r.Cells, len(r.Levels))
	}
	if different(r.Values["temp"], 2, testTolerance) {
		t.Errorf("temp: have %g, want 2", r.Values["temp"])
	}
}

func TestIntegrate_weight(t *testing.T) {
	h := twoLevel3D(func(f, _ int, _ []float64) float64 { return float64(f + 2) }).write(t)
	r, err := Integrate(context.Background(), h, IntegrateRequest{
		Fields:   []string{"density"},
		Weight:   "temp",
		MaxLevel: -1,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if different(r.Values["density"], 6, testTolerance) {
		t.Errorf("have %g, want 6", r.Values["density"])
	}
}

func TestIntegrate_subdomain(t *testing.T) {
	h := twoLevel3D(constant(1)).write(t)
	r, err := Integrate(context.Background(), h, IntegrateRequest{
		Lo:       []float64{0, 0, 0},
		Hi:       []float64{0.5, 1, 1},
		MaxLevel: -1,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if different(r.Volume, 0.5, testTolerance) || different(r.Values["density"], 0.5, testTolerance) {
		t.Errorf("have volume %g and integral %g, want 0.5", r.Volume, r.Values["density"])
	}
}

// The result must not depend on how the work is distributed.
func TestIntegrate_workers(t *testing.T) {
	h := twoLevel3D(linear).write(t)
	ctx := context.Background()
	want, err := Integrate(ctx, h, IntegrateRequest{MaxLevel: -1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []Partition{PerBox, PerLevel, PerFile} {
		for _, n := range []int{1, 2, 8} {
			t.Run(fmt.Sprintf("%v_%d", p, n), func(t *testing.T) {
				have, err := Integrate(ctx, h, IntegrateRequest{MaxLevel: -1}, &Distributor{Workers: n, Partition: p})
				if err != nil {
					t.Fatal(err)
				}
				if !reflect.DeepEqual(have, want) {
					t.Errorf("have %+v, want %+v", have, want)
				}
			})
		}
	}
}

func TestIntegrate_errors(t *testing.T) {
	h := twoLevel3D(constant(1)).write(t)
	ctx := context.Background()
	for _, test := range []struct {
		name string
		req  IntegrateRequest
	}{
		{name: "one bound", req: IntegrateRequest{Lo: []float64{0, 0, 0}, MaxLevel: -1}},
		{name: "bound length", req: IntegrateRequest{Lo: []float64{0, 0}, Hi: []float64{1, 1}, MaxLevel: -1}},
		{name: "inverted bounds", req: IntegrateRequest{Lo: []float64{1, 0, 0}, Hi: []float64{0, 1, 1}, MaxLevel: -1}},
		{name: "level", req: IntegrateRequest{MaxLevel: 2}},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Integrate(ctx, h, test.req, nil)
			var e *ConfigError
			if !errors.As(err, &e) {
				t.Errorf("have %v, want a *ConfigError", err)
			}
		})
	}
	_, err := Integrate(ctx, h, IntegrateRequest{Fields: []string{"pressure"}, MaxLevel: -1}, nil)
	var e *UnknownFieldError
	if !errors.As(err, &e) {
		t.Errorf("have %v, want an *UnknownFieldError", err)
	}
}

func TestIntegrate_exact(t *testing.T) {
	for _, test := range []struct {
		name  string
		tl    testLayout
		want  float64
		cells float64
	}{
		{
			name: "single level",
			tl: testLayout{
				dims: 3, n: 4, size: 1, ratio: 2,
				boxes:  [][]IndexBox{uniformBoxes(3, 4, 2)},
				fields: []string{"density"},
				value:  constant(2),
			},
			want:  2,
			cells: 64,
		},
		{
			// Level 1 refines the central third of the domain along x.
			name: "central third",
			tl: testLayout{
				dims: 3, n: 3, size: 3, ratio: 2,
				boxes: [][]IndexBox{
					{NewIndexBox([]int{0, 0, 0}, []int{2, 2, 2})},
					{NewIndexBox([]int{2, 0, 0}, []int{3, 5, 5})},
				},
				fields: []string{"density"},
				value:  constant(1),
			},
			want:  27,
			cells: 27 - 9 + 72,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			h := test.tl.write(t)
			if err := h.CheckNesting(); err != nil {
				t.Fatal(err)
			}
			r, err := Integrate(context.Background(), h, IntegrateRequest{MaxLevel: -1}, nil)
			if err != nil {
				t.Fatal(err)
			}
			if different(r.Values["density"], test.want, testTolerance) {
				t.Errorf("density: have %g, want %g", r.Values["density"], test.want)
			}
			if different(r.Volume, h.DomainVolume(), testTolerance) {
				t.Errorf("volume: have %g, want %g", r.Volume, h.DomainVolume())
			}
			if r.Cells != test.cells {
				t.Errorf("cells: have %g, want %g", r.Cells, test.cells)
			}
		})
	}
}
