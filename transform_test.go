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

	"github.com/ctessum/sparse"
)

func TestExpression(t *testing.T) {
	e, err := NewExpression("rho2", "2 * [density] + sqrt(temp*temp)", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(e.Vars(), []string{"density", "temp"}) {
		t.Errorf("vars: have %v", e.Vars())
	}
	temp, density := sparse.ZerosDense(2, 1), sparse.ZerosDense(2, 1)
	copy(temp.Elements, []float64{-3, 4})
	copy(density.Elements, []float64{1, 2})
	blk := &Block{
		Box:    &Box{Index: NewIndexBox([]int{0, 0}, []int{1, 0})},
		Fields: []string{"temp", "density"},
		Data:   []*sparse.DenseArray{temp, density},
	}
	name, out, err := e.Derive(map[string]int{"temp": 0, "density": 1}, blk, nil)
	if err != nil {
		t.Fatal(err)
	}
	if name != "rho2" || !reflect.DeepEqual(out.Elements, []float64{5, 8}) {
		t.Errorf("have %s = %v, want rho2 = [5 8]", name, out.Elements)
	}

	cmp, err := NewExpression("hot", "temp > 0", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, out, err = cmp.Derive(map[string]int{"temp": 0}, blk, nil); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(out.Elements, []float64{0, 1}) {
		t.Errorf("have %v, want [0 1]", out.Elements)
	}

	missing, err := NewExpression("p", "pressure * 2", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = missing.Derive(map[string]int{"temp": 0}, blk, nil)
	var ue *UnknownFieldError
	if !errors.As(err, &ue) {
		t.Errorf("have %v, want an *UnknownFieldError", err)
	}

	var ce *ConfigError
	if _, err := NewExpression("bad", "2 * (temp", nil); !errors.As(err, &ce) {
		t.Errorf("have %v, want a *ConfigError", err)
	}
}

func TestDerive(t *testing.T) {
	h := twoLevel3D(linear).write(t)
	ctx := context.Background()
	e, err := NewExpression("mix", "2 * density + temp", nil)
	if err != nil {
		t.Fatal(err)
	}
	// The state of a block is its box id, which the second transform
	// writes out.
	boxID := TransformFunc(func(fields map[string]int, b *Block, state ChemicalState) (string, *sparse.DenseArray, error) {
		out := sparse.ZerosDense(b.Box.Shape()...)
		for i := range out.Elements {
			out.Elements[i] = float64(state.(int))
		}
		return "box", out, nil
	})
	for _, p := range []Partition{PerBox, PerFile} {
		t.Run(p.String(), func(t *testing.T) {
			dst := DirStorage(t.TempDir())
			out, err := Derive(ctx, h, dst, DeriveRequest{
				Keep:       []string{"temp"},
				Transforms: []Transform{e, boxID},
				State:      func(b *Block) (ChemicalState, error) { return b.Box.ID, nil },
			}, &Distributor{Workers: 3, Partition: p})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(out.FieldNames, []string{"temp", "mix", "box"}) {
				t.Errorf("fields: have %v", out.FieldNames)
			}
			// The output must be a readable plotfile.
			h2, err := Parse(ctx, dst, ParseOptions{MinMax: true})
			if err != nil {
				t.Fatal(err)
			}
			if !h2.Compatible(h) {
				t.Fatalf("output box structure differs")
			}
			for _, l := range h2.Levels {
				for _, b := range l.Boxes {
					blk, err := h2.ReadBlock(ctx, b, []int{0, 1, 2}, WidthAuto)
					if err != nil {
						t.Fatal(err)
					}
					forEachCell(b.Index, func(idx []int, q int) {
						x := cellCenter(h2, l, idx)
						want := []float64{linear(1, l.Index, x), 2*linear(0, l.Index, x) + linear(1, l.Index, x), float64(b.ID)}
						for f, w := range want {
							if different(blk.Data[f].Elements[q], w, 1.e-12) {
								t.Fatalf("%v field %d cell %v: have %g, want %g", b, f, idx, blk.Data[f].Elements[q], w)
							}
						}
					})
				}
			}
			if p == PerFile {
				if n := len(h2.ByDataFile(0)); n != 2 {
					t.Errorf("have %d level 0 files, want 2", n)
				}
			}
		})
	}
}

func TestDerive_keepAll(t *testing.T) {
	h := twoLevel3D(linear).write(t)
	ctx := context.Background()
	out, err := Derive(ctx, h, DirStorage(t.TempDir()), DeriveRequest{KeepAll: true, Width: Float32}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out.FieldNames, h.FieldNames) {
		t.Errorf("fields: have %v", out.FieldNames)
	}
	blk, err := out.ReadBlock(ctx, out.Levels[0].Boxes[3], []int{1}, Float32)
	if err != nil {
		t.Fatal(err)
	}
	b := out.Levels[0].Boxes[3]
	forEachCell(b.Index, func(idx []int, q int) {
		want := float64(float32(linear(1, 0, cellCenter(out, out.Levels[0], idx))))
		if have := blk.Data[0].Elements[q]; have != want {
			t.Fatalf("cell %v: have %g, want %g", idx, have, want)
		}
	})
}

func TestDerive_errors(t *testing.T) {
	h := twoLevel3D(linear).write(t)
	ctx := context.Background()
	byLevel := TransformFunc(func(fields map[string]int, b *Block, _ ChemicalState) (string, *sparse.DenseArray, error) {
		return fmt.Sprintf("level%d", b.Box.Level), sparse.ZerosDense(b.Box.Shape()...), nil
	})
	short := TransformFunc(func(fields map[string]int, b *Block, _ ChemicalState) (string, *sparse.DenseArray, error) {
		return "short", sparse.ZerosDense(1), nil
	})
	for _, test := range []struct {
		name string
		req  DeriveRequest
	}{
		{name: "nothing", req: DeriveRequest{}},
		{name: "names", req: DeriveRequest{Transforms: []Transform{byLevel}}},
		{name: "shape", req: DeriveRequest{Transforms: []Transform{short}}},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Derive(ctx, h, DirStorage(t.TempDir()), test.req, nil)
			var e *ConfigError
			if !errors.As(err, &e) {
				t.Errorf("have %v, want a *ConfigError", err)
			}
		})
	}
	_, err := Derive(ctx, h, DirStorage(t.TempDir()), DeriveRequest{Keep: []string{"pressure"}}, nil)
	var ue *UnknownFieldError
	if !errors.As(err, &ue) {
		t.Errorf("have %v, want an *UnknownFieldError", err)
	}
}
