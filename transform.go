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
	"sort"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/sparse"
)

// ChemicalState is per-box thermochemical state that a Transform may
// need, such as species production rates computed by a chemistry
// library. Its content is defined by the StateFunc that creates it.
type ChemicalState interface{}

// StateFunc computes the ChemicalState of one block.
type StateFunc func(b *Block) (ChemicalState, error)

// Transform computes a derived field from the fields of one block.
// Fields maps field names to their position in b.Data. Implementations
// must be deterministic and must not keep state between calls, because
// blocks are processed concurrently and in no particular order.
type Transform interface {
	Derive(fields map[string]int, b *Block, state ChemicalState) (name string, out *sparse.DenseArray, err error)
}

// TransformFunc is an adapter to allow the use of ordinary functions as
// Transforms.
type TransformFunc func(fields map[string]int, b *Block, state ChemicalState) (string, *sparse.DenseArray, error)

// Derive calls f(fields, b, state).
func (f TransformFunc) Derive(fields map[string]int, b *Block, state ChemicalState) (string, *sparse.DenseArray, error) {
	return f(fields, b, state)
}

// Expression is a Transform that evaluates an arithmetic expression of
// field values cell by cell, e.g. "rho * u". Field names that are not
// valid identifiers can be written in brackets, e.g. "[Y(H2)] * rho".
type Expression struct {
	name string
	expr *govaluate.EvaluableExpression
	vars []string
}

// DefaultFunctions are the functions available to every Expression.
var DefaultFunctions = map[string]govaluate.ExpressionFunction{
	"exp":  unary("exp", math.Exp),
	"log":  unary("log", math.Log),
	"sqrt": unary("sqrt", math.Sqrt),
	"abs":  unary("abs", math.Abs),
	"pow": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("amrkit: got %d arguments for function 'pow', but needs 2", len(args))
		}
		return math.Pow(args[0].(float64), args[1].(float64)), nil
	},
}

func unary(name string, f func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("amrkit: got %d arguments for function '%s', but needs 1", len(args), name)
		}
		return f(args[0].(float64)), nil
	}
}

// NewExpression returns a Transform that derives the field name from
// expression. Functions are added to DefaultFunctions.
func NewExpression(name, expression string, functions map[string]govaluate.ExpressionFunction) (*Expression, error) {
	funcs := make(map[string]govaluate.ExpressionFunction, len(DefaultFunctions)+len(functions))
	for k, v := range DefaultFunctions {
		funcs[k] = v
	}
	for k, v := range functions {
		funcs[k] = v
	}
	e, err := govaluate.NewEvaluableExpressionWithFunctions(expression, funcs)
	if err != nil {
		return nil, &ConfigError{Op: "expression " + name, Err: err}
	}
	seen := make(map[string]bool)
	var vars []string
	for _, v := range e.Vars() {
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}
	sort.Strings(vars)
	return &Expression{name: name, expr: e, vars: vars}, nil
}

// Vars returns the field names the expression uses.
func (e *Expression) Vars() []string { return e.vars }

// Derive implements Transform.
func (e *Expression) Derive(fields map[string]int, b *Block, _ ChemicalState) (string, *sparse.DenseArray, error) {
	src := make([]*sparse.DenseArray, len(e.vars))
	for i, v := range e.vars {
		j, ok := fields[v]
		if !ok {
			return "", nil, &UnknownFieldError{Field: v, Available: b.Fields}
		}
		src[i] = b.Data[j]
	}
	out := sparse.ZerosDense(b.Box.Shape()...)
	params := make(govaluate.MapParameters, len(e.vars))
	for c := range out.Elements {
		for i, v := range e.vars {
			params[v] = src[i].Elements[c]
		}
		r, err := e.expr.Eval(params)
		if err != nil {
			return "", nil, fmt.Errorf("amrkit: evaluating %s: %w", e.name, err)
		}
		switch v := r.(type) {
		case float64:
			out.Elements[c] = v
		case bool:
			if v {
				out.Elements[c] = 1
			}
		default:
			return "", nil, fmt.Errorf("amrkit: expression %s returned %T, want a number", e.name, r)
		}
	}
	return e.name, out, nil
}

// DeriveRequest specifies a Derive run.
type DeriveRequest struct {
	// Keep lists the source fields copied to the output. If KeepAll is
	// true every source field is copied.
	Keep    []string
	KeepAll bool

	// Transforms compute the derived fields, which follow the kept
	// fields in the output.
	Transforms []Transform

	// State optionally computes the ChemicalState passed to the
	// transforms.
	State StateFunc

	// Width is the element width of the output. WidthAuto selects Float64.
	Width Width
}

// Derive writes a plotfile to dst that has the box structure of h and
// holds the kept fields of h followed by the fields computed by the
// transforms. Each unit of work of d writes its own data file, so with
// the PerFile partition the output files mirror the input files. It
// returns the hierarchy of the new plotfile.
func Derive(ctx context.Context, h *Hierarchy, dst Storage, req DeriveRequest, d *Distributor) (*Hierarchy, error) {
	const op = "derive"
	if err := h.checkData(op); err != nil {
		return nil, err
	}
	keep := req.Keep
	if req.KeepAll {
		keep = h.FieldNames
	}
	if len(keep) == 0 && len(req.Transforms) == 0 {
		return nil, &ConfigError{Op: op, Err: fmt.Errorf("no fields to write")}
	}
	keepIdx, err := h.FieldIndices(keep)
	if err != nil {
		return nil, err
	}
	if len(keep) == 0 {
		keepIdx = nil
	}
	all, _ := h.FieldIndices(nil)
	w := req.Width
	if w == WidthAuto {
		w = Float64
	}

	// The writer needs the output field names, which are only known once
	// the transforms have run on a block.
	var names []string
	type written struct {
		loc   Locator
		names []string
	}
	fieldMap := h.Fields()
	var pw *PlotfileWriter
	keys := h.Keys(-1)
	parts, err := MapPartitions(ctx, d, h, keys, func(ctx context.Context, part []Key) ([]written, error) {
		lev := part[0].Level
		name := fmt.Sprintf("%s/Cell_D_%05d", h.Levels[lev].CellPath, part[0].Box)
		f, err := dst.Create(ctx, name)
		if err != nil {
			return nil, err
		}
		bw := NewBlockWriter(f, name)
		o := make([]written, len(part))
		for i, k := range part {
			b := h.Levels[k.Level].Boxes[k.Box]
			data, fn, err := deriveBox(ctx, h, b, all, keepIdx, fieldMap, req)
			if err != nil {
				f.Close()
				return nil, err
			}
			loc, err := bw.WriteBlock(b.Index, data, fn, w)
			if err != nil {
				f.Close()
				return nil, err
			}
			o[i] = written{loc: loc, names: fn}
		}
		if err := f.Close(); err != nil {
			return nil, &IOError{Op: op, Path: name, Level: lev, Box: -1, Err: err}
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	for i, p := range parts {
		if i == 0 {
			names = p.names
			if pw, err = NewPlotfileWriter(dst, h, names); err != nil {
				return nil, err
			}
		} else if !equalStrings(names, p.names) {
			return nil, &ConfigError{Op: op, Err: fmt.Errorf("transforms produced fields %v for %v but %v for %v",
				p.names, keys[i], names, keys[0])}
		}
		if err := pw.SetLocator(keys[i].Level, keys[i].Box, p.loc); err != nil {
			return nil, err
		}
	}
	if pw == nil {
		return nil, &ConfigError{Op: op, Err: fmt.Errorf("the plotfile has no boxes")}
	}
	return pw.Close(ctx)
}

// deriveBox reads one box and returns the kept and derived fields.
func deriveBox(ctx context.Context, h *Hierarchy, b *Box, all, keep []int, fieldMap map[string]int, req DeriveRequest) ([]*sparse.DenseArray, []string, error) {
	blk, err := h.ReadBlock(ctx, b, all, WidthAuto)
	if err != nil {
		return nil, nil, err
	}
	var state ChemicalState
	if req.State != nil {
		if state, err = req.State(blk); err != nil {
			return nil, nil, fmt.Errorf("amrkit: computing chemical state of %v: %w", b, err)
		}
	}
	var data []*sparse.DenseArray
	var names []string
	for _, k := range keep {
		data = append(data, blk.Data[k])
		names = append(names, h.FieldNames[k])
	}
	for _, t := range req.Transforms {
		name, out, err := t.Derive(fieldMap, blk, state)
		if err != nil {
			return nil, nil, err
		}
		if len(out.Elements) != b.Index.NumCells() {
			return nil, nil, &ConfigError{Op: "derive " + name,
				Err: fmt.Errorf("derived %d values for %v, which has %d cells", len(out.Elements), b, b.Index.NumCells())}
		}
		data = append(data, out)
		names = append(names, name)
	}
	return data, names, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
