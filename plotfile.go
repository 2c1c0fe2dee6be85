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
	"io"
	"path"

	"github.com/ctessum/sparse"
)

// DefaultVersion is the version string written to new plotfiles.
const DefaultVersion = "HyperCLaw-V1.1"

// PlotfileWriter writes a plotfile with the box structure of a template
// hierarchy. Block data is written through DataWriters, after which
// Close writes the headers.
type PlotfileWriter struct {
	s Storage
	h *Hierarchy
}

// NewPlotfileWriter returns a writer for a plotfile in s that holds the
// given fields on the levels and boxes of template. Only the geometry of
// template is used: its metadata, its levels' ratios, cell sizes and
// domains, and the index boxes of every level. A *ConfigError is
// returned if a field name is repeated.
func NewPlotfileWriter(s Storage, template *Hierarchy, fields []string) (*PlotfileWriter, error) {
	const op = "create plotfile"
	if len(fields) == 0 {
		return nil, &ConfigError{Op: op, Err: fmt.Errorf("no fields")}
	}
	if len(template.Levels) == 0 {
		return nil, &ConfigError{Op: op, Err: fmt.Errorf("the hierarchy has no levels")}
	}
	h := &Hierarchy{
		Version:     template.Version,
		Dims:        template.Dims,
		Time:        template.Time,
		FieldNames:  append([]string{}, fields...),
		ProbLo:      template.ProbLo,
		ProbHi:      template.ProbHi,
		CoordSys:    template.CoordSys,
		FinestLevel: len(template.Levels) - 1,
		Storage:     s,
	}
	if h.Version == "" {
		h.Version = DefaultVersion
	}
	for i, tl := range template.Levels {
		l := &Level{
			Index:    i,
			RefRatio: tl.RefRatio,
			Dx:       tl.Dx,
			Domain:   tl.Domain,
			Step:     tl.Step,
			CellPath: tl.CellPath,
			NGhost:   tl.NGhost,
			Boxes:    make([]*Box, len(tl.Boxes)),
		}
		if l.CellPath == "" {
			l.CellPath = fmt.Sprintf("Level_%d", i)
		}
		for j, tb := range tl.Boxes {
			if tb.Index.Dims() != h.Dims {
				return nil, &ConfigError{Op: op, Err: fmt.Errorf("level %d box %d has %d dimensions, want %d", i, j, tb.Index.Dims(), h.Dims)}
			}
			l.Boxes[j] = &Box{Level: i, ID: j, Index: tb.Index, Offset: -1}
		}
		h.Levels = append(h.Levels, l)
	}
	if err := h.finish(); err != nil {
		return nil, &ConfigError{Op: op, Err: err}
	}
	for _, l := range h.Levels {
		for _, b := range l.Boxes {
			b.PhysLo, b.PhysHi = physBounds(h, l, b.Index)
		}
	}
	return &PlotfileWriter{s: s, h: h}, nil
}

// SetLocator records where the data of a box was written.
func (pw *PlotfileWriter) SetLocator(level, box int, loc Locator) error {
	b, err := pw.h.Box(level, box)
	if err != nil {
		return err
	}
	if len(loc.Min) != pw.h.NumFields() || len(loc.Max) != pw.h.NumFields() {
		return &ConfigError{Op: "set locator", Err: fmt.Errorf("%v: block holds %d fields, want %d", b, len(loc.Min), pw.h.NumFields())}
	}
	if path.Dir(loc.File) != pw.h.Levels[level].CellPath {
		return &ConfigError{Op: "set locator", Err: fmt.Errorf("%v: file %s is not in %s", b, loc.File, pw.h.Levels[level].CellPath)}
	}
	b.File, b.Offset = loc.File, loc.Offset
	b.Min, b.Max = loc.Min, loc.Max
	return nil
}

// DataWriter writes the blocks of one data file of a level.
type DataWriter struct {
	pw    *PlotfileWriter
	level int
	wc    io.WriteCloser
	bw    *BlockWriter
}

// Create creates the data file name, e.g. "Cell_D_00000", in the
// directory of level. A DataWriter must only be used by one goroutine,
// and no two DataWriters may write the same box.
func (pw *PlotfileWriter) Create(ctx context.Context, level int, name string) (*DataWriter, error) {
	if level < 0 || level >= len(pw.h.Levels) {
		return nil, &ConfigError{Op: "create data file", Err: fmt.Errorf("level %d is not in [0, %d]", level, pw.h.MaxLevel())}
	}
	p := path.Join(pw.h.Levels[level].CellPath, name)
	wc, err := pw.s.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	return &DataWriter{pw: pw, level: level, wc: wc, bw: NewBlockWriter(wc, p)}, nil
}

// Write writes the data of one box, one array per field of the
// plotfile, with element width w.
func (dw *DataWriter) Write(box int, data []*sparse.DenseArray, w Width) error {
	b, err := dw.pw.h.Box(dw.level, box)
	if err != nil {
		return err
	}
	loc, err := dw.bw.WriteBlock(b.Index, data, dw.pw.h.FieldNames, w)
	if err != nil {
		return err
	}
	return dw.pw.SetLocator(dw.level, box, loc)
}

// Close closes the data file.
func (dw *DataWriter) Close() error {
	if err := dw.wc.Close(); err != nil {
		return &IOError{Op: "close", Path: dw.bw.name, Level: dw.level, Box: -1, Err: err}
	}
	return nil
}

// Close writes the level headers and the global header and returns the
// hierarchy of the new plotfile. Every box must have been written.
func (pw *PlotfileWriter) Close(ctx context.Context) (*Hierarchy, error) {
	for _, l := range pw.h.Levels {
		for _, b := range l.Boxes {
			if b.Offset < 0 {
				return nil, &ConfigError{Op: "close plotfile", Err: fmt.Errorf("%v was not written", b)}
			}
		}
		if err := pw.writeFile(ctx, path.Join(l.CellPath, cellHeader), func(w io.Writer) error {
			return WriteLevelHeader(w, l, pw.h.NumFields())
		}); err != nil {
			return nil, err
		}
	}
	if err := pw.writeFile(ctx, HeaderFile, func(w io.Writer) error {
		return WriteHeader(w, pw.h, pw.h.FieldNames)
	}); err != nil {
		return nil, err
	}
	return pw.h, nil
}

func (pw *PlotfileWriter) writeFile(ctx context.Context, name string, write func(io.Writer) error) error {
	w, err := pw.s.Create(ctx, name)
	if err != nil {
		return err
	}
	if err := write(w); err != nil {
		w.Close()
		return &IOError{Op: "write", Path: name, Level: -1, Box: -1, Err: err}
	}
	if err := w.Close(); err != nil {
		return &IOError{Op: "write", Path: name, Level: -1, Box: -1, Err: err}
	}
	return nil
}
