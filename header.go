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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

const (
	// HeaderFile is the name of the global plotfile header.
	HeaderFile = "Header"

	// cellHeader is the name of the box list header in each level directory.
	cellHeader = "Cell_H"
)

// ParseOptions control how much of a plotfile header is read.
type ParseOptions struct {
	// Levels is the number of levels to read, starting from level 0.
	// Zero reads every level.
	Levels int

	// HeaderOnly skips the level headers, so that boxes carry only the
	// physical bounds listed in the global header. This is much faster
	// for plotfiles with many boxes, but block operations are unavailable.
	HeaderOnly bool

	// MinMax reads the per-box field extrema stored in the level headers.
	MinMax bool
}

// ParseDir parses the headers of the plotfile in the local directory dir.
func ParseDir(dir string) (*Hierarchy, error) {
	return Parse(context.Background(), DirStorage(dir), ParseOptions{})
}

// Parse reads the global header and the level headers of a plotfile and
// returns the resulting hierarchy. No binary data is read. A
// *FormatError is returned for malformed headers and an *IOError for
// missing or unreadable ones.
func Parse(ctx context.Context, s Storage, opts ParseOptions) (*Hierarchy, error) {
	r, err := openLines(ctx, s, HeaderFile, -1)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	h, err := parseGlobal(r, opts)
	if err != nil {
		return nil, err
	}
	h.Storage = s
	if opts.HeaderOnly {
		h.HeaderOnly = true
		return h, nil
	}
	for _, l := range h.Levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := parseLevel(ctx, s, h, l, opts.MinMax); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// lines reads a text file line by line, keeping track of the line
// number for error messages.
type lines struct {
	f     File
	sc    *bufio.Scanner
	name  string
	n     int
	level int
}

func openLines(ctx context.Context, s Storage, name string, level int) (*lines, error) {
	size, err := s.Size(ctx, name)
	if err != nil {
		return nil, withLevel(err, level)
	}
	f, err := s.Open(ctx, name)
	if err != nil {
		return nil, withLevel(err, level)
	}
	sc := bufio.NewScanner(io.NewSectionReader(f, 0, size))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &lines{f: f, sc: sc, name: name, level: level}, nil
}

func withLevel(err error, level int) error {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		ioErr.Level = level
	}
	return err
}

func (l *lines) Close() error { return l.f.Close() }

// next returns the next line with surrounding white space removed.
func (l *lines) next() (string, error) {
	if !l.sc.Scan() {
		l.n++
		if err := l.sc.Err(); err != nil {
			return "", &IOError{Op: "read header", Path: l.name, Level: l.level, Box: -1, Err: err}
		}
		return "", l.errorf("unexpected end of file")
	}
	l.n++
	return strings.TrimSpace(l.sc.Text()), nil
}

func (l *lines) errorf(format string, a ...interface{}) error {
	return &FormatError{Op: "parse", Path: l.name, Line: l.n, Level: l.level, Err: fmt.Errorf(format, a...)}
}

func (l *lines) int() (int, error) {
	s, err := l.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, l.errorf("expected an integer, found %q", s)
	}
	return v, nil
}

func (l *lines) float() (float64, error) {
	s, err := l.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, l.errorf("expected a number, found %q", s)
	}
	return v, nil
}

func (l *lines) ints(n int) ([]int, error) {
	s, err := l.next()
	if err != nil {
		return nil, err
	}
	v, err := parseInts(strings.Fields(s))
	if err != nil || (n >= 0 && len(v) != n) {
		return nil, l.errorf("expected %d integers, found %q", n, s)
	}
	return v, nil
}

func (l *lines) floats(n int) ([]float64, error) {
	s, err := l.next()
	if err != nil {
		return nil, err
	}
	v, err := parseFloats(strings.Fields(s))
	if err != nil || (n >= 0 && len(v) != n) {
		return nil, l.errorf("expected %d numbers, found %q", n, s)
	}
	return v, nil
}

// parseGlobal parses the global header.
func parseGlobal(r *lines, opts ParseOptions) (*Hierarchy, error) {
	h := new(Hierarchy)
	var err error
	if h.Version, err = r.next(); err != nil {
		return nil, err
	}
	nvars, err := r.int()
	if err != nil {
		return nil, err
	}
	if nvars < 1 {
		return nil, r.errorf("invalid number of fields %d", nvars)
	}
	h.FieldNames = make([]string, nvars)
	for i := range h.FieldNames {
		if h.FieldNames[i], err = r.next(); err != nil {
			return nil, err
		}
	}
	if h.Dims, err = r.int(); err != nil {
		return nil, err
	}
	if h.Dims < 1 || h.Dims > 3 {
		return nil, r.errorf("invalid number of dimensions %d", h.Dims)
	}
	if h.Time, err = r.float(); err != nil {
		return nil, err
	}
	if h.FinestLevel, err = r.int(); err != nil {
		return nil, err
	}
	if h.FinestLevel < 0 {
		return nil, r.errorf("invalid finest level %d", h.FinestLevel)
	}
	if h.ProbLo, err = r.floats(h.Dims); err != nil {
		return nil, err
	}
	if h.ProbHi, err = r.floats(h.Dims); err != nil {
		return nil, err
	}
	for i := range h.ProbLo {
		if h.ProbHi[i] <= h.ProbLo[i] {
			return nil, r.errorf("empty domain along axis %d: [%g, %g]", i, h.ProbLo[i], h.ProbHi[i])
		}
	}
	ratios, err := r.ints(h.FinestLevel)
	if err != nil {
		return nil, err
	}
	domainLine, err := r.next()
	if err != nil {
		return nil, err
	}
	domains := splitBoxes(domainLine)
	if len(domains) != h.FinestLevel+1 {
		return nil, r.errorf("found %d level domains, want %d", len(domains), h.FinestLevel+1)
	}
	steps, err := r.ints(h.FinestLevel + 1)
	if err != nil {
		return nil, err
	}

	nlevels := h.FinestLevel + 1
	if opts.Levels > 0 {
		if opts.Levels > nlevels {
			return nil, &ConfigError{Op: "parse", Err: fmt.Errorf("the maximum level of the plotfile is %d, but %d levels were requested",
				h.FinestLevel, opts.Levels)}
		}
		nlevels = opts.Levels
	}
	all := make([]*Level, h.FinestLevel+1)
	for i := range all {
		l := &Level{Index: i, Step: steps[i], RefRatio: 1}
		if i > 0 {
			l.RefRatio = ratios[i-1]
		}
		if l.Domain, err = parseIndexBox(domains[i]); err != nil {
			return nil, r.errorf("%v", err)
		}
		if l.Domain.Dims() != h.Dims {
			return nil, r.errorf("level %d domain has %d dimensions, want %d", i, l.Domain.Dims(), h.Dims)
		}
		if l.Dx, err = r.floats(h.Dims); err != nil {
			return nil, err
		}
		all[i] = l
	}
	if h.CoordSys, err = r.int(); err != nil {
		return nil, err
	}
	if z, err := r.int(); err != nil {
		return nil, err
	} else if z != 0 {
		return nil, r.errorf("expected 0 before the level data, found %d", z)
	}

	h.Levels = all[:nlevels]
	for _, l := range h.Levels {
		// The level line is "lev ngrids time".
		line, err := r.next()
		if err != nil {
			return nil, err
		}
		f := strings.Fields(line)
		if len(f) < 2 {
			return nil, r.errorf("invalid level line %q", line)
		}
		lev, err := parseInts(f[:2])
		if err != nil {
			return nil, r.errorf("invalid level line %q", line)
		}
		if lev[0] != l.Index {
			return nil, r.errorf("found level %d, want %d", lev[0], l.Index)
		}
		if _, err := r.next(); err != nil { // level step
			return nil, err
		}
		l.Boxes = make([]*Box, lev[1])
		for i := range l.Boxes {
			b := &Box{Level: l.Index, ID: i, PhysLo: make([]float64, h.Dims), PhysHi: make([]float64, h.Dims)}
			for d := 0; d < h.Dims; d++ {
				v, err := r.floats(2)
				if err != nil {
					return nil, err
				}
				b.PhysLo[d], b.PhysHi[d] = v[0], v[1]
			}
			l.Boxes[i] = b
		}
		p, err := r.next()
		if err != nil {
			return nil, err
		}
		l.CellPath = path.Dir(p)
		if l.CellPath == "." || l.CellPath == "" {
			return nil, r.errorf("invalid level path %q", p)
		}
	}
	if err := h.finish(); err != nil {
		return nil, r.errorf("%v", err)
	}
	return h, nil
}

// parseLevel reads the box list header of level l.
func parseLevel(ctx context.Context, s Storage, h *Hierarchy, l *Level, minmax bool) error {
	r, err := openLines(ctx, s, path.Join(l.CellPath, cellHeader), l.Index)
	if err != nil {
		return err
	}
	defer r.Close()

	for i := 0; i < 2; i++ {
		if _, err := r.next(); err != nil {
			return err
		}
	}
	ncomp, err := r.int()
	if err != nil {
		return err
	}
	if ncomp != h.NumFields() {
		return r.errorf("level header has %d components, but the plotfile has %d fields", ncomp, h.NumFields())
	}
	if l.NGhost, err = r.int(); err != nil {
		return err
	}
	line, err := r.next()
	if err != nil {
		return err
	}
	f := strings.Fields(strings.TrimPrefix(line, "("))
	if len(f) < 1 {
		return r.errorf("invalid box array header %q", line)
	}
	n, err := strconv.Atoi(f[0])
	if err != nil {
		return r.errorf("invalid box array header %q", line)
	}
	if n != len(l.Boxes) {
		return r.errorf("level header lists %d boxes, but the global header lists %d", n, len(l.Boxes))
	}
	for _, b := range l.Boxes {
		line, err := r.next()
		if err != nil {
			return err
		}
		if b.Index, err = parseIndexBox(line); err != nil {
			return r.errorf("%v", err)
		}
		if b.Index.Dims() != h.Dims {
			return r.errorf("box has %d dimensions, want %d", b.Index.Dims(), h.Dims)
		}
		if b.Index.Empty() {
			return r.errorf("empty box %v", b.Index)
		}
	}
	if line, err = r.next(); err != nil {
		return err
	}
	if line != ")" {
		return r.errorf("expected ')', found %q", line)
	}
	if n2, err := r.int(); err != nil {
		return err
	} else if n2 != n {
		return r.errorf("found %d data locators, want %d", n2, n)
	}
	for _, b := range l.Boxes {
		line, err := r.next()
		if err != nil {
			return err
		}
		f := strings.Fields(line)
		if len(f) != 3 || f[0] != "FabOnDisk:" {
			return r.errorf("invalid data locator %q", line)
		}
		b.File = path.Join(l.CellPath, f[1])
		if b.Offset, err = strconv.ParseInt(f[2], 10, 64); err != nil || b.Offset < 0 {
			return r.errorf("invalid offset in %q", line)
		}
	}
	if !minmax {
		return nil
	}
	// The extrema tables are optional.
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return &IOError{Op: "read header", Path: r.name, Level: r.level, Box: -1, Err: err}
		}
		return nil
	}
	r.n++
	for t, dst := range []func(*Box, []float64){
		func(b *Box, v []float64) { b.Min = v },
		func(b *Box, v []float64) { b.Max = v },
	} {
		for i := 0; i < 2; i++ {
			if t == 0 && i == 0 {
				continue
			}
			if _, err := r.next(); err != nil {
				return err
			}
		}
		for _, b := range l.Boxes {
			line, err := r.next()
			if err != nil {
				return err
			}
			v, err := parseFloats(strings.Split(strings.TrimSuffix(line, ","), ","))
			if err != nil || len(v) != ncomp {
				return r.errorf("invalid extrema %q", line)
			}
			dst(b, v)
		}
	}
	return nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func joinFloats(v []float64) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = formatFloat(x)
	}
	return strings.Join(s, " ")
}

// WriteHeader writes the global header of h to w, listing the given
// fields instead of the fields of h. It returns a *ConfigError if a field
// name is repeated.
func WriteHeader(w io.Writer, h *Hierarchy, fields []string) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f] {
			return &ConfigError{Op: "write header", Err: fmt.Errorf("duplicate field %q", f)}
		}
		seen[f] = true
	}
	if len(fields) == 0 {
		return &ConfigError{Op: "write header", Err: fmt.Errorf("no fields")}
	}
	b := bufio.NewWriter(w)
	fmt.Fprintln(b, h.Version)
	fmt.Fprintln(b, len(fields))
	for _, f := range fields {
		fmt.Fprintln(b, f)
	}
	fmt.Fprintln(b, h.Dims)
	fmt.Fprintln(b, formatFloat(h.Time))
	fmt.Fprintln(b, len(h.Levels)-1)
	fmt.Fprintln(b, joinFloats(h.ProbLo))
	fmt.Fprintln(b, joinFloats(h.ProbHi))
	var ratios, domains, steps []string
	for _, l := range h.Levels {
		if l.Index > 0 {
			ratios = append(ratios, strconv.Itoa(l.RefRatio))
		}
		domains = append(domains, l.Domain.String())
		steps = append(steps, strconv.Itoa(l.Step))
	}
	fmt.Fprintln(b, strings.Join(ratios, " "))
	fmt.Fprintln(b, strings.Join(domains, " "))
	fmt.Fprintln(b, strings.Join(steps, " "))
	for _, l := range h.Levels {
		fmt.Fprintln(b, joinFloats(l.Dx))
	}
	fmt.Fprintln(b, h.CoordSys)
	fmt.Fprintln(b, 0)
	for _, l := range h.Levels {
		fmt.Fprintf(b, "%d %d %s\n", l.Index, len(l.Boxes), formatFloat(h.Time))
		fmt.Fprintln(b, l.Step)
		for _, bx := range l.Boxes {
			lo, hi := bx.PhysLo, bx.PhysHi
			if len(lo) != h.Dims {
				lo, hi = physBounds(h, l, bx.Index)
			}
			for d := 0; d < h.Dims; d++ {
				fmt.Fprintf(b, "%s %s\n", formatFloat(lo[d]), formatFloat(hi[d]))
			}
		}
		fmt.Fprintln(b, path.Join(l.CellPath, "Cell"))
	}
	return b.Flush()
}

// physBounds returns the physical extent of an index box.
func physBounds(h *Hierarchy, l *Level, b IndexBox) (lo, hi []float64) {
	lo = make([]float64, len(b.Lo))
	hi = make([]float64, len(b.Lo))
	for d := range b.Lo {
		lo[d] = h.ProbLo[d] + float64(b.Lo[d])*l.Dx[d]
		hi[d] = h.ProbLo[d] + float64(b.Hi[d]+1)*l.Dx[d]
	}
	return lo, hi
}

// WriteLevelHeader writes the box list header of a level to w. The
// boxes must carry data locators in the level directory. The extrema
// tables are written if every box has them.
func WriteLevelHeader(w io.Writer, l *Level, ncomp int) error {
	b := bufio.NewWriter(w)
	fmt.Fprintln(b, 1)
	fmt.Fprintln(b, 0)
	fmt.Fprintln(b, ncomp)
	fmt.Fprintln(b, l.NGhost)
	fmt.Fprintf(b, "(%d 0\n", len(l.Boxes))
	for _, bx := range l.Boxes {
		fmt.Fprintln(b, bx.Index.String())
	}
	fmt.Fprintln(b, ")")
	fmt.Fprintln(b, len(l.Boxes))
	minmax := true
	for _, bx := range l.Boxes {
		fmt.Fprintf(b, "FabOnDisk: %s %d\n", path.Base(bx.File), bx.Offset)
		if len(bx.Min) != ncomp || len(bx.Max) != ncomp {
			minmax = false
		}
	}
	if minmax {
		for _, get := range []func(*Box) []float64{
			func(bx *Box) []float64 { return bx.Min },
			func(bx *Box) []float64 { return bx.Max },
		} {
			fmt.Fprintln(b)
			fmt.Fprintf(b, "%d,%d\n", len(l.Boxes), ncomp)
			for _, bx := range l.Boxes {
				for _, v := range get(bx) {
					fmt.Fprintf(b, "%s,", strconv.FormatFloat(v, 'e', 16, 64))
				}
				fmt.Fprintln(b)
			}
		}
	}
	return b.Flush()
}
