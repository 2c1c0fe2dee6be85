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
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// Width is the size in bytes of one stored value.
type Width int

// Supported widths. WidthAuto accepts whatever width the block header
// declares.
const (
	WidthAuto Width = 0
	Float32   Width = 4
	Float64   Width = 8
)

func (w Width) String() string {
	switch w {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case WidthAuto:
		return "auto"
	default:
		return fmt.Sprintf("Width(%d)", int(w))
	}
}

// maxFABHeader is the longest block header line that is accepted.
const maxFABHeader = 4096

// fabHeader is the ASCII line at the start of every data block, e.g.
// FAB ((8, (64 11 52 0 1 12 0 1023)),(8, (8 7 6 5 4 3 2 1)))((0,0,0) (7,7,7) (0,0,0)) 3
type fabHeader struct {
	width Width
	order binary.ByteOrder
	box   IndexBox
	ncomp int
	size  int64 // length of the header line including the newline
}

var fabRegexp = regexp.MustCompile(`^FAB \(\((\d+), \(([\d ]+)\)\),\((\d+), \(([\d ]+)\)\)\)(\(.*\)) (\d+)\s*$`)

func parseFABHeader(line string) (*fabHeader, error) {
	m := fabRegexp.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return nil, fmt.Errorf("invalid block header %q", line)
	}
	w, _ := strconv.Atoi(m[3])
	h := &fabHeader{width: Width(w), size: int64(len(line))}
	if h.width != Float32 && h.width != Float64 {
		return nil, fmt.Errorf("unsupported element width %d in block header", w)
	}
	order, err := parseInts(strings.Fields(m[4]))
	if err != nil || len(order) != w {
		return nil, fmt.Errorf("invalid byte order in block header %q", line)
	}
	switch {
	case order[0] == w:
		h.order = binary.LittleEndian
	case order[0] == 1:
		h.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unsupported byte order %v", order)
	}
	if h.box, err = parseIndexBox(m[5]); err != nil {
		return nil, err
	}
	h.ncomp, _ = strconv.Atoi(m[6])
	return h, nil
}

// formatFABHeader returns the header line for a little-endian block.
func formatFABHeader(box IndexBox, ncomp int, w Width) string {
	var desc string
	if w == Float32 {
		desc = "((8, (32 8 23 0 1 9 0 127)),(4, (4 3 2 1)))"
	} else {
		desc = "((8, (64 11 52 0 1 12 0 1023)),(8, (8 7 6 5 4 3 2 1)))"
	}
	return fmt.Sprintf("FAB %s%s %d\n", desc, box.String(), ncomp)
}

// readFABHeader reads the header line of the block at offset in f.
func readFABHeader(f io.ReaderAt, offset int64) (*fabHeader, error) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for len(buf) < maxFABHeader {
		n, err := f.ReadAt(chunk, offset+int64(len(buf)))
		buf = append(buf, chunk[:n]...)
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			return parseFABHeader(string(buf[:i+1]))
		}
		if err == io.EOF {
			return nil, fmt.Errorf("block header is truncated")
		} else if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no block header found in the first %d bytes", maxFABHeader)
}

// Block holds the data of one box for a subset of fields.
type Block struct {
	Box *Box

	// Fields holds the names of the fields in Data.
	Fields []string

	// Data holds one row-major array per field, with the shape of the box.
	Data []*sparse.DenseArray
}

// Field returns the data of the named field.
func (b *Block) Field(name string) (*sparse.DenseArray, error) {
	for i, f := range b.Fields {
		if f == name {
			return b.Data[i], nil
		}
	}
	return nil, &UnknownFieldError{Field: name, Available: b.Fields}
}

// BlockSize returns the number of bytes that a block of the given box
// holds after its header line.
func BlockSize(box IndexBox, ncomp int, w Width) int64 {
	return int64(box.NumCells()) * int64(ncomp) * int64(w)
}

// ReadBlock reads the data of box b for the fields with the given storage
// indices. The element width declared in the block header must equal w,
// unless w is WidthAuto. A *CorruptionError is returned if the block
// header disagrees with the level header or if fewer bytes than
// expected can be read.
func (h *Hierarchy) ReadBlock(ctx context.Context, b *Box, fields []int, w Width) (*Block, error) {
	if err := h.checkData("read block"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := h.Storage.Open(ctx, b.File)
	if err != nil {
		return nil, boxIOError(err, b)
	}
	defer f.Close()

	fh, err := h.checkFABHeader(f, b, w)
	if err != nil {
		return nil, err
	}
	out := &Block{Box: b, Fields: make([]string, len(fields)), Data: make([]*sparse.DenseArray, len(fields))}
	n := b.Index.NumCells()
	buf := make([]byte, n*int(fh.width))
	start := b.Offset + fh.size
	for i, fi := range fields {
		if fi < 0 || fi >= fh.ncomp {
			return nil, &ConfigError{Op: "read block", Err: fmt.Errorf("field index %d is not in [0, %d)", fi, fh.ncomp)}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		off := start + int64(fi)*int64(len(buf))
		nr, err := f.ReadAt(buf, off)
		if nr != len(buf) {
			if err == nil || err == io.EOF {
				err = fmt.Errorf("field %d: read %d bytes, want %d", fi, nr, len(buf))
			}
			return nil, &CorruptionError{Op: "read block", Path: b.File, Offset: b.Offset, Level: b.Level, Box: b.ID, Err: err}
		}
		out.Fields[i] = h.FieldNames[fi]
		out.Data[i] = decodeFortran(buf, b.Shape(), fh.width, fh.order)
	}
	return out, nil
}

// checkFABHeader reads the header of the block of b and compares it to
// what the level header declares.
func (h *Hierarchy) checkFABHeader(f io.ReaderAt, b *Box, w Width) (*fabHeader, error) {
	fh, err := readFABHeader(f, b.Offset)
	corrupt := func(err error) error {
		return &CorruptionError{Op: "read block header", Path: b.File, Offset: b.Offset, Level: b.Level, Box: b.ID, Err: err}
	}
	if err != nil {
		return nil, corrupt(err)
	}
	if !fh.box.Equal(b.Index) {
		return nil, corrupt(fmt.Errorf("block box %v does not match declared box %v", fh.box, b.Index))
	}
	if fh.ncomp != h.NumFields() {
		return nil, corrupt(fmt.Errorf("block has %d components, want %d", fh.ncomp, h.NumFields()))
	}
	if w != WidthAuto && fh.width != w {
		return nil, corrupt(fmt.Errorf("block width is %v, want %v", fh.width, w))
	}
	return fh, nil
}

func boxIOError(err error, b *Box) error {
	if e, ok := err.(*IOError); ok {
		e.Level, e.Box = b.Level, b.ID
		return e
	}
	return &IOError{Op: "read block", Path: b.File, Level: b.Level, Box: b.ID, Err: err}
}

// decodeFortran converts column-major stored values into a row-major
// array of the given shape.
func decodeFortran(buf []byte, shape []int, w Width, order binary.ByteOrder) *sparse.DenseArray {
	a := sparse.ZerosDense(shape...)
	forFortran(shape, func(f, r int) {
		p := buf[f*int(w):]
		if w == Float32 {
			a.Elements[r] = float64(math.Float32frombits(order.Uint32(p)))
		} else {
			a.Elements[r] = math.Float64frombits(order.Uint64(p))
		}
	})
	return a
}

// forFortran calls fn with the column-major position f and the row-major
// position r of every element of an array of the given shape, in
// column-major order.
func forFortran(shape []int, fn func(f, r int)) {
	n := len(shape)
	stride := make([]int, n)
	size := 1
	for d := n - 1; d >= 0; d-- {
		stride[d] = size
		size *= shape[d]
	}
	idx := make([]int, n)
	r := 0
	for f := 0; f < size; f++ {
		fn(f, r)
		for d := 0; d < n; d++ {
			idx[d]++
			r += stride[d]
			if idx[d] < shape[d] {
				break
			}
			r -= idx[d] * stride[d]
			idx[d] = 0
		}
	}
}

// Locator tells where the data of a box was written.
type Locator struct {
	File   string
	Offset int64
	Shape  []int

	// Min and Max hold the extrema of each written field.
	Min, Max []float64
}

// BlockWriter appends data blocks to one binary file.
type BlockWriter struct {
	w    io.Writer
	name string
	off  int64

	// err is the first write error. Once set, the file holds a partial
	// block and no more blocks are written.
	err error
}

// NewBlockWriter returns a writer that appends blocks to w. Name is the
// file name recorded in the returned locators.
func NewBlockWriter(w io.Writer, name string) *BlockWriter {
	return &BlockWriter{w: w, name: name}
}

// WriteBlock writes one block holding the given fields of box and
// returns its locator. Each array in data must be row-major with the
// shape of box. Values are stored little-endian with width w. After a
// failed write every later call returns the same error.
func (bw *BlockWriter) WriteBlock(box IndexBox, data []*sparse.DenseArray, fieldNames []string, w Width) (Locator, error) {
	if bw.err != nil {
		return Locator{}, bw.err
	}
	if w != Float32 && w != Float64 {
		return Locator{}, &ConfigError{Op: "write block", Err: fmt.Errorf("unsupported width %v", w)}
	}
	if len(data) != len(fieldNames) || len(data) == 0 {
		return Locator{}, &ConfigError{Op: "write block", Err: fmt.Errorf("%d arrays for %d field names", len(data), len(fieldNames))}
	}
	seen := make(map[string]bool)
	for _, f := range fieldNames {
		if seen[f] {
			return Locator{}, &ConfigError{Op: "write block", Err: fmt.Errorf("duplicate field %q", f)}
		}
		seen[f] = true
	}
	shape := box.Shape()
	n := box.NumCells()
	for i, a := range data {
		if len(a.Elements) != n {
			return Locator{}, &ConfigError{Op: "write block",
				Err: fmt.Errorf("field %s has %d values, but box %v has %d cells", fieldNames[i], len(a.Elements), box, n)}
		}
	}

	loc := Locator{File: bw.name, Offset: bw.off, Shape: shape,
		Min: make([]float64, len(data)), Max: make([]float64, len(data))}
	hdr := formatFABHeader(box, len(data), w)
	if _, err := io.WriteString(bw.w, hdr); err != nil {
		bw.err = &IOError{Op: "write block", Path: bw.name, Level: -1, Box: -1, Err: err}
		return Locator{}, bw.err
	}
	bw.off += int64(len(hdr))
	buf := make([]byte, n*int(w))
	for i, a := range data {
		forFortran(shape, func(f, r int) {
			p := buf[f*int(w):]
			if w == Float32 {
				binary.LittleEndian.PutUint32(p, math.Float32bits(float32(a.Elements[r])))
			} else {
				binary.LittleEndian.PutUint64(p, math.Float64bits(a.Elements[r]))
			}
		})
		if _, err := bw.w.Write(buf); err != nil {
			bw.err = &IOError{Op: "write block", Path: bw.name, Level: -1, Box: -1, Err: err}
			return Locator{}, bw.err
		}
		bw.off += int64(len(buf))
		loc.Min[i] = floats.Min(a.Elements)
		loc.Max[i] = floats.Max(a.Elements)
	}
	return loc, nil
}
