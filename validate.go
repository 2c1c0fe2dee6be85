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
	"sort"
)

// IssueKind classifies a validation issue.
type IssueKind string

// Kinds of validation issues.
const (
	MissingFile   IssueKind = "missing-file"
	BadHeader     IssueKind = "bad-header"
	ShapeMismatch IssueKind = "shape-mismatch"
	OutOfBounds   IssueKind = "out-of-bounds"
	Corruption    IssueKind = "corruption"
	NonFinite     IssueKind = "non-finite"
	BadNesting    IssueKind = "nesting"
)

// ValidationIssue is one problem found by Validate.
type ValidationIssue struct {
	Level  int       `toml:"level"`
	Box    int       `toml:"box"`
	Kind   IssueKind `toml:"kind"`
	Detail string    `toml:"detail"`

	// Err is the underlying error, if any.
	Err error `toml:"-"`
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("level %d box %d: %s: %s", v.Level, v.Box, v.Kind, v.Detail)
}

// Report is the result of Validate.
type Report struct {
	// OK is true if no issues were found.
	OK bool `toml:"ok"`

	// Boxes is the number of boxes checked.
	Boxes int `toml:"boxes"`

	// Bytes is the number of data bytes read.
	Bytes int64 `toml:"bytes"`

	// Issues holds the issues sorted by level, box and kind.
	Issues []ValidationIssue `toml:"issues"`
}

// ValidateOptions specifies optional checks.
type ValidateOptions struct {
	// NonFinite reports fields containing NaN or infinite values.
	NonFinite bool

	// Nesting checks that the levels are properly nested.
	Nesting bool

	// MaxLevel is the finest level to check. A negative value selects the
	// finest level of the hierarchy.
	MaxLevel int
}

// Validate checks that the data of every box can be read: that its file
// exists, that the block header is valid and agrees with the level
// header, and that the file holds every byte of the block. Problems are
// collected into the report rather than returned, so a scan always
// covers every box. An error is returned only if ctx is cancelled or the
// hierarchy has no data locators.
func Validate(ctx context.Context, h *Hierarchy, d *Distributor, opts ValidateOptions) (*Report, error) {
	if err := h.checkData("validate"); err != nil {
		return nil, err
	}
	maxLevel := opts.MaxLevel
	if maxLevel < 0 || maxLevel > h.MaxLevel() {
		maxLevel = h.MaxLevel()
	}
	keys := h.Keys(maxLevel)
	type result struct {
		issues []ValidationIssue
		bytes  int64
	}
	parts, err := Map(ctx, d, h, keys, func(ctx context.Context, k Key) (result, error) {
		issues, n := validateBox(ctx, h, h.Levels[k.Level].Boxes[k.Box], opts)
		return result{issues: issues, bytes: n}, ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	r := &Report{Boxes: len(keys)}
	for _, p := range parts {
		r.Issues = append(r.Issues, p.issues...)
		r.Bytes += p.bytes
	}
	if opts.Nesting {
		if err := h.CheckNesting(); err != nil {
			iss := ValidationIssue{Level: -1, Box: -1, Kind: BadNesting, Detail: err.Error(), Err: err}
			var ge *GeometryError
			if errors.As(err, &ge) {
				iss.Level, iss.Box = ge.Level, ge.Box
			}
			r.Issues = append(r.Issues, iss)
		}
	}
	sort.SliceStable(r.Issues, func(i, j int) bool {
		a, b := r.Issues[i], r.Issues[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Box != b.Box {
			return a.Box < b.Box
		}
		return a.Kind < b.Kind
	})
	r.OK = len(r.Issues) == 0
	return r, nil
}

// validateBox checks one box and returns its issues and the number of
// data bytes read.
func validateBox(ctx context.Context, h *Hierarchy, b *Box, opts ValidateOptions) ([]ValidationIssue, int64) {
	issue := func(kind IssueKind, err error) []ValidationIssue {
		return []ValidationIssue{{Level: b.Level, Box: b.ID, Kind: kind, Detail: err.Error(), Err: err}}
	}
	size, err := h.Storage.Size(ctx, b.File)
	if err != nil {
		return issue(MissingFile, err), 0
	}
	if b.Offset >= size {
		return issue(OutOfBounds, &CorruptionError{Op: "validate", Path: b.File, Offset: b.Offset, Level: b.Level, Box: b.ID,
			Err: fmt.Errorf("block offset is past the end of the file (%d bytes)", size)}), 0
	}
	f, err := h.Storage.Open(ctx, b.File)
	if err != nil {
		return issue(MissingFile, err), 0
	}
	fh, err := readFABHeader(f, b.Offset)
	f.Close()
	if err != nil {
		return issue(BadHeader, &CorruptionError{Op: "read block header", Path: b.File, Offset: b.Offset, Level: b.Level, Box: b.ID, Err: err}), 0
	}
	if !fh.box.Equal(b.Index) || fh.ncomp != h.NumFields() {
		return issue(ShapeMismatch, fmt.Errorf("block holds %d components of box %v, but the headers declare %d components of box %v",
			fh.ncomp, fh.box, h.NumFields(), b.Index)), 0
	}
	n := BlockSize(b.Index, fh.ncomp, fh.width)
	if end := b.Offset + fh.size + n; end > size {
		return issue(Corruption, &CorruptionError{Op: "validate", Path: b.File, Offset: b.Offset, Level: b.Level, Box: b.ID,
			Err: fmt.Errorf("block ends at byte %d, but the file has %d bytes", end, size)}), 0
	}
	all, _ := h.FieldIndices(nil)
	blk, err := h.ReadBlock(ctx, b, all, WidthAuto)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0
		}
		var ioErr *IOError
		if errors.As(err, &ioErr) {
			return issue(MissingFile, err), 0
		}
		return issue(Corruption, err), 0
	}
	if !opts.NonFinite {
		return nil, n
	}
	var o []ValidationIssue
	for i, a := range blk.Data {
		bad := 0
		for _, v := range a.Elements {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				bad++
			}
		}
		if bad > 0 {
			o = append(o, issue(NonFinite, fmt.Errorf("field %s has %d non-finite values", blk.Fields[i], bad))...)
		}
	}
	return o, n
}
