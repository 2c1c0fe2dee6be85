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
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kr/pretty"
)

const testHeader = `HyperCLaw-V1.1
2
density
temp
2
0.5
1
0 0
1 1
2
((0,0) (3,3) (0,0)) ((0,0) (7,7) (0,0))
10 20
0.25 0.25
0.125 0.125
0
0
0 2 0.5
10
0 0.5
0 1
0.5 1
0 1
Level_0/Cell
1 1 0.5
20
0.25 0.75
0.25 0.75
Level_1/Cell
`

const testCellH0 = `1
0
2
0
(2 0
((0,0) (1,3) (0,0))
((2,0) (3,3) (0,0))
)
2
FabOnDisk: Cell_D_00000 0
FabOnDisk: Cell_D_00001 0

2,2
1.0000000000000000e+00,2.0000000000000000e+00,
3.0000000000000000e+00,4.0000000000000000e+00,

2,2
5.0000000000000000e+00,6.0000000000000000e+00,
7.0000000000000000e+00,8.0000000000000000e+00,
`

const testCellH1 = `1
0
2
1
(1 0
((2,2) (5,5) (0,0))
)
1
FabOnDisk: Cell_D_00000 1234
`

// writeTestHeaders writes the header fixtures to a new directory. Files
// can be replaced through overrides; an empty override removes the file.
func writeTestHeaders(t *testing.T, overrides map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"Header":         testHeader,
		"Level_0/Cell_H": testCellH0,
		"Level_1/Cell_H": testCellH1,
	}
	for k, v := range overrides {
		files[k] = v
	}
	for name, content := range files {
		if content == "" {
			continue
		}
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), os.ModePerm); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestParse(t *testing.T) {
	dir := writeTestHeaders(t, nil)
	h, err := Parse(context.Background(), DirStorage(dir), ParseOptions{MinMax: true})
	if err != nil {
		t.Fatal(err)
	}
	if h.Version != "HyperCLaw-V1.1" {
		t.Errorf("version: have %s, want HyperCLaw-V1.1", h.Version)
	}
	if !reflect.DeepEqual(h.FieldNames, []string{"density", "temp"}) {
		t.Errorf("fields: have %v", h.FieldNames)
	}
	if h.Dims != 2 || h.Time != 0.5 || h.FinestLevel != 1 || len(h.Levels) != 2 {
		t.Errorf("have dims %d, time %g, finest level %d, %d levels", h.Dims, h.Time, h.FinestLevel, len(h.Levels))
	}
	l1 := h.Levels[1]
	if l1.RefRatio != 2 || l1.Ratio != 2 || l1.Step != 20 || l1.NGhost != 1 || l1.CellPath != "Level_1" {
		t.Errorf("level 1: %# v", pretty.Formatter(l1))
	}
	if !reflect.DeepEqual(l1.Dx, []float64{0.125, 0.125}) {
		t.Errorf("level 1 dx: have %v", l1.Dx)
	}
	wantBox := &Box{
		Level:  0,
		ID:     1,
		Index:  NewIndexBox([]int{2, 0}, []int{3, 3}),
		PhysLo: []float64{0.5, 0},
		PhysHi: []float64{1, 1},
		File:   "Level_0/Cell_D_00001",
		Offset: 0,
		Min:    []float64{3, 4},
		Max:    []float64{7, 8},
	}
	if diff := pretty.Diff(h.Levels[0].Boxes[1], wantBox); len(diff) > 0 {
		t.Errorf("level 0 box 1: %v", diff)
	}
	b := l1.Boxes[0]
	if b.File != "Level_1/Cell_D_00000" || b.Offset != 1234 || b.Min != nil {
		t.Errorf("level 1 box 0: %# v", pretty.Formatter(b))
	}
	if f := h.Fields(); f["temp"] != 1 {
		t.Errorf("field index: have %v", f)
	}
}

func TestParse_options(t *testing.T) {
	dir := writeTestHeaders(t, nil)
	ctx := context.Background()
	t.Run("levels", func(t *testing.T) {
		h, err := Parse(ctx, DirStorage(dir), ParseOptions{Levels: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(h.Levels) != 1 || h.FinestLevel != 1 {
			t.Errorf("have %d levels and finest level %d", len(h.Levels), h.FinestLevel)
		}
	})
	t.Run("too many levels", func(t *testing.T) {
		_, err := Parse(ctx, DirStorage(dir), ParseOptions{Levels: 3})
		var e *ConfigError
		if !errors.As(err, &e) {
			t.Errorf("have %v, want a *ConfigError", err)
		}
	})
	t.Run("header only", func(t *testing.T) {
		h, err := Parse(ctx, DirStorage(dir), ParseOptions{HeaderOnly: true})
		if err != nil {
			t.Fatal(err)
		}
		if !h.HeaderOnly || h.Levels[0].Boxes[0].File != "" {
			t.Errorf("box locators were read")
		}
		if err := h.checkData("test"); err == nil {
			t.Errorf("header-only hierarchy accepted for block access")
		}
	})
}

func TestParse_errors(t *testing.T) {
	ctx := context.Background()
	formatErr := func(err error) bool {
		var e *FormatError
		return errors.As(err, &e)
	}
	ioErr := func(err error) bool {
		var e *IOError
		return errors.As(err, &e)
	}
	for _, test := range []struct {
		name      string
		overrides map[string]string
		check     func(error) bool
		line      int
	}{
		{
			name:      "missing header",
			overrides: map[string]string{"Header": ""},
			check:     ioErr,
		},
		{
			name:      "missing level header",
			overrides: map[string]string{"Level_1/Cell_H": ""},
			check:     ioErr,
		},
		{
			name:      "truncated header",
			overrides: map[string]string{"Header": strings.Join(strings.Split(testHeader, "\n")[:12], "\n")},
			check:     formatErr,
			line:      13,
		},
		{
			name:      "bad dimensions",
			overrides: map[string]string{"Header": strings.Replace(testHeader, "temp\n2\n", "temp\nfour\n", 1)},
			check:     formatErr,
			line:      5,
		},
		{
			name:      "box count mismatch",
			overrides: map[string]string{"Level_1/Cell_H": strings.Replace(testCellH1, "(1 0", "(2 0", 1)},
			check:     formatErr,
			line:      5,
		},
		{
			name:      "bad locator",
			overrides: map[string]string{"Level_1/Cell_H": strings.Replace(testCellH1, "FabOnDisk:", "FabOnDisc:", 1)},
			check:     formatErr,
			line:      9,
		},
		{
			name:      "negative offset",
			overrides: map[string]string{"Level_1/Cell_H": strings.Replace(testCellH1, "1234", "-1", 1)},
			check:     formatErr,
			line:      9,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			dir := writeTestHeaders(t, test.overrides)
			_, err := Parse(ctx, DirStorage(dir), ParseOptions{})
			if err == nil || !test.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			var e *FormatError
			if test.line > 0 && errors.As(err, &e) && e.Line != test.line {
				t.Errorf("line: have %d, want %d (%v)", e.Line, test.line, err)
			}
		})
	}
}

func TestWriteHeader(t *testing.T) {
	dir := writeTestHeaders(t, nil)
	h, err := Parse(context.Background(), DirStorage(dir), ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteHeader(&buf, h, h.FieldNames); err != nil {
		t.Fatal(err)
	}
	if buf.String() != testHeader {
		t.Errorf("have\n%s\nwant\n%s", buf.String(), testHeader)
	}
	if err := WriteHeader(&buf, h, []string{"a", "a"}); err == nil {
		t.Errorf("duplicate fields accepted")
	}
}
