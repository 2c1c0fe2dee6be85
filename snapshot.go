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
	"fmt"
	"os"
	"strings"

	"github.com/ctessum/cdf"
)

// SnapshotVersion is the version of the snapshot file format. Snapshots
// with a different version cannot be loaded.
const SnapshotVersion = "1.0.0"

// SaveSnapshot writes the hierarchy h, including the data locators of
// every box, to the netCDF file w. Loading the snapshot is much faster
// than parsing the headers of a plotfile with many boxes.
func SaveSnapshot(w *os.File, h *Hierarchy) error {
	const op = "save snapshot"
	if err := h.checkData(op); err != nil {
		return err
	}
	dims := []string{"dim", "lohi", "field"}
	lengths := []int{h.Dims, 2, h.NumFields()}
	for _, l := range h.Levels {
		if len(l.Boxes) == 0 {
			return &ConfigError{Op: op, Err: fmt.Errorf("level %d has no boxes", l.Index)}
		}
		dims = append(dims, levelVar(l.Index, "boxes"))
		lengths = append(lengths, len(l.Boxes))
	}
	hdr := cdf.NewHeader(dims, lengths)
	hdr.AddAttribute("", "comment", "AMRKit plotfile hierarchy snapshot")
	hdr.AddAttribute("", "data_version", SnapshotVersion)
	hdr.AddAttribute("", "fingerprint", h.Fingerprint())
	hdr.AddAttribute("", "version", h.Version)
	hdr.AddAttribute("", "fields", strings.Join(h.FieldNames, "\n"))
	hdr.AddAttribute("", "time", []float64{h.Time})
	hdr.AddAttribute("", "prob_lo", h.ProbLo)
	hdr.AddAttribute("", "prob_hi", h.ProbHi)
	hdr.AddAttribute("", "coord_sys", []int32{int32(h.CoordSys)})
	hdr.AddAttribute("", "finest_level", []int32{int32(h.FinestLevel)})

	minmax := make([]bool, len(h.Levels))
	files := make([][]string, len(h.Levels))
	fileIDs := make([]map[string]int32, len(h.Levels))
	for i, l := range h.Levels {
		hdr.AddAttribute("", levelVar(i, "ref_ratio"), []int32{int32(l.RefRatio)})
		hdr.AddAttribute("", levelVar(i, "step"), []int32{int32(l.Step)})
		hdr.AddAttribute("", levelVar(i, "nghost"), []int32{int32(l.NGhost)})
		hdr.AddAttribute("", levelVar(i, "dx"), l.Dx)
		hdr.AddAttribute("", levelVar(i, "domain"), int32s(append(append([]int{}, l.Domain.Lo...), l.Domain.Hi...)))
		hdr.AddAttribute("", levelVar(i, "path"), l.CellPath)

		fileIDs[i] = make(map[string]int32)
		minmax[i] = true
		for _, b := range l.Boxes {
			if _, ok := fileIDs[i][b.File]; !ok {
				fileIDs[i][b.File] = int32(len(files[i]))
				files[i] = append(files[i], b.File)
			}
			if len(b.Min) != h.NumFields() || len(b.Max) != h.NumFields() {
				minmax[i] = false
			}
		}
		boxes := levelVar(i, "boxes")
		hdr.AddVariable(levelVar(i, "index"), []string{boxes, "lohi", "dim"}, []int32{0})
		hdr.AddVariable(levelVar(i, "bounds"), []string{boxes, "lohi", "dim"}, []float64{0})
		hdr.AddVariable(levelVar(i, "offset"), []string{boxes}, []float64{0})
		hdr.AddVariable(levelVar(i, "file"), []string{boxes}, []int32{0})
		hdr.AddAttribute(levelVar(i, "file"), "files", strings.Join(files[i], "\n"))
		if minmax[i] {
			hdr.AddVariable(levelVar(i, "min"), []string{boxes, "field"}, []float64{0})
			hdr.AddVariable(levelVar(i, "max"), []string{boxes, "field"}, []float64{0})
		}
	}
	hdr.Define()

	f, err := cdf.Create(w, hdr)
	if err != nil {
		return &IOError{Op: op, Path: w.Name(), Level: -1, Box: -1, Err: err}
	}
	for i, l := range h.Levels {
		n := len(l.Boxes)
		index := make([]int32, 0, n*2*h.Dims)
		bounds := make([]float64, 0, n*2*h.Dims)
		offset := make([]float64, n)
		file := make([]int32, n)
		var mins, maxs []float64
		for j, b := range l.Boxes {
			index = append(append(index, int32s(b.Index.Lo)...), int32s(b.Index.Hi)...)
			lo, hi := b.PhysLo, b.PhysHi
			if len(lo) != h.Dims {
				lo, hi = physBounds(h, l, b.Index)
			}
			bounds = append(append(bounds, lo...), hi...)
			offset[j] = float64(b.Offset)
			file[j] = fileIDs[i][b.File]
			mins = append(mins, b.Min...)
			maxs = append(maxs, b.Max...)
		}
		vars := map[string]interface{}{
			levelVar(i, "index"):  index,
			levelVar(i, "bounds"): bounds,
			levelVar(i, "offset"): offset,
			levelVar(i, "file"):   file,
		}
		if minmax[i] {
			vars[levelVar(i, "min")] = mins
			vars[levelVar(i, "max")] = maxs
		}
		for name, data := range vars {
			end := f.Header.Lengths(name)
			if _, err := f.Writer(name, make([]int, len(end)), end).Write(data); err != nil {
				return &IOError{Op: op, Path: w.Name(), Level: i, Box: -1, Err: fmt.Errorf("writing variable %s: %w", name, err)}
			}
		}
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		return &IOError{Op: op, Path: w.Name(), Level: -1, Box: -1, Err: err}
	}
	return nil
}

// LoadSnapshot reads a hierarchy written by SaveSnapshot. Block data of
// the returned hierarchy is read from s. A *FormatError is returned if
// the snapshot was written by an incompatible version or does not match
// its recorded fingerprint.
func LoadSnapshot(rw cdf.ReaderWriterAt, s Storage) (*Hierarchy, error) {
	const op = "load snapshot"
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, &FormatError{Op: op, Level: -1, Err: err}
	}
	bad := func(format string, args ...interface{}) error {
		return &FormatError{Op: op, Level: -1, Err: fmt.Errorf(format, args...)}
	}
	attr := func(name string) interface{} { return f.Header.GetAttribute("", name) }

	version, _ := attr("data_version").(string)
	if version != SnapshotVersion {
		return nil, bad("data version %q is incompatible with the required version %s", version, SnapshotVersion)
	}
	h := &Hierarchy{Storage: s}
	var ok bool
	if h.Version, ok = attr("version").(string); !ok {
		return nil, bad("missing plotfile version")
	}
	fields, _ := attr("fields").(string)
	h.FieldNames = strings.Split(fields, "\n")
	if h.ProbLo, ok = attr("prob_lo").([]float64); !ok {
		return nil, bad("missing domain bounds")
	}
	if h.ProbHi, ok = attr("prob_hi").([]float64); !ok {
		return nil, bad("missing domain bounds")
	}
	h.Dims = len(h.ProbLo)
	if t, ok := attr("time").([]float64); ok && len(t) == 1 {
		h.Time = t[0]
	}
	if c, ok := attr("coord_sys").([]int32); ok && len(c) == 1 {
		h.CoordSys = int(c[0])
	}
	if c, ok := attr("finest_level").([]int32); ok && len(c) == 1 {
		h.FinestLevel = int(c[0])
	}

	for i := 0; ; i++ {
		boxes := levelVar(i, "index")
		lengths := f.Header.Lengths(boxes)
		if lengths == nil {
			break
		}
		l := &Level{Index: i}
		if l.RefRatio, err = int32Attr(f, levelVar(i, "ref_ratio")); err != nil {
			return nil, bad("level %d: %v", i, err)
		}
		if l.Step, err = int32Attr(f, levelVar(i, "step")); err != nil {
			return nil, bad("level %d: %v", i, err)
		}
		if l.NGhost, err = int32Attr(f, levelVar(i, "nghost")); err != nil {
			return nil, bad("level %d: %v", i, err)
		}
		if l.Dx, ok = attr(levelVar(i, "dx")).([]float64); !ok || len(l.Dx) != h.Dims {
			return nil, bad("level %d: invalid cell size", i)
		}
		domain, ok := attr(levelVar(i, "domain")).([]int32)
		if !ok || len(domain) != 2*h.Dims {
			return nil, bad("level %d: invalid domain", i)
		}
		l.Domain = NewIndexBox(ints(domain[:h.Dims]), ints(domain[h.Dims:]))
		if l.CellPath, ok = attr(levelVar(i, "path")).(string); !ok {
			return nil, bad("level %d: missing level path", i)
		}
		files, _ := f.Header.GetAttribute(levelVar(i, "file"), "files").(string)
		fileNames := strings.Split(files, "\n")

		n := lengths[0]
		index := make([]int32, n*2*h.Dims)
		bounds := make([]float64, n*2*h.Dims)
		offset := make([]float64, n)
		file := make([]int32, n)
		vars := map[string]interface{}{
			levelVar(i, "index"):  index,
			levelVar(i, "bounds"): bounds,
			levelVar(i, "offset"): offset,
			levelVar(i, "file"):   file,
		}
		var mins, maxs []float64
		if f.Header.Lengths(levelVar(i, "min")) != nil {
			mins = make([]float64, n*h.NumFields())
			maxs = make([]float64, n*h.NumFields())
			vars[levelVar(i, "min")] = mins
			vars[levelVar(i, "max")] = maxs
		}
		for name, data := range vars {
			if _, err := f.Reader(name, nil, nil).Read(data); err != nil {
				return nil, bad("reading variable %s: %v", name, err)
			}
		}
		nd := 2 * h.Dims
		for j := 0; j < n; j++ {
			b := &Box{
				Level:  i,
				ID:     j,
				Index:  NewIndexBox(ints(index[j*nd:j*nd+h.Dims]), ints(index[j*nd+h.Dims:(j+1)*nd])),
				PhysLo: append([]float64{}, bounds[j*nd:j*nd+h.Dims]...),
				PhysHi: append([]float64{}, bounds[j*nd+h.Dims:(j+1)*nd]...),
				Offset: int64(offset[j]),
			}
			if int(file[j]) >= len(fileNames) || file[j] < 0 {
				return nil, bad("level %d box %d: invalid file id %d", i, j, file[j])
			}
			b.File = fileNames[file[j]]
			if mins != nil {
				nf := h.NumFields()
				b.Min = append([]float64{}, mins[j*nf:(j+1)*nf]...)
				b.Max = append([]float64{}, maxs[j*nf:(j+1)*nf]...)
			}
			l.Boxes = append(l.Boxes, b)
		}
		h.Levels = append(h.Levels, l)
	}
	if len(h.Levels) == 0 {
		return nil, bad("snapshot has no levels")
	}
	if err := h.finish(); err != nil {
		return nil, bad("%v", err)
	}
	fp, _ := attr("fingerprint").(string)
	if fp != h.Fingerprint() {
		return nil, bad("the box structure does not match the recorded fingerprint")
	}
	return h, nil
}

func levelVar(level int, name string) string { return fmt.Sprintf("L%d_%s", level, name) }

func int32Attr(f *cdf.File, name string) (int, error) {
	v, ok := f.Header.GetAttribute("", name).([]int32)
	if !ok || len(v) != 1 {
		return 0, fmt.Errorf("missing or invalid attribute %s", name)
	}
	return int(v[0]), nil
}

func int32s(v []int) []int32 {
	o := make([]int32, len(v))
	for i, x := range v {
		o[i] = int32(x)
	}
	return o
}

func ints(v []int32) []int {
	o := make([]int, len(v))
	for i, x := range v {
		o[i] = int(x)
	}
	return o
}
