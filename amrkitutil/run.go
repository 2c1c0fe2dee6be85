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

package amrkitutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/amrkit"
	"github.com/spatialmodel/amrkit/cloud"
	"github.com/spatialmodel/amrkit/output"
	"gonum.org/v1/plot/vg"
)

// LoadOptions specifies how a plotfile is opened.
type LoadOptions struct {
	// LimitLevel is the finest level to load. A negative value loads
	// every level.
	LimitLevel int

	// Snapshot optionally names a snapshot file holding the hierarchy,
	// which is then used instead of the plotfile headers.
	Snapshot string

	// MaxRetry bounds the time spent retrying failed reads from blob
	// storage.
	MaxRetry time.Duration
}

// Load opens the plotfile at location, which may be a local directory or
// a blob storage URL, and returns its hierarchy. The returned function
// releases the plotfile storage.
func Load(ctx context.Context, location string, opts LoadOptions) (*amrkit.Hierarchy, func() error, error) {
	start := time.Now()
	s, closer, err := cloud.Open(ctx, os.ExpandEnv(location), opts.MaxRetry)
	if err != nil {
		return nil, nil, err
	}
	var h *amrkit.Hierarchy
	if opts.Snapshot != "" {
		h, err = loadSnapshot(os.ExpandEnv(opts.Snapshot), s)
		if err == nil && opts.LimitLevel >= 0 && opts.LimitLevel < h.MaxLevel() {
			h, err = h.Restrict(opts.LimitLevel)
		}
	} else {
		h, err = amrkit.Parse(ctx, s, amrkit.ParseOptions{Levels: opts.LimitLevel + 1})
	}
	if err != nil {
		closer()
		return nil, nil, err
	}
	Log.WithFields(logrus.Fields{
		"plotfile": location,
		"levels":   len(h.Levels),
		"fields":   h.NumFields(),
		"duration": time.Since(start),
	}).Info("loaded plotfile hierarchy")
	return h, closer, nil
}

func loadSnapshot(name string, s amrkit.Storage) (*amrkit.Hierarchy, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, &amrkit.IOError{Op: "load snapshot", Path: name, Level: -1, Box: -1, Err: err}
	}
	defer f.Close()
	return amrkit.LoadSnapshot(f, s)
}

// Info writes a summary of h to w: the plotfile metadata and the number
// of boxes, cells and bytes of every level.
func Info(ctx context.Context, w io.Writer, h *amrkit.Hierarchy) error {
	fmt.Fprintf(w, "version:  %s\n", h.Version)
	fmt.Fprintf(w, "dims:     %d\n", h.Dims)
	fmt.Fprintf(w, "time:     %g\n", h.Time)
	fmt.Fprintf(w, "domain:   %v to %v\n", h.ProbLo, h.ProbHi)
	fmt.Fprintf(w, "levels:   %d (finest level %d)\n", len(h.Levels), h.FinestLevel)
	fmt.Fprintf(w, "fields:   %s\n", strings.Join(h.FieldNames, ", "))
	var total int64
	for _, l := range h.Levels {
		cells := 0
		for _, b := range l.Boxes {
			cells += b.Index.NumCells()
		}
		var size int64
		files := h.ByDataFile(l.Index)
		if !h.HeaderOnly {
			for _, f := range files {
				n, err := h.Storage.Size(ctx, f.Name)
				if err != nil {
					return err
				}
				size += n
			}
		}
		total += size
		fmt.Fprintf(w, "level %d:  ratio %d, domain %v, %d boxes, %s cells, %s in %d files\n",
			l.Index, l.Ratio, l.Domain, len(l.Boxes), humanize.Comma(int64(cells)),
			humanize.Bytes(uint64(size)), len(files))
	}
	fmt.Fprintf(w, "total:    %s\n", humanize.Bytes(uint64(total)))
	return nil
}

// SliceOutput specifies how a slice is written.
type SliceOutput struct {
	// Format is one of png, figure, nc or plotfile.
	Format string

	// Location is the output file, or the output plotfile directory or
	// URL.
	Location string

	// Scale is the color scale of png and figure output.
	Scale output.ColorScale

	// Width is the element width of plotfile output.
	Width amrkit.Width

	MaxRetry time.Duration
}

// Slice extracts a plane from h and writes it in the requested format.
func Slice(ctx context.Context, h *amrkit.Hierarchy, req amrkit.SliceRequest, d *amrkit.Distributor, o SliceOutput) error {
	r, err := amrkit.Slice(ctx, h, req, d)
	if err != nil {
		return err
	}
	for _, ls := range r.Levels {
		Log.WithFields(logrus.Fields{
			"level":  ls.Level,
			"region": ls.Region,
			"boxes":  len(ls.Boxes),
		}).Debug("sliced level")
	}
	if o.Format == formatPlotfile {
		s, closer, err := cloud.Open(ctx, o.Location, o.MaxRetry)
		if err != nil {
			return err
		}
		defer closer()
		_, err = output.Plotfile(ctx, s, r, req.Fields, o.Width)
		return err
	}
	f, err := os.Create(o.Location)
	if err != nil {
		return &amrkit.IOError{Op: "slice", Path: o.Location, Level: -1, Box: -1, Err: err}
	}
	switch o.Format {
	case formatNetCDF:
		err = output.NetCDF(f, r, req.Fields)
	case formatFigure:
		err = output.Figure(f, r, r.Fields[0], o.Scale, 6*vg.Inch, 6*vg.Inch)
	default:
		err = output.PNG(f, r, r.Fields[0], o.Scale)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeTo calls write with the file named location, or with stdout if
// location is empty.
func writeTo(location string, stdout io.Writer, write func(io.Writer) error) error {
	if location == "" {
		return write(stdout)
	}
	f, err := os.Create(location)
	if err != nil {
		return &amrkit.IOError{Op: "write", Path: location, Level: -1, Box: -1, Err: err}
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Integrate integrates fields over h and writes the result as TOML to
// location, or to stdout if location is empty.
func Integrate(ctx context.Context, stdout io.Writer, h *amrkit.Hierarchy, req amrkit.IntegrateRequest, d *amrkit.Distributor, location string) (*amrkit.Integral, error) {
	r, err := amrkit.Integrate(ctx, h, req, d)
	if err != nil {
		return nil, err
	}
	return r, writeTo(location, stdout, func(w io.Writer) error { return output.WriteReport(w, r) })
}

// Validate checks the data of h and writes the report as TOML to
// location, or to stdout if location is empty. An error is returned if
// any issue is found.
func Validate(ctx context.Context, stdout io.Writer, h *amrkit.Hierarchy, d *amrkit.Distributor, opts amrkit.ValidateOptions, location string) (*amrkit.Report, error) {
	start := time.Now()
	r, err := amrkit.Validate(ctx, h, d, opts)
	if err != nil {
		return nil, err
	}
	Log.WithFields(logrus.Fields{
		"boxes":    r.Boxes,
		"bytes":    humanize.Bytes(uint64(r.Bytes)),
		"issues":   len(r.Issues),
		"duration": time.Since(start),
	}).Info("validated plotfile")
	for _, iss := range r.Issues {
		Log.WithFields(logrus.Fields{"level": iss.Level, "box": iss.Box, "kind": iss.Kind}).Warn(iss.Detail)
	}
	if err := writeTo(location, stdout, func(w io.Writer) error { return output.WriteReport(w, r) }); err != nil {
		return r, err
	}
	if !r.OK {
		return r, fmt.Errorf("amrkit: the plotfile has %d issues", len(r.Issues))
	}
	return r, nil
}

// Derive writes a plotfile to location holding the keep fields of h
// followed by one field per expression, named after its key. A keep
// list of "*" keeps every field.
func Derive(ctx context.Context, h *amrkit.Hierarchy, expressions map[string]string, keep []string, d *amrkit.Distributor, location string, maxRetry time.Duration) (*amrkit.Hierarchy, error) {
	names := make([]string, 0, len(expressions))
	for name := range expressions {
		names = append(names, name)
	}
	sort.Strings(names)
	req := amrkit.DeriveRequest{Keep: keep}
	if len(keep) == 1 && keep[0] == "*" {
		req.Keep, req.KeepAll = nil, true
	}
	for _, name := range names {
		e, err := amrkit.NewExpression(name, expressions[name], amrkit.DefaultFunctions)
		if err != nil {
			return nil, err
		}
		req.Transforms = append(req.Transforms, e)
	}
	s, closer, err := cloud.Open(ctx, location, maxRetry)
	if err != nil {
		return nil, err
	}
	defer closer()
	return amrkit.Derive(ctx, h, s, req, d)
}

// Snapshot writes the hierarchy of h to the snapshot file location.
func Snapshot(h *amrkit.Hierarchy, location string) error {
	f, err := os.Create(location)
	if err != nil {
		return &amrkit.IOError{Op: "save snapshot", Path: location, Level: -1, Box: -1, Err: err}
	}
	if err := amrkit.SaveSnapshot(f, h); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
