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

package output

import (
	"fmt"
	"os"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/amrkit"
)

// NetCDF writes the merged planes of fields to f as a netCDF file. The
// file has one dimension per in-plane axis, named after the axis, and
// holds a float32 variable per field, a "level" variable with the level
// each pixel was taken from, and variables with the pixel center
// coordinates. Empty fields selects every field of r.
func NetCDF(f *os.File, r *amrkit.SliceResult, fields []string) error {
	if len(fields) == 0 {
		fields = r.Fields
	}
	planes := make([]*amrkit.DensePlane, len(fields))
	for i, name := range fields {
		if name == "level" || name == "x" || name == "y" || name == "z" {
			return &amrkit.ConfigError{Op: "write netcdf", Err: fmt.Errorf("field name %q is reserved", name)}
		}
		d, err := r.Dense(name)
		if err != nil {
			return err
		}
		planes[i] = d
	}
	if len(planes) == 0 {
		return &amrkit.ConfigError{Op: "write netcdf", Err: fmt.Errorf("no fields")}
	}
	d0 := planes[0]
	nx, ny := d0.Data.Shape[0], d0.Data.Shape[1]
	xname, yname := axisNames[r.Plane[0]], axisNames[r.Plane[1]]

	h := cdf.NewHeader([]string{yname, xname}, []int{ny, nx})
	h.AddAttribute("", "comment", "AMRKit plotfile slice")
	h.AddAttribute("", "amrkit_version", amrkit.Version)
	h.AddAttribute("", "axis", axisNames[r.Axis])
	h.AddAttribute("", "position", []float64{r.Position})
	h.AddAttribute("", "time", []float64{r.Time})
	h.AddAttribute("", "bounds", []float64{d0.Bounds.Min.X, d0.Bounds.Min.Y, d0.Bounds.Max.X, d0.Bounds.Max.Y})
	h.AddAttribute("", "dx", []float64{d0.Dx[0], d0.Dx[1]})
	h.AddVariable(xname, []string{xname}, []float64{0})
	h.AddVariable(yname, []string{yname}, []float64{0})
	for _, d := range planes {
		h.AddVariable(d.Field, []string{yname, xname}, []float32{0})
		h.AddAttribute(d.Field, "gap_pixels", []int32{int32(d.GapPixels)})
	}
	h.AddVariable("level", []string{yname, xname}, []int32{0})
	h.AddAttribute("level", "description", "Refinement level of each pixel, or -1 where no level has data")
	h.Define()

	cf, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("amrkit/output: creating netcdf file: %v", err)
	}
	x := make([]float64, nx)
	for i := range x {
		x[i] = d0.Bounds.Min.X + (float64(i)+0.5)*d0.Dx[0]
	}
	y := make([]float64, ny)
	for j := range y {
		y[j] = d0.Bounds.Min.Y + (float64(j)+0.5)*d0.Dx[1]
	}
	if err := writeVar(cf, xname, x); err != nil {
		return err
	}
	if err := writeVar(cf, yname, y); err != nil {
		return err
	}
	for _, d := range planes {
		data := make([]float32, nx*ny)
		for i := 0; i < nx; i++ {
			for j := 0; j < ny; j++ {
				data[j*nx+i] = float32(d.Data.Get(i, j))
			}
		}
		if err := writeVar(cf, d.Field, data); err != nil {
			return err
		}
	}
	level := make([]int32, nx*ny)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			level[j*nx+i] = int32(d0.Level.Get(i, j))
		}
	}
	if err := writeVar(cf, "level", level); err != nil {
		return err
	}
	return cdf.UpdateNumRecs(f)
}

func writeVar(f *cdf.File, name string, data interface{}) error {
	end := f.Header.Lengths(name)
	w := f.Writer(name, make([]int, len(end)), end)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("amrkit/output: writing netcdf variable %s: %v", name, err)
	}
	return nil
}
