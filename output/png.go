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

// Package output writes slices, integrals and validation reports in
// formats other programs can read.
package output

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/spatialmodel/amrkit"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// ColorScale specifies the range of values spanned by a color map.
type ColorScale struct {
	Min, Max float64

	// Fixed selects Min and Max. Otherwise the range of the data is used.
	Fixed bool
}

// limits returns the color range for data, ignoring NaN values.
func (s ColorScale) limits(data []float64) (min, max float64, err error) {
	if s.Fixed {
		if !(s.Min < s.Max) {
			return 0, 0, &amrkit.ConfigError{Op: "color scale", Err: fmt.Errorf("minimum %g is not below maximum %g", s.Min, s.Max)}
		}
		return s.Min, s.Max, nil
	}
	min, max = math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if math.IsNaN(v) {
			continue
		}
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	if math.IsInf(min, 1) {
		return 0, 1, nil
	}
	if min == max {
		max = min + 1
	}
	return min, max, nil
}

func colorMap(d *amrkit.DensePlane, scale ColorScale) (palette.ColorMap, error) {
	min, max, err := scale.limits(d.Data.Elements)
	if err != nil {
		return nil, err
	}
	cm := moreland.ExtendedBlackBody()
	cm.SetMin(min)
	cm.SetMax(max)
	return cm, nil
}

// PNG writes the merged plane of field as an image with one pixel per
// cell of the finest level. The lower-numbered in-plane axis runs to the
// right and the other upwards. Values outside the color scale are
// clamped and pixels without data are transparent.
func PNG(w io.Writer, r *amrkit.SliceResult, field string, scale ColorScale) error {
	d, err := r.Dense(field)
	if err != nil {
		return err
	}
	cm, err := colorMap(d, scale)
	if err != nil {
		return err
	}
	nx, ny := d.Data.Shape[0], d.Data.Shape[1]
	img := image.NewNRGBA(image.Rect(0, 0, nx, ny))
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			v := d.Data.Get(i, j)
			if math.IsNaN(v) {
				img.Set(i, ny-1-j, color.NRGBA{})
				continue
			}
			v = math.Max(cm.Min(), math.Min(cm.Max(), v))
			c, err := cm.At(v)
			if err != nil {
				return fmt.Errorf("amrkit/output: coloring value %g: %v", v, err)
			}
			img.Set(i, ny-1-j, c)
		}
	}
	return png.Encode(w, img)
}

// planeGrid adapts a DensePlane to plotter.GridXYZ.
type planeGrid struct{ d *amrkit.DensePlane }

func (g planeGrid) Dims() (c, r int)   { return g.d.Data.Shape[0], g.d.Data.Shape[1] }
func (g planeGrid) Z(c, r int) float64 { return g.d.Data.Get(c, r) }
func (g planeGrid) X(c int) float64    { return g.d.Bounds.Min.X + (float64(c)+0.5)*g.d.Dx[0] }
func (g planeGrid) Y(r int) float64    { return g.d.Bounds.Min.Y + (float64(r)+0.5)*g.d.Dx[1] }

var axisNames = [3]string{"x", "y", "z"}

// Figure writes a PNG figure of the merged plane of field, with axes in
// physical units and a color bar.
func Figure(w io.Writer, r *amrkit.SliceResult, field string, scale ColorScale, width, height vg.Length) error {
	d, err := r.Dense(field)
	if err != nil {
		return err
	}
	cm, err := colorMap(d, scale)
	if err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s at %s = %g", field, axisNames[r.Axis], r.Position)
	p.X.Label.Text = axisNames[r.Plane[0]]
	p.Y.Label.Text = axisNames[r.Plane[1]]
	hm := plotter.NewHeatMap(planeGrid{d: d}, cm.Palette(255))
	hm.Min, hm.Max = cm.Min(), cm.Max()
	hm.NaN = color.Transparent
	hm.Underflow = hm.Palette.Colors()[0]
	hm.Overflow = hm.Palette.Colors()[len(hm.Palette.Colors())-1]
	p.Add(hm)

	legend := plot.New()
	legend.Add(&plotter.ColorBar{ColorMap: cm})
	legend.HideY()
	legend.X.Padding = 0
	legend.Title.Text = field

	c := vgimg.New(width, height)
	dc := draw.New(c)
	legendHeight := height / 6
	top, bottom := dc, dc
	top.Min.Y += legendHeight
	bottom.Max.Y = bottom.Min.Y + legendHeight
	p.Draw(top)
	legend.Draw(bottom)
	_, err = vgimg.PngCanvas{Canvas: c}.WriteTo(w)
	return err
}
