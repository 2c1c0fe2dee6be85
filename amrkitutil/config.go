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
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ctessum/geom"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/amrkit"
	"github.com/spf13/cast"
)

// parseAxis converts an axis name (x, y or z) or number (0, 1 or 2) to
// an axis number.
func parseAxis(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x", "0":
		return 0, nil
	case "y", "1":
		return 1, nil
	case "z", "2":
		return 2, nil
	default:
		return 0, &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("invalid axis %q; it must be x, y or z", s)}
	}
}

// checkWorkers returns the number of workers to use. Zero selects the
// number of CPUs.
func checkWorkers(n int) (int, error) {
	switch {
	case n < 0:
		return 0, &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("the number of workers must not be negative, but is %d", n)}
	case n == 0:
		return runtime.NumCPU(), nil
	default:
		return n, nil
	}
}

// checkBounds makes sure that lo and hi are either both empty or both
// hold one value per dimension with lo below hi.
func checkBounds(lo, hi []float64, dims int) error {
	if len(lo) == 0 && len(hi) == 0 {
		return nil
	}
	if len(lo) != dims || len(hi) != dims {
		return &amrkit.ConfigError{Op: "configure",
			Err: fmt.Errorf("lo and hi must have %d values each, but have %d and %d", dims, len(lo), len(hi))}
	}
	for i := range lo {
		if !(lo[i] < hi[i]) {
			return &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("lo[%d]=%g is not below hi[%d]=%g", i, lo[i], i, hi[i])}
		}
	}
	return nil
}

// checkWindow converts a window given as xmin, ymin, xmax, ymax into
// bounds. An empty window returns nil.
func checkWindow(w []float64) (*geom.Bounds, error) {
	if len(w) == 0 {
		return nil, nil
	}
	if len(w) != 4 || !(w[0] < w[2]) || !(w[1] < w[3]) {
		return nil, &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("window %v must be xmin,ymin,xmax,ymax", w)}
	}
	return &geom.Bounds{Min: geom.Point{X: w[0], Y: w[1]}, Max: geom.Point{X: w[2], Y: w[3]}}, nil
}

// Slice output formats.
const (
	formatPNG      = "png"
	formatFigure   = "figure"
	formatNetCDF   = "nc"
	formatPlotfile = "plotfile"
)

// checkFormat returns the slice output format, inferring it from the
// output file extension if format is empty, and makes sure the two
// agree.
func checkFormat(format, output string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(output), "."))
	format = strings.ToLower(format)
	if format == "" {
		switch ext {
		case "png":
			format = formatPNG
		case "nc":
			format = formatNetCDF
		case "":
			format = formatPlotfile
		default:
			return "", &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("cannot infer the output format from %q", output)}
		}
	}
	var ok bool
	switch format {
	case formatPNG, formatFigure:
		ok = ext == "png"
	case formatNetCDF:
		ok = ext == "nc"
	case formatPlotfile:
		ok = ext != "png" && ext != "nc"
	default:
		return "", &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("invalid output format %q; it must be png, figure, nc or plotfile", format)}
	}
	if !ok {
		return "", &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("output file %q does not match format %s", output, format)}
	}
	return format, nil
}

// checkOutputFile makes sure that the output file is specified and its
// directory exists, and expands any environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("you need to specify an output file, e.g. --output=slice.png")}
	}
	f = os.ExpandEnv(f)
	if IsBlob(f) {
		return f, nil
	}
	if _, err := os.Stat(filepath.Dir(f)); err != nil {
		return f, &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("the output directory doesn't exist: %v", err)}
	}
	return f, nil
}

// IsBlob returns whether location is a blob storage URL rather than a
// local path.
func IsBlob(location string) bool {
	for _, p := range []string{"gs://", "s3://", "file://"} {
		if strings.HasPrefix(location, p) {
			return true
		}
	}
	return false
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// getFloat64Slice returns a slice of numbers from a viper configuration,
// which may have been set as a list in a configuration file or as a
// comma-separated string from the command line or environment.
func getFloat64Slice(varName string, cfg *viper.Viper) ([]float64, error) {
	i := cfg.Get(varName)
	if s, ok := i.(string); ok {
		s = strings.Trim(strings.TrimSpace(s), "[]")
		if s == "" {
			return nil, nil
		}
		i = strings.Split(s, ",")
	}
	switch v := i.(type) {
	case nil:
		return nil, nil
	case []float64:
		return v, nil
	case []string:
		o := make([]float64, len(v))
		for j, s := range v {
			f, err := cast.ToFloat64E(strings.TrimSpace(s))
			if err != nil {
				return nil, &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("%s: %v", varName, err)}
			}
			o[j] = f
		}
		return o, nil
	default:
		s, err := cast.ToSliceE(i)
		if err != nil {
			return nil, &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("%s: %v", varName, err)}
		}
		o := make([]float64, len(s))
		for j, e := range s {
			if o[j], err = cast.ToFloat64E(e); err != nil {
				return nil, &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("%s: %v", varName, err)}
			}
		}
		return o, nil
	}
}

// getStringMapString returns a map[string]string from a viper
// configuration, accounting for the fact that it might be a json object
// if it was set from a command line argument.
func getStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		o := make(map[string]string)
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		d := json.NewDecoder(bytes.NewBufferString(v))
		if err := d.Decode(&o); err != nil {
			return nil, &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("%s: %v", varName, err)}
		}
		return o, nil
	default:
		return nil, &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("invalid type for %s: %#v", varName, i)}
	}
}

// distributor returns the work distributor specified by cfg.
func distributor(cfg *viper.Viper) (*amrkit.Distributor, error) {
	n, err := checkWorkers(cfg.GetInt("workers"))
	if err != nil {
		return nil, err
	}
	p, err := amrkit.ParsePartition(cfg.GetString("partition"))
	if err != nil {
		return nil, err
	}
	return &amrkit.Distributor{Workers: n, Partition: p, Log: Log}, nil
}
