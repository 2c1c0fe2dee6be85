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

// Package amrkitutil holds the command line interface of AMRKit.
package amrkitutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/amrkit"
	"github.com/spatialmodel/amrkit/output"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to AMRKit.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "workers",
			usage: `
              workers specifies the number of boxes or groups of boxes
              that are processed concurrently. 0 uses one worker per CPU.`,
			shorthand:  "w",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "partition",
			usage: `
              partition specifies how boxes are grouped into units of work:
              "box" processes every box separately, "level" processes each
              level as one unit, and "file" processes the boxes stored in
              each data file together.`,
			defaultVal: "box",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "loglevel",
			usage: `
              loglevel specifies the minimum level of log messages, one of
              "debug", "info", "warn" or "error".`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile specifies the path to a file where log messages are
              copied to. The file is rotated when it grows beyond 100 MB.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "limitlevel",
			usage: `
              limitlevel specifies the finest refinement level to load.
              -1 loads every level.`,
			defaultVal: -1,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "snapshot",
			usage: `
              snapshot specifies a snapshot file, created with the snapshot
              command, to read the plotfile hierarchy from instead of
              parsing the plotfile headers.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "maxretry",
			usage: `
              maxretry specifies how long failed reads from blob storage
              are retried, e.g. "30s" or "2m".`,
			defaultVal: "1m",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "axis",
			usage: `
              axis specifies the axis normal to the slice plane: x, y or z.`,
			shorthand:  "a",
			defaultVal: "z",
			flagsets:   []*pflag.FlagSet{sliceCmd.Flags()},
		},
		{
			name: "position",
			usage: `
              position specifies the physical coordinate of the slice plane
              along the slice axis.`,
			shorthand:  "p",
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{sliceCmd.Flags()},
		},
		{
			name: "window",
			usage: `
              window optionally restricts the slice to a rectangle given as
              "xmin,ymin,xmax,ymax", where x is the lower-numbered in-plane
              axis.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{sliceCmd.Flags()},
		},
		{
			name: "fields",
			usage: `
              fields specifies the fields to process. The default is every
              field; png and figure output use the first one.`,
			shorthand:  "f",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{sliceCmd.Flags(), integrateCmd.Flags()},
		},
		{
			name: "maxlevel",
			usage: `
              maxlevel specifies the finest level to use. -1 uses every
              loaded level.`,
			defaultVal: -1,
			flagsets:   []*pflag.FlagSet{sliceCmd.Flags(), integrateCmd.Flags(), validateCmd.Flags()},
		},
		{
			name: "format",
			usage: `
              format specifies the slice output format: "png" for one pixel
              per cell, "figure" for a plot with axes and a color bar, "nc"
              for netCDF, or "plotfile" for a 2D plotfile. If empty, the
              format is inferred from the output file extension.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{sliceCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output specifies the output file or directory. Plotfile
              output can also be written to blob storage, e.g.
              "gs://bucket/plt00100_derived". For integrate and validate
              an empty value writes to the standard output.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{sliceCmd.Flags(), integrateCmd.Flags(), validateCmd.Flags(), deriveCmd.Flags(), snapshotCmd.Flags()},
		},
		{
			name: "colormin",
			usage: `
              colormin and colormax fix the range of the color scale of
              png and figure output. The range of the data is used unless
              colormin is below colormax.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{sliceCmd.Flags()},
		},
		{
			name: "colormax",
			usage: `
              colormax is the upper end of the color scale. See colormin.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{sliceCmd.Flags()},
		},
		{
			name: "width",
			usage: `
              width specifies the number of bytes per value written to
              plotfiles: 4 or 8.`,
			defaultVal: 8,
			flagsets:   []*pflag.FlagSet{sliceCmd.Flags(), deriveCmd.Flags()},
		},
		{
			name: "weight",
			usage: `
              weight optionally names a field that multiplies every
              integrand, e.g. density for mass-weighted integrals.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{integrateCmd.Flags()},
		},
		{
			name: "lo",
			usage: `
              lo and hi optionally restrict the integral to the cells whose
              centers lie within a physical box, e.g. --lo=0,0,0 --hi=1,1,0.5.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{integrateCmd.Flags()},
		},
		{
			name: "hi",
			usage: `
              hi is the upper corner of the integration box. See lo.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{integrateCmd.Flags()},
		},
		{
			name: "nonfinite",
			usage: `
              nonfinite specifies whether to report fields that contain NaN
              or infinite values.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{validateCmd.Flags()},
		},
		{
			name: "nesting",
			usage: `
              nesting specifies whether to check that the levels are
              properly nested.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{validateCmd.Flags()},
		},
		{
			name: "expressions",
			usage: `
              expressions specifies the derived fields as a map of field
              names to expressions of the plotfile fields, for example
              {"ke": "0.5 * density * (xvel * xvel + yvel * yvel)"}.
              The functions exp, log, sqrt, abs and pow are available.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{deriveCmd.Flags()},
		},
		{
			name: "keep",
			usage: `
              keep specifies the plotfile fields that are copied to the
              derived plotfile. "*" copies every field.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{deriveCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("AMRKIT")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(v)
				set.StringP(option.name, option.shorthand, b.String(), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(infoCmd)
	Root.AddCommand(sliceCmd)
	Root.AddCommand(integrateCmd)
	Root.AddCommand(validateCmd)
	Root.AddCommand(deriveCmd)
	Root.AddCommand(snapshotCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets up logging.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("amrkit: problem reading configuration file: %v", err)
		}
	}
	lc := LogConfig{
		Level:   Cfg.GetString("loglevel"),
		File:    Cfg.GetString("LogFile"),
		MaxSize: 100,
		MaxAge:  28,
	}
	return lc.SetLogger(Log)
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "amrkit",
	Short: "Inspect and post-process AMReX plotfiles.",
	Long: `AMRKit reads the output of block-structured adaptive mesh refinement
simulations in the AMReX plotfile format. Use the subcommands specified below
to summarize, slice, integrate, check and transform plotfiles. Plotfiles can
be local directories or blob storage locations such as gs://bucket/plt00100.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'AMRKIT_var' where 'var' is the
name of the variable to be set.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of AMRKit.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("AMRKit v%s\n", amrkit.Version)
	},
	DisableAutoGenTag: true,
}

// load loads the plotfile given as the single argument of a command.
func load(ctx context.Context, args []string) (*amrkit.Hierarchy, func() error, error) {
	if len(args) != 1 {
		return nil, nil, fmt.Errorf("amrkit: expected one plotfile argument, got %d", len(args))
	}
	maxRetry, err := cast.ToDurationE(Cfg.Get("maxretry"))
	if err != nil {
		return nil, nil, &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("maxretry: %v", err)}
	}
	return Load(ctx, args[0], LoadOptions{
		LimitLevel: Cfg.GetInt("limitlevel"),
		Snapshot:   Cfg.GetString("snapshot"),
		MaxRetry:   maxRetry,
	})
}

var infoCmd = &cobra.Command{
	Use:   "info plotfile",
	Short: "Summarize a plotfile",
	Long: `info prints the metadata of a plotfile and the number of boxes, cells
and bytes of each refinement level.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h, closer, err := load(ctx, args)
		if err != nil {
			return err
		}
		defer closer()
		return Info(ctx, cmd.OutOrStdout(), h)
	},
	DisableAutoGenTag: true,
}

var sliceCmd = &cobra.Command{
	Use:   "slice plotfile",
	Short: "Extract a plane from a 3D plotfile",
	Long: `slice extracts the plane normal to --axis at --position from every
refinement level of a 3D plotfile and saves it as an image, a netCDF file or
a 2D plotfile. Values are interpolated linearly between the two cell layers
that bracket the plane.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		axis, err := parseAxis(Cfg.GetString("axis"))
		if err != nil {
			return err
		}
		out, err := checkOutputFile(Cfg.GetString("output"))
		if err != nil {
			return err
		}
		format, err := checkFormat(Cfg.GetString("format"), out)
		if err != nil {
			return err
		}
		win, err := getFloat64Slice("window", Cfg)
		if err != nil {
			return err
		}
		window, err := checkWindow(win)
		if err != nil {
			return err
		}
		maxRetry, err := cast.ToDurationE(Cfg.Get("maxretry"))
		if err != nil {
			return &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("maxretry: %v", err)}
		}
		d, err := distributor(Cfg)
		if err != nil {
			return err
		}
		h, closer, err := load(ctx, args)
		if err != nil {
			return err
		}
		defer closer()
		req := amrkit.SliceRequest{
			Axis:     axis,
			Position: Cfg.GetFloat64("position"),
			Fields:   expandStringSlice(Cfg.GetStringSlice("fields")),
			MaxLevel: Cfg.GetInt("maxlevel"),
			Window:   window,
		}
		cmin, cmax := Cfg.GetFloat64("colormin"), Cfg.GetFloat64("colormax")
		return Slice(ctx, h, req, d, SliceOutput{
			Format:   format,
			Location: out,
			Scale:    output.ColorScale{Min: cmin, Max: cmax, Fixed: cmin < cmax},
			Width:    amrkit.Width(Cfg.GetInt("width")),
			MaxRetry: maxRetry,
		})
	},
	DisableAutoGenTag: true,
}

var integrateCmd = &cobra.Command{
	Use:   "integrate plotfile",
	Short: "Integrate fields over the domain",
	Long: `integrate computes the volume integrals of plotfile fields, using the
finest available data at every point of the domain, and prints the result
in TOML format.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		lo, err := getFloat64Slice("lo", Cfg)
		if err != nil {
			return err
		}
		hi, err := getFloat64Slice("hi", Cfg)
		if err != nil {
			return err
		}
		d, err := distributor(Cfg)
		if err != nil {
			return err
		}
		h, closer, err := load(ctx, args)
		if err != nil {
			return err
		}
		defer closer()
		if err := checkBounds(lo, hi, h.Dims); err != nil {
			return err
		}
		req := amrkit.IntegrateRequest{
			Fields:   expandStringSlice(Cfg.GetStringSlice("fields")),
			Weight:   Cfg.GetString("weight"),
			Lo:       lo,
			Hi:       hi,
			MaxLevel: Cfg.GetInt("maxlevel"),
		}
		_, err = Integrate(ctx, cmd.OutOrStdout(), h, req, d, os.ExpandEnv(Cfg.GetString("output")))
		return err
	},
	DisableAutoGenTag: true,
}

var validateCmd = &cobra.Command{
	Use:   "validate plotfile",
	Short: "Check the integrity of a plotfile",
	Long: `validate reads every data block of a plotfile and checks that it
exists, that its header agrees with the level header and that it is
complete. Every box is checked even if problems are found. The report is
printed in TOML format and the command fails if there are any issues.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := distributor(Cfg)
		if err != nil {
			return err
		}
		h, closer, err := load(ctx, args)
		if err != nil {
			return err
		}
		defer closer()
		opts := amrkit.ValidateOptions{
			NonFinite: Cfg.GetBool("nonfinite"),
			Nesting:   Cfg.GetBool("nesting"),
			MaxLevel:  Cfg.GetInt("maxlevel"),
		}
		_, err = Validate(ctx, cmd.OutOrStdout(), h, d, opts, os.ExpandEnv(Cfg.GetString("output")))
		return err
	},
	DisableAutoGenTag: true,
}

var deriveCmd = &cobra.Command{
	Use:   "derive plotfile",
	Short: "Compute derived fields",
	Long: `derive writes a new plotfile with the box structure of the input
plotfile that holds the --keep fields followed by the fields computed
from --expressions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		exprs, err := getStringMapString("expressions", Cfg)
		if err != nil {
			return err
		}
		out, err := checkOutputFile(Cfg.GetString("output"))
		if err != nil {
			return err
		}
		maxRetry, err := cast.ToDurationE(Cfg.Get("maxretry"))
		if err != nil {
			return &amrkit.ConfigError{Op: "configure", Err: fmt.Errorf("maxretry: %v", err)}
		}
		d, err := distributor(Cfg)
		if err != nil {
			return err
		}
		h, closer, err := load(ctx, args)
		if err != nil {
			return err
		}
		defer closer()
		start := time.Now()
		o, err := Derive(ctx, h, exprs, expandStringSlice(Cfg.GetStringSlice("keep")), d, out, maxRetry)
		if err != nil {
			return err
		}
		Log.WithField("duration", time.Since(start)).Infof("wrote fields %v to %s", o.FieldNames, out)
		return nil
	},
	DisableAutoGenTag: true,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot plotfile",
	Short: "Save the plotfile hierarchy",
	Long: `snapshot saves the hierarchy of a plotfile, including the location of
every data block, to a netCDF file. Loading the snapshot with --snapshot is
much faster than parsing the headers of plotfiles with many boxes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := checkOutputFile(Cfg.GetString("output"))
		if err != nil {
			return err
		}
		h, closer, err := load(cmd.Context(), args)
		if err != nil {
			return err
		}
		defer closer()
		return Snapshot(h, out)
	},
	DisableAutoGenTag: true,
}
