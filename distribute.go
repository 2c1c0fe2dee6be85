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
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Partition specifies how boxes are grouped into units of work.
type Partition int

const (
	// PerBox makes every box its own unit of work.
	PerBox Partition = iota

	// PerLevel makes every level one unit of work.
	PerLevel

	// PerFile makes the boxes of each level that share a binary file one
	// unit of work, so that each file is read (or written) by a single
	// worker.
	PerFile
)

func (p Partition) String() string {
	switch p {
	case PerBox:
		return "box"
	case PerLevel:
		return "level"
	case PerFile:
		return "file"
	default:
		return fmt.Sprintf("Partition(%d)", int(p))
	}
}

// ParsePartition converts "box", "level" or "file" into a Partition.
func ParsePartition(s string) (Partition, error) {
	switch strings.ToLower(s) {
	case "box", "":
		return PerBox, nil
	case "level":
		return PerLevel, nil
	case "file":
		return PerFile, nil
	}
	return 0, &ConfigError{Op: "parse partition", Err: fmt.Errorf("invalid partition %q; valid options are box, level and file", s)}
}

// Key identifies one box of a hierarchy.
type Key struct {
	Level, Box int
}

func (k Key) less(o Key) bool {
	if k.Level != o.Level {
		return k.Level < o.Level
	}
	return k.Box < o.Box
}

// Keys returns the keys of every box of levels 0 through maxLevel,
// sorted by level and then box id. A negative maxLevel selects every
// level.
func (h *Hierarchy) Keys(maxLevel int) []Key {
	if maxLevel < 0 || maxLevel > h.MaxLevel() {
		maxLevel = h.MaxLevel()
	}
	var o []Key
	for _, l := range h.Levels[:maxLevel+1] {
		for _, b := range l.Boxes {
			o = append(o, Key{Level: l.Index, Box: b.ID})
		}
	}
	return o
}

// Distributor runs per-box work on a pool of workers. A nil Distributor
// runs everything serially.
type Distributor struct {
	// Workers is the number of concurrent workers. Values below 2 run
	// the work serially in the calling goroutine.
	Workers int

	// Partition specifies how boxes are grouped into units of work.
	Partition Partition

	// Log receives progress messages. It may be nil.
	Log logrus.FieldLogger
}

func (d *Distributor) workers() int {
	if d == nil || d.Workers < 1 {
		return 1
	}
	return d.Workers
}

// discard receives the messages of distributors without a Log.
var discard = &logrus.Logger{
	Out:       io.Discard,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.PanicLevel,
}

func (d *Distributor) log() logrus.FieldLogger {
	if d == nil || d.Log == nil {
		return discard
	}
	return d.Log
}

// partitions groups the positions of keys into units of work. Positions
// within a unit keep the order of keys, and units are ordered by their
// first position. Keys must be sorted.
func (d *Distributor) partitions(h *Hierarchy, keys []Key) [][]int {
	p := PerBox
	if d != nil {
		p = d.Partition
	}
	var o [][]int
	switch p {
	case PerLevel:
		for i, k := range keys {
			if i == 0 || k.Level != keys[i-1].Level {
				o = append(o, nil)
			}
			o[len(o)-1] = append(o[len(o)-1], i)
		}
	case PerFile:
		unit := make(map[string]int)
		for i, k := range keys {
			name := fmt.Sprintf("%d/%s", k.Level, h.Levels[k.Level].Boxes[k.Box].File)
			u, ok := unit[name]
			if !ok {
				u = len(o)
				unit[name] = u
				o = append(o, nil)
			}
			o[u] = append(o[u], i)
		}
	default:
		o = make([][]int, len(keys))
		for i := range keys {
			o[i] = []int{i}
		}
	}
	return o
}

// Map calls fn for every key and returns the results in the order of
// keys. Keys are processed in (level, box) order within each unit of
// work. If any call fails, the remaining work is cancelled, the partial
// results are discarded and the first error is returned.
func Map[T any](ctx context.Context, d *Distributor, h *Hierarchy, keys []Key, fn func(ctx context.Context, k Key) (T, error)) ([]T, error) {
	return MapPartitions(ctx, d, h, keys, func(ctx context.Context, part []Key) ([]T, error) {
		o := make([]T, len(part))
		for i, k := range part {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var err error
			if o[i], err = fn(ctx, k); err != nil {
				return nil, err
			}
		}
		return o, nil
	})
}

// MapPartitions is like Map, except that fn is called once per unit of
// work with the keys of that unit and must return one result per key.
// Units are assigned to workers round-robin.
func MapPartitions[T any](ctx context.Context, d *Distributor, h *Hierarchy, keys []Key, fn func(ctx context.Context, part []Key) ([]T, error)) ([]T, error) {
	sorted := make([]int, len(keys))
	for i := range sorted {
		sorted[i] = i
	}
	sort.SliceStable(sorted, func(i, j int) bool { return keys[sorted[i]].less(keys[sorted[j]]) })
	sk := make([]Key, len(keys))
	for i, s := range sorted {
		sk[i] = keys[s]
		if k := sk[i]; k.Level < 0 || k.Level > h.MaxLevel() || k.Box < 0 || k.Box >= len(h.Levels[k.Level].Boxes) {
			return nil, &ConfigError{Op: "distribute", Err: fmt.Errorf("no box %d at level %d", k.Box, k.Level)}
		}
	}
	parts := d.partitions(h, sk)
	nprocs := d.workers()
	if nprocs > len(parts) {
		nprocs = len(parts)
	}
	d.log().WithFields(logrus.Fields{
		"boxes":     len(keys),
		"units":     len(parts),
		"workers":   nprocs,
		"partition": d.partitionName(),
	}).Debug("distributing work")

	results := make([]T, len(keys))
	run := func(ctx context.Context, p []int) error {
		part := make([]Key, len(p))
		for i, pos := range p {
			part[i] = sk[pos]
		}
		r, err := fn(ctx, part)
		if err != nil {
			return err
		}
		if len(r) != len(part) {
			return fmt.Errorf("amrkit: %d results for %d keys", len(r), len(part))
		}
		for i, pos := range p {
			results[sorted[pos]] = r[i]
		}
		return nil
	}

	if nprocs <= 1 {
		for _, p := range parts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := run(ctx, p); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for pp := 0; pp < nprocs; pp++ {
		pp := pp
		g.Go(func() error {
			for ii := pp; ii < len(parts); ii += nprocs {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := run(gctx, parts[ii]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Distributor) partitionName() string {
	if d == nil {
		return PerBox.String()
	}
	return d.Partition.String()
}
