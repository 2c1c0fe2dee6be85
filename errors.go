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
	"strings"
)

// location formats the operation, level and box for error messages.
// A negative level or box is omitted.
func location(op string, level, box int) string {
	s := "amrkit: " + op
	if level >= 0 {
		s += fmt.Sprintf(": level %d", level)
		if box >= 0 {
			s += fmt.Sprintf(" box %d", box)
		}
	}
	return s
}

// FormatError is returned when a header file does not follow the
// plotfile schema.
type FormatError struct {
	Op    string
	Path  string
	Line  int // 1-based line number, or 0 if unknown.
	Level int
	Err   error
}

func (e *FormatError) Error() string {
	s := location(e.Op, e.Level, -1)
	if e.Path != "" {
		s += ": " + e.Path
		if e.Line > 0 {
			s += fmt.Sprintf(":%d", e.Line)
		}
	}
	return s + ": " + e.Err.Error()
}

func (e *FormatError) Unwrap() error { return e.Err }

// IOError is returned when a plotfile component is missing or cannot
// be read or written.
type IOError struct {
	Op    string
	Path  string
	Level int
	Box   int
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s: %v", location(e.Op, e.Level, e.Box), e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CorruptionError is returned when the content of a data block does not
// match what the headers declare about it.
type CorruptionError struct {
	Op     string
	Path   string
	Offset int64
	Level  int
	Box    int
	Err    error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s: %s@%d: %v", location(e.Op, e.Level, e.Box), e.Path, e.Offset, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// UnknownFieldError is returned when a requested field is not present
// in the plotfile.
type UnknownFieldError struct {
	Field     string
	Available []string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("amrkit: field %q was not found; available fields are: %s",
		e.Field, strings.Join(e.Available, ", "))
}

// GeometryError is returned when a requested location lies outside the
// domain, when a geometric query selects nothing, or when the box layout
// violates the nesting rules of the hierarchy.
type GeometryError struct {
	Op    string
	Level int
	Box   int
	Err   error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s: %v", location(e.Op, e.Level, e.Box), e.Err)
}

func (e *GeometryError) Unwrap() error { return e.Err }

// ConfigError is returned for invalid combinations of operation
// parameters.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("amrkit: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
