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
	"fmt"
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

// Log receives the log messages of the command line tool.
var Log = logrus.New()

// LogConfig specifies where log messages go.
type LogConfig struct {
	// Level is the minimum level of messages that are logged,
	// e.g. "info" or "debug".
	Level string

	// File optionally receives a copy of the log messages. The file is
	// rotated when it reaches MaxSize megabytes and old files are removed
	// after MaxAge days.
	File    string
	MaxSize int
	MaxAge  int
}

// SetLogger configures l according to c, sending messages to stderr and,
// if c.File is set, to a rotating log file.
func (c LogConfig) SetLogger(l *logrus.Logger) error {
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("amrkit: invalid log level: %v", err)
	}
	l.SetLevel(lvl)
	l.SetOutput(os.Stderr)
	if c.File == "" {
		return nil
	}
	f := &lumberjack.Logger{
		Filename: os.ExpandEnv(c.File),
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	l.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}
