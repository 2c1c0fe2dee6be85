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
	"io"

	"github.com/BurntSushi/toml"
	"github.com/spatialmodel/amrkit"
)

// WriteReport writes v, typically an *amrkit.Integral or an
// *amrkit.Report, to w in TOML format.
func WriteReport(w io.Writer, v interface{}) error {
	if v == nil {
		return &amrkit.ConfigError{Op: "write report", Err: fmt.Errorf("nothing to write")}
	}
	if err := toml.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("amrkit/output: writing report: %v", err)
	}
	return nil
}
