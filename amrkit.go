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

// Package amrkit reads, checks and post-processes AMReX plotfiles, the
// output format of block-structured adaptive mesh refinement simulations.
//
// A plotfile holds a hierarchy of levels, each finer than the last and
// each made of rectangular boxes of cells. Parse builds the Hierarchy from
// the plotfile headers without touching the binary data. Slice, Integrate,
// Validate and Derive then visit the boxes through a Distributor, reading
// one box at a time, so that plotfiles much larger than memory can be
// processed.
package amrkit

// Version is the version of AMRKit.
const Version = "0.3.0"
