/*
 * selection.go, part of goxtc
 *
 * Copyright 2021 Raul Mera <rmera{at}usachDOTcl>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License  as published by
 * the Free Software Foundation; either version 2.1 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston,
 * MA 02110-1301, USA.
 */

package xtc

import (
	"fmt"

	v3 "github.com/rmera/goxtc/v3"
)

//Selection names a subset of the atoms in a trajectory. Reading only a
//selection is cheaper than reading whole frames: the coordinate stream is
//sequential, so decoding can stop at the last selected atom, and waters or
//other solvent at the end of the system (where GROMACS topologies usually
//put them) never get decoded at all.
type Selection struct {
	mask  []bool //nil means every atom
	limit int    //1 + the highest selected index, 0 for "all"
	n     int    //number of selected atoms, -1 for "all"
}

//All returns a selection including every atom.
func All() *Selection {
	return &Selection{n: -1}
}

//Until returns a selection with the first n atoms of the system.
func Until(n int) *Selection {
	if n < 0 {
		n = 0
	}
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	return &Selection{mask: mask, limit: n, n: n}
}

//Mask returns a selection with the atoms whose element in mask is true.
//Atoms past the end of the mask are excluded.
func Mask(mask []bool) *Selection {
	s := &Selection{mask: mask}
	for i, in := range mask {
		if in {
			s.limit = i + 1
			s.n++
		}
	}
	return s
}

//FromIndices returns a selection with the atoms at the given (zero-based)
//indices. Duplicated indices count once.
func FromIndices(indices []int) (*Selection, error) {
	max := -1
	for _, i := range indices {
		if i < 0 {
			return nil, Error{WrongFormat, fmt.Sprintf("negative atom index %d in selection", i), "", []string{"FromIndices"}, true}
		}
		if i > max {
			max = i
		}
	}
	mask := make([]bool, max+1)
	for _, i := range indices {
		mask[i] = true
	}
	return Mask(mask), nil
}

//Included returns whether the ith atom belongs to the selection.
func (s *Selection) Included(i int) bool {
	if s == nil || s.mask == nil {
		return true
	}
	return i < len(s.mask) && s.mask[i]
}

//NAtoms returns the number of atoms a selection keeps out of a system of
//natoms atoms.
func (s *Selection) NAtoms(natoms int) int {
	if s == nil || s.n < 0 {
		return natoms
	}
	if s.limit > natoms {
		n := 0
		for i := 0; i < natoms; i++ {
			if s.mask[i] {
				n++
			}
		}
		return n
	}
	return s.n
}

//Indices returns the selected indices below natoms, in increasing order.
func (s *Selection) Indices(natoms int) []int {
	if s == nil || s.mask == nil {
		r := make([]int, natoms)
		for i := range r {
			r[i] = i
		}
		return r
	}
	var r []int
	for i := 0; i < natoms && i < len(s.mask); i++ {
		if s.mask[i] {
			r = append(r, i)
		}
	}
	return r
}

//readingLimit returns how many atoms from the start of a frame must be
//decoded to cover the selection.
func (s *Selection) readingLimit(natoms int) int {
	if s == nil || s.mask == nil {
		return natoms
	}
	if s.limit > natoms {
		return natoms
	}
	return s.limit
}

//ManyFrames reads the frames [ini, end), every skip-th of them, and returns
//the coordinates of the selected atoms of each (every atom if sel is nil),
//along with how many frames were actually read. A negative end means "to
//the end of the trajectory"; running out of frames before end is not an
//error. Skipped frames are never decoded, and on a seekable trajectory the
//initial frames are never read at all.
func (X *XTCObj) ManyFrames(ini, end, skip int, sel *Selection) ([]*v3.Matrix, int, error) {
	if !X.Readable() {
		return nil, 0, Error{TrajUnIniRead, "", X.filename, []string{"ManyFrames"}, true}
	}
	if ini < 0 || skip < 1 || (end >= 0 && end < ini) {
		return nil, 0, Error{WrongFormat, fmt.Sprintf("bad frame range [%d, %d) skip %d", ini, end, skip), X.filename, []string{"ManyFrames"}, true}
	}
	if X.seekable && X.frame != ini {
		if err := X.SeekFrame(ini); err != nil {
			return nil, 0, errDecorate(err, "ManyFrames")
		}
	} else {
		if X.frame > ini {
			return nil, 0, Error{NotSeekable, fmt.Sprintf("frame %d already read, cannot go back to %d", X.frame, ini), X.filename, []string{"ManyFrames"}, true}
		}
		for X.frame < ini {
			if err := X.Next(nil); err != nil {
				if _, ok := err.(LastFrameError); ok {
					return nil, 0, nil
				}
				return nil, 0, errDecorate(err, "ManyFrames")
			}
		}
	}
	limit := sel.readingLimit(X.natoms)
	indices := sel.Indices(X.natoms)
	var full *v3.Matrix
	if limit > 0 {
		full = v3.Zeros(limit)
	}
	var frames []*v3.Matrix
	read := 0
	row := make([]float64, 3)
	for end < 0 || X.frame < end {
		want := (X.frame-ini)%skip == 0
		target := full
		if !want {
			target = nil
		}
		err := X.next(target, limit)
		if err != nil {
			if _, ok := err.(LastFrameError); ok {
				break
			}
			return nil, read, errDecorate(err, "ManyFrames")
		}
		if !want {
			continue
		}
		//an empty selection still counts the frame, with nothing kept
		var kept *v3.Matrix
		if len(indices) > 0 {
			kept = v3.Zeros(len(indices))
			for j, idx := range indices {
				full.Row(row, idx)
				kept.SetVec(j, row)
			}
		}
		frames = append(frames, kept)
		read++
	}
	return frames, read, nil
}
