/*
 * header.go, part of goxtc
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
	"github.com/rmera/goxtc/xdr"
)

const (
	//Magic is the fixed constant every XTC frame starts with.
	Magic int32 = 1995

	//RawThreshold is the atom count at or below which coordinates are
	//stored as plain floats instead of the compressed bitstream.
	RawThreshold = 9

	//nm to Angstrom. Exact in float64 for any float32 input.
	nm2A = 10.0

	//bytes in the fixed part of a frame: magic, natoms, step, time and
	//the 9 box floats.
	headerBytes = 13 * 4
)

//header holds the fixed-size fields common to every frame.
type header struct {
	natoms int
	step   int32
	time   float32
	box    [9]float32
}

//parseHeader consumes the fixed frame fields from cur, leaving it positioned
//at the start of the coordinate payload. It does no decompression.
func parseHeader(cur *xdr.Cursor) (*header, error) {
	magic, err := cur.ReadInt32()
	if err != nil {
		return nil, Error{TruncatedPayload, err.Error(), "", []string{"parseHeader"}, true}
	}
	if magic != Magic {
		return nil, Error{BadMagic, fmt.Sprintf("got %d, want %d", magic, Magic), "", []string{"parseHeader"}, true}
	}
	natoms, err := cur.ReadInt32()
	if err != nil {
		return nil, Error{TruncatedPayload, err.Error(), "", []string{"parseHeader"}, true}
	}
	if natoms <= 0 {
		return nil, Error{InvalidAtomCount, fmt.Sprintf("got %d", natoms), "", []string{"parseHeader"}, true}
	}
	h := &header{natoms: int(natoms)}
	if h.step, err = cur.ReadInt32(); err != nil {
		return nil, Error{TruncatedPayload, err.Error(), "", []string{"parseHeader"}, true}
	}
	if h.time, err = cur.ReadFloat32(); err != nil {
		return nil, Error{TruncatedPayload, err.Error(), "", []string{"parseHeader"}, true}
	}
	for i := 0; i < 9; i++ {
		if h.box[i], err = cur.ReadFloat32(); err != nil {
			return nil, Error{TruncatedPayload, err.Error(), "", []string{"parseHeader"}, true}
		}
	}
	return h, nil
}

//boxToSlice fills dst (9 elements, row-major) with the box lattice vectors
//of h, in Angstroms.
func (h *header) boxToSlice(dst []float64) {
	for i := 0; i < 9 && i < len(dst); i++ {
		dst[i] = float64(h.box[i]) * nm2A
	}
}

// Frame is one decoded snapshot of a trajectory: the step and time it was
// taken at, the simulation box and the coordinates of every atom, in
// Angstroms. Prec is the compression precision of the frame, in coordinate
// units per nm: the quantization error of any coordinate is at most
// 10/Prec Angstroms. Prec is 0 for frames below the raw-storage threshold,
// which carry exact floats.
type Frame struct {
	Step   int
	Time   float64
	Box    []float64 //9 elements, row-major lattice vectors
	Coords *v3.Matrix
	Prec   float64
}

//Len returns the number of atoms in the frame.
func (F *Frame) Len() int {
	if F.Coords == nil {
		return 0
	}
	return F.Coords.NVecs()
}
