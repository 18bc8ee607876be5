/*
 * decode.go, part of goxtc
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

/*decode.go holds the coordinate decompression scheme of the XTC format,
 * the same algorithm as xdr3dfcoord in the C xdrfile library. The wire
 * semantics (magicints table, mixed-radix packing, run-length groups) are
 * reproduced exactly; the original's global tables and bit-position state
 * threaded through a shared buffer are replaced by package-level constants
 * and an explicit bitReader value, so frames can be decoded concurrently.*/

package xtc

import (
	"fmt"

	v3 "github.com/rmera/goxtc/v3"
	"github.com/rmera/goxtc/xdr"
)

const firstIdx = 9

//magicints maps a size class to the largest quantized-coordinate range that
//class can encode. The entry at index i is roughly 2^(i/3), so a triple of
//values of class i packs into i bits. This table is part of the wire format
//and must never change.
var magicints = [...]int32{
	0, 0, 0, 0, 0, 0, 0, 0, 0,
	8, 10, 12, 16, 20, 25, 32, 40, 50, 64,
	80, 101, 128, 161, 203, 256, 322, 406, 512, 645,
	812, 1024, 1290, 1625, 2048, 2580, 3250, 4096, 5060, 6501,
	8192, 10321, 13003, 16384, 20642, 26007, 32768, 41285, 52015, 65536,
	82570, 104031, 131072, 165140, 208063, 262144, 330280, 416127,
	524287, 660561, 832255, 1048576, 1321122, 1664510, 2097152,
	2642245, 3329021, 4194304, 5284491, 6658042, 8388607, 10568983,
	13316085, 16777216,
}

const lastIdx = len(magicints) - 1

//sizeOfInt returns the number of bits needed to store unsigned values
//smaller than size.
func sizeOfInt(size int32) int {
	num := int64(1)
	nbits := 0
	for int64(size) >= num && nbits < 32 {
		nbits++
		num <<= 1
	}
	return nbits
}

//sizeOfInts returns the number of bits needed to store a triple with the
//given per-axis sizes as a single mixed-radix number. The computation
//mirrors the reference implementation byte by byte, rounding included.
func sizeOfInts(sizes *[3]int32) int {
	var bytes [32]uint32
	nbytes := 1
	bytes[0] = 1
	nbits := 0
	for i := 0; i < 3; i++ {
		tmp := uint64(0)
		bc := 0
		for ; bc < nbytes; bc++ {
			tmp = uint64(bytes[bc])*uint64(sizes[i]) + tmp
			bytes[bc] = uint32(tmp & 0xff)
			tmp >>= 8
		}
		for tmp != 0 {
			bytes[bc] = uint32(tmp & 0xff)
			bc++
			tmp >>= 8
		}
		nbytes = bc
	}
	num := uint32(1)
	nbytes--
	for bytes[nbytes] >= num {
		nbits++
		num *= 2
	}
	return nbits + nbytes*8
}

//bitReader reads MSB-first bit runs of arbitrary width from a byte slice.
//Fields may straddle byte boundaries; a read of width 0 yields 0 and
//consumes nothing. It fails instead of reading past the end of the slice.
type bitReader struct {
	buf      []byte
	cnt      int
	lastbits uint
	lastbyte uint32
}

func (b *bitReader) readBits(nbits int) (int32, error) {
	if nbits == 0 {
		return 0, nil
	}
	var num uint64
	n := uint(nbits)
	for n >= 8 {
		if b.cnt >= len(b.buf) {
			return 0, Error{BitstreamUnderrun, fmt.Sprintf("at byte %d of %d", b.cnt, len(b.buf)), "", nil, true}
		}
		b.lastbyte = b.lastbyte<<8 | uint32(b.buf[b.cnt])
		b.cnt++
		num |= uint64(b.lastbyte>>b.lastbits) << (n - 8)
		n -= 8
	}
	if n > 0 {
		if b.lastbits < n {
			b.lastbits += 8
			if b.cnt >= len(b.buf) {
				return 0, Error{BitstreamUnderrun, fmt.Sprintf("at byte %d of %d", b.cnt, len(b.buf)), "", nil, true}
			}
			b.lastbyte = b.lastbyte<<8 | uint32(b.buf[b.cnt])
			b.cnt++
		}
		b.lastbits -= n
		num |= uint64(b.lastbyte>>b.lastbits) & (uint64(1)<<n - 1)
	}
	num &= uint64(1)<<uint(nbits) - 1
	return int32(num), nil
}

//readInts reads one triple packed as a mixed-radix number of nbits total
//bits and unpacks it by repeated division with the per-axis sizes.
func (b *bitReader) readInts(nbits int, sizes *[3]int32, nums *[3]int32) error {
	var bytes [32]uint64
	nbytes := 0
	for nbits > 8 {
		v, err := b.readBits(8)
		if err != nil {
			return err
		}
		bytes[nbytes] = uint64(v)
		nbytes++
		nbits -= 8
	}
	if nbits > 0 {
		v, err := b.readBits(nbits)
		if err != nil {
			return err
		}
		bytes[nbytes] = uint64(v)
		nbytes++
	}
	for i := 2; i > 0; i-- {
		num := uint64(0)
		size := uint64(sizes[i])
		for j := nbytes - 1; j >= 0; j-- {
			num = num<<8 | bytes[j]
			p := num / size
			bytes[j] = p
			num -= p * size
		}
		nums[i] = int32(num)
	}
	nums[0] = int32(bytes[0] | bytes[1]<<8 | bytes[2]<<16 | bytes[3]<<24)
	return nil
}

//decodeCoords decodes the coordinate payload of a frame. cur must be
//positioned right after the fixed header fields. Coordinates are written to
//out (in Angstroms) for the first limit atoms; the rest of the payload is
//still decoded and checked, just not stored. out may be nil to validate and
//consume the payload without keeping anything; limit is then ignored.
//It returns the precision of the frame (0 for raw frames).
func decodeCoords(cur *xdr.Cursor, natoms, limit int, out *v3.Matrix) (float32, error) {
	lsize, err := cur.ReadInt32()
	if err != nil {
		return 0, Error{TruncatedPayload, err.Error(), "", []string{"decodeCoords"}, true}
	}
	if int(lsize) != natoms {
		return 0, Error{WrongFormat, fmt.Sprintf("payload atom count %d does not match header %d", lsize, natoms), "", []string{"decodeCoords"}, true}
	}
	if out == nil {
		limit = 0
	} else if limit > natoms {
		limit = natoms
	}
	if out != nil && out.NVecs() < limit {
		return 0, Error{NotEnoughSpace, fmt.Sprintf("%d rows for %d atoms", out.NVecs(), limit), "", []string{"decodeCoords"}, true}
	}
	if natoms <= RawThreshold {
		return 0, decodeRaw(cur, natoms, limit, out)
	}
	return decodeCompressed(cur, natoms, limit, out)
}

//decodeRaw handles the small-count payload shape: plain big-endian floats,
//three per atom, no compression.
func decodeRaw(cur *xdr.Cursor, natoms, limit int, out *v3.Matrix) error {
	for i := 0; i < natoms; i++ {
		for k := 0; k < 3; k++ {
			f, err := cur.ReadFloat32()
			if err != nil {
				return Error{TruncatedPayload, err.Error(), "", []string{"decodeRaw"}, true}
			}
			if i < limit {
				out.Set(i, k, float64(f)*nm2A)
			}
		}
	}
	return nil
}

func decodeCompressed(cur *xdr.Cursor, natoms, limit int, out *v3.Matrix) (float32, error) {
	prec, err := cur.ReadFloat32()
	if err != nil {
		return 0, Error{TruncatedPayload, err.Error(), "", []string{"decodeCompressed"}, true}
	}
	var minint, maxint, sizeint [3]int32
	for k := 0; k < 3; k++ {
		if minint[k], err = cur.ReadInt32(); err != nil {
			return 0, Error{TruncatedPayload, err.Error(), "", []string{"decodeCompressed"}, true}
		}
	}
	for k := 0; k < 3; k++ {
		if maxint[k], err = cur.ReadInt32(); err != nil {
			return 0, Error{TruncatedPayload, err.Error(), "", []string{"decodeCompressed"}, true}
		}
	}
	var bitsizeint [3]int
	bitsize := 0
	big := false
	for k := 0; k < 3; k++ {
		sizeint[k] = maxint[k] - minint[k] + 1
		if uint32(sizeint[k]) > 0xffffff {
			big = true
		}
	}
	if big {
		//one or more axes need a full-width read per coordinate
		for k := 0; k < 3; k++ {
			bitsizeint[k] = sizeOfInt(sizeint[k])
		}
	} else {
		bitsize = sizeOfInts(&sizeint)
	}
	smallidx64, err := cur.ReadInt32()
	if err != nil {
		return 0, Error{TruncatedPayload, err.Error(), "", []string{"decodeCompressed"}, true}
	}
	smallidx := int(smallidx64)
	if smallidx < firstIdx || smallidx > lastIdx {
		return 0, Error{InvalidSizeClass, fmt.Sprintf("got %d, valid range [%d, %d]", smallidx, firstIdx, lastIdx), "", []string{"decodeCompressed"}, true}
	}
	tmpIdx := smallidx - 1
	if tmpIdx < firstIdx {
		tmpIdx = firstIdx
	}
	smaller := magicints[tmpIdx] / 2
	smallnum := magicints[smallidx] / 2
	sizesmall := [3]int32{magicints[smallidx], magicints[smallidx], magicints[smallidx]}

	nbytes, err := cur.ReadInt32()
	if err != nil {
		return 0, Error{TruncatedPayload, err.Error(), "", []string{"decodeCompressed"}, true}
	}
	if nbytes < 0 {
		return 0, Error{WrongFormat, fmt.Sprintf("negative packed-stream length %d", nbytes), "", []string{"decodeCompressed"}, true}
	}
	data, err := cur.ReadOpaque(int(nbytes))
	if err != nil {
		return 0, Error{TruncatedPayload, err.Error(), "", []string{"decodeCompressed"}, true}
	}
	br := &bitReader{buf: data}

	invPrec := 1.0 / prec
	var this, prev [3]int32
	run := 0
	i := 0
	store := func(row int, c *[3]int32) {
		if row < limit {
			out.Set(row, 0, float64(float32(c[0])*invPrec)*nm2A)
			out.Set(row, 1, float64(float32(c[1])*invPrec)*nm2A)
			out.Set(row, 2, float64(float32(c[2])*invPrec)*nm2A)
		}
	}
	for i < natoms {
		if big {
			for k := 0; k < 3; k++ {
				if this[k], err = br.readBits(bitsizeint[k]); err != nil {
					return 0, err
				}
			}
		} else {
			if err = br.readInts(bitsize, &sizeint, &this); err != nil {
				return 0, err
			}
		}
		row := i
		i++
		this[0] += minint[0]
		this[1] += minint[1]
		this[2] += minint[2]
		prev = this

		flag, err := br.readBits(1)
		if err != nil {
			return 0, err
		}
		isSmaller := 0
		if flag == 1 {
			//a change in run length: the next 5 bits carry the new
			//one, plus the size-class transition folded in mod 3.
			r5, err := br.readBits(5)
			if err != nil {
				return 0, err
			}
			run = int(r5)
			isSmaller = run % 3
			run -= isSmaller
			isSmaller--
		}
		//when flag is 0 the previous group's run length carries over.
		if run > 0 {
			if i+run/3 > natoms {
				return 0, Error{WrongFormat, fmt.Sprintf("run of %d atoms overflows the %d remaining", run/3, natoms-i), "", []string{"decodeCompressed"}, true}
			}
			if sizesmall[0] == 0 {
				return 0, Error{InvalidSizeClass, fmt.Sprintf("size class %d encodes no values", smallidx), "", []string{"decodeCompressed"}, true}
			}
			for k := 0; k < run; k += 3 {
				if err = br.readInts(smallidx, &sizesmall, &this); err != nil {
					return 0, err
				}
				i++
				this[0] += prev[0] - smallnum
				this[1] += prev[1] - smallnum
				this[2] += prev[2] - smallnum
				if k == 0 {
					//the writer swaps the first two atoms of a run
					//(waters compress better that way); undo it.
					this, prev = prev, this
					store(row, &prev)
					row++
				} else {
					prev = this
				}
				store(row, &this)
				row++
			}
		} else {
			store(row, &this)
			row++
		}
		smallidx += isSmaller
		if isSmaller < 0 {
			smallnum = smaller
			if smallidx > firstIdx {
				smaller = magicints[smallidx-1] / 2
			} else {
				smaller = 0
			}
		} else if isSmaller > 0 {
			smaller = smallnum
			smallnum = magicints[smallidx] / 2
		}
		if smallidx < 0 || smallidx > lastIdx {
			return 0, Error{InvalidSizeClass, fmt.Sprintf("size class drifted to %d", smallidx), "", []string{"decodeCompressed"}, true}
		}
		sizesmall[0] = magicints[smallidx]
		sizesmall[1] = magicints[smallidx]
		sizesmall[2] = magicints[smallidx]
		if out != nil && i >= limit {
			//the caller does not want the rest of the frame; the
			//payload length field already told us where it ends.
			break
		}
	}
	return prec, nil
}
