/*
 * xdr.go, part of goxtc
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

//Package xdr implements the small subset of the XDR (External Data
//Representation) encoding that the XTC format uses: big-endian fixed-width
//integers and floats, and opaque byte runs padded to 4-byte boundaries.
//It is not, and does not try to be, a general-purpose XDR library.
package xdr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Cursor reads big-endian values from a byte slice, keeping an explicit
// position. It borrows the slice, it never writes to it, so any number of
// cursors can work concurrently over the same data. Reads are all-or-nothing:
// if fewer bytes remain than requested, the position is left untouched and
// an Error with the UnexpectedEof message is returned.
type Cursor struct {
	data []byte
	pos  int
}

//NewCursor returns a Cursor over data, positioned at offset 0.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

//Len returns the total length of the underlying data.
func (c *Cursor) Len() int { return len(c.data) }

//Pos returns the current read position.
func (c *Cursor) Pos() int { return c.pos }

//Remaining returns the number of bytes left to read.
func (c *Cursor) Remaining() int { return len(c.data) - c.pos }

//SeekTo moves the read position to the absolute offset off.
func (c *Cursor) SeekTo(off int) error {
	if off < 0 || off > len(c.data) {
		return Error{OutOfBounds, fmt.Sprintf("offset %d, length %d", off, len(c.data)), nil, true}
	}
	c.pos = off
	return nil
}

//Skip advances the read position by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || c.Remaining() < n {
		return Error{UnexpectedEof, fmt.Sprintf("skip %d bytes with %d remaining", n, c.Remaining()), nil, true}
	}
	c.pos += n
	return nil
}

//ReadUint32 reads a big-endian 32-bit unsigned integer.
func (c *Cursor) ReadUint32() (uint32, error) {
	if c.Remaining() < 4 {
		return 0, Error{UnexpectedEof, fmt.Sprintf("need 4 bytes, have %d", c.Remaining()), nil, true}
	}
	v := binary.BigEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

//ReadInt32 reads a big-endian 32-bit signed integer.
func (c *Cursor) ReadInt32() (int32, error) {
	v, err := c.ReadUint32()
	return int32(v), err
}

//ReadFloat32 reads a big-endian IEEE-754 single-precision float.
func (c *Cursor) ReadFloat32() (float32, error) {
	v, err := c.ReadUint32()
	return math.Float32frombits(v), err
}

//ReadFloat64 reads a big-endian IEEE-754 double-precision float.
func (c *Cursor) ReadFloat64() (float64, error) {
	if c.Remaining() < 8 {
		return 0, Error{UnexpectedEof, fmt.Sprintf("need 8 bytes, have %d", c.Remaining()), nil, true}
	}
	v := binary.BigEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return math.Float64frombits(v), nil
}

//ReadBytes reads exactly n raw bytes. The returned slice is a view into the
//underlying data, not a copy.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, Error{UnexpectedEof, fmt.Sprintf("need %d bytes, have %d", n, c.Remaining()), nil, true}
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

//ReadOpaque reads an XDR opaque run of n bytes and skips the zero padding
//that aligns the stream to the next 4-byte boundary. The padding must be
//present: a run whose padding is missing is truncated data.
func (c *Cursor) ReadOpaque(n int) ([]byte, error) {
	pad := (4 - n%4) % 4
	if n < 0 || c.Remaining() < n+pad {
		return nil, Error{UnexpectedEof, fmt.Sprintf("need %d bytes (with padding), have %d", n+pad, c.Remaining()), nil, true}
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n + pad
	return b, nil
}

//Errors

// Error is the error type of the package. It follows the same conventions as
// the trajectory errors of the parent package, minus the file name, which a
// Cursor does not know.
type Error struct {
	message  string
	detail   string
	deco     []string
	critical bool
}

func (err Error) Error() string {
	if err.detail != "" {
		return fmt.Sprintf("xdr: %s: %s", err.message, err.detail)
	}
	return fmt.Sprintf("xdr: %s", err.message)
}

//Decorate will add the dec string to the decoration slice of strings of the error,
//and return the resulting slice.
func (err Error) Decorate(deco string) []string {
	if deco != "" {
		err.deco = append(err.deco, deco)
	}
	return err.deco
}

//Message returns the base message of the error, one of the exported constants.
func (err Error) Message() string { return err.message }

//Critical returns whether the error is critical or it can be ignored
func (err Error) Critical() bool { return err.critical }

const (
	UnexpectedEof = "Unexpected end of data"
	OutOfBounds   = "Seek target outside the data"
)
