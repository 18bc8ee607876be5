/*
 * index.go, part of goxtc
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

/*index.go implements random access over a plain, file-backed trajectory.
 * XTC frames have no frame table, but every frame declares its own length,
 * so the whole file can be indexed by hopping from header to header without
 * decompressing anything. The index is built lazily, the first time a
 * random-access method is called, and reused afterwards.*/

package xtc

import (
	"fmt"
	"io"

	v3 "github.com/rmera/goxtc/v3"
	"github.com/rmera/goxtc/xdr"
)

//frameSpan returns the total byte length of the frame starting at off,
//reading only its header and, for compressed frames, the fixed fields
//before the packed bitstream.
func (X *XTCObj) frameSpan(off int64) (int, error) {
	probe := make([]byte, headerBytes+compHeadBytes)
	n, err := X.f.ReadAt(probe, off)
	if err != nil && err != io.EOF {
		return 0, Error{UnableToOpen, err.Error(), X.filename, []string{"frameSpan"}, true}
	}
	if n < headerBytes {
		return 0, Error{TruncatedPayload, fmt.Sprintf("only %d bytes left for a frame header", n), X.filename, []string{"frameSpan"}, true}
	}
	h, err := parseHeader(xdr.NewCursor(probe[:headerBytes]))
	if err != nil {
		return 0, X.decorate(err, "frameSpan")
	}
	if h.natoms <= RawThreshold {
		return headerBytes + 4 + 12*h.natoms, nil
	}
	if n < headerBytes+compHeadBytes {
		return 0, Error{TruncatedPayload, fmt.Sprintf("only %d bytes left for a compressed frame", n), X.filename, []string{"frameSpan"}, true}
	}
	nbytes, err := packedLen(probe[headerBytes:])
	if err != nil {
		return 0, X.decorate(err, "frameSpan")
	}
	return headerBytes + compHeadBytes + pad4(nbytes), nil
}

//buildIndex scans the whole file recording the offset of every frame. It
//uses ReadAt throughout, so the sequential reading position is untouched.
//A file ending in the middle of a frame makes the index fail loudly rather
//than silently dropping the partial frame.
func (X *XTCObj) buildIndex() error {
	if X.index != nil {
		return nil
	}
	if !X.seekable {
		return Error{NotSeekable, "", X.filename, []string{"buildIndex"}, true}
	}
	var index []int64
	off := int64(0)
	for off < X.size {
		span, err := X.frameSpan(off)
		if err != nil {
			return errDecorate(err, "buildIndex")
		}
		if off+int64(span) > X.size {
			return Error{TruncatedPayload, fmt.Sprintf("frame %d at offset %d declares %d bytes but only %d remain", len(index), off, span, X.size-off), X.filename, []string{"buildIndex"}, true}
		}
		index = append(index, off)
		off += int64(span)
	}
	X.index = index
	return nil
}

//FrameCount returns the number of frames in the trajectory, scanning frame
//headers without decoding any coordinates. It only works on plain,
//file-backed trajectories.
func (X *XTCObj) FrameCount() (int, error) {
	if err := X.buildIndex(); err != nil {
		return 0, errDecorate(err, "FrameCount")
	}
	return len(X.index), nil
}

//Frame reads the nth frame (counting from zero) of the trajectory without
//disturbing sequential iteration. As in Next, the coordinates (in Angstroms)
//go to c unless it is nil, and the box to the optional box slice. Any frame
//can be requested any number of times, in any order, but only on plain,
//file-backed trajectories.
func (X *XTCObj) Frame(n int, c *v3.Matrix, box ...[]float64) error {
	if err := X.buildIndex(); err != nil {
		return errDecorate(err, "Frame")
	}
	if n < 0 || n >= len(X.index) {
		return Error{FrameIndexOutOfRange, fmt.Sprintf("frame %d of %d", n, len(X.index)), X.filename, []string{"Frame"}, true}
	}
	span, err := X.frameSpan(X.index[n])
	if err != nil {
		return errDecorate(err, "Frame")
	}
	data := make([]byte, span)
	if _, err := X.f.ReadAt(data, X.index[n]); err != nil {
		return Error{TruncatedPayload, err.Error(), X.filename, []string{"Frame"}, true}
	}
	cur := xdr.NewCursor(data)
	h, err := parseHeader(cur)
	if err != nil {
		return X.decorate(err, "Frame")
	}
	if len(box) > 0 && len(box[0]) >= 9 {
		h.boxToSlice(box[0])
	}
	if c == nil {
		return nil
	}
	if c.NVecs() < h.natoms {
		return Error{NotEnoughSpace, fmt.Sprintf("%d vectors for %d atoms", c.NVecs(), h.natoms), X.filename, []string{"Frame"}, true}
	}
	if _, err := decodeCoords(cur, h.natoms, h.natoms, c); err != nil {
		return X.decorate(err, "Frame")
	}
	return nil
}

//SeekFrame repositions sequential iteration so the next call to Next (or
//ReadFrame, or NextConc) delivers the nth frame. It only works on plain,
//file-backed trajectories.
func (X *XTCObj) SeekFrame(n int) error {
	if err := X.buildIndex(); err != nil {
		return errDecorate(err, "SeekFrame")
	}
	if n < 0 || n >= len(X.index) {
		return Error{FrameIndexOutOfRange, fmt.Sprintf("frame %d of %d", n, len(X.index)), X.filename, []string{"SeekFrame"}, true}
	}
	if _, err := X.f.Seek(X.index[n], io.SeekStart); err != nil {
		return Error{UnableToOpen, err.Error(), X.filename, []string{"SeekFrame"}, true}
	}
	X.r.Reset(X.f)
	X.frame = n
	X.readable = true
	return nil
}
