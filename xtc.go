/*
 * xtc.go, part of goxtc
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
/***Dedicated to the long life of the Ven. Khenpo Phuntzok Tenzin Rinpoche***/

package xtc

import (
	"bufio"
	"fmt"
	"io"
	"os"

	v3 "github.com/rmera/goxtc/v3"
	"github.com/rmera/goxtc/xdr"
)

//Container for a GROMACS XTC binary trajectory file.
type XTCObj struct {
	natoms   int
	filename string
	readable bool
	f        *os.File      //nil for pure stream sources
	zr       io.ReadCloser //the decompressor, for compressed sources
	r        *bufio.Reader
	seekable bool
	size     int64
	index    []int64 //byte offset of each frame, built on demand
	frame    int     //number of the next frame Next will deliver
	buf      []byte  //reused frame buffer for sequential reading
}

//New opens the XTC trajectory given by filename for reading and returns a
//handle to it. The file may be compressed (see prepSource); compressed
//trajectories can only be read sequentially. If given, format overrides the
//compression format deduced from the file extension.
func New(filename string, format ...string) (*XTCObj, error) {
	X := new(XTCObj)
	fk := ""
	if len(format) > 0 {
		fk = format[0]
	}
	src, err := X.prepSource(filename, fk)
	if err != nil {
		return nil, errDecorate(err, "New")
	}
	if X.seekable {
		info, err := X.f.Stat()
		if err != nil {
			X.f.Close()
			return nil, Error{UnableToOpen, err.Error(), filename, []string{"New"}, true}
		}
		X.size = info.Size()
	}
	X.r = bufio.NewReader(src)
	if err := X.initRead(); err != nil {
		X.Close()
		return nil, errDecorate(err, "New")
	}
	return X, nil
}

//NewReader returns a trajectory handle reading from r. Only sequential
//access is possible: FrameCount, Frame, SeekFrame and Rewind will fail.
func NewReader(r io.Reader) (*XTCObj, error) {
	X := new(XTCObj)
	X.filename = "stream"
	X.r = bufio.NewReader(r)
	if err := X.initRead(); err != nil {
		return nil, errDecorate(err, "NewReader")
	}
	return X, nil
}

//initRead peeks at the first frame header to learn the atom count, without
//consuming it, and marks the object readable.
func (X *XTCObj) initRead() error {
	hb, err := X.r.Peek(headerBytes)
	if err != nil {
		return Error{TruncatedPayload, "trajectory shorter than one frame header", X.filename, []string{"initRead"}, true}
	}
	h, err := parseHeader(xdr.NewCursor(hb))
	if err != nil {
		return X.decorate(err, "initRead")
	}
	X.natoms = h.natoms
	X.readable = true
	return nil
}

//Readable returns true if the object is ready to be read from,
//false otherwise. It doesn't guarantee that there is something
//to read.
func (X *XTCObj) Readable() bool {
	return X.readable
}

//Len returns the number of atoms per frame in the trajectory.
func (X *XTCObj) Len() int {
	return X.natoms
}

//Close closes the object, releasing the file handle, and marks it as unreadable.
func (X *XTCObj) Close() {
	if X == nil {
		return
	}
	if X.zr != nil {
		X.zr.Close()
		X.zr = nil
	}
	if X.f != nil {
		X.f.Close()
		X.f = nil
	}
	X.readable = false
}

//Rewind restarts sequential iteration from the first frame of the
//trajectory. It only works on plain, file-backed trajectories.
func (X *XTCObj) Rewind() error {
	if !X.seekable {
		return Error{NotSeekable, "", X.filename, []string{"Rewind"}, true}
	}
	if _, err := X.f.Seek(0, io.SeekStart); err != nil {
		return Error{UnableToOpen, err.Error(), X.filename, []string{"Rewind"}, true}
	}
	X.r.Reset(X.f)
	X.frame = 0
	X.readable = true
	return nil
}

//Next reads the next frame in an XTCObj that has been initialized for read.
//If c is not nil, the coordinates (in Angstroms) are put in it, and it must
//have at least Len() vectors. If c is nil the frame is skipped without
//decoding its coordinates, which is much cheaper than decoding. If a box
//slice of at least 9 elements is given, the box lattice vectors of the frame
//are put there, row-major. At the end of the trajectory a LastFrameError is
//returned; this is not really an error and should be caught and discarded
//by the caller.
func (X *XTCObj) Next(c *v3.Matrix, box ...[]float64) error {
	if !X.Readable() {
		return Error{TrajUnIniRead, "", X.filename, []string{"Next"}, true}
	}
	data, h, err := X.readFrameRaw()
	if err != nil {
		if _, ok := err.(LastFrameError); ok {
			X.readable = false
			return err
		}
		return errDecorate(err, "Next")
	}
	X.frame++
	if len(box) > 0 && len(box[0]) >= 9 {
		h.boxToSlice(box[0])
	}
	if c == nil {
		return nil //Just drop the frame. The payload length fields
		//already took us past it, no decoding needed.
	}
	if c.NVecs() < h.natoms {
		return Error{NotEnoughSpace, fmt.Sprintf("%d vectors for %d atoms", c.NVecs(), h.natoms), X.filename, []string{"Next"}, true}
	}
	cur := xdr.NewCursor(data)
	cur.Skip(headerBytes) //cannot fail, data holds the whole frame
	if _, err := decodeCoords(cur, h.natoms, h.natoms, c); err != nil {
		return X.decorate(err, "Next")
	}
	return nil
}

//next reads the next frame decoding only its first limit atoms into c,
//which may be nil to skip the frame entirely. The coordinate stream is
//sequential so stopping early saves most of the decoding work.
func (X *XTCObj) next(c *v3.Matrix, limit int) error {
	if !X.Readable() {
		return Error{TrajUnIniRead, "", X.filename, []string{"next"}, true}
	}
	data, h, err := X.readFrameRaw()
	if err != nil {
		if _, ok := err.(LastFrameError); ok {
			X.readable = false
			return err
		}
		return errDecorate(err, "next")
	}
	X.frame++
	if c == nil {
		return nil
	}
	cur := xdr.NewCursor(data)
	cur.Skip(headerBytes)
	if _, err := decodeCoords(cur, h.natoms, limit, c); err != nil {
		return X.decorate(err, "next")
	}
	return nil
}

//ReadFrame reads the next frame and returns it as a newly allocated Frame,
//with the step, time, box and coordinates of the snapshot.
func (X *XTCObj) ReadFrame() (*Frame, error) {
	if !X.Readable() {
		return nil, Error{TrajUnIniRead, "", X.filename, []string{"ReadFrame"}, true}
	}
	data, h, err := X.readFrameRaw()
	if err != nil {
		if _, ok := err.(LastFrameError); ok {
			X.readable = false
			return nil, err
		}
		return nil, errDecorate(err, "ReadFrame")
	}
	X.frame++
	return X.assembleFrame(data, h)
}

func (X *XTCObj) assembleFrame(data []byte, h *header) (*Frame, error) {
	F := &Frame{
		Step:   int(h.step),
		Time:   float64(h.time),
		Box:    make([]float64, 9),
		Coords: v3.Zeros(h.natoms),
	}
	h.boxToSlice(F.Box)
	cur := xdr.NewCursor(data)
	cur.Skip(headerBytes)
	prec, err := decodeCoords(cur, h.natoms, h.natoms, F.Coords)
	if err != nil {
		return nil, X.decorate(err, "ReadFrame")
	}
	F.Prec = float64(prec)
	return F, nil
}

/*NextConc takes a slice of matrices and reads as many frames as elements
the list has from the trajectory. The frames are discarded if the
corresponding element of the slice is nil. The function returns a slice of
channels through each of which a *v3.Matrix will be transmitted once the
frame is decoded. Unlike Next, the decoding itself runs concurrently, one
goroutine per frame, which is safe because decoding is a pure function of
the frame bytes. If decoding a frame fails, nil is sent through its channel.*/
func (X *XTCObj) NextConc(frames []*v3.Matrix) ([]chan *v3.Matrix, error) {
	if !X.Readable() {
		return nil, Error{TrajUnIniRead, "", X.filename, []string{"NextConc"}, true}
	}
	framechans := make([]chan *v3.Matrix, len(frames)) //the slice of chans that will be returned
	used := false
	for key, val := range frames {
		data, h, err := X.readFrameRaw()
		if err != nil {
			if _, ok := err.(LastFrameError); ok {
				X.readable = false
				if !used {
					return nil, err
				}
				return framechans, err
			}
			return nil, errDecorate(err, "NextConc")
		}
		X.frame++
		if val == nil {
			framechans[key] = nil //ignored frame
			continue
		}
		if val.NVecs() < h.natoms {
			return nil, Error{NotEnoughSpace, fmt.Sprintf("%d vectors for %d atoms", val.NVecs(), h.natoms), X.filename, []string{"NextConc"}, true}
		}
		used = true
		//X.buf is reused by the next iteration, so each goroutine
		//gets its own copy of the payload. The channels are buffered so
		//a decoder can finish even if its channel is never drained,
		//say, because a later frame in the batch failed to read.
		payload := make([]byte, len(data)-headerBytes)
		copy(payload, data[headerBytes:])
		framechans[key] = make(chan *v3.Matrix, 1)
		go func(natoms int, payload []byte, out *v3.Matrix, pipe chan *v3.Matrix) {
			if _, err := decodeCoords(xdr.NewCursor(payload), natoms, natoms, out); err != nil {
				pipe <- nil
				return
			}
			pipe <- out
		}(h.natoms, payload, val, framechans[key])
	}
	return framechans, nil
}

//readFrameRaw reads the next whole frame into the reused frame buffer,
//using only the header and the declared payload lengths to find its end.
//It returns the frame bytes and the parsed header. At a clean end of the
//trajectory it returns a LastFrameError; a trajectory ending inside a frame
//is a truncation error instead.
func (X *XTCObj) readFrameRaw() ([]byte, *header, error) {
	X.buf = grow(X.buf, headerBytes)
	if _, err := io.ReadFull(X.r, X.buf[:headerBytes]); err != nil {
		if err == io.EOF {
			return nil, nil, newlastFrameError(X.filename, "readFrameRaw")
		}
		return nil, nil, Error{TruncatedPayload, err.Error(), X.filename, []string{"readFrameRaw"}, true}
	}
	h, err := parseHeader(xdr.NewCursor(X.buf[:headerBytes]))
	if err != nil {
		return nil, nil, X.decorate(err, "readFrameRaw")
	}
	var plen int
	if h.natoms <= RawThreshold {
		plen = 4 + 12*h.natoms
		X.buf = grow(X.buf, headerBytes+plen)
		if _, err := io.ReadFull(X.r, X.buf[headerBytes:headerBytes+plen]); err != nil {
			return nil, nil, Error{TruncatedPayload, err.Error(), X.filename, []string{"readFrameRaw"}, true}
		}
	} else {
		X.buf = grow(X.buf, headerBytes+compHeadBytes)
		if _, err := io.ReadFull(X.r, X.buf[headerBytes:headerBytes+compHeadBytes]); err != nil {
			return nil, nil, Error{TruncatedPayload, err.Error(), X.filename, []string{"readFrameRaw"}, true}
		}
		nbytes, err := packedLen(X.buf[headerBytes : headerBytes+compHeadBytes])
		if err != nil {
			return nil, nil, X.decorate(err, "readFrameRaw")
		}
		plen = compHeadBytes + pad4(nbytes)
		X.buf = grow(X.buf, headerBytes+plen)
		if _, err := io.ReadFull(X.r, X.buf[headerBytes+compHeadBytes:headerBytes+plen]); err != nil {
			return nil, nil, Error{TruncatedPayload, err.Error(), X.filename, []string{"readFrameRaw"}, true}
		}
	}
	return X.buf[:headerBytes+plen], h, nil
}

//the fixed fields preceding the packed bitstream of a compressed payload:
//lsize, precision, minint x3, maxint x3, size class and byte length.
const compHeadBytes = 10 * 4

//packedLen extracts the declared byte length of the packed bitstream from
//the fixed part of a compressed payload.
func packedLen(compHead []byte) (int, error) {
	cur := xdr.NewCursor(compHead)
	cur.Skip(compHeadBytes - 4)
	nbytes, err := cur.ReadInt32()
	if err != nil {
		return 0, Error{TruncatedPayload, err.Error(), "", nil, true}
	}
	if nbytes < 0 {
		return 0, Error{WrongFormat, fmt.Sprintf("negative packed-stream length %d", nbytes), "", nil, true}
	}
	return int(nbytes), nil
}

func pad4(n int) int { return (n + 3) &^ 3 }

func grow(b []byte, n int) []byte {
	if cap(b) < n {
		nb := make([]byte, n)
		copy(nb, b)
		return nb
	}
	return b[:n]
}

//decorate stamps the object's filename on err, if err is an Error of this
//package, and adds caller to its decoration.
func (X *XTCObj) decorate(err error, caller string) error {
	if e, ok := err.(Error); ok {
		e.filename = X.filename
		e.deco = append(e.deco, caller)
		return e
	}
	return errDecorate(err, caller)
}
