/*
 * decode_test.go, part of goxtc
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
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	v3 "github.com/rmera/goxtc/v3"
	"github.com/rmera/goxtc/xdr"
)

/* The tests in this file feed the decoder with streams produced by a
 * test-only encoder, the mirror image of decode.go. Having our own encoder
 * means every corner of the format (run-length reuse, size-class drift,
 * oversized ranges) can be exercised deterministically, with the expected
 * quantized integers known in advance. */

//bitWriter is the inverse of bitReader.
type bitWriter struct {
	buf      []byte
	lastbits uint
	lastbyte uint32
}

func (b *bitWriter) writeBits(nbits int, num int32) {
	n := uint(nbits)
	v := uint32(num)
	for n >= 8 {
		b.lastbyte = b.lastbyte<<8 | (v>>(n-8))&0xff
		b.buf = append(b.buf, byte(b.lastbyte>>b.lastbits))
		n -= 8
	}
	if n > 0 {
		b.lastbyte = b.lastbyte<<n | v&(1<<n-1)
		b.lastbits += n
		if b.lastbits >= 8 {
			b.lastbits -= 8
			b.buf = append(b.buf, byte(b.lastbyte>>b.lastbits))
		}
	}
}

//writeInts packs a triple as a mixed-radix number of nbits bits, low byte
//first, the layout readInts expects.
func (b *bitWriter) writeInts(nbits int, sizes *[3]int32, nums *[3]int32) {
	var bytes [32]uint64
	nbytes := 0
	tmp := uint64(uint32(nums[0]))
	for {
		bytes[nbytes] = tmp & 0xff
		nbytes++
		tmp >>= 8
		if tmp == 0 {
			break
		}
	}
	for i := 1; i < 3; i++ {
		tmp = uint64(uint32(nums[i]))
		bc := 0
		for ; bc < nbytes; bc++ {
			tmp += bytes[bc] * uint64(sizes[i])
			bytes[bc] = tmp & 0xff
			tmp >>= 8
		}
		for tmp != 0 {
			bytes[bc] = tmp & 0xff
			bc++
			tmp >>= 8
		}
		nbytes = bc
	}
	if nbits >= nbytes*8 {
		for i := 0; i < nbytes; i++ {
			b.writeBits(8, int32(bytes[i]))
		}
		b.writeBits(nbits-nbytes*8, 0)
	} else {
		for i := 0; i < nbytes-1; i++ {
			b.writeBits(8, int32(bytes[i]))
		}
		b.writeBits(nbits-(nbytes-1)*8, int32(bytes[nbytes-1]))
	}
}

//bytes flushes the pending partial byte and returns the stream.
func (b *bitWriter) bytes() []byte {
	out := b.buf
	if b.lastbits > 0 {
		out = append(out, byte(b.lastbyte<<(8-b.lastbits)))
	}
	return out
}

func putU32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}

func putI32(b []byte, v int32) []byte { return putU32(b, uint32(v)) }

func putF32(b []byte, v float32) []byte { return putU32(b, math.Float32bits(v)) }

//group describes one run-length group of a compressed payload: a wide atom
//plus m atoms packed with the small size class. writeFlag false reuses the
//run length of the previous group, which then must be the same.
type group struct {
	m         int
	isSmaller int //-1, 0 or 1
	writeFlag bool
}

//atoms returns how many atoms the group covers.
func (g group) atoms() int {
	if g.m == 0 {
		return 1
	}
	return g.m + 1
}

//encodeCompressedPayload builds the compressed payload (lsize onwards) for
//the quantized coordinates orig, grouped as told. It panics on impossible
//groupings, which in these tests means a bug in the test data.
func encodeCompressedPayload(orig [][3]int32, prec float32, smallidx int, groups []group) []byte {
	natoms := len(orig)
	var minint, maxint [3]int32
	for k := 0; k < 3; k++ {
		minint[k] = orig[0][k]
		maxint[k] = orig[0][k]
	}
	for _, c := range orig {
		for k := 0; k < 3; k++ {
			if c[k] < minint[k] {
				minint[k] = c[k]
			}
			if c[k] > maxint[k] {
				maxint[k] = c[k]
			}
		}
	}
	var sizeint [3]int32
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
		for k := 0; k < 3; k++ {
			bitsizeint[k] = sizeOfInt(sizeint[k])
		}
	} else {
		bitsize = sizeOfInts(&sizeint)
	}
	initIdx := smallidx
	tmpIdx := smallidx - 1
	if tmpIdx < firstIdx {
		tmpIdx = firstIdx
	}
	smaller := magicints[tmpIdx] / 2
	smallnum := magicints[smallidx] / 2
	sizesmall := [3]int32{magicints[smallidx], magicints[smallidx], magicints[smallidx]}

	bw := new(bitWriter)
	prevRun := -1
	a := 0
	small := func(cur, prev [3]int32) [3]int32 {
		var r [3]int32
		for k := 0; k < 3; k++ {
			r[k] = cur[k] - prev[k] + smallnum
			if r[k] < 0 || r[k] >= sizesmall[k] {
				panic(fmt.Sprintf("delta %d does not fit size class %d", r[k], smallidx))
			}
		}
		return r
	}
	for _, g := range groups {
		wide := orig[a]
		if g.m > 0 {
			wide = orig[a+1]
		}
		t := [3]int32{wide[0] - minint[0], wide[1] - minint[1], wide[2] - minint[2]}
		if big {
			for k := 0; k < 3; k++ {
				bw.writeBits(bitsizeint[k], t[k])
			}
		} else {
			bw.writeInts(bitsize, &sizeint, &t)
		}
		run := 3 * g.m
		if g.writeFlag {
			bw.writeBits(1, 1)
			bw.writeBits(5, int32(run+g.isSmaller+1))
		} else {
			if run != prevRun || g.isSmaller != 0 {
				panic("a group without a flag must repeat the previous run")
			}
			bw.writeBits(1, 0)
		}
		prevRun = run
		if g.m > 0 {
			r := small(orig[a], orig[a+1])
			bw.writeInts(smallidx, &sizesmall, &r)
			prevAtom := orig[a]
			for i := 2; i <= g.m; i++ {
				r := small(orig[a+i], prevAtom)
				bw.writeInts(smallidx, &sizesmall, &r)
				prevAtom = orig[a+i]
			}
		}
		a += g.atoms()
		smallidx += g.isSmaller
		if g.isSmaller < 0 {
			smallnum = smaller
			if smallidx > firstIdx {
				smaller = magicints[smallidx-1] / 2
			} else {
				smaller = 0
			}
		} else if g.isSmaller > 0 {
			smaller = smallnum
			smallnum = magicints[smallidx] / 2
		}
		if smallidx < firstIdx || smallidx > lastIdx {
			panic("size class drifted out of the table")
		}
		sizesmall = [3]int32{magicints[smallidx], magicints[smallidx], magicints[smallidx]}
	}
	if a != natoms {
		panic(fmt.Sprintf("groups cover %d atoms, coordinates have %d", a, natoms))
	}
	data := bw.bytes()

	var p []byte
	p = putI32(p, int32(natoms))
	p = putF32(p, prec)
	for k := 0; k < 3; k++ {
		p = putI32(p, minint[k])
	}
	for k := 0; k < 3; k++ {
		p = putI32(p, maxint[k])
	}
	//groups may change the class as they go; the header carries the initial one
	p = putI32(p, int32(initIdx))
	p = putI32(p, int32(len(data)))
	p = append(p, data...)
	for len(data)%4 != 0 {
		p = append(p, 0)
		data = append(data, 0)
	}
	return p
}

//encodeRawPayload builds the payload of a below-threshold frame.
func encodeRawPayload(coords [][3]float32) []byte {
	var p []byte
	p = putI32(p, int32(len(coords)))
	for _, c := range coords {
		for k := 0; k < 3; k++ {
			p = putF32(p, c[k])
		}
	}
	return p
}

//encodeFrame builds a whole frame, header included.
func encodeFrame(step int32, time float32, box [9]float32, payload []byte, natoms int) []byte {
	var f []byte
	f = putI32(f, Magic)
	f = putI32(f, int32(natoms))
	f = putI32(f, step)
	f = putF32(f, time)
	for _, b := range box {
		f = putF32(f, b)
	}
	return append(f, payload...)
}

//expected builds the matrix the decoder should produce for the given
//quantized coordinates, following the exact float operations of the
//decoder so comparisons can be for equality.
func expected(orig [][3]int32, prec float32) *v3.Matrix {
	out := v3.Zeros(len(orig))
	inv := float32(1.0) / prec
	for i, c := range orig {
		for k := 0; k < 3; k++ {
			out.Set(i, k, float64(float32(c[k])*inv)*10)
		}
	}
	return out
}

func matEqual(a, b *v3.Matrix) bool {
	if a.NVecs() != b.NVecs() {
		return false
	}
	for i := 0; i < a.NVecs(); i++ {
		for k := 0; k < 3; k++ {
			if a.At(i, k) != b.At(i, k) {
				return false
			}
		}
	}
	return true
}

//waterlike returns quantized coordinates laid out like solvated systems
//usually are, three-atom molecules with two atoms close to the first, and
//the run-length groups that encode them.
func waterlike(nmol int, smallidx int) ([][3]int32, []group) {
	orig := make([][3]int32, 0, 3*nmol)
	groups := make([]group, 0, nmol)
	span := magicints[smallidx] / 4
	for i := 0; i < nmol; i++ {
		base := [3]int32{int32(1000 + 400*i), int32(2000 - 300*i), int32(500 + 11*i)}
		s1 := [3]int32{base[0] + span, base[1] - span/2, base[2] + 1}
		s2 := [3]int32{s1[0] - 2, s1[1] + span/3, s1[2] - span/2}
		//the group stores the first atom with the small class, so the
		//wide atom is the second one on the wire
		orig = append(orig, s1, base, s2)
		groups = append(groups, group{m: 2, isSmaller: 0, writeFlag: i == 0})
	}
	return orig, groups
}

func decodePayload(t *testing.T, payload []byte, natoms, limit int, out *v3.Matrix) float32 {
	t.Helper()
	prec, err := decodeCoords(xdr.NewCursor(payload), natoms, limit, out)
	if err != nil {
		t.Fatalf("decodeCoords: %v", err)
	}
	return prec
}

func TestCompressedRoundTrip(Te *testing.T) {
	orig, groups := waterlike(20, 14)
	payload := encodeCompressedPayload(orig, 1000, 14, groups)
	out := v3.Zeros(len(orig))
	prec := decodePayload(Te, payload, len(orig), len(orig), out)
	if prec != 1000 {
		Te.Errorf("precision: got %v, want 1000", prec)
	}
	if !matEqual(out, expected(orig, 1000)) {
		Te.Errorf("decoded coordinates differ from the encoded ones")
	}
}

//A mix of lone atoms and runs of different lengths, flags on every group.
func TestMixedGroups(Te *testing.T) {
	orig := [][3]int32{
		{100, 200, 300}, //lone
		{5000, -2000, 800}, {5004, -1996, 805}, //a pair
		{-300, -300, -300}, //lone
		{60, 61, 62}, {58, 59, 66}, {55, 63, 60}, {57, 60, 61}, //a run of four
	}
	groups := []group{
		{m: 0, writeFlag: true},
		{m: 1, writeFlag: true},
		{m: 0, writeFlag: true},
		{m: 3, writeFlag: true},
	}
	payload := encodeCompressedPayload(orig, 500, 12, groups)
	out := v3.Zeros(len(orig))
	decodePayload(Te, payload, len(orig), len(orig), out)
	if !matEqual(out, expected(orig, 500)) {
		Te.Errorf("decoded coordinates differ from the encoded ones")
	}
}

//A group with no flag bit must inherit the run length of the previous one.
func TestRunLengthReuse(Te *testing.T) {
	orig, groups := waterlike(6, 14)
	for i := range groups {
		if groups[i].writeFlag != (i == 0) {
			Te.Fatalf("waterlike should only flag the first group")
		}
	}
	payload := encodeCompressedPayload(orig, 1000, 14, groups)
	out := v3.Zeros(len(orig))
	decodePayload(Te, payload, len(orig), len(orig), out)
	if !matEqual(out, expected(orig, 1000)) {
		Te.Errorf("run-length reuse broke the decoded coordinates")
	}
}

//Shrink and grow the small size class mid-frame.
func TestSizeClassDrift(Te *testing.T) {
	orig := [][3]int32{
		{10, 20, 30}, {12, 22, 32}, //m=1, then smaller
		{100, 100, 100}, {101, 99, 102}, //m=1 in the shrunk class, then larger
		{-50, -50, -50}, {-45, -44, -55}, //m=1 back in the original class
	}
	groups := []group{
		{m: 1, isSmaller: -1, writeFlag: true},
		{m: 1, isSmaller: 1, writeFlag: true},
		{m: 1, isSmaller: 0, writeFlag: true},
	}
	payload := encodeCompressedPayload(orig, 100, 14, groups)
	out := v3.Zeros(len(orig))
	decodePayload(Te, payload, len(orig), len(orig), out)
	if !matEqual(out, expected(orig, 100)) {
		Te.Errorf("size class transitions broke the decoded coordinates")
	}
}

//Coordinate ranges too wide for the mixed-radix triple force full-width
//reads per axis.
func TestOversizedRange(Te *testing.T) {
	orig := [][3]int32{
		{-20000000, 5, 5},
		{20000000, 8, 2},
		{3, 4, 5},
	}
	groups := []group{
		{m: 0, writeFlag: true},
		{m: 0, writeFlag: true},
		{m: 0, writeFlag: true},
	}
	payload := encodeCompressedPayload(orig, 10, 40, groups)
	out := v3.Zeros(len(orig))
	decodePayload(Te, payload, len(orig), len(orig), out)
	if !matEqual(out, expected(orig, 10)) {
		Te.Errorf("oversized ranges broke the decoded coordinates")
	}
}

//Ten atoms is the first compressed size; nine still goes as raw floats.
func TestThreshold(Te *testing.T) {
	coords := make([][3]float32, 9)
	for i := range coords {
		coords[i] = [3]float32{float32(i), float32(i) * 0.5, -float32(i)}
	}
	payload := encodeRawPayload(coords)
	out := v3.Zeros(9)
	prec, err := decodeCoords(xdr.NewCursor(payload), 9, 9, out)
	if err != nil {
		Te.Fatalf("decodeCoords: %v", err)
	}
	if prec != 0 {
		Te.Errorf("raw frames have no precision, got %v", prec)
	}
	for i := range coords {
		for k := 0; k < 3; k++ {
			if out.At(i, k) != float64(coords[i][k])*10 {
				Te.Errorf("atom %d axis %d: got %v, want %v", i, k, out.At(i, k), float64(coords[i][k])*10)
			}
		}
	}

	orig := make([][3]int32, 10)
	groups := make([]group, 10)
	for i := range orig {
		orig[i] = [3]int32{int32(i), int32(2 * i), int32(3 * i)}
		groups[i] = group{m: 0, writeFlag: true}
	}
	cpayload := encodeCompressedPayload(orig, 1000, 14, groups)
	cout := v3.Zeros(10)
	cprec := decodePayload(Te, cpayload, 10, 10, cout)
	if cprec != 1000 {
		Te.Errorf("ten atoms should use the compressed shape")
	}
	if !matEqual(cout, expected(orig, 1000)) {
		Te.Errorf("ten-atom compressed frame decoded wrong")
	}
}

//Decoding with a limit stops early but still yields the same prefix.
func TestLimitedDecode(Te *testing.T) {
	orig, groups := waterlike(10, 14)
	payload := encodeCompressedPayload(orig, 1000, 14, groups)
	limit := 7
	out := v3.Zeros(limit)
	decodePayload(Te, payload, len(orig), limit, out)
	want := expected(orig, 1000)
	for i := 0; i < limit; i++ {
		for k := 0; k < 3; k++ {
			if out.At(i, k) != want.At(i, k) {
				Te.Errorf("atom %d axis %d: got %v, want %v", i, k, out.At(i, k), want.At(i, k))
			}
		}
	}
	//nil output validates the payload without storing anything
	decodePayload(Te, payload, len(orig), 0, nil)
}

func errMessage(err error) string {
	e, ok := err.(Error)
	if !ok {
		return ""
	}
	return e.Message()
}

func TestPayloadAtomMismatch(Te *testing.T) {
	orig, groups := waterlike(2, 14)
	payload := encodeCompressedPayload(orig, 1000, 14, groups)
	_, err := decodeCoords(xdr.NewCursor(payload), len(orig)+1, len(orig)+1, nil)
	if errMessage(err) != WrongFormat {
		Te.Errorf("atom count mismatch: got %v, want %s", err, WrongFormat)
	}
}

//The lowest and highest entries of the size-class table are as valid as
//any other and must round-trip, flag-less run reuse included.
func TestSizeClassBounds(Te *testing.T) {
	for _, idx := range []int{firstIdx, lastIdx} {
		orig, groups := waterlike(5, idx)
		payload := encodeCompressedPayload(orig, 1000, idx, groups)
		out := v3.Zeros(len(orig))
		prec := decodePayload(Te, payload, len(orig), len(orig), out)
		if prec != 1000 {
			Te.Errorf("size class %d: got precision %v, want 1000", idx, prec)
		}
		if !matEqual(out, expected(orig, 1000)) {
			Te.Errorf("size class %d: decoded coordinates differ from the encoded ones", idx)
		}
	}
}

func TestInvalidSizeClass(Te *testing.T) {
	orig, groups := waterlike(2, 14)
	payload := encodeCompressedPayload(orig, 1000, 14, groups)
	for _, bad := range []int32{firstIdx - 1, int32(lastIdx) + 1, -3} {
		p := make([]byte, len(payload))
		copy(p, payload)
		binary.BigEndian.PutUint32(p[32:], uint32(bad)) //the size-class word
		_, err := decodeCoords(xdr.NewCursor(p), len(orig), len(orig), nil)
		if errMessage(err) != InvalidSizeClass {
			Te.Errorf("class %d: got %v, want %s", bad, err, InvalidSizeClass)
		}
	}
}

func TestBitstreamUnderrun(Te *testing.T) {
	orig, groups := waterlike(4, 14)
	payload := encodeCompressedPayload(orig, 1000, 14, groups)
	//declare 8 bytes fewer and chop them, keeping the padding consistent
	nbOff := 36
	nbytes := int(int32(binary.BigEndian.Uint32(payload[nbOff:])))
	short := nbytes - 8
	p := make([]byte, len(payload))
	copy(p, payload)
	binary.BigEndian.PutUint32(p[nbOff:], uint32(short))
	p = p[:40+(short+3)&^3]
	_, err := decodeCoords(xdr.NewCursor(p), len(orig), len(orig), nil)
	if errMessage(err) != BitstreamUnderrun {
		Te.Errorf("got %v, want %s", err, BitstreamUnderrun)
	}
}

func TestTruncatedPayload(Te *testing.T) {
	orig, groups := waterlike(4, 14)
	payload := encodeCompressedPayload(orig, 1000, 14, groups)
	_, err := decodeCoords(xdr.NewCursor(payload[:len(payload)-2]), len(orig), len(orig), nil)
	if errMessage(err) != TruncatedPayload {
		Te.Errorf("got %v, want %s", err, TruncatedPayload)
	}
}

//A run that promises more atoms than the frame has left must fail loudly.
func TestRunOverflow(Te *testing.T) {
	smallidx := 14
	natoms := 11 //one wide atom plus a run of ten fills the frame exactly
	var minint, maxint [3]int32
	maxint = [3]int32{100, 100, 100}
	var sizeint [3]int32
	for k := 0; k < 3; k++ {
		sizeint[k] = maxint[k] - minint[k] + 1
	}
	bitsize := sizeOfInts(&sizeint)
	bw := new(bitWriter)
	t := [3]int32{50, 50, 50}
	bw.writeInts(bitsize, &sizeint, &t)
	bw.writeBits(1, 1)
	bw.writeBits(5, 31) //a run of 30 values, ten atoms
	sizesmall := [3]int32{magicints[smallidx], magicints[smallidx], magicints[smallidx]}
	small := [3]int32{1, 1, 1}
	for i := 0; i < 10; i++ {
		bw.writeInts(smallidx, &sizesmall, &small)
	}
	data := bw.bytes()
	var p []byte
	p = putI32(p, int32(natoms))
	p = putF32(p, 1000)
	for k := 0; k < 3; k++ {
		p = putI32(p, minint[k])
	}
	for k := 0; k < 3; k++ {
		p = putI32(p, maxint[k])
	}
	p = putI32(p, int32(smallidx))
	p = putI32(p, int32(len(data)))
	p = append(p, data...)
	for len(p)%4 != 0 {
		p = append(p, 0)
	}
	_, err := decodeCoords(xdr.NewCursor(p), natoms, natoms, nil)
	if err != nil {
		Te.Fatalf("a run of ten atoms fits eleven: %v", err)
	}
	//the same stream claiming only ten atoms overflows
	p2 := make([]byte, len(p))
	copy(p2, p)
	binary.BigEndian.PutUint32(p2[0:], 10)
	_, err = decodeCoords(xdr.NewCursor(p2), 10, 10, nil)
	if errMessage(err) != WrongFormat {
		Te.Errorf("got %v, want %s", err, WrongFormat)
	}
}

//Bit runs of any width, zero included, must come back exactly as written,
//across byte boundaries.
func TestBitRoundTrip(Te *testing.T) {
	widths := []int{3, 0, 8, 1, 13, 0, 24, 5, 31, 7, 2}
	values := []int32{5, 0, 200, 1, 7000, 0, 12345678, 17, 2000000001, 100, 3}
	bw := new(bitWriter)
	for i, w := range widths {
		bw.writeBits(w, values[i])
	}
	br := &bitReader{buf: bw.bytes()}
	for i, w := range widths {
		got, err := br.readBits(w)
		if err != nil {
			Te.Fatalf("width %d: %v", w, err)
		}
		if got != values[i] {
			Te.Errorf("width %d: got %d, want %d", w, got, values[i])
		}
	}
	//an empty reader still serves width-0 reads, and fails on anything else
	empty := &bitReader{}
	if v, err := empty.readBits(0); err != nil || v != 0 {
		Te.Errorf("width-0 read on an empty stream: %v, %v", v, err)
	}
	if _, err := empty.readBits(1); errMessage(err) != BitstreamUnderrun {
		Te.Errorf("got %v, want %s", err, BitstreamUnderrun)
	}
}

func TestDeterministicDecode(Te *testing.T) {
	orig, groups := waterlike(15, 14)
	payload := encodeCompressedPayload(orig, 1000, 14, groups)
	a := v3.Zeros(len(orig))
	b := v3.Zeros(len(orig))
	decodePayload(Te, payload, len(orig), len(orig), a)
	decodePayload(Te, payload, len(orig), len(orig), b)
	if !matEqual(a, b) {
		Te.Errorf("decoding the same payload twice gave different results")
	}
}
