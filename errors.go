/*
 * errors.go, part of goxtc
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

import "fmt"

//errDecorate is a helper function that asserts that the error
//implements ErrorInt and decorates the error with the caller's name before returning it.
//if used with a non-ErrorInt error, it will cause a panic.
func errDecorate(err error, caller string) error {
	err2 := err.(ErrorInt)
	err2.Decorate(caller)
	return err2
}

// Error is the general structure for XTC trajectory errors. It fulfills ErrorInt and TrajError.
// The message of an Error is one of the exported message constants of this package, possibly
// followed by extra detail, so the kind of failure can be inspected with Message.
type Error struct {
	message  string
	detail   string
	filename string //the input file that has problems, or empty string if none.
	deco     []string
	critical bool
}

func (err Error) Error() string {
	if err.detail != "" {
		return fmt.Sprintf("xtc file %s error: %s: %s", err.filename, err.message, err.detail)
	}
	return fmt.Sprintf("xtc file %s error: %s", err.filename, err.message)
}

//Decorate Adds new information to the error
func (E Error) Decorate(deco string) []string {
	//Even though this method does not use a pointer as a receiver, and tries to alter the received,
	//it should work, since E.deco is a slice, and hence a pointer itself.

	if deco != "" {
		E.deco = append(E.deco, deco)
	}
	return E.deco
}

//Message returns the base message of the error, i.e. one of the exported
//message constants, without the per-case detail. Use it to tell the kinds
//of failure apart.
func (err Error) Message() string { return err.message }

//FileName returns the file to which the failing trajectory was associated
func (err Error) FileName() string { return err.filename }

//Format returns the format of the file (always "xtc") associated to the error
func (err Error) Format() string { return "xtc" }

//Critical returns true if the error is critical, false otherwise
func (err Error) Critical() bool { return err.critical }

// The message constants double as error kinds. Every parsing or decoding
// failure surfaces as an Error carrying one of these; corrupted data is
// never silently replaced by zeroed or clamped values.
const (
	TrajUnIniRead        = "Traj object uninitialized to read"
	UnableToOpen         = "Unable to open file"
	BadMagic             = "Wrong magic number in frame header"
	InvalidAtomCount     = "Invalid atom count in frame header"
	InvalidSizeClass     = "Size-class index outside the valid table range"
	TruncatedPayload     = "Frame payload truncated"
	BitstreamUnderrun    = "Compressed bitstream ended prematurely"
	WrongFormat          = "Wrong format in the XTC file or frame"
	FrameIndexOutOfRange = "Frame index out of range"
	NotSeekable          = "Operation needs a seekable (plain, file-backed) trajectory"
	NotEnoughSpace       = "Not enough space in passed blocks"
	NilCoordinates       = "Given nil coordinates"
	EOF                  = "EOF"
)

//lastFrameError implements LastFrameError
type lastFrameError struct {
	deco     []string
	fileName string
}

//lastFrameError does nothing
func (E lastFrameError) NormalLastFrameTermination() {}

func (E lastFrameError) FileName() string { return E.fileName }

func (E lastFrameError) Error() string { return "EOF" }

func (E lastFrameError) Critical() bool { return false }

func (E lastFrameError) Format() string { return "xtc" }

func (E lastFrameError) Decorate(deco string) []string {
	//Even though this method does not use a pointer as a receiver, and tries to alter the received,
	//it should work, since E.deco is a slice, and hence a pointer itself.
	if deco != "" {
		E.deco = append(E.deco, deco)
	}
	return E.deco
}

func newlastFrameError(filename string, caller string) *lastFrameError {
	e := new(lastFrameError)
	e.fileName = filename
	e.deco = []string{caller}
	return e
}
