/*
 * compressed.go, part of goxtc
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
	"compress/gzip"
	"compress/lzw"
	"io"
	"log"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

//prepSource opens filename and, if it is compressed, stacks the right
//decompressor on top. The format is taken from the file extension unless
//format is non-empty. Plain files are seekable and support random access;
//anything that goes through a decompressor is sequential-only.
func (X *XTCObj) prepSource(filename, format string) (io.Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, Error{UnableToOpen, err.Error(), filename, []string{"prepSource"}, true}
	}
	X.f = f
	X.filename = filename
	if format == "" {
		i := strings.LastIndex(filename, ".")
		if i >= 0 {
			format = filename[i+1:]
		}
	}
	switch strings.ToLower(format) {
	case "xtc":
		X.seekable = true
		return f, nil
	case "gz", "gzip":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, Error{UnableToOpen, err.Error(), filename, []string{"prepSource"}, true}
		}
		X.zr = zr
		return zr, nil
	case "zst", "zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, Error{UnableToOpen, err.Error(), filename, []string{"prepSource"}, true}
		}
		q := &stdql{zr.Close, zr}
		X.zr = q
		return q, nil
	case "lzw":
		zr := lzw.NewReader(f, lzw.MSB, 8)
		X.zr = zr
		return zr, nil
	default:
		log.Printf("goxtc: unknown extension %q for %s, reading it as a plain XTC file", format, filename)
		X.seekable = true
		return f, nil
	}
}

//Adapter, as *zstd.Decoder's Close returns nothing so the decoder is not an
//io.ReadCloser by itself.
type stdql struct {
	closeql func()
	*zstd.Decoder
}

//Close Closes the object. It can not be used after this call
func (q *stdql) Close() error {
	q.closeql()
	return nil
}
