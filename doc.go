/*
 * doc.go, part of goxtc
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

/*Package xtc implements a pure-Go reader for the GROMACS XTC compressed
binary trajectory format, with no dependency on the C xdrfile library.

XTC stores one frame per simulation snapshot: a 3x3 box matrix plus the
coordinates of every atom, compressed with a lossy, variable-bit-width
scheme. This package decodes that scheme exactly as the reference
implementation does, so the floats recovered here are bit-identical to
the ones xdrfile would produce.

Trajectories can be read sequentially, one frame at a time (Next), or by
random access (Frame, SeekFrame) through a byte-offset index that is built
by scanning frame boundaries only, without decoding any coordinate data.
Gzip, zstd and lzw compressed trajectory files are supported for
sequential reading.

As everywhere in goChem, coordinates are handled in Angstroms, so the nm
values stored in the file are multiplied by 10 on reading. The conversion
is exact in float64.
*/
package xtc
