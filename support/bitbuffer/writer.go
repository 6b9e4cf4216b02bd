// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bitbuffer

import (
	"math"

	"github.com/pkg/errors"
)

// W packs fields into a growing byte buffer using the same bit layout that B
// reads.
//
// The zero value is an empty writer.
type W struct {
	buf []byte
	pos int64
}

// Position returns the write position, in bits.
func (w *W) Position() int64 { return w.pos }

// Len returns the number of bytes touched so far.
func (w *W) Len() int { return len(w.buf) }

// Bytes returns the packed bytes. The final byte is zero padded.
func (w *W) Bytes() []byte { return w.buf }

// Reset clears the writer, retaining its allocation.
func (w *W) Reset() {
	w.buf = w.buf[:0]
	w.pos = 0
}

func (w *W) grow(bits int64) {
	need := int((w.pos + bits + 7) / 8)
	for len(w.buf) < need {
		w.buf = append(w.buf, 0)
	}
}

// Align zero pads up to the next multiple of align bits.
func (w *W) Align(align int64) {
	if align <= 1 {
		return
	}
	next := (w.pos + align - 1) / align * align
	w.grow(next - w.pos)
	w.pos = next
}

// PadTo zero pads the buffer to exactly n bytes. It is an error if more than n
// bytes have already been written.
func (w *W) PadTo(n int) error {
	if int64(n)*8 < w.pos {
		return errors.Errorf("cannot pad %d bits to %d bytes", w.pos, n)
	}
	w.pos = int64(n) * 8
	w.grow(0)
	return nil
}

// WriteUnsigned writes the low n bits of v.
func (w *W) WriteUnsigned(v uint64, n int, order ByteOrder) {
	if n < 64 {
		v &= 1<<uint(n) - 1
	}
	w.grow(int64(n))
	if order == BigEndian {
		putBE(w.buf, w.pos, n, v)
	} else {
		putLE(w.buf, w.pos, n, v)
	}
	w.pos += int64(n)
}

// WriteSigned writes v as an n-bit two's complement value.
func (w *W) WriteSigned(v int64, n int, order ByteOrder) {
	w.WriteUnsigned(uint64(v), n, order)
}

// WriteFloat writes v as an IEEE binary32 (8, 24) or binary64 (11, 53).
func (w *W) WriteFloat(v float64, exponent, mantissa int, order ByteOrder) error {
	switch {
	case exponent == 8 && mantissa == 24:
		w.WriteUnsigned(uint64(math.Float32bits(float32(v))), 32, order)
	case exponent == 11 && mantissa == 53:
		w.WriteUnsigned(math.Float64bits(v), 64, order)
	default:
		return errors.Errorf("cannot encode float layout %d/%d", exponent, mantissa)
	}
	return nil
}

// WriteBytes writes raw bytes at a byte-aligned position.
func (w *W) WriteBytes(v []byte) error {
	if w.pos%8 != 0 {
		return errors.Errorf("unaligned byte write at bit %d", w.pos)
	}
	w.buf = append(w.buf[:w.pos/8], v...)
	w.pos += int64(len(v)) * 8
	return nil
}

// WriteCString writes s followed by a NUL terminator.
func (w *W) WriteCString(s string) error {
	if err := w.WriteBytes([]byte(s)); err != nil {
		return err
	}
	return w.WriteBytes([]byte{0})
}

func putLE(buf []byte, pos int64, n int, v uint64) {
	for shift := 0; shift < n; {
		off := uint(pos & 7)
		take := 8 - int(off)
		if rem := n - shift; take > rem {
			take = rem
		}
		mask := byte(1<<uint(take)-1) << off
		bits := byte(v>>uint(shift)) << off
		buf[pos>>3] = buf[pos>>3]&^mask | bits&mask
		shift += take
		pos += int64(take)
	}
}

func putBE(buf []byte, pos int64, n int, v uint64) {
	for rem := n; rem > 0; {
		avail := 8 - int(pos&7)
		take := avail
		if take > rem {
			take = rem
		}
		shift := uint(avail - take)
		mask := byte(1<<uint(take)-1) << shift
		bits := byte(v>>uint(rem-take)) << shift
		buf[pos>>3] = buf[pos>>3]&^mask | bits&mask
		rem -= take
		pos += int64(take)
	}
}
