// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bitbuffer offers B, a slice-backed bit cursor, and W, its writing
// counterpart.
//
// CTF fields are packed at arbitrary bit offsets and widths. B extracts them
// independently of byte alignment and of host endianness: every read names the
// byte order of the field being read, since that can be overridden per field.
//
// A little-endian field is read LSB-first, starting at bit (p%8) of byte (p/8).
// A big-endian field is read MSB-first, starting at bit (7-p%8) of byte (p/8).
//
// B never aligns on its own. Callers align the cursor before each field
// according to that field's alignment.
package bitbuffer

import (
	"bytes"
	"math"

	"github.com/danjacques/goctf/support/fmtutil"

	"github.com/pkg/errors"
)

// ErrOutOfBounds is returned (wrapped) when a read would extend past the end
// of the readable region.
var ErrOutOfBounds = errors.New("read out of bounds")

// ByteOrder is the byte order of a packed field.
type ByteOrder int

const (
	// LittleEndian orders bytes (and bits) least-significant first.
	LittleEndian ByteOrder = iota
	// BigEndian orders bytes (and bits) most-significant first.
	BigEndian
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "le"
	case BigEndian:
		return "be"
	default:
		return "unknown"
	}
}

// B is a bit cursor over Buffer.
//
// B can be copied, creating a snapshot of its current state. The copy shares
// Buffer, which B never modifies.
type B struct {
	// Buffer is the backing buffer for this cursor.
	Buffer []byte

	// pos is the cursor position, in bits.
	pos int64
	// limit, if > 0, caps the readable region, in bits. If zero, the whole
	// Buffer is readable.
	limit int64
}

// New returns a B over buf.
func New(buf []byte) *B { return &B{Buffer: buf} }

// Limit returns the end of the readable region, in bits.
func (b *B) Limit() int64 {
	if b.limit > 0 {
		return b.limit
	}
	return int64(len(b.Buffer)) * 8
}

// SetLimit caps the readable region at bits. A limit beyond the end of
// Buffer is clamped.
func (b *B) SetLimit(bits int64) {
	if max := int64(len(b.Buffer)) * 8; bits <= 0 || bits > max {
		bits = max
	}
	b.limit = bits
}

// Position returns the cursor position, in bits.
func (b *B) Position() int64 { return b.pos }

// SetPosition moves the cursor to an absolute bit position.
func (b *B) SetPosition(bits int64) error {
	if bits < 0 || bits > b.Limit() {
		return errors.Wrapf(ErrOutOfBounds, "position %d (limit %d)", bits, b.Limit())
	}
	b.pos = bits
	return nil
}

// Remaining returns the number of readable bits after the cursor.
func (b *B) Remaining() int64 { return b.Limit() - b.pos }

// CanRead returns true if n more bits can be read.
func (b *B) CanRead(n int64) bool { return n >= 0 && n <= b.Remaining() }

// Align advances the cursor to the next multiple of align bits.
//
// An alignment of 0 or 1 is a no-op.
func (b *B) Align(align int64) error {
	if align <= 1 {
		return nil
	}
	next := (b.pos + align - 1) / align * align
	if next > b.Limit() {
		return errors.Wrapf(ErrOutOfBounds, "align %d at %s (limit %s)",
			align, fmtutil.BitPosition(b.pos), fmtutil.BitPosition(b.Limit()))
	}
	b.pos = next
	return nil
}

func (b *B) check(n int64) error {
	if !b.CanRead(n) {
		return errors.Wrapf(ErrOutOfBounds, "read of %d bits at %s (limit %s)",
			n, fmtutil.BitPosition(b.pos), fmtutil.BitPosition(b.Limit()))
	}
	return nil
}

// ReadUnsigned reads an n-bit unsigned integer, 1 <= n <= 64.
func (b *B) ReadUnsigned(n int, order ByteOrder) (uint64, error) {
	if n < 1 || n > 64 {
		return 0, errors.Errorf("invalid integer width %d", n)
	}
	if err := b.check(int64(n)); err != nil {
		return 0, err
	}

	var v uint64
	if order == BigEndian {
		v = getBE(b.Buffer, b.pos, n)
	} else {
		v = getLE(b.Buffer, b.pos, n)
	}
	b.pos += int64(n)
	return v, nil
}

// ReadSigned reads an n-bit two's complement integer and sign extends it.
func (b *B) ReadSigned(n int, order ByteOrder) (int64, error) {
	v, err := b.ReadUnsigned(n, order)
	if err != nil {
		return 0, err
	}
	return SignExtend(v, n), nil
}

// ReadFloat reads a float with the specified exponent and mantissa widths.
//
// The mantissa width includes the implicit leading bit, so an IEEE binary32
// is (8, 24) and an IEEE binary64 is (11, 53).
func (b *B) ReadFloat(exponent, mantissa int, order ByteOrder) (float64, error) {
	if exponent < 1 || mantissa < 1 || exponent+mantissa > 64 {
		return 0, errors.Errorf("invalid float layout %d/%d", exponent, mantissa)
	}
	raw, err := b.ReadUnsigned(exponent+mantissa, order)
	if err != nil {
		return 0, err
	}
	return FloatFromBits(raw, exponent, mantissa), nil
}

// ReadBytes reads n whole bytes. The cursor must be byte aligned.
//
// The returned slice is a copy.
func (b *B) ReadBytes(n int) ([]byte, error) {
	if b.pos%8 != 0 {
		return nil, errors.Errorf("unaligned byte read at bit %d", b.pos)
	}
	if err := b.check(int64(n) * 8); err != nil {
		return nil, err
	}
	start := b.pos / 8
	v := append([]byte(nil), b.Buffer[start:start+int64(n)]...)
	b.pos += int64(n) * 8
	return v, nil
}

// ReadCString reads a NUL-terminated string, consuming the terminator. The
// cursor must be byte aligned.
func (b *B) ReadCString() (string, error) {
	if b.pos%8 != 0 {
		return "", errors.Errorf("unaligned string read at bit %d", b.pos)
	}
	start, end := b.pos/8, b.Limit()/8
	if start > end {
		return "", errors.Wrap(ErrOutOfBounds, "string past limit")
	}
	idx := bytes.IndexByte(b.Buffer[start:end], 0)
	if idx < 0 {
		return "", errors.Wrapf(ErrOutOfBounds, "unterminated string at byte %d", start)
	}
	s := string(b.Buffer[start : start+int64(idx)])
	b.pos += int64(idx+1) * 8
	return s, nil
}

// SignExtend interprets the low n bits of v as a two's complement value.
func SignExtend(v uint64, n int) int64 {
	if n < 64 && v&(1<<uint(n-1)) != 0 {
		v |= ^uint64(0) << uint(n)
	}
	return int64(v)
}

// FloatFromBits decodes raw as a float with the given exponent and mantissa
// widths (mantissa includes the implicit bit). The sign is the top bit of the
// exponent+mantissa wide field.
//
// IEEE binary32 and binary64 are decoded exactly. Other layouts whose total
// width is an IEEE interchange width (16, 32 or 64 bits) are decoded with the
// generic IEEE rules, rounding the significand to 53 bits and saturating to
// ±Inf or ±0 outside the float64 range. A 1-bit exponent has no reserved
// encodings. Layouts of any other total width decode to NaN.
func FloatFromBits(raw uint64, exponent, mantissa int) float64 {
	switch {
	case exponent == 8 && mantissa == 24:
		return float64(math.Float32frombits(uint32(raw)))
	case exponent == 11 && mantissa == 53:
		return math.Float64frombits(raw)
	}
	switch exponent + mantissa {
	case 16, 32, 64:
	default:
		return math.NaN()
	}

	frac := uint(mantissa - 1)
	neg := (raw>>(uint(exponent)+frac))&1 != 0
	maxExp := uint64(1)<<uint(exponent) - 1
	e := (raw >> frac) & maxExp
	m := raw & (1<<frac - 1)
	bias := int64(1)<<uint(exponent-1) - 1

	var v float64
	switch {
	case exponent > 1 && e == maxExp:
		if m != 0 {
			return math.NaN()
		}
		v = math.Inf(1)
	case exponent > 1 && e == 0:
		v = scaleSignificand(m, 1-bias-int64(frac))
	default:
		v = scaleSignificand(m|1<<frac, int64(e)-bias-int64(frac))
	}
	if neg {
		v = -v
	}
	return v
}

// scaleSignificand returns m×2^exp.
func scaleSignificand(m uint64, exp int64) float64 {
	switch {
	case m == 0:
		return 0
	case exp > 2048:
		return math.Inf(1)
	case exp < -2048-64:
		return 0
	}
	// The conversion rounds m to the nearest 53-bit significand.
	return math.Ldexp(float64(m), int(exp))
}

func getLE(buf []byte, pos int64, n int) (v uint64) {
	for shift := 0; shift < n; {
		off := uint(pos & 7)
		take := 8 - int(off)
		if rem := n - shift; take > rem {
			take = rem
		}
		bits := (uint64(buf[pos>>3]) >> off) & (1<<uint(take) - 1)
		v |= bits << uint(shift)
		shift += take
		pos += int64(take)
	}
	return
}

func getBE(buf []byte, pos int64, n int) (v uint64) {
	for rem := n; rem > 0; {
		avail := 8 - int(pos&7)
		take := avail
		if take > rem {
			take = rem
		}
		bits := (uint64(buf[pos>>3]) >> uint(avail-take)) & (1<<uint(take) - 1)
		v = v<<uint(take) | bits
		rem -= take
		pos += int64(take)
	}
	return
}
