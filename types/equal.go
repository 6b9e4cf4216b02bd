// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package types

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Equal returns true if a and b describe the same layout.
//
// Equality is structural. Structs compare their fields in order; Variants
// compare their members by label, regardless of order. Alignment is part of
// a layout, so two otherwise identical Integers with different alignments are
// not equal.
func Equal(a, b Declaration) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch x := a.(type) {
	case *Integer:
		y, ok := b.(*Integer)
		return ok && x.Length == y.Length && x.Signed == y.Signed && x.base() == y.base() &&
			x.Order == y.Order && x.Encoding == y.Encoding && x.Clock == y.Clock &&
			x.Alignment() == y.Alignment()

	case *Float:
		y, ok := b.(*Float)
		return ok && x.Exponent == y.Exponent && x.Mantissa == y.Mantissa &&
			x.Order == y.Order && x.Alignment() == y.Alignment()

	case *String:
		y, ok := b.(*String)
		return ok && x.Encoding == y.Encoding

	case *Enum:
		y, ok := b.(*Enum)
		if !ok || !Equal(x.Container, y.Container) || len(x.ranges) != len(y.ranges) {
			return false
		}
		for i := range x.ranges {
			if x.ranges[i] != y.ranges[i] {
				return false
			}
		}
		return true

	case *Struct:
		y, ok := b.(*Struct)
		if !ok || x.align != y.align || len(x.fields) != len(y.fields) {
			return false
		}
		for i, f := range x.fields {
			if f.Name != y.fields[i].Name || !Equal(f.Decl, y.fields[i].Decl) {
				return false
			}
		}
		return true

	case *Array:
		y, ok := b.(*Array)
		return ok && x.Length == y.Length && Equal(x.Element, y.Element)

	case *Sequence:
		y, ok := b.(*Sequence)
		return ok && x.LengthField == y.LengthField && Equal(x.Element, y.Element)

	case *Variant:
		y, ok := b.(*Variant)
		if !ok || x.Tag != y.Tag || len(x.members) != len(y.members) {
			return false
		}
		for _, m := range x.members {
			i, ok := y.index[m.Name]
			if !ok || !Equal(m.Decl, y.members[i].Decl) {
				return false
			}
		}
		return true

	default:
		return false
	}
}

// EqualUnordered is like Equal for two Structs, except that fields are
// matched by name rather than by position.
//
// Nested structs still compare with Equal.
func EqualUnordered(a, b *Struct) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.align != b.align || len(a.fields) != len(b.fields) {
		return false
	}
	for _, f := range a.fields {
		if !Equal(f.Decl, b.Field(f.Name)) {
			return false
		}
	}
	return true
}

// Hash returns a structural hash of d, consistent with Equal.
func Hash(d Declaration) uint64 {
	h := hasher{d: xxhash.New()}
	h.declaration(d)
	return h.d.Sum64()
}

type hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

const (
	kindNil byte = iota
	kindInteger
	kindFloat
	kindString
	kindEnum
	kindStruct
	kindArray
	kindSequence
	kindVariant
)

func (h *hasher) byte(v byte) { _, _ = h.d.Write([]byte{v}) }

func (h *hasher) int(v int64) {
	binary.LittleEndian.PutUint64(h.buf[:], uint64(v))
	_, _ = h.d.Write(h.buf[:])
}

func (h *hasher) string(v string) {
	h.int(int64(len(v)))
	_, _ = h.d.WriteString(v)
}

func (h *hasher) bool(v bool) {
	if v {
		h.byte(1)
	} else {
		h.byte(0)
	}
}

func (h *hasher) declaration(d Declaration) {
	switch t := d.(type) {
	case *Integer:
		h.byte(kindInteger)
		h.int(int64(t.Length))
		h.bool(t.Signed)
		h.int(int64(t.base()))
		h.int(int64(t.Order))
		h.int(int64(t.Encoding))
		h.string(t.Clock)
		h.int(t.Alignment())

	case *Float:
		h.byte(kindFloat)
		h.int(int64(t.Exponent))
		h.int(int64(t.Mantissa))
		h.int(int64(t.Order))
		h.int(t.Alignment())

	case *String:
		h.byte(kindString)
		h.int(int64(t.Encoding))

	case *Enum:
		h.byte(kindEnum)
		h.declaration(t.Container)
		h.int(int64(len(t.ranges)))
		for _, r := range t.ranges {
			h.int(r.Low)
			h.int(r.High)
			h.string(r.Label)
		}

	case *Struct:
		h.byte(kindStruct)
		h.int(t.align)
		h.int(int64(len(t.fields)))
		for _, f := range t.fields {
			h.string(f.Name)
			h.declaration(f.Decl)
		}

	case *Array:
		h.byte(kindArray)
		h.int(t.Length)
		h.declaration(t.Element)

	case *Sequence:
		h.byte(kindSequence)
		h.string(t.LengthField)
		h.declaration(t.Element)

	case *Variant:
		// Members are hashed in label order, matching Equal.
		h.byte(kindVariant)
		h.string(t.Tag)
		labels := t.Labels()
		sort.Strings(labels)
		h.int(int64(len(labels)))
		for _, l := range labels {
			h.string(l)
			h.declaration(t.Member(l))
		}

	default:
		h.byte(kindNil)
	}
}
