// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package types implements the CTF type system.
//
// A Declaration is an immutable description of a packed binary field: its
// size, alignment, byte order and encoding. It never holds a value. Decoding a
// Declaration from a bitbuffer.B yields a Definition, an immutable value bound
// to the Declaration that produced it, to a field name, and to the Scope it
// was decoded in.
//
// Scopes let dynamically-sized declarations resolve sibling fields at decode
// time: a Sequence reads its length from a previously decoded integer, and a
// Variant selects its member from a previously decoded enumeration label.
//
// Declarations compare structurally (see Equal and Hash), so identical layouts
// from independently constructed metadata are interchangeable.
package types

import (
	"github.com/danjacques/goctf/support/bitbuffer"

	"github.com/pkg/errors"
)

// ByteOrder is the byte order of a field.
type ByteOrder = bitbuffer.ByteOrder

const (
	// LittleEndian is the little-endian byte order.
	LittleEndian = bitbuffer.LittleEndian
	// BigEndian is the big-endian byte order.
	BigEndian = bitbuffer.BigEndian
)

var (
	// ErrInvalidDeclaration is returned when a Declaration's parameters cannot
	// describe a field (for example, a 65-bit integer).
	ErrInvalidDeclaration = errors.New("invalid declaration")

	// ErrUnresolvedLength is returned when a Sequence's length field is missing
	// from its scope or is not an integer.
	ErrUnresolvedLength = errors.New("unresolved sequence length")

	// ErrUnresolvedTag is returned when a Variant's tag field is missing from its
	// scope or is not an enumeration.
	ErrUnresolvedTag = errors.New("unresolved variant tag")

	// ErrNoVariantMember is returned when a Variant has no member for its tag's
	// label.
	ErrNoVariantMember = errors.New("no variant member for tag")
)

// Encoding is the character encoding of a String or an integer.
type Encoding int

const (
	// EncodingNone marks a value with no character encoding.
	EncodingNone Encoding = iota
	// EncodingUTF8 is UTF-8 encoding.
	EncodingUTF8
	// EncodingASCII is ASCII encoding.
	EncodingASCII
)

func (e Encoding) String() string {
	switch e {
	case EncodingNone:
		return "none"
	case EncodingUTF8:
		return "UTF8"
	case EncodingASCII:
		return "ASCII"
	default:
		return "unknown"
	}
}

// Declaration describes a packed binary field.
//
// Declarations are immutable, and are safe for concurrent use.
type Declaration interface {
	// Alignment is the alignment, in bits, required at the start of the field.
	Alignment() int64

	// CreateDefinition decodes a value of this Declaration from b.
	//
	// The caller must have aligned b to Alignment. scope is the enclosing scope
	// used to resolve references to previously decoded fields, and may be nil.
	CreateDefinition(scope Scope, name string, b *bitbuffer.B) (Definition, error)

	// String renders the Declaration as a TSDL type specifier.
	String() string
}

// Field is a named Declaration, a member of a Struct or a Variant.
type Field struct {
	Name string
	Decl Declaration
}

// Decode aligns b for d, then decodes a value of d from it.
func Decode(d Declaration, scope Scope, name string, b *bitbuffer.B) (Definition, error) {
	if err := b.Align(d.Alignment()); err != nil {
		return nil, errors.Wrapf(err, "aligning %q", name)
	}
	return d.CreateDefinition(scope, name, b)
}

// minBits returns the smallest number of bits a value of d can occupy. It is
// used to reject element counts that cannot fit in the remaining data before
// allocating for them.
func minBits(d Declaration) int64 {
	switch t := d.(type) {
	case *Integer:
		return int64(t.Length)
	case *Float:
		return int64(t.Exponent + t.Mantissa)
	case *Enum:
		return int64(t.Container.Length)
	case *String:
		return 8
	case *Struct:
		var total int64
		for _, f := range t.fields {
			total += minBits(f.Decl)
		}
		return total
	case *Array:
		return t.Length * minBits(t.Element)
	default:
		return 0
	}
}

func maxAlign(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
