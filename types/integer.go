// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package types

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"

	"github.com/danjacques/goctf/support/bitbuffer"

	"github.com/pkg/errors"
)

// Integer describes an integer field of 1 to 64 bits.
type Integer struct {
	// Length is the width of the integer, in bits.
	Length int
	// Signed is true if the integer is two's complement signed.
	Signed bool
	// Base is the preferred display base (2, 8, 10 or 16). Zero means 10.
	Base int
	// Order is the byte order of the integer.
	Order ByteOrder
	// Encoding, if not EncodingNone, marks the integer as a character.
	Encoding Encoding
	// Clock, if not empty, is the name of the clock this integer is mapped to.
	Clock string
	// Align is the alignment, in bits. If zero, integers whose length is a
	// multiple of 8 are byte aligned and others are bit aligned.
	Align int64
}

// NewInteger returns a base-10 Integer with default alignment.
func NewInteger(length int, signed bool, order ByteOrder) *Integer {
	return &Integer{
		Length: length,
		Signed: signed,
		Base:   10,
		Order:  order,
	}
}

// Alignment implements Declaration.
func (i *Integer) Alignment() int64 {
	if i.Align > 0 {
		return i.Align
	}
	if i.Length%8 == 0 {
		return 8
	}
	return 1
}

func (i *Integer) base() int {
	if i.Base == 0 {
		return 10
	}
	return i.Base
}

// IsCharacter returns true if this integer holds an 8-bit encoded character.
func (i *Integer) IsCharacter() bool {
	return i.Length == 8 && i.Encoding != EncodingNone
}

// MaxValue returns the largest value this integer can hold.
func (i *Integer) MaxValue() *big.Int {
	n := uint(i.Length)
	if i.Signed {
		n--
	}
	v := new(big.Int).Lsh(big.NewInt(1), n)
	return v.Sub(v, big.NewInt(1))
}

// MinValue returns the smallest value this integer can hold.
func (i *Integer) MinValue() *big.Int {
	if !i.Signed {
		return new(big.Int)
	}
	v := new(big.Int).Lsh(big.NewInt(1), uint(i.Length-1))
	return v.Neg(v)
}

func (i *Integer) read(b *bitbuffer.B) (uint64, error) {
	if i.Length < 1 || i.Length > 64 {
		return 0, errors.Wrapf(ErrInvalidDeclaration, "integer of %d bits", i.Length)
	}
	v, err := b.ReadUnsigned(i.Length, i.Order)
	if err != nil {
		return 0, err
	}
	if i.Signed {
		v = uint64(bitbuffer.SignExtend(v, i.Length))
	}
	return v, nil
}

// CreateDefinition implements Declaration.
func (i *Integer) CreateDefinition(scope Scope, name string, b *bitbuffer.B) (Definition, error) {
	v, err := i.read(b)
	if err != nil {
		return nil, errors.Wrapf(err, "reading integer %q", name)
	}
	return NewIntegerDefinition(i, scope, name, v), nil
}

func (i *Integer) String() string {
	var sb bytes.Buffer
	fmt.Fprintf(&sb, "integer { size = %d; align = %d; signed = %t; ", i.Length, i.Alignment(), i.Signed)
	if i.Encoding != EncodingNone {
		fmt.Fprintf(&sb, "encoding = %s; ", i.Encoding)
	}
	fmt.Fprintf(&sb, "base = %d; byte_order = %s; ", i.base(), i.Order)
	if i.Clock != "" {
		fmt.Fprintf(&sb, "map = clock.%s.value; ", i.Clock)
	}
	sb.WriteString("}")
	return sb.String()
}

// IntegerDefinition is a decoded integer.
type IntegerDefinition struct {
	definition

	decl *Integer
	// raw holds the value's bits. Signed values are stored sign extended.
	raw uint64
}

// NewIntegerDefinition builds an IntegerDefinition without decoding it.
//
// For signed declarations, v is the two's complement bit pattern of the value.
func NewIntegerDefinition(decl *Integer, scope Scope, name string, v uint64) *IntegerDefinition {
	return &IntegerDefinition{
		definition: definition{name: name, scope: scope},
		decl:       decl,
		raw:        v,
	}
}

// Declaration implements Definition.
func (d *IntegerDefinition) Declaration() Declaration { return d.decl }

// IntegerDeclaration returns d's declaration.
func (d *IntegerDefinition) IntegerDeclaration() *Integer { return d.decl }

// Value returns the value as a signed integer.
//
// Unsigned 64-bit values above math.MaxInt64 wrap; use Uint64 for those.
func (d *IntegerDefinition) Value() int64 { return int64(d.raw) }

// Uint64 returns the raw value bits.
func (d *IntegerDefinition) Uint64() uint64 { return d.raw }

func (d *IntegerDefinition) String() string {
	if d.decl.IsCharacter() {
		return string(rune(byte(d.raw)))
	}
	switch d.decl.base() {
	case 2:
		return "0b" + strconv.FormatUint(d.trimmed(), 2)
	case 8:
		return "0" + strconv.FormatUint(d.trimmed(), 8)
	case 16:
		return "0x" + strconv.FormatUint(d.trimmed(), 16)
	}
	if d.decl.Signed {
		return strconv.FormatInt(int64(d.raw), 10)
	}
	return strconv.FormatUint(d.raw, 10)
}

// trimmed returns the value bits without sign extension.
func (d *IntegerDefinition) trimmed() uint64 {
	if d.decl.Length < 64 {
		return d.raw & (1<<uint(d.decl.Length) - 1)
	}
	return d.raw
}
