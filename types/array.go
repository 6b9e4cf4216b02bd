// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package types

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/danjacques/goctf/support/bitbuffer"

	"github.com/pkg/errors"
)

// Array describes a fixed number of elements.
type Array struct {
	Length  int64
	Element Declaration
}

// Alignment implements Declaration.
func (a *Array) Alignment() int64 { return a.Element.Alignment() }

// IsString returns true if the array's elements are characters.
func (a *Array) IsString() bool { return isCharacter(a.Element) }

// CreateDefinition implements Declaration.
func (a *Array) CreateDefinition(scope Scope, name string, b *bitbuffer.B) (Definition, error) {
	return decodeElements(a, a.Element, a.Length, scope, name, b)
}

func (a *Array) String() string { return fmt.Sprintf("%s[%d]", a.Element, a.Length) }

// Sequence describes a number of elements given by a previously decoded
// integer field.
type Sequence struct {
	// LengthField is the path of the integer field holding the element count.
	LengthField string
	Element     Declaration
}

// Alignment implements Declaration.
func (s *Sequence) Alignment() int64 { return s.Element.Alignment() }

// IsString returns true if the sequence's elements are characters.
func (s *Sequence) IsString() bool { return isCharacter(s.Element) }

// CreateDefinition implements Declaration.
func (s *Sequence) CreateDefinition(scope Scope, name string, b *bitbuffer.B) (Definition, error) {
	var ld Definition
	if scope != nil {
		ld = scope.Lookup(s.LengthField)
	}
	intDef, ok := ld.(*IntegerDefinition)
	if !ok {
		return nil, errors.Wrapf(ErrUnresolvedLength, "sequence %q length %q", name, s.LengthField)
	}

	length := int64(intDef.Uint64())
	if intDef.decl.Signed {
		length = intDef.Value()
	}
	return decodeElements(s, s.Element, length, scope, name, b)
}

func (s *Sequence) String() string { return fmt.Sprintf("%s[%s]", s.Element, s.LengthField) }

func isCharacter(d Declaration) bool {
	i, ok := d.(*Integer)
	return ok && i.IsCharacter()
}

func decodeElements(decl, elem Declaration, length int64, scope Scope, name string, b *bitbuffer.B) (*ArrayDefinition, error) {
	if length < 0 {
		return nil, errors.Wrapf(bitbuffer.ErrOutOfBounds, "%q has negative length %d", name, length)
	}
	if mb := minBits(elem); mb > 0 && length > b.Remaining()/mb {
		return nil, errors.Wrapf(bitbuffer.ErrOutOfBounds, "%q needs %d elements of at least %d bits, %d bits remain",
			name, length, mb, b.Remaining())
	}

	capacity := length
	if rem := b.Remaining(); capacity > rem {
		capacity = rem
	}
	def := &ArrayDefinition{
		definition: definition{name: name, scope: scope},
		decl:       decl,
		elems:      make([]Definition, 0, int(capacity)),
	}
	for i := int64(0); i < length; i++ {
		ed, err := Decode(elem, def, name+"["+strconv.FormatInt(i, 10)+"]", b)
		if err != nil {
			return nil, err
		}
		def.elems = append(def.elems, ed)
	}
	return def, nil
}

// ArrayDefinition is a decoded Array or Sequence.
type ArrayDefinition struct {
	definition

	decl  Declaration
	elems []Definition
}

// NewArrayDefinition builds an ArrayDefinition without decoding it. decl must
// be an *Array or a *Sequence.
func NewArrayDefinition(decl Declaration, scope Scope, name string, elems ...Definition) *ArrayDefinition {
	return &ArrayDefinition{
		definition: definition{name: name, scope: scope},
		decl:       decl,
		elems:      elems,
	}
}

// Declaration implements Definition.
func (d *ArrayDefinition) Declaration() Declaration { return d.decl }

// Len returns the number of elements.
func (d *ArrayDefinition) Len() int { return len(d.elems) }

// Elem returns the i'th element.
func (d *ArrayDefinition) Elem(i int) Definition { return d.elems[i] }

// Elements returns a copy of the element list.
func (d *ArrayDefinition) Elements() []Definition { return append([]Definition(nil), d.elems...) }

// IsString returns true if the elements are characters.
func (d *ArrayDefinition) IsString() bool {
	switch t := d.decl.(type) {
	case *Array:
		return t.IsString()
	case *Sequence:
		return t.IsString()
	default:
		return false
	}
}

// Bytes returns the element values as bytes. It is meaningful for arrays of
// 8-bit integers, such as UUIDs and character arrays.
func (d *ArrayDefinition) Bytes() []byte {
	v := make([]byte, 0, len(d.elems))
	for _, e := range d.elems {
		if id, ok := e.(*IntegerDefinition); ok {
			v = append(v, byte(id.Uint64()))
		}
	}
	return v
}

// StringValue returns the elements as a string, stopping at the first NUL.
func (d *ArrayDefinition) StringValue() string {
	v := d.Bytes()
	if idx := bytes.IndexByte(v, 0); idx >= 0 {
		v = v[:idx]
	}
	return string(v)
}

// Lookup implements Scope. Elements resolve their siblings through the
// array's enclosing scope.
func (d *ArrayDefinition) Lookup(path string) Definition { return d.parentLookup(path) }

func (d *ArrayDefinition) String() string {
	if d.IsString() {
		return strconv.Quote(d.StringValue())
	}
	var sb bytes.Buffer
	sb.WriteString("[")
	for i, e := range d.elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.String())
	}
	sb.WriteString("]")
	return sb.String()
}
