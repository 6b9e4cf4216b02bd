// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package types

import (
	"bytes"
	"fmt"

	"github.com/danjacques/goctf/support/bitbuffer"

	"github.com/pkg/errors"
)

// Struct describes an ordered sequence of uniquely named fields.
//
// Struct must be built with NewStruct or NewAlignedStruct.
type Struct struct {
	fields []Field
	index  map[string]int

	// minAlign is the declared minimum alignment.
	minAlign int64
	// align is the effective alignment: the largest of minAlign and the field
	// alignments.
	align int64
}

// NewStruct builds a Struct from fields, in order.
func NewStruct(fields ...Field) (*Struct, error) { return NewAlignedStruct(1, fields...) }

// NewAlignedStruct builds a Struct with a minimum alignment, in bits.
func NewAlignedStruct(align int64, fields ...Field) (*Struct, error) {
	if align < 1 {
		align = 1
	}
	s := Struct{
		fields:   make([]Field, len(fields)),
		index:    make(map[string]int, len(fields)),
		minAlign: align,
		align:    align,
	}
	for i, f := range fields {
		if f.Decl == nil {
			return nil, errors.Wrapf(ErrInvalidDeclaration, "struct field %q has no declaration", f.Name)
		}
		if _, ok := s.index[f.Name]; ok {
			return nil, errors.Wrapf(ErrInvalidDeclaration, "duplicate struct field %q", f.Name)
		}
		s.fields[i] = f
		s.index[f.Name] = i
		s.align = maxAlign(s.align, f.Decl.Alignment())
	}
	return &s, nil
}

// MustStruct is like NewStruct, but panics on error.
func MustStruct(fields ...Field) *Struct {
	s, err := NewStruct(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// MustAlignedStruct is like NewAlignedStruct, but panics on error.
func MustAlignedStruct(align int64, fields ...Field) *Struct {
	s, err := NewAlignedStruct(align, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the struct's fields, in declared order.
func (s *Struct) Fields() []Field { return append([]Field(nil), s.fields...) }

// NumFields returns the number of fields.
func (s *Struct) NumFields() int { return len(s.fields) }

// Field returns the declaration of the named field, or nil.
func (s *Struct) Field(name string) Declaration {
	if i, ok := s.index[name]; ok {
		return s.fields[i].Decl
	}
	return nil
}

// HasField returns true if the struct has a field called name.
func (s *Struct) HasField(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Alignment implements Declaration.
func (s *Struct) Alignment() int64 { return s.align }

// CreateDefinition implements Declaration.
func (s *Struct) CreateDefinition(scope Scope, name string, b *bitbuffer.B) (Definition, error) {
	return s.Decode(scope, name, b)
}

// Decode is CreateDefinition returning the concrete StructDefinition.
func (s *Struct) Decode(scope Scope, name string, b *bitbuffer.B) (*StructDefinition, error) {
	return s.DecodeBound(scope, name, b, nil)
}

// DecodeBound is Decode, calling bind with the StructDefinition before any of
// its fields are decoded. While decoding, the definition holds the fields
// decoded so far, so an enclosing scope that bind publishes it to can resolve
// absolute paths into it.
func (s *Struct) DecodeBound(scope Scope, name string, b *bitbuffer.B, bind func(*StructDefinition)) (*StructDefinition, error) {
	def := &StructDefinition{
		definition: definition{name: name, scope: scope},
		decl:       s,
		fields:     make([]Definition, 0, len(s.fields)),
	}
	if bind != nil {
		bind(def)
	}

	// Fields are appended as they are decoded, so later fields can resolve
	// earlier ones through def.
	for _, f := range s.fields {
		fd, err := Decode(f.Decl, def, f.Name, b)
		if err != nil {
			return nil, errors.Wrapf(err, "in struct %q", name)
		}
		def.fields = append(def.fields, fd)
	}
	return def, nil
}

func (s *Struct) String() string {
	var sb bytes.Buffer
	sb.WriteString("struct { ")
	for _, f := range s.fields {
		sb.WriteString(FieldString(f.Name, f.Decl))
		sb.WriteString(" ")
	}
	sb.WriteString("}")
	if s.minAlign > 1 {
		fmt.Fprintf(&sb, " align(%d)", s.minAlign/8)
	}
	return sb.String()
}

// FieldString renders a named field as a TSDL field declaration, such as
// "integer { ... } len;" or "string name[4];".
func FieldString(name string, d Declaration) string {
	suffix := ""
	for {
		switch t := d.(type) {
		case *Array:
			suffix = fmt.Sprintf("[%d]", t.Length) + suffix
			d = t.Element
			continue
		case *Sequence:
			suffix = fmt.Sprintf("[%s]", t.LengthField) + suffix
			d = t.Element
			continue
		}
		break
	}
	return fmt.Sprintf("%s %s%s;", d, name, suffix)
}

// StructDefinition is a decoded struct.
type StructDefinition struct {
	definition

	decl   *Struct
	fields []Definition
}

// NewStructDefinition builds a StructDefinition from already-built field
// definitions, which must be in declared order.
func NewStructDefinition(decl *Struct, scope Scope, name string, fields ...Definition) *StructDefinition {
	return &StructDefinition{
		definition: definition{name: name, scope: scope},
		decl:       decl,
		fields:     fields,
	}
}

// Declaration implements Definition.
func (d *StructDefinition) Declaration() Declaration { return d.decl }

// StructDeclaration returns d's declaration.
func (d *StructDefinition) StructDeclaration() *Struct { return d.decl }

// Fields returns the decoded fields in declared order.
func (d *StructDefinition) Fields() []Definition { return append([]Definition(nil), d.fields...) }

// Field returns the named field's value, or nil.
func (d *StructDefinition) Field(name string) Definition {
	if i, ok := d.decl.index[name]; ok && i < len(d.fields) {
		return d.fields[i]
	}
	return nil
}

// Lookup implements Scope.
func (d *StructDefinition) Lookup(path string) Definition {
	if def := d.lookupLocal(path); def != nil {
		return def
	}
	return d.parentLookup(path)
}

func (d *StructDefinition) lookupLocal(path string) Definition {
	head, rest := splitPath(path)
	f := d.Field(head)
	if f == nil {
		return nil
	}
	return descend(f, rest)
}

func (d *StructDefinition) String() string {
	var sb bytes.Buffer
	sb.WriteString("{ ")
	for i, f := range d.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = %s", f.Name(), f)
	}
	sb.WriteString(" }")
	return sb.String()
}
