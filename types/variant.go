// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package types

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/danjacques/goctf/support/bitbuffer"

	"github.com/pkg/errors"
)

// Variant describes a field whose layout is selected by the label of a
// previously decoded enumeration (its tag).
//
// Variant must be built with NewVariant.
type Variant struct {
	// Tag is the path of the enumeration field that selects the member.
	Tag string

	members []Field
	index   map[string]int
}

// NewVariant builds a Variant with uniquely labeled members.
func NewVariant(tag string, members ...Field) (*Variant, error) {
	v := Variant{
		Tag:     tag,
		members: make([]Field, len(members)),
		index:   make(map[string]int, len(members)),
	}
	for i, m := range members {
		if m.Decl == nil {
			return nil, errors.Wrapf(ErrInvalidDeclaration, "variant member %q has no declaration", m.Name)
		}
		if _, ok := v.index[m.Name]; ok {
			return nil, errors.Wrapf(ErrInvalidDeclaration, "duplicate variant member %q", m.Name)
		}
		v.members[i] = m
		v.index[m.Name] = i
	}
	return &v, nil
}

// MustVariant is like NewVariant, but panics on error.
func MustVariant(tag string, members ...Field) *Variant {
	v, err := NewVariant(tag, members...)
	if err != nil {
		panic(err)
	}
	return v
}

// Members returns a copy of the members, in declared order.
func (v *Variant) Members() []Field { return append([]Field(nil), v.members...) }

// Labels returns the member labels, in declared order.
func (v *Variant) Labels() []string {
	labels := make([]string, len(v.members))
	for i, m := range v.members {
		labels[i] = m.Name
	}
	return labels
}

// Member returns the member selected by label, or nil.
//
// CTF allows a member to be named with a leading underscore that the tag's
// label lacks (and vice versa), so both spellings are tried.
func (v *Variant) Member(label string) Declaration {
	if i, ok := v.memberIndex(label); ok {
		return v.members[i].Decl
	}
	return nil
}

func (v *Variant) memberIndex(label string) (int, bool) {
	if i, ok := v.index[label]; ok {
		return i, true
	}
	if i, ok := v.index["_"+label]; ok {
		return i, true
	}
	if strings.HasPrefix(label, "_") {
		i, ok := v.index[label[1:]]
		return i, ok
	}
	return 0, false
}

// Alignment implements Declaration. The selected member aligns itself.
func (v *Variant) Alignment() int64 { return 1 }

// CreateDefinition implements Declaration.
func (v *Variant) CreateDefinition(scope Scope, name string, b *bitbuffer.B) (Definition, error) {
	var td Definition
	if scope != nil {
		td = scope.Lookup(v.Tag)
	}
	enumDef, ok := td.(*EnumDefinition)
	if !ok {
		return nil, errors.Wrapf(ErrUnresolvedTag, "variant %q tag %q", name, v.Tag)
	}

	idx, ok := v.memberIndex(enumDef.Label())
	if !ok {
		return nil, errors.Wrapf(ErrNoVariantMember, "variant %q has no member %q (tag value %d)",
			name, enumDef.Label(), enumDef.Value())
	}
	member := v.members[idx]

	def := &VariantDefinition{
		definition: definition{name: name, scope: scope},
		decl:       v,
		tag:        member.Name,
	}
	cur, err := Decode(member.Decl, def, member.Name, b)
	if err != nil {
		return nil, errors.Wrapf(err, "in variant %q", name)
	}
	def.current = cur
	return def, nil
}

func (v *Variant) String() string {
	var sb bytes.Buffer
	fmt.Fprintf(&sb, "variant <%s> { ", v.Tag)
	for _, m := range v.members {
		sb.WriteString(FieldString(m.Name, m.Decl))
		sb.WriteString(" ")
	}
	sb.WriteString("}")
	return sb.String()
}

// VariantDefinition is a decoded variant.
type VariantDefinition struct {
	definition

	decl    *Variant
	tag     string
	current Definition
}

// NewVariantDefinition builds a VariantDefinition without decoding it.
func NewVariantDefinition(decl *Variant, scope Scope, name, tag string, current Definition) *VariantDefinition {
	return &VariantDefinition{
		definition: definition{name: name, scope: scope},
		decl:       decl,
		tag:        tag,
		current:    current,
	}
}

// Declaration implements Definition.
func (d *VariantDefinition) Declaration() Declaration { return d.decl }

// Tag returns the label of the selected member.
func (d *VariantDefinition) Tag() string { return d.tag }

// Current returns the selected member's value.
func (d *VariantDefinition) Current() Definition { return d.current }

// Lookup implements Scope.
func (d *VariantDefinition) Lookup(path string) Definition {
	if def := d.lookupLocal(path); def != nil {
		return def
	}
	return d.parentLookup(path)
}

// lookupLocal resolves paths into the selected member. A path may name the
// member explicitly ("compact.timestamp") or skip it ("timestamp").
func (d *VariantDefinition) lookupLocal(path string) Definition {
	if d.current == nil {
		return nil
	}
	if head, rest := splitPath(path); head == d.tag {
		return descend(d.current, rest)
	}
	if ls, ok := d.current.(localScope); ok {
		return ls.lookupLocal(path)
	}
	return nil
}

func (d *VariantDefinition) String() string {
	return fmt.Sprintf("%s: %s", d.tag, d.current)
}
