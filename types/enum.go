// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package types

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/danjacques/goctf/support/bitbuffer"

	"github.com/pkg/errors"
)

// EnumRange maps the inclusive range [Low, High] to Label.
type EnumRange struct {
	Low   int64
	High  int64
	Label string
}

// Enum describes an integer whose values map to labels.
type Enum struct {
	// Container is the integer that holds the enumeration's value.
	Container *Integer

	// ranges is sorted by Low, and ranges do not overlap.
	ranges []EnumRange
}

// NewEnum builds an Enum. Ranges must be well-formed and disjoint.
func NewEnum(container *Integer, ranges ...EnumRange) (*Enum, error) {
	if container == nil {
		return nil, errors.Wrap(ErrInvalidDeclaration, "enum without container")
	}

	sorted := append([]EnumRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Low < sorted[j].Low })
	for i, r := range sorted {
		if r.Low > r.High {
			return nil, errors.Wrapf(ErrInvalidDeclaration, "enum range %q is inverted", r.Label)
		}
		if i > 0 && sorted[i-1].High >= r.Low {
			return nil, errors.Wrapf(ErrInvalidDeclaration, "enum ranges %q and %q overlap",
				sorted[i-1].Label, r.Label)
		}
	}
	return &Enum{Container: container, ranges: sorted}, nil
}

// MustEnum is like NewEnum, but panics on error.
func MustEnum(container *Integer, ranges ...EnumRange) *Enum {
	e, err := NewEnum(container, ranges...)
	if err != nil {
		panic(err)
	}
	return e
}

// Ranges returns the enumeration's ranges, sorted by value.
func (e *Enum) Ranges() []EnumRange { return append([]EnumRange(nil), e.ranges...) }

// Label returns the label for v.
func (e *Enum) Label(v int64) (string, bool) {
	idx := sort.Search(len(e.ranges), func(i int) bool { return e.ranges[i].High >= v })
	if idx < len(e.ranges) && e.ranges[idx].Low <= v {
		return e.ranges[idx].Label, true
	}
	return "", false
}

// Value returns the lowest value mapped to label.
func (e *Enum) Value(label string) (int64, bool) {
	for _, r := range e.ranges {
		if r.Label == label {
			return r.Low, true
		}
	}
	return 0, false
}

// Alignment implements Declaration.
func (e *Enum) Alignment() int64 { return e.Container.Alignment() }

// CreateDefinition implements Declaration.
//
// A value that matches no range decodes with an empty label.
func (e *Enum) CreateDefinition(scope Scope, name string, b *bitbuffer.B) (Definition, error) {
	v, err := e.Container.read(b)
	if err != nil {
		return nil, errors.Wrapf(err, "reading enum %q", name)
	}
	label, _ := e.Label(int64(v))
	return NewEnumDefinition(e, scope, name, v, label), nil
}

func (e *Enum) String() string {
	var sb bytes.Buffer
	fmt.Fprintf(&sb, "enum : %s { ", e.Container)
	for i, r := range e.ranges {
		if i > 0 {
			sb.WriteString(", ")
		}
		if r.Low == r.High {
			fmt.Fprintf(&sb, "%q = %d", r.Label, r.Low)
		} else {
			fmt.Fprintf(&sb, "%q = %d ... %d", r.Label, r.Low, r.High)
		}
	}
	sb.WriteString(" }")
	return sb.String()
}

// EnumDefinition is a decoded enumeration value.
type EnumDefinition struct {
	definition

	decl  *Enum
	value *IntegerDefinition
	label string
}

// NewEnumDefinition builds an EnumDefinition without decoding it.
func NewEnumDefinition(decl *Enum, scope Scope, name string, v uint64, label string) *EnumDefinition {
	return &EnumDefinition{
		definition: definition{name: name, scope: scope},
		decl:       decl,
		value:      NewIntegerDefinition(decl.Container, scope, name, v),
		label:      label,
	}
}

// Declaration implements Definition.
func (d *EnumDefinition) Declaration() Declaration { return d.decl }

// Integer returns the enumeration's underlying integer value.
func (d *EnumDefinition) Integer() *IntegerDefinition { return d.value }

// Value returns the enumeration's integer value.
func (d *EnumDefinition) Value() int64 { return d.value.Value() }

// Label returns the label the value maps to, or "" if it maps to none.
func (d *EnumDefinition) Label() string { return d.label }

func (d *EnumDefinition) String() string {
	return fmt.Sprintf("{ value = %s, label = %q }", d.value, d.label)
}
