// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package types

import (
	"fmt"
	"strconv"

	"github.com/danjacques/goctf/support/bitbuffer"

	"github.com/pkg/errors"
)

// Float describes a floating point field.
//
// Mantissa includes the implicit leading bit, so binary32 is 8/24 and binary64
// is 11/53. See bitbuffer.FloatFromBits for the handling of other layouts.
type Float struct {
	Exponent int
	Mantissa int
	Order    ByteOrder
	// Align is the alignment, in bits. If zero, floats are byte aligned.
	Align int64
}

// Alignment implements Declaration.
func (f *Float) Alignment() int64 {
	if f.Align > 0 {
		return f.Align
	}
	return 8
}

// CreateDefinition implements Declaration.
func (f *Float) CreateDefinition(scope Scope, name string, b *bitbuffer.B) (Definition, error) {
	if f.Exponent < 1 || f.Mantissa < 1 || f.Exponent+f.Mantissa > 64 {
		return nil, errors.Wrapf(ErrInvalidDeclaration, "float %d/%d", f.Exponent, f.Mantissa)
	}
	v, err := b.ReadFloat(f.Exponent, f.Mantissa, f.Order)
	if err != nil {
		return nil, errors.Wrapf(err, "reading float %q", name)
	}
	return NewFloatDefinition(f, scope, name, v), nil
}

func (f *Float) String() string {
	return fmt.Sprintf("floating_point { exp_dig = %d; mant_dig = %d; align = %d; byte_order = %s; }",
		f.Exponent, f.Mantissa, f.Alignment(), f.Order)
}

// FloatDefinition is a decoded float.
type FloatDefinition struct {
	definition

	decl  *Float
	value float64
}

// NewFloatDefinition builds a FloatDefinition without decoding it.
func NewFloatDefinition(decl *Float, scope Scope, name string, v float64) *FloatDefinition {
	return &FloatDefinition{
		definition: definition{name: name, scope: scope},
		decl:       decl,
		value:      v,
	}
}

// Declaration implements Definition.
func (d *FloatDefinition) Declaration() Declaration { return d.decl }

// Value returns the decoded value.
func (d *FloatDefinition) Value() float64 { return d.value }

func (d *FloatDefinition) String() string { return strconv.FormatFloat(d.value, 'g', -1, 64) }
