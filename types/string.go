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

// String describes a NUL-terminated string field.
type String struct {
	Encoding Encoding
}

// Alignment implements Declaration.
func (s *String) Alignment() int64 { return 8 }

// CreateDefinition implements Declaration.
func (s *String) CreateDefinition(scope Scope, name string, b *bitbuffer.B) (Definition, error) {
	v, err := b.ReadCString()
	if err != nil {
		return nil, errors.Wrapf(err, "reading string %q", name)
	}
	return NewStringDefinition(s, scope, name, v), nil
}

func (s *String) String() string {
	enc := s.Encoding
	if enc == EncodingNone {
		enc = EncodingUTF8
	}
	return fmt.Sprintf("string { encoding = %s; }", enc)
}

// StringDefinition is a decoded string.
type StringDefinition struct {
	definition

	decl  *String
	value string
}

// NewStringDefinition builds a StringDefinition without decoding it.
func NewStringDefinition(decl *String, scope Scope, name, v string) *StringDefinition {
	return &StringDefinition{
		definition: definition{name: name, scope: scope},
		decl:       decl,
		value:      v,
	}
}

// Declaration implements Definition.
func (d *StringDefinition) Declaration() Declaration { return d.decl }

// Value returns the decoded string.
func (d *StringDefinition) Value() string { return d.value }

func (d *StringDefinition) String() string { return strconv.Quote(d.value) }
