// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package types

import (
	"strings"
)

// Scope resolves field paths to previously decoded Definitions.
type Scope interface {
	// Lookup returns the Definition at path, or nil if there is none.
	//
	// Paths are dot-separated field names. A relative path is resolved against
	// the innermost scope first, then against each enclosing scope.
	Lookup(path string) Definition
}

// Definition is a decoded value.
//
// Definitions are immutable once returned by their Declaration.
type Definition interface {
	// Declaration returns the Declaration that produced this value.
	Declaration() Declaration
	// Name returns the field name this value was decoded as.
	Name() string
	// Scope returns the scope this value was decoded in. It may be nil.
	Scope() Scope
	// String renders the value.
	String() string
}

// localScope is implemented by composite Definitions that can resolve a path
// among their own children, without consulting their parent.
type localScope interface {
	lookupLocal(path string) Definition
}

type definition struct {
	name  string
	scope Scope
}

func (d *definition) Name() string { return d.name }
func (d *definition) Scope() Scope { return d.scope }

func (d *definition) parentLookup(path string) Definition {
	if d.scope == nil {
		return nil
	}
	return d.scope.Lookup(path)
}

func splitPath(path string) (head, rest string) {
	if idx := strings.IndexByte(path, '.'); idx >= 0 {
		return path[:idx], path[idx+1:]
	}
	return path, ""
}

func descend(d Definition, rest string) Definition {
	if rest == "" {
		return d
	}
	if ls, ok := d.(localScope); ok {
		return ls.lookupLocal(rest)
	}
	return nil
}
