// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package fmtutil contains formatting helpers for binary diagnostics.
package fmtutil

import (
	"bytes"
	"fmt"
)

// HexSlice is a byte slice that renders as space-separated hex bytes, such as
// "c1 1f fc c1".
//
// It is used to render the leading bytes of a malformed packet lazily.
type HexSlice []byte

func (hs HexSlice) String() string {
	var sb bytes.Buffer
	sb.Grow(3 * len(hs))
	for i, b := range hs {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

// BitPosition is a bit offset that renders in bytes and bits, such as
// "byte 12+3". Byte-aligned positions render as "byte 12".
type BitPosition int64

func (bp BitPosition) String() string {
	if bp < 0 {
		return fmt.Sprintf("bit %d", int64(bp))
	}
	if rem := bp % 8; rem != 0 {
		return fmt.Sprintf("byte %d+%d", bp/8, rem)
	}
	return fmt.Sprintf("byte %d", bp/8)
}
