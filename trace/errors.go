// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"fmt"

	"github.com/danjacques/goctf/index"
	"github.com/danjacques/goctf/support/bitbuffer"
	"github.com/danjacques/goctf/support/fmtutil"
	"github.com/danjacques/goctf/types"

	"github.com/pkg/errors"
)

var (
	// ErrBadMagic is returned when a packet header's magic number is wrong.
	ErrBadMagic = errors.New("bad packet magic")

	// ErrUUIDMismatch is returned when a packet header's UUID differs from the
	// trace's.
	ErrUUIDMismatch = errors.New("packet UUID does not match trace")

	// ErrUnknownStream is returned when a packet names a stream that the trace
	// does not declare, or a channel changes streams.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrUnknownEvent is returned when an event record names an event that its
	// stream does not declare.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrMalformedPacket is returned when a packet's sizes are inconsistent.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrNotChannel is returned when a file that is not a channel, such as the
	// metadata file, is added as one.
	ErrNotChannel = errors.New("not a channel file")

	// ErrClosed is returned when using a closed reader or trace.
	ErrClosed = errors.New("closed")
)

// DecodeError is returned when a channel's bytes cannot be decoded.
type DecodeError struct {
	// Path is the channel file's path.
	Path string
	// Offset is the byte offset of the offending packet.
	Offset int64
	// Head holds the first bytes of the offending packet, if available.
	Head fmtutil.HexSlice
	// Err is the underlying error.
	Err error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s: packet at offset %d: %s", e.Path, e.Offset, e.Err)
	if len(e.Head) > 0 {
		msg += fmt.Sprintf(" (begins %s)", e.Head)
	}
	return msg
}

// Cause returns the underlying error, for errors.Cause.
func (e *DecodeError) Cause() error { return e.Err }

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error { return e.Err }

const decodeErrorHeadSize = 16

func newDecodeError(path string, offset int64, data []byte, err error) *DecodeError {
	if len(data) > decodeErrorHeadSize {
		data = data[:decodeErrorHeadSize]
	}
	return &DecodeError{
		Path:   path,
		Offset: offset,
		Head:   append(fmtutil.HexSlice(nil), data...),
		Err:    err,
	}
}

// IsMalformed returns true if err describes malformed trace data, as opposed to
// a resource error.
func IsMalformed(err error) bool {
	if err == nil {
		return false
	}
	switch errors.Cause(err) {
	case bitbuffer.ErrOutOfBounds,
		types.ErrInvalidDeclaration,
		types.ErrUnresolvedLength,
		types.ErrUnresolvedTag,
		types.ErrNoVariantMember,
		index.ErrOutOfOrder,
		index.ErrInvalidEntry,
		ErrBadMagic,
		ErrUUIDMismatch,
		ErrUnknownStream,
		ErrUnknownEvent,
		ErrMalformedPacket:
		return true
	default:
		return false
	}
}

// errorType returns a short monitoring label for err.
func errorType(err error) string {
	switch errors.Cause(err) {
	case bitbuffer.ErrOutOfBounds:
		return "out_of_bounds"
	case types.ErrUnresolvedLength, types.ErrUnresolvedTag, types.ErrNoVariantMember:
		return "unresolved"
	case types.ErrInvalidDeclaration:
		return "declaration"
	case index.ErrOutOfOrder, index.ErrInvalidEntry, ErrMalformedPacket:
		return "packet"
	case ErrBadMagic, ErrUUIDMismatch:
		return "header"
	case ErrUnknownStream:
		return "stream"
	case ErrUnknownEvent:
		return "event"
	default:
		return "io"
	}
}
