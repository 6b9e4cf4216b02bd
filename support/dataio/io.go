// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package dataio contains random-access I/O helpers.
package dataio

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// Source is a random-access byte source whose size may grow over time.
type Source interface {
	io.ReaderAt
	io.Closer

	// Size returns the current size of the source, in bytes.
	Size() (int64, error)
}

// File is a Source backed by an operating system file.
type File struct {
	*os.File
}

var _ Source = (*File)(nil)

// OpenFile opens the file at path for reading as a Source.
func OpenFile(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &File{fd}, nil
}

// Size implements Source.
//
// The file is stat'd on every call, so Size observes growth.
func (f *File) Size() (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat")
	}
	return st.Size(), nil
}

// ReadFullAt reads len(buf) bytes from r starting at off.
//
// A read that fills buf and reports io.EOF is successful. A read that reaches
// the end of r before buf is filled returns io.ErrUnexpectedEOF, or io.EOF if
// no bytes were read at all.
func ReadFullAt(r io.ReaderAt, buf []byte, off int64) error {
	// Read until we fill our buffer or encounter an error. io.ReaderAt promises
	// a full read or an error, but we don't rely on it.
	for remaining := buf; len(remaining) > 0; {
		amt, err := r.ReadAt(remaining, off)
		remaining, off = remaining[amt:], off+int64(amt)
		if err != nil {
			switch {
			case err == io.EOF && len(remaining) == 0:
				// Finished read and returned EOF.
				return nil
			case err == io.EOF && len(remaining) < len(buf):
				return io.ErrUnexpectedEOF
			default:
				// Either did not finish read, or returned a non-EOF error.
				return err
			}
		}
		if amt == 0 {
			return io.ErrNoProgress
		}
	}
	return nil
}
