// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"bufio"
	"io"
	"os"
)

// Large buffer size (1MB), good for copying packets.
const packetCopyBufferSize = 1024 * 1024

// linkOrCopyFile makes dest hold the same bytes as src, as a hard link if the
// file system allows, else as a copy.
//
// Metadata is never rewritten in place, so sharing its inode with the source
// trace is safe.
func linkOrCopyFile(src, dest string) error {
	if err := os.Link(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := createBuffered(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// bufferedFile is a file written through a buffer.
type bufferedFile struct {
	*bufio.Writer

	closer io.Closer
}

func createBuffered(path string) (*bufferedFile, error) {
	fd, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &bufferedFile{
		Writer: bufio.NewWriterSize(fd, packetCopyBufferSize),
		closer: fd,
	}, nil
}

// Close flushes the buffer and closes the file.
func (bf *bufferedFile) Close() (err error) {
	// Always close our underlying file.
	defer func() {
		closeErr := bf.closer.Close()
		if err == nil {
			err = closeErr
		}
	}()

	err = bf.Flush()
	return
}
