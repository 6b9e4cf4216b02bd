// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package stagingdir builds a directory tree in a temporary location and
// moves it into place once every file in it has been written.
//
// Readers of the destination see either the previous tree or the complete new
// one, never a partially written trace.
package stagingdir

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrInvalid is returned when using a staging directory that has already been
// committed or destroyed.
var ErrInvalid = errors.New("invalid staging directory")

// replacedSuffix is appended to the staging path to name the location that a
// replaced destination is moved to during Commit.
const replacedSuffix = ".replaced"

// D is a staging directory.
//
// A D is either committed, moving its tree to a destination, or destroyed,
// deleting it. Afterwards it is no longer valid.
type D struct {
	path string
}

// New creates a staging directory in tempDir, creating tempDir if needed. The
// directory's name begins with prefix.
//
// Commit renames the staging directory, so tempDir should be on the same
// file system as the eventual destination.
func New(tempDir, prefix string) (*D, error) {
	if tempDir != "" {
		if err := os.MkdirAll(tempDir, 0755); err != nil {
			return nil, errors.Wrap(err, "creating temporary directory")
		}
	}

	path, err := ioutil.TempDir(tempDir, prefix+".staging")
	if err != nil {
		return nil, errors.Wrap(err, "creating staging directory")
	}
	return &D{path: path}, nil
}

// Path returns the path of elem, joined, within the staging directory. With no
// elements, it returns the staging directory itself.
//
// Path panics if sd is no longer valid.
func (sd *D) Path(elem ...string) string {
	if sd.path == "" {
		panic(ErrInvalid)
	}
	if len(elem) == 0 {
		return sd.path
	}
	return filepath.Join(append([]string{sd.path}, elem...)...)
}

// MkdirAll creates the directory elem within the staging directory, along with
// any missing parents, and returns its path.
func (sd *D) MkdirAll(elem ...string) (string, error) {
	if sd.path == "" {
		return "", ErrInvalid
	}
	path := sd.Path(elem...)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", errors.Wrapf(err, "creating %q", path)
	}
	return path, nil
}

// Destroy deletes the staging directory and its contents. Destroying a
// committed or destroyed D does nothing.
func (sd *D) Destroy() error {
	if sd.path == "" {
		return nil
	}
	if err := os.RemoveAll(sd.path); err != nil {
		return err
	}
	sd.path = ""
	return nil
}

// Commit moves the staging directory to dest, replacing anything already
// there.
//
// If the move fails, a replaced destination is restored and sd remains valid,
// so the caller may retry or Destroy it.
func (sd *D) Commit(dest string) error {
	if sd.path == "" {
		return ErrInvalid
	}

	replaced := ""
	if _, err := os.Lstat(dest); err == nil {
		replaced = sd.path + replacedSuffix
		if err := os.Rename(dest, replaced); err != nil {
			return errors.Wrapf(err, "moving existing %q aside", dest)
		}
	}

	if err := os.Rename(sd.path, dest); err != nil {
		if replaced != "" {
			err = multierr.Append(err, os.Rename(replaced, dest))
		}
		return errors.Wrapf(err, "moving %q into place at %q", sd.path, dest)
	}
	sd.path = ""

	// The new tree is in place. The old one is only garbage now.
	if replaced != "" {
		_ = os.RemoveAll(replaced)
	}
	return nil
}
