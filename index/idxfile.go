// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package index

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"os"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// FileMagic is the magic number at the start of an LTTng packet index file.
const FileMagic = 0xC1F1DCC1

// DirName is the name of the index directory within a trace directory. The
// index file for channel "foo" is DirName/foo.idx.
const DirName = "index"

// FileSuffix is the suffix of an index file.
const FileSuffix = ".idx"

// ErrBadIndexFile is returned when an index file cannot be parsed.
var ErrBadIndexFile = errors.New("bad index file")

const (
	fileMajor = 1
	fileMinor = 1

	// entryV10Size is the size of a 1.0 entry (seven fields), and entryV11Size
	// of a 1.1 entry.
	entryV10Size = 7 * 8
	entryV11Size = 9 * 8
)

// fileHeader is the header of an index file. All fields are big endian.
type fileHeader struct {
	Magic     uint32 `struc:",big"`
	Major     uint32 `struc:",big"`
	Minor     uint32 `struc:",big"`
	EntrySize uint32 `struc:",big"`
}

// fileEntry is one packet entry in an index file.
type fileEntry struct {
	Offset           uint64 `struc:",big"`
	PacketSize       uint64 `struc:",big"`
	ContentSize      uint64 `struc:",big"`
	TimestampBegin   uint64 `struc:",big"`
	TimestampEnd     uint64 `struc:",big"`
	EventsDiscarded  uint64 `struc:",big"`
	StreamID         uint64 `struc:",big"`
	StreamInstanceID uint64 `struc:",big"`
	PacketSeqNum     uint64 `struc:",big"`
}

// WriteFile writes entries to an index file at path.
func WriteFile(path string, entries []Entry) (err error) {
	fd, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating index file")
	}
	defer func() {
		if closeErr := fd.Close(); err == nil {
			err = closeErr
		}
	}()

	bw := bufio.NewWriter(fd)
	if err := Write(bw, entries); err != nil {
		return err
	}
	return bw.Flush()
}

// Write encodes entries as an index file to w.
func Write(w io.Writer, entries []Entry) error {
	hdr := fileHeader{
		Magic:     FileMagic,
		Major:     fileMajor,
		Minor:     fileMinor,
		EntrySize: entryV11Size,
	}
	if err := struc.Pack(w, &hdr); err != nil {
		return errors.Wrap(err, "writing index header")
	}

	for i := range entries {
		e := &entries[i]
		fe := fileEntry{
			Offset:           uint64(e.Offset),
			PacketSize:       uint64(e.PacketSize),
			ContentSize:      uint64(e.ContentSize),
			TimestampBegin:   uint64(e.TimestampBegin),
			TimestampEnd:     uint64(e.TimestampEnd),
			EventsDiscarded:  e.EventsDiscarded,
			StreamID:         uint64(e.StreamID),
			StreamInstanceID: math.MaxUint64,
			PacketSeqNum:     math.MaxUint64,
		}
		if e.StreamInstanceID >= 0 {
			fe.StreamInstanceID = uint64(e.StreamInstanceID)
		}
		if e.SeqNum >= 0 {
			fe.PacketSeqNum = uint64(e.SeqNum)
		}
		if err := struc.Pack(w, &fe); err != nil {
			return errors.Wrapf(err, "writing index entry #%d", i)
		}
	}
	return nil
}

// ReadFile reads the index file at path.
func ReadFile(path string) ([]Entry, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	return Read(bufio.NewReader(fd))
}

// Read decodes an index file from r.
//
// The returned entries carry no CPU or packet context, and LostEvents is
// derived from consecutive EventsDiscarded counters.
func Read(r io.Reader) ([]Entry, error) {
	var hdr fileHeader
	if err := struc.Unpack(r, &hdr); err != nil {
		return nil, errors.Wrapf(ErrBadIndexFile, "reading header: %s", err)
	}
	switch {
	case hdr.Magic != FileMagic:
		return nil, errors.Wrapf(ErrBadIndexFile, "bad magic 0x%08X", hdr.Magic)
	case hdr.Major != fileMajor:
		return nil, errors.Wrapf(ErrBadIndexFile, "unsupported version %d.%d", hdr.Major, hdr.Minor)
	case hdr.EntrySize < entryV10Size:
		return nil, errors.Wrapf(ErrBadIndexFile, "entry size %d is too small", hdr.EntrySize)
	}

	var (
		entries []Entry
		prev    uint64
		raw     = make([]byte, hdr.EntrySize)
	)
	for {
		switch _, err := io.ReadFull(r, raw); err {
		case nil:
		case io.EOF:
			return entries, nil
		default:
			return nil, errors.Wrapf(ErrBadIndexFile, "reading entry #%d: %s", len(entries), err)
		}

		var fe fileEntry
		fe.StreamInstanceID, fe.PacketSeqNum = math.MaxUint64, math.MaxUint64
		if err := unpackEntry(raw, &fe); err != nil {
			return nil, errors.Wrapf(ErrBadIndexFile, "decoding entry #%d: %s", len(entries), err)
		}

		e := Entry{
			Offset:           int64(fe.Offset),
			PacketSize:       int64(fe.PacketSize),
			ContentSize:      int64(fe.ContentSize),
			TimestampBegin:   int64(fe.TimestampBegin),
			TimestampEnd:     int64(fe.TimestampEnd),
			EventsDiscarded:  fe.EventsDiscarded,
			CPU:              -1,
			StreamID:         int64(fe.StreamID),
			StreamInstanceID: -1,
			SeqNum:           -1,
		}
		if fe.StreamInstanceID != math.MaxUint64 {
			e.StreamInstanceID = int64(fe.StreamInstanceID)
		}
		if fe.PacketSeqNum != math.MaxUint64 {
			e.SeqNum = int64(fe.PacketSeqNum)
		}
		if fe.EventsDiscarded >= prev {
			e.LostEvents = fe.EventsDiscarded - prev
		}
		prev = fe.EventsDiscarded
		entries = append(entries, e)
	}
}

// unpackEntry decodes the fields present in raw. Version 1.0 entries lack the
// last two fields; entries larger than 1.1 carry fields this package ignores.
func unpackEntry(raw []byte, fe *fileEntry) error {
	if len(raw) >= entryV11Size {
		return struc.Unpack(bytes.NewReader(raw[:entryV11Size]), fe)
	}

	var v10 struct {
		Offset          uint64 `struc:",big"`
		PacketSize      uint64 `struc:",big"`
		ContentSize     uint64 `struc:",big"`
		TimestampBegin  uint64 `struc:",big"`
		TimestampEnd    uint64 `struc:",big"`
		EventsDiscarded uint64 `struc:",big"`
		StreamID        uint64 `struc:",big"`
	}
	if err := struc.Unpack(bytes.NewReader(raw[:entryV10Size]), &v10); err != nil {
		return err
	}
	fe.Offset, fe.PacketSize, fe.ContentSize = v10.Offset, v10.PacketSize, v10.ContentSize
	fe.TimestampBegin, fe.TimestampEnd = v10.TimestampBegin, v10.TimestampEnd
	fe.EventsDiscarded, fe.StreamID = v10.EventsDiscarded, v10.StreamID
	return nil
}
