// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package index implements the per-channel packet index.
//
// A channel file is a sequence of packets. Index holds one Entry per packet,
// ordered by file offset, and supports binary search by timestamp. It is
// append-only: a growing channel is indexed by scanning past the last indexed
// packet and appending what it finds.
package index

import (
	"math"
	"sort"
	"sync"

	"github.com/danjacques/goctf/types"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfOrder is returned when an appended Entry would break the ordering
	// of the index.
	ErrOutOfOrder = errors.New("packet out of order")

	// ErrInvalidEntry is returned when an appended Entry is not self-consistent.
	ErrInvalidEntry = errors.New("invalid packet entry")
)

// Entry describes a single packet.
type Entry struct {
	// Offset is the packet's byte offset in the channel file.
	Offset int64
	// PacketSize is the packet's size, in bits, including padding.
	PacketSize int64
	// ContentSize is the size of the packet's content, in bits.
	ContentSize int64
	// HeaderBits is the size of the packet header and context, in bits. Events
	// begin after it. Zero if unknown.
	HeaderBits int64

	// TimestampBegin and TimestampEnd bound the packet's events, in raw clock
	// cycles.
	TimestampBegin int64
	TimestampEnd   int64

	// EventsDiscarded is the stream's cumulative discarded events counter, as
	// recorded in this packet.
	EventsDiscarded uint64
	// LostEvents is the number of events discarded between the previous packet
	// and this one.
	LostEvents uint64

	// CPU is the recording CPU, or -1 if the packet does not say.
	CPU int
	// StreamID is the id of the stream the packet belongs to.
	StreamID int64
	// StreamInstanceID is the stream instance id, or -1.
	StreamInstanceID int64
	// SeqNum is the packet sequence number, or -1.
	SeqNum int64

	// Header and Context are the packet's decoded header and context. Either
	// may be nil: the stream may not declare one, or the entry may have been
	// loaded from an index file.
	Header  *types.StructDefinition
	Context *types.StructDefinition
}

// End returns the byte offset just past the packet.
func (e *Entry) End() int64 { return e.Offset + e.PacketSize/8 }

// Contains returns true if ts lies within the packet's time bounds.
func (e *Entry) Contains(ts int64) bool { return e.TimestampBegin <= ts && ts <= e.TimestampEnd }

// HasTimestamps returns true if the packet declares its time bounds.
func (e *Entry) HasTimestamps() bool {
	return !(e.TimestampBegin == 0 && e.TimestampEnd == math.MaxInt64)
}

func (e *Entry) validate() error {
	switch {
	case e.Offset < 0:
		return errors.Wrapf(ErrInvalidEntry, "negative offset %d", e.Offset)
	case e.PacketSize <= 0 || e.PacketSize%8 != 0:
		return errors.Wrapf(ErrInvalidEntry, "packet size of %d bits", e.PacketSize)
	case e.ContentSize < 0 || e.ContentSize > e.PacketSize:
		return errors.Wrapf(ErrInvalidEntry, "content size %d exceeds packet size %d", e.ContentSize, e.PacketSize)
	case e.HeaderBits > e.ContentSize:
		return errors.Wrapf(ErrInvalidEntry, "header of %d bits exceeds content size %d", e.HeaderBits, e.ContentSize)
	case e.TimestampEnd < e.TimestampBegin:
		return errors.Wrapf(ErrInvalidEntry, "packet ends (%d) before it begins (%d)", e.TimestampEnd, e.TimestampBegin)
	}
	return nil
}

// Index is an append-only list of packet entries for one channel.
//
// Index is safe for concurrent use. Appends are serialized; readers observe
// either all or none of an append.
type Index struct {
	mu      sync.RWMutex
	entries []Entry
}

// Append adds e to the end of the index.
//
// Append is idempotent: appending an entry that describes a packet already in
// the index (same offset and size) returns false and no error. An entry that
// overlaps an indexed packet, or that begins earlier than the last indexed
// packet, is rejected.
func (ix *Index) Append(e Entry) (bool, error) {
	if err := e.validate(); err != nil {
		return false, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if n := len(ix.entries); n > 0 {
		last := &ix.entries[n-1]
		if e.Offset < last.End() {
			i := sort.Search(n, func(i int) bool { return ix.entries[i].Offset >= e.Offset })
			if i < n && ix.entries[i].Offset == e.Offset && ix.entries[i].PacketSize == e.PacketSize {
				return false, nil
			}
			return false, errors.Wrapf(ErrOutOfOrder, "packet at %d overlaps packet at %d", e.Offset, last.Offset)
		}
		if e.TimestampBegin < last.TimestampBegin {
			return false, errors.Wrapf(ErrOutOfOrder, "packet at %d begins at %d, before previous packet (%d)",
				e.Offset, e.TimestampBegin, last.TimestampBegin)
		}
	}

	ix.entries = append(ix.entries, e)
	return true, nil
}

// Snapshot returns the current entries.
//
// The returned slice is immutable, and remains valid after further appends.
func (ix *Index) Snapshot() []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.entries[:len(ix.entries):len(ix.entries)]
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Get returns the i'th entry.
func (ix *Index) Get(i int) (Entry, bool) {
	s := ix.Snapshot()
	if i < 0 || i >= len(s) {
		return Entry{}, false
	}
	return s[i], true
}

// Last returns the last entry.
func (ix *Index) Last() (Entry, bool) { return ix.Get(ix.Len() - 1) }

// EndOffset returns the byte offset just past the last indexed packet.
func (ix *Index) EndOffset() int64 {
	if e, ok := ix.Last(); ok {
		return e.End()
	}
	return 0
}

// TimestampBegin returns the first packet's begin timestamp.
func (ix *Index) TimestampBegin() (int64, bool) {
	if e, ok := ix.Get(0); ok {
		return e.TimestampBegin, true
	}
	return 0, false
}

// TimestampEnd returns the highest packet end timestamp.
func (ix *Index) TimestampEnd() (int64, bool) {
	s := ix.Snapshot()
	if len(s) == 0 {
		return 0, false
	}
	end := s[0].TimestampEnd
	for i := range s[1:] {
		if v := s[i+1].TimestampEnd; v > end {
			end = v
		}
	}
	return end, true
}

// Search returns the index of the last entry whose TimestampBegin is <= ts.
func (ix *Index) Search(ts int64) (int, bool) { return Search(ix.Snapshot(), ts) }

// Search returns the index of the last entry in entries whose TimestampBegin
// is <= ts. entries must be ordered as an Index orders them.
func Search(entries []Entry, ts int64) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].TimestampBegin > ts }) - 1
	if i < 0 {
		return -1, false
	}
	return i, true
}
