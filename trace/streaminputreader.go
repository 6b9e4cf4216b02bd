// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"github.com/danjacques/goctf/index"
	"github.com/danjacques/goctf/support/dataio"

	"github.com/pkg/errors"
)

// Response is the result of a successful read.
type Response int

const (
	// OK means that a new current event is available.
	OK Response = iota
	// End means that the channel has no more events. The current event is left
	// unchanged.
	End
)

func (r Response) String() string {
	switch r {
	case OK:
		return "OK"
	case End:
		return "END"
	default:
		return "UNKNOWN"
	}
}

type readerState int

const (
	stateUninitialized readerState = iota
	stateHasEvent
	stateEnd
)

// StreamInputReader reads the events of a single channel in order.
//
// A StreamInputReader owns its own file handle and current-event state. It is
// not safe for concurrent use, but independent readers (including copies made
// by CopyFrom) may be used concurrently.
type StreamInputReader struct {
	si  *StreamInput
	src dataio.Source

	// packetIdx is the index of the loaded packet, or -1.
	packetIdx int
	pr        packetReader

	current *EventDefinition
	state   readerState
	closed  bool
}

// NewStreamInputReader creates a reader positioned before the first event of
// si.
func NewStreamInputReader(si *StreamInput) (*StreamInputReader, error) {
	src, err := dataio.OpenFile(si.path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening channel %q", si.name)
	}
	return newStreamInputReader(si, src), nil
}

func newStreamInputReader(si *StreamInput, src dataio.Source) *StreamInputReader {
	readersOpenGauge.Inc()
	return &StreamInputReader{
		si:        si,
		src:       src,
		packetIdx: -1,
		pr:        packetReader{si: si},
	}
}

// Input returns the channel being read.
func (r *StreamInputReader) Input() *StreamInput { return r.si }

// Name returns the channel's file name.
func (r *StreamInputReader) Name() string { return r.si.name }

// Current returns the current event, or nil if no event has been read.
func (r *StreamInputReader) Current() *EventDefinition { return r.current }

// PacketIndex returns the index of the packet holding the current position,
// or -1.
func (r *StreamInputReader) PacketIndex() int { return r.packetIdx }

// CPU returns the CPU of the current packet, or -1.
func (r *StreamInputReader) CPU() int {
	if !r.pr.loaded() {
		return -1
	}
	return r.pr.entry.CPU
}

// ReadNextEvent advances to the next event.
//
// It returns End when the channel has no more indexed events; after the
// channel's StreamInput is updated, ReadNextEvent may return OK again. An
// error is returned only for malformed data, as a *DecodeError.
func (r *StreamInputReader) ReadNextEvent() (Response, error) {
	if r.closed {
		return End, ErrClosed
	}

	for {
		if r.pr.loaded() {
			ev, err := r.pr.next()
			if err != nil {
				return End, r.decodeError(err)
			}
			if ev != nil {
				r.current, r.state = ev, stateHasEvent
				return OK, nil
			}
		}

		switch ok, err := r.loadPacket(r.packetIdx + 1); {
		case err != nil:
			return End, err
		case !ok:
			r.state = stateEnd
			return End, nil
		}
	}
}

// loadPacket loads packet i. It returns false if there is no such packet.
func (r *StreamInputReader) loadPacket(i int) (bool, error) {
	entries := r.si.index.Snapshot()
	if i < 0 || i >= len(entries) {
		return false, nil
	}

	prevEnd := int64(-1)
	if i > 0 {
		prevEnd = entries[i-1].TimestampEnd
	}

	r.packetIdx = i
	if err := r.pr.load(r.src, &entries[i], prevEnd); err != nil {
		return true, r.decodeError(err)
	}
	return true, nil
}

func (r *StreamInputReader) decodeError(err error) error {
	if _, ok := err.(*DecodeError); ok {
		return err
	}
	var (
		off  int64
		data []byte
	)
	if e, ok := r.si.index.Get(r.packetIdx); ok {
		off = e.Offset
	}
	if r.pr.loaded() {
		data = r.pr.buf.Bytes()
	}
	return newDecodeError(r.si.path, off, data, err)
}

// Seek positions the reader on the first event whose timestamp, in cycles, is
// at least ts. It returns false if there is no such event.
//
// If ts falls between two packets, the reader lands on the first event of the
// later one.
func (r *StreamInputReader) Seek(ts int64) (bool, error) {
	if r.closed {
		return false, ErrClosed
	}

	entries := r.si.index.Snapshot()
	i, ok := index.Search(entries, ts)
	if !ok {
		i = 0
	}
	// Earlier packets that end at or after ts may hold events at ts.
	for i > 0 && entries[i-1].TimestampEnd >= ts {
		i--
	}

	r.resetPosition(i - 1)
	for {
		resp, err := r.ReadNextEvent()
		if err != nil {
			return false, err
		}
		if resp == End {
			return false, nil
		}
		if r.current.timestamp >= ts {
			return true, nil
		}
	}
}

// GoToLastEvent positions the reader on the channel's last event. It returns
// false if the channel has no events.
//
// The next ReadNextEvent returns End unless the channel grows.
func (r *StreamInputReader) GoToLastEvent() (bool, error) {
	if r.closed {
		return false, ErrClosed
	}

	for i := r.si.index.Len() - 1; i >= 0; i-- {
		r.resetPosition(-1)
		switch ok, err := r.loadPacket(i); {
		case err != nil:
			return false, err
		case !ok:
			continue
		}

		var last *EventDefinition
		for {
			ev, err := r.pr.next()
			if err != nil {
				return false, r.decodeError(err)
			}
			if ev == nil {
				break
			}
			last = ev
		}
		if last != nil {
			r.current, r.state = last, stateHasEvent
			return true, nil
		}
	}

	r.resetPosition(r.si.index.Len() - 1)
	r.state = stateEnd
	return false, nil
}

// resetPosition discards the loaded packet so that the next read begins with
// packet i+1.
func (r *StreamInputReader) resetPosition(i int) {
	r.pr.release()
	r.packetIdx = i
	r.current = nil
	r.state = stateUninitialized
}

// CopyFrom returns an independent reader at the same position as r.
//
// The copy opens its own file handle and shares r's current packet buffer,
// which is never modified.
func (r *StreamInputReader) CopyFrom() (*StreamInputReader, error) {
	if r.closed {
		return nil, ErrClosed
	}

	src, err := dataio.OpenFile(r.si.path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening channel %q", r.si.name)
	}

	c := newStreamInputReader(r.si, src)
	c.packetIdx = r.packetIdx
	c.pr.copyFrom(&r.pr)
	c.current = r.current
	c.state = r.state
	return c, nil
}

// Close releases the reader's resources. Close may be called more than once.
func (r *StreamInputReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.pr.release()
	readersOpenGauge.Dec()
	return r.src.Close()
}
