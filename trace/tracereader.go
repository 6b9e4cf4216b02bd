// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"container/heap"
	"math"

	"github.com/danjacques/goctf/support/logging"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// cursor is one channel's position in a TraceReader's merge.
type cursor struct {
	r *StreamInputReader
	// order breaks timestamp ties. It is the channel's admission order.
	order int
	// pending is true if r's current event has not been delivered yet. Pending
	// cursors are in the heap.
	pending bool
	// dropped is true if the channel failed to decode and left the merge.
	dropped bool
}

func (c *cursor) less(o *cursor) bool {
	if ta, tb := c.r.current.timestamp, o.r.current.timestamp; ta != tb {
		return ta < tb
	}
	return c.order < o.order
}

// cursorHeap is a min-heap of pending cursors, implementing heap.Interface.
type cursorHeap []*cursor

func (h cursorHeap) Len() int            { return len(h) }
func (h cursorHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(v interface{}) { *h = append(*h, v.(*cursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	c := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return c
}

// TraceReader merges the events of every channel of a trace into a single
// sequence ordered by timestamp. Events with equal timestamps are ordered by
// their channels' admission order, so the sequence is deterministic.
//
// A TraceReader starts before the first event; Advance moves to the next
// event. A channel that fails to decode is dropped from the merge, and its
// error is logged and reported by Err. Other channels are unaffected.
//
// TraceReader is not safe for concurrent use. Use CopyFrom to obtain
// independent readers.
type TraceReader struct {
	t      *Trace
	logger logging.L

	cursors []*cursor
	byInput map[*StreamInput]*cursor
	heap    cursorHeap
	// excluded holds channels whose reader could not be created.
	excluded map[*StreamInput]struct{}

	current *EventDefinition
	errs    []error
	closed  bool
}

// NewTraceReader creates a reader over every channel currently in t.
//
// A channel that cannot be opened for reading is excluded from the merge, and
// its error is logged and reported by Err.
func NewTraceReader(t *Trace) (*TraceReader, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	tr := TraceReader{
		t:        t,
		logger:   t.logger,
		byInput:  make(map[*StreamInput]*cursor),
		excluded: make(map[*StreamInput]struct{}),
	}
	tr.admitInputs()
	return &tr, nil
}

// admitInputs creates cursors for trace channels that don't have one.
func (tr *TraceReader) admitInputs() {
	for _, si := range tr.t.StreamInputs() {
		if _, ok := tr.byInput[si]; ok {
			continue
		}
		if _, ok := tr.excluded[si]; ok {
			continue
		}
		if err := tr.admit(si); err != nil {
			tr.exclude(si, err)
		}
	}
}

func (tr *TraceReader) admit(si *StreamInput) error {
	r, err := NewStreamInputReader(si)
	if err != nil {
		return err
	}
	c := &cursor{r: r, order: si.order}
	tr.cursors = append(tr.cursors, c)
	tr.byInput[si] = c
	tr.readNext(c)
	return nil
}

// readNext advances c's reader and pushes c if it has an event.
func (tr *TraceReader) readNext(c *cursor) {
	resp, err := c.r.ReadNextEvent()
	if err != nil {
		tr.drop(c, err)
		return
	}
	if resp == OK {
		c.pending = true
		heap.Push(&tr.heap, c)
	}
}

// exclude keeps si out of the merge after its reader could not be created.
func (tr *TraceReader) exclude(si *StreamInput, err error) {
	tr.logger.Errorf("Excluding channel %q from the merge: %s", si.Name(), err)
	decodeErrors.WithLabelValues(errorType(err)).Inc()
	tr.errs = append(tr.errs, err)
	tr.excluded[si] = struct{}{}
}

// drop removes c from the merge after a decode error.
func (tr *TraceReader) drop(c *cursor, err error) {
	tr.logger.Errorf("Dropping channel %q from the merge: %s", c.r.Name(), err)
	decodeErrors.WithLabelValues(errorType(err)).Inc()
	tr.errs = append(tr.errs, err)

	c.pending, c.dropped = false, true
	for i, hc := range tr.heap {
		if hc == c {
			heap.Remove(&tr.heap, i)
			break
		}
	}
}

// Trace returns the trace being read.
func (tr *TraceReader) Trace() *Trace { return tr.t }

// Current returns the current event, or nil before the first Advance.
func (tr *TraceReader) Current() *EventDefinition { return tr.current }

// HasMoreEvents returns true if Advance would produce an event without an
// Update.
func (tr *TraceReader) HasMoreEvents() bool { return len(tr.heap) > 0 }

// Advance moves to the next event in timestamp order. It returns false when
// every channel is exhausted.
func (tr *TraceReader) Advance() bool {
	if tr.closed || len(tr.heap) == 0 {
		return false
	}

	c := heap.Pop(&tr.heap).(*cursor)
	c.pending = false
	tr.current = c.r.Current()
	tr.readNext(c)
	return true
}

// Seek positions the reader so that Current is the first event at or after ns,
// in nanoseconds since the Epoch. It returns false if there is no such event.
func (tr *TraceReader) Seek(ns int64) bool {
	if tr.closed {
		return false
	}

	ts := tr.t.NanosToCycles(ns)
	tr.heap = tr.heap[:0]
	tr.current = nil
	for _, c := range tr.cursors {
		c.pending = false
		if c.dropped {
			continue
		}

		found, err := c.r.Seek(ts)
		switch {
		case err != nil:
			tr.drop(c, err)
		case found:
			c.pending = true
			tr.heap = append(tr.heap, c)
		}
	}
	heap.Init(&tr.heap)
	return tr.Advance()
}

// GoToLastEvent positions the reader on the last event of the trace. It
// returns false if the trace has no events.
//
// The next Advance returns false unless the trace grows.
func (tr *TraceReader) GoToLastEvent() bool {
	if tr.closed {
		return false
	}

	tr.heap = tr.heap[:0]
	var last *cursor
	for _, c := range tr.cursors {
		c.pending = false
		if c.dropped {
			continue
		}

		found, err := c.r.GoToLastEvent()
		switch {
		case err != nil:
			tr.drop(c, err)
		case found && (last == nil || !c.less(last)):
			last = c
		}
	}

	if last == nil {
		tr.current = nil
		return false
	}
	tr.current = last.r.Current()
	return true
}

// AddStreamFile admits a new channel file to the trace and to the merge. Its
// first event is delivered in timestamp order by subsequent Advance calls.
func (tr *TraceReader) AddStreamFile(path string) error {
	if tr.closed {
		return ErrClosed
	}

	si, err := tr.t.AddStreamFile(path)
	if err != nil {
		return err
	}
	if _, ok := tr.byInput[si]; ok {
		return nil
	}
	if err := tr.admit(si); err != nil {
		tr.exclude(si, err)
		return err
	}
	return nil
}

// Update admits channels added to the trace, scans every channel for appended
// packets, and readmits exhausted channels that now have events.
//
// Update does not move the reader: the current event and every pending event
// are unchanged, so interleaving Update with Advance yields the same sequence
// as reading a completed trace.
func (tr *TraceReader) Update() error {
	if tr.closed {
		return ErrClosed
	}
	tr.admitInputs()

	var err error
	for _, c := range tr.cursors {
		if c.dropped {
			continue
		}
		if _, uerr := c.r.Input().Update(); uerr != nil {
			tr.logger.Warnf("Failed to scan channel %q: %s", c.r.Name(), uerr)
			decodeErrors.WithLabelValues(errorType(uerr)).Inc()
			err = multierr.Append(err, uerr)
		}
		if !c.pending {
			tr.readNext(c)
		}
	}
	return err
}

// CopyFrom returns an independent reader at the same position as tr.
func (tr *TraceReader) CopyFrom() (*TraceReader, error) {
	if tr.closed {
		return nil, ErrClosed
	}

	cp := TraceReader{
		t:        tr.t,
		logger:   tr.logger,
		byInput:  make(map[*StreamInput]*cursor, len(tr.cursors)),
		excluded: make(map[*StreamInput]struct{}, len(tr.excluded)),
		current:  tr.current,
		errs:     append([]error(nil), tr.errs...),
	}
	for si := range tr.excluded {
		cp.excluded[si] = struct{}{}
	}
	for _, c := range tr.cursors {
		r, err := c.r.CopyFrom()
		if err != nil {
			_ = cp.Close()
			return nil, errors.Wrapf(err, "copying channel %q", c.r.Name())
		}

		cc := &cursor{r: r, order: c.order, pending: c.pending, dropped: c.dropped}
		cp.cursors = append(cp.cursors, cc)
		cp.byInput[r.Input()] = cc
		if cc.pending {
			cp.heap = append(cp.heap, cc)
		}
	}
	heap.Init(&cp.heap)
	return &cp, nil
}

// StartTime returns the begin time of the trace's earliest packet, in
// nanoseconds since the Epoch.
func (tr *TraceReader) StartTime() int64 {
	start := int64(math.MaxInt64)
	for _, si := range tr.t.StreamInputs() {
		if ts, ok := si.TimestampBegin(); ok && ts < start {
			start = ts
		}
	}
	if start == math.MaxInt64 {
		return 0
	}
	return tr.t.CyclesToNanos(start)
}

// EndTime returns the end time of the trace's latest packet, in nanoseconds
// since the Epoch.
func (tr *TraceReader) EndTime() int64 {
	end, found := int64(math.MinInt64), false
	for _, si := range tr.t.StreamInputs() {
		if ts, ok := si.TimestampEnd(); ok && ts > end {
			end, found = ts, true
		}
	}
	if !found {
		return 0
	}
	return tr.t.CyclesToNanos(end)
}

// Err returns the errors of every channel excluded or dropped from the merge,
// combined, or nil.
func (tr *TraceReader) Err() error { return multierr.Combine(tr.errs...) }

// Close closes the reader's channel readers. It does not close the trace.
// Close may be called more than once.
func (tr *TraceReader) Close() error {
	if tr.closed {
		return nil
	}
	tr.closed = true

	var err error
	for _, c := range tr.cursors {
		err = multierr.Append(err, c.r.Close())
	}
	tr.heap = nil
	return err
}
