// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/danjacques/goctf/index"
	"github.com/danjacques/goctf/support/bitbuffer"
	"github.com/danjacques/goctf/support/dataio"
	"github.com/danjacques/goctf/support/logging"
	"github.com/danjacques/goctf/types"

	"github.com/pkg/errors"
)

// errTruncated is returned internally when a packet extends past the end of
// the channel as currently written.
var errTruncated = errors.New("truncated packet")

// StreamInput is one channel file of a trace.
//
// A StreamInput owns its channel's packet index. The index is extended by
// Update, which may be called at any time to discover packets appended to a
// growing channel. StreamInput is safe for concurrent use.
type StreamInput struct {
	trace  *Trace
	logger logging.L
	path   string
	name   string
	order  int

	// src is used for scanning. Readers open their own.
	src dataio.Source

	index index.Index

	// stream is the stream the channel is bound to, set by the first packet.
	stream atomic.Pointer[Stream]

	// scanMu serializes growth scans.
	scanMu sync.Mutex
	// discarded is the last packet's cumulative discarded events counter.
	discarded uint64

	closeOnce sync.Once
	closeErr  error
}

func openStreamInput(t *Trace, path string, order int) (*StreamInput, error) {
	src, err := dataio.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening channel")
	}

	name := filepath.Base(path)
	si := StreamInput{
		trace:  t,
		logger: logging.Prefixed(t.logger, name),
		path:   path,
		name:   name,
		order:  order,
		src:    src,
	}
	if t.cfg != nil && t.cfg.UseIndexFiles {
		si.loadIndexFile()
	}
	return &si, nil
}

// Path returns the path of the channel file.
func (si *StreamInput) Path() string { return si.path }

// Name returns the channel's file name.
func (si *StreamInput) Name() string { return si.name }

// Trace returns the trace that si belongs to.
func (si *StreamInput) Trace() *Trace { return si.trace }

// Stream returns the stream that the channel is bound to, or nil if no packet
// has been indexed yet.
func (si *StreamInput) Stream() *Stream { return si.stream.Load() }

// Index returns the channel's packet index.
func (si *StreamInput) Index() *index.Index { return &si.index }

// TimestampEnd returns the highest packet end timestamp known, in cycles.
func (si *StreamInput) TimestampEnd() (int64, bool) { return si.index.TimestampEnd() }

// TimestampBegin returns the first packet's begin timestamp, in cycles.
func (si *StreamInput) TimestampBegin() (int64, bool) { return si.index.TimestampBegin() }

// Close closes the channel's scanning source. Readers created from si own
// their own sources and must be closed separately.
func (si *StreamInput) Close() error {
	si.closeOnce.Do(func() { si.closeErr = si.src.Close() })
	return si.closeErr
}

// Update scans the channel for packets appended since the last scan, adding
// them to the index. It returns true if any packets were added.
//
// A trailing packet that has not been completely written yet ends the scan
// without error; it is picked up by a later Update. A malformed packet returns
// a *DecodeError, and the index keeps every packet before it.
func (si *StreamInput) Update() (bool, error) {
	si.scanMu.Lock()
	defer si.scanMu.Unlock()

	growthScans.Inc()

	size, err := si.src.Size()
	if err != nil {
		return false, errors.Wrapf(err, "sizing channel %q", si.name)
	}

	added := false
	for off := si.index.EndOffset(); off < size; {
		e, err := si.scanPacket(off, size)
		switch errors.Cause(err) {
		case nil:
		case errTruncated:
			return added, nil
		default:
			return added, err
		}

		if e.EventsDiscarded > si.discarded {
			e.LostEvents = e.EventsDiscarded - si.discarded
		}

		ok, err := si.index.Append(*e)
		if err != nil {
			return added, newDecodeError(si.path, off, nil, err)
		}
		if ok {
			added = true
			packetsIndexed.Inc()
			si.bind(e.StreamID)
			si.discarded = e.EventsDiscarded
		}
		off = e.End()
	}
	return added, nil
}

// scanPacket decodes the packet header and context at off.
//
// Reads start at the configured chunk size and double until the header and
// context fit.
func (si *StreamInput) scanPacket(off, size int64) (*index.Entry, error) {
	pool := si.trace.cfg.bufferPool()
	remaining := size - off
	chunk := int64(si.trace.cfg.readChunkSize())

	for {
		if chunk > remaining {
			chunk = remaining
		}

		buf := pool.Get(int(chunk))
		if err := dataio.ReadFullAt(si.src, buf.Bytes(), off); err != nil {
			buf.Release()
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// The file shrank since we sized it.
				return nil, errTruncated
			}
			return nil, errors.Wrapf(err, "reading channel %q at %d", si.name, off)
		}

		e, _, err := si.decodePacket(bitbuffer.New(buf.Bytes()), off, remaining)
		if err != nil {
			if errors.Cause(err) == bitbuffer.ErrOutOfBounds {
				if chunk < remaining {
					buf.Release()
					chunk *= 2
					continue
				}
				// The header itself has not been completely written.
				buf.Release()
				return nil, errTruncated
			}

			derr := newDecodeError(si.path, off, buf.Bytes(), err)
			buf.Release()
			return nil, derr
		}
		buf.Release()

		if e.End() > size {
			si.logger.Debugf("Packet at offset %d declares %d bytes, past the end of the channel at %d; waiting for it.",
				off, e.PacketSize/8, size)
			return nil, errTruncated
		}
		return e, nil
	}
}

// decodePacket decodes the packet header and packet context at the beginning
// of b, a buffer holding the packet at off. remaining is the number of bytes
// from off to the end of the channel.
//
// On success, b is positioned at the first event, its limit is set to the
// packet's content size, and the returned scope holds the decoded header and
// context.
func (si *StreamInput) decodePacket(b *bitbuffer.B, off, remaining int64) (*index.Entry, *packetScope, error) {
	t := si.trace
	e := index.Entry{
		Offset:           off,
		CPU:              -1,
		StreamInstanceID: -1,
		SeqNum:           -1,
	}
	ps := &packetScope{}

	streamID := int64(0)
	if ph := t.packetHeader; ph != nil {
		if err := b.Align(ph.Alignment()); err != nil {
			return nil, nil, err
		}
		hdr, err := ph.DecodeBound(ps, scopeTracePacketHeader, b, func(d *types.StructDefinition) { ps.header = d })
		if err != nil {
			return nil, nil, errors.Wrap(err, "decoding packet header")
		}

		if v, ok := integerField(hdr, "magic"); ok && v != PacketMagic {
			return nil, nil, errors.Wrapf(ErrBadMagic, "magic is 0x%08X", v)
		}
		if err := t.checkUUID(hdr); err != nil {
			return nil, nil, err
		}
		if v, ok := integerField(hdr, "stream_id"); ok {
			streamID = int64(v)
		}
		if v, ok := integerField(hdr, "stream_instance_id"); ok {
			e.StreamInstanceID = int64(v)
		}
	}

	s := t.Stream(streamID)
	if s == nil {
		return nil, nil, errors.Wrapf(ErrUnknownStream, "stream id %d", streamID)
	}
	if bound := si.Stream(); bound != nil && bound.ID != streamID {
		return nil, nil, errors.Wrapf(ErrUnknownStream, "channel changed from stream %d to %d", bound.ID, streamID)
	}
	e.StreamID = streamID

	e.PacketSize = remaining * 8
	e.TimestampEnd = math.MaxInt64
	if pc := s.PacketContext; pc != nil {
		if err := b.Align(pc.Alignment()); err != nil {
			return nil, nil, err
		}
		ctx, err := pc.DecodeBound(ps, scopeStreamPacketContext, b, func(d *types.StructDefinition) { ps.context = d })
		if err != nil {
			return nil, nil, errors.Wrap(err, "decoding packet context")
		}

		if v, ok := integerField(ctx, "packet_size"); ok {
			e.PacketSize = int64(v)
		}
		e.ContentSize = e.PacketSize
		if v, ok := integerField(ctx, "content_size"); ok {
			e.ContentSize = int64(v)
		}
		if v, ok := integerField(ctx, "timestamp_begin"); ok {
			e.TimestampBegin = int64(v)
		}
		if v, ok := integerField(ctx, "timestamp_end"); ok {
			e.TimestampEnd = int64(v)
		}
		if v, ok := integerField(ctx, "events_discarded"); ok {
			e.EventsDiscarded = v
		}
		if v, ok := integerField(ctx, "cpu_id"); ok {
			e.CPU = int(v)
		}
		if v, ok := integerField(ctx, "packet_seq_num"); ok {
			e.SeqNum = int64(v)
		}
	} else {
		e.ContentSize = e.PacketSize
	}

	e.HeaderBits = b.Position()
	switch {
	case e.PacketSize <= 0 || e.PacketSize%8 != 0:
		return nil, nil, errors.Wrapf(ErrMalformedPacket, "packet size of %d bits", e.PacketSize)
	case e.ContentSize > e.PacketSize:
		return nil, nil, errors.Wrapf(ErrMalformedPacket, "content size %d exceeds packet size %d", e.ContentSize, e.PacketSize)
	case e.HeaderBits > e.ContentSize:
		return nil, nil, errors.Wrapf(ErrMalformedPacket, "header of %d bits exceeds content size %d", e.HeaderBits, e.ContentSize)
	case e.TimestampEnd < e.TimestampBegin:
		return nil, nil, errors.Wrapf(ErrMalformedPacket, "packet ends (%d) before it begins (%d)", e.TimestampEnd, e.TimestampBegin)
	}

	e.Header, e.Context = ps.header, ps.context
	return &e, ps, nil
}

func (si *StreamInput) bind(streamID int64) {
	if si.Stream() == nil {
		si.stream.Store(si.trace.Stream(streamID))
	}
}

// loadIndexFile seeds the index from the channel's LTTng index file. An index
// file that is missing, unreadable, or inconsistent with the channel is
// ignored, and the channel is scanned instead.
func (si *StreamInput) loadIndexFile() {
	log := si.logger
	path := filepath.Join(filepath.Dir(si.path), index.DirName, si.name+index.FileSuffix)

	entries, err := index.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("Ignoring index file %q: %s", path, err)
		}
		return
	}

	size, err := si.src.Size()
	if err != nil {
		log.Warnf("Ignoring index file %q: %s", path, err)
		return
	}

	var ix index.Index
	for i := range entries {
		e := &entries[i]
		switch {
		case e.End() > size:
			log.Warnf("Ignoring index file %q: packet #%d extends past the channel", path, i)
			return
		case si.trace.Stream(e.StreamID) == nil:
			log.Warnf("Ignoring index file %q: packet #%d names unknown stream %d", path, i, e.StreamID)
			return
		case i > 0 && e.StreamID != entries[0].StreamID:
			log.Warnf("Ignoring index file %q: channel changes streams at packet #%d", path, i)
			return
		}
		if _, err := ix.Append(*e); err != nil {
			log.Warnf("Ignoring index file %q: %s", path, err)
			return
		}
	}

	for i := range entries {
		_, _ = si.index.Append(entries[i])
	}
	if len(entries) > 0 {
		last := &entries[len(entries)-1]
		si.bind(last.StreamID)
		si.discarded = last.EventsDiscarded
		packetsIndexed.Add(float64(len(entries)))
	}
	log.Debugf("Loaded %d packet(s) from index file.", len(entries))
}

// integerField returns the value of the named integer or enum field of d.
func integerField(d *types.StructDefinition, name string) (uint64, bool) {
	if d == nil {
		return 0, false
	}
	switch f := d.Field(name).(type) {
	case *types.IntegerDefinition:
		return f.Uint64(), true
	case *types.EnumDefinition:
		return f.Integer().Uint64(), true
	default:
		return 0, false
	}
}
