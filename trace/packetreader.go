// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"github.com/danjacques/goctf/index"
	"github.com/danjacques/goctf/support/bitbuffer"
	"github.com/danjacques/goctf/support/bufferpool"
	"github.com/danjacques/goctf/support/dataio"
	"github.com/danjacques/goctf/types"

	"github.com/pkg/errors"
)

// packetReader decodes the events of a single packet.
type packetReader struct {
	si *StreamInput

	// buf holds the packet's bytes. It may be shared with copies, and is never
	// written after it is loaded.
	buf    *bufferpool.Buffer
	b      bitbuffer.B
	entry  index.Entry
	stream *Stream
	scope  *packetScope

	// prevEnd is the previous packet's end timestamp, or -1.
	prevEnd int64
	// lastTS is the timestamp of the last event decoded, used to reconstruct
	// truncated event header timestamps.
	lastTS int64
	// pendingLost is true if the packet's lost-event record has not been
	// emitted yet.
	pendingLost bool
}

func (pr *packetReader) loaded() bool { return pr.buf != nil }

// load reads the packet described by e from src, replacing the current one.
func (pr *packetReader) load(src dataio.Source, e *index.Entry, prevEnd int64) error {
	pr.release()

	buf := pr.si.trace.cfg.bufferPool().Get(int(e.PacketSize / 8))
	if err := dataio.ReadFullAt(src, buf.Bytes(), e.Offset); err != nil {
		buf.Release()
		return errors.Wrapf(err, "reading packet at %d", e.Offset)
	}

	pr.b = bitbuffer.B{Buffer: buf.Bytes()}
	pe, scope, err := pr.si.decodePacket(&pr.b, e.Offset, e.PacketSize/8)
	if err != nil {
		buf.Release()
		return err
	}
	pr.b.SetLimit(e.ContentSize)

	pr.buf = buf
	pr.entry = *e
	pr.entry.HeaderBits = pe.HeaderBits
	if pr.entry.CPU < 0 {
		// Entries loaded from index files carry no context.
		pr.entry.CPU = pe.CPU
	}
	pr.stream = pr.si.trace.Stream(pe.StreamID)
	pr.scope = scope
	pr.prevEnd = prevEnd
	pr.lastTS = e.TimestampBegin
	pr.pendingLost = e.LostEvents > 0
	return nil
}

func (pr *packetReader) release() {
	if pr.buf != nil {
		pr.buf.Release()
		pr.buf = nil
	}
}

// copyFrom makes pr a copy of other, sharing its packet buffer.
func (pr *packetReader) copyFrom(other *packetReader) {
	pr.release()
	*pr = *other
	if pr.buf != nil {
		pr.buf.Retain()
	}
}

// next decodes the next event in the packet. It returns nil when the packet
// has no more events.
func (pr *packetReader) next() (*EventDefinition, error) {
	if pr.pendingLost {
		pr.pendingLost = false
		return pr.lostEvent(), nil
	}
	if pr.b.Remaining() <= 0 {
		return nil, nil
	}
	return pr.decodeEvent()
}

func (pr *packetReader) newEvent(decl *EventDeclaration, ts int64) *EventDefinition {
	return &EventDefinition{
		decl:      decl,
		timestamp: ts,
		cpu:       pr.entry.CPU,
		input:     pr.si,
		packet:    pr.scope,
	}
}

func (pr *packetReader) lostEvent() *EventDefinition {
	var duration uint64
	if pr.prevEnd >= 0 && pr.prevEnd < pr.entry.TimestampBegin {
		duration = uint64(pr.entry.TimestampBegin - pr.prevEnd)
	}

	ev := pr.newEvent(LostEventDeclaration, pr.entry.TimestampBegin)
	ev.fields = types.NewStructDefinition(LostEventDeclaration.Fields, ev, scopeEventFields,
		types.NewIntegerDefinition(lostEventFieldType, ev, LostEventsField, pr.entry.LostEvents),
		types.NewIntegerDefinition(lostEventFieldType, ev, LostEventsDurationField, duration))
	lostEvents.Add(float64(pr.entry.LostEvents))
	return ev
}

func (pr *packetReader) decodeEvent() (*EventDefinition, error) {
	s := pr.stream
	ev := pr.newEvent(nil, pr.lastTS)

	var (
		id    int64
		hasID bool
	)
	if eh := s.EventHeader; eh != nil {
		hdr, err := decodeScope(eh, ev, scopeEventHeader, &pr.b, &ev.header)
		if err != nil {
			return nil, errors.Wrap(err, "decoding event header")
		}
		id, hasID = headerID(hdr)
		if tsDef := headerTimestamp(hdr); tsDef != nil {
			ev.timestamp = reconstructTimestamp(pr.lastTS, tsDef.Uint64(), tsDef.IntegerDeclaration().Length)
		}
	}

	if ec := s.EventContext; ec != nil {
		if _, err := decodeScope(ec, ev, scopeStreamEventContext, &pr.b, &ev.streamContext); err != nil {
			return nil, errors.Wrap(err, "decoding stream event context")
		}
	}

	switch {
	case hasID:
		ev.decl = s.Event(id)
	case s.EventHeader == nil:
		ev.decl = s.onlyEvent()
	}
	if ev.decl == nil {
		if hasID {
			return nil, errors.Wrapf(ErrUnknownEvent, "stream %d has no event %d", s.ID, id)
		}
		return nil, errors.Wrapf(ErrUnknownEvent, "stream %d event header has no id", s.ID)
	}

	if c := ev.decl.Context; c != nil {
		if _, err := decodeScope(c, ev, scopeEventContext, &pr.b, &ev.context); err != nil {
			return nil, errors.Wrapf(err, "decoding event %q context", ev.decl.Name)
		}
	}
	if f := ev.decl.Fields; f != nil {
		if _, err := decodeScope(f, ev, scopeEventFields, &pr.b, &ev.fields); err != nil {
			return nil, errors.Wrapf(err, "decoding event %q fields", ev.decl.Name)
		}
	}

	pr.lastTS = ev.timestamp
	eventsRead.Inc()
	return ev, nil
}

// decodeScope decodes one of an event's scopes, publishing it to *dst as it is
// decoded so later fields can refer to earlier ones by absolute path.
func decodeScope(s *types.Struct, ev *EventDefinition, name string, b *bitbuffer.B,
	dst **types.StructDefinition) (*types.StructDefinition, error) {

	if err := b.Align(s.Alignment()); err != nil {
		return nil, err
	}
	return s.DecodeBound(ev, name, b, func(d *types.StructDefinition) { *dst = d })
}

// headerID returns the event id from an event header. Extended LTTng headers
// carry it in their "v" variant; otherwise it is the header's "id".
func headerID(hdr *types.StructDefinition) (int64, bool) {
	if v, ok := hdr.Field("v").(*types.VariantDefinition); ok {
		if id, ok := v.Lookup("id").(*types.IntegerDefinition); ok {
			return int64(id.Uint64()), true
		}
	}
	switch id := hdr.Field("id").(type) {
	case *types.EnumDefinition:
		return int64(id.Integer().Uint64()), true
	case *types.IntegerDefinition:
		return int64(id.Uint64()), true
	default:
		return 0, false
	}
}

// headerTimestamp returns the timestamp field of an event header, looking
// through its "v" variant if it has one.
func headerTimestamp(hdr *types.StructDefinition) *types.IntegerDefinition {
	if v, ok := hdr.Field("v").(*types.VariantDefinition); ok {
		if ts, ok := v.Lookup("timestamp").(*types.IntegerDefinition); ok {
			return ts
		}
	}
	ts, _ := hdr.Field("timestamp").(*types.IntegerDefinition)
	return ts
}

// reconstructTimestamp expands an n-bit timestamp into a full timestamp, given
// the previous full timestamp. The value is assumed to have wrapped at most
// once since prev.
func reconstructTimestamp(prev int64, value uint64, n int) int64 {
	if n >= 64 {
		return int64(value)
	}
	mask := uint64(1)<<uint(n) - 1
	p := uint64(prev)
	ts := (p &^ mask) | (value & mask)
	if value&mask < p&mask {
		ts += mask + 1
	}
	return int64(ts)
}
