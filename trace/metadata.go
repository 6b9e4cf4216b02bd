// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"math"
	"math/bits"
	"sort"

	"github.com/danjacques/goctf/types"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PacketMagic is the magic number that begins every packet whose header
// declares a "magic" field.
const PacketMagic = 0xC1FC1FC1

// MetadataFileName is the name of the metadata file in a trace directory.
const MetadataFileName = "metadata"

const nanosPerSecond = 1000000000

// Metadata is a resolved trace description.
//
// Metadata is produced by a metadata parser (or built directly, see package
// synthetic) and handed to Open. It is not modified by this package.
type Metadata struct {
	// ByteOrder is the trace's native byte order.
	ByteOrder types.ByteOrder
	// Major and Minor are the CTF version.
	Major, Minor int
	// UUID is the trace UUID. If it is uuid.Nil, packet UUIDs are not checked.
	UUID uuid.UUID
	// Env is the trace's free-form environment.
	Env map[string]string

	// Clocks are the trace's clocks.
	Clocks []*Clock
	// PacketHeader is the header that begins every packet. It may be nil.
	PacketHeader *types.Struct
	// Streams are the trace's streams.
	Streams []*Stream
}

// Stream returns the Stream with the specified id, or nil.
func (md *Metadata) Stream(id int64) *Stream {
	for _, s := range md.Streams {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (md *Metadata) validate() error {
	if len(md.Streams) == 0 {
		return errors.New("metadata declares no streams")
	}
	seen := make(map[int64]struct{}, len(md.Streams))
	for _, s := range md.Streams {
		if _, ok := seen[s.ID]; ok {
			return errors.Errorf("duplicate stream id %d", s.ID)
		}
		seen[s.ID] = struct{}{}

		for id, ev := range s.Events {
			if ev == nil || ev.ID != id {
				return errors.Errorf("stream %d: event %d is mis-registered", s.ID, id)
			}
		}
	}
	return nil
}

// Clock describes a trace clock.
type Clock struct {
	// Name is the clock's name, as referenced by mapped integers.
	Name        string
	UUID        uuid.UUID
	Description string

	// Frequency is the clock frequency, in Hz. If zero, 1GHz is assumed.
	Frequency uint64
	// OffsetSeconds and Offset (in cycles) are the clock's offset from the Epoch.
	OffsetSeconds int64
	Offset        int64
	// Precision is the clock's precision, in cycles.
	Precision uint64
	// Absolute is true if the clock is a global reference across traces.
	Absolute bool
}

// DefaultClock is the clock used by a trace that declares none.
var DefaultClock = &Clock{Name: "default", Frequency: nanosPerSecond}

func (c *Clock) frequency() uint64 {
	if c.Frequency == 0 {
		return nanosPerSecond
	}
	return c.Frequency
}

// CyclesToNanos converts a raw cycle count into nanoseconds since the Epoch,
// applying the clock's offset. Results saturate rather than overflow.
func (c *Clock) CyclesToNanos(cycles int64) int64 {
	ns := scale(addSat(cycles, c.Offset), nanosPerSecond, c.frequency())
	return addSat(ns, mulSat(c.OffsetSeconds, nanosPerSecond))
}

// NanosToCycles is the inverse of CyclesToNanos, rounding down.
func (c *Clock) NanosToCycles(ns int64) int64 {
	ns = addSat(ns, -mulSat(c.OffsetSeconds, nanosPerSecond))
	return addSat(scale(ns, c.frequency(), nanosPerSecond), -c.Offset)
}

// scale returns v*mul/div with a 128-bit intermediate product.
func scale(v int64, mul, div uint64) int64 {
	if mul == div {
		return v
	}

	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-v)
	}

	hi, lo := bits.Mul64(u, mul)
	if hi >= div {
		return saturated(neg)
	}
	q, r := bits.Div64(hi, lo, div)
	if neg && r != 0 {
		// Round toward negative infinity.
		q++
	}
	if q > math.MaxInt64 {
		if neg && q == 1<<63 {
			return math.MinInt64
		}
		return saturated(neg)
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}

func saturated(neg bool) int64 {
	if neg {
		return math.MinInt64
	}
	return math.MaxInt64
}

func addSat(a, b int64) int64 {
	s := a + b
	switch {
	case a > 0 && b > 0 && s < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && s >= 0:
		return math.MinInt64
	}
	return s
}

func mulSat(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/b != a {
		return saturated((a < 0) != (b < 0))
	}
	return p
}

// Stream describes one stream: a family of channels sharing a packet context
// and a set of event layouts.
type Stream struct {
	// ID is the stream id, matched against the packet header's "stream_id".
	ID int64

	// PacketContext, EventHeader and EventContext may each be nil.
	PacketContext *types.Struct
	EventHeader   *types.Struct
	EventContext  *types.Struct

	// Events maps event ids to their declarations.
	Events map[int64]*EventDeclaration
}

// Event returns the event declaration with the specified id, or nil.
func (s *Stream) Event(id int64) *EventDeclaration { return s.Events[id] }

// EventIDs returns the stream's event ids, in ascending order.
func (s *Stream) EventIDs() []int64 {
	ids := make([]int64, 0, len(s.Events))
	for id := range s.Events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// onlyEvent returns the stream's event when it declares exactly one.
func (s *Stream) onlyEvent() *EventDeclaration {
	if len(s.Events) != 1 {
		return nil
	}
	for _, ev := range s.Events {
		return ev
	}
	return nil
}

// EventDeclaration describes one event layout.
type EventDeclaration struct {
	ID       int64
	Name     string
	StreamID int64

	// Context and Fields may be nil.
	Context *types.Struct
	Fields  *types.Struct

	// LogLevel is the event's log level, or -1 if it has none.
	LogLevel int
	// ModelEMFURI is the event's model.emf.uri attribute.
	ModelEMFURI string
}

const (
	// LostEventName is the name of the synthetic lost-event record.
	LostEventName = "Lost event"
	// LostEventsField is the lost-event field holding the number of events lost.
	LostEventsField = "lost_events"
	// LostEventsDurationField is the lost-event field holding the span, in
	// cycles, over which events were lost.
	LostEventsDurationField = "duration"
)

var lostEventFieldType = types.NewInteger(64, false, types.LittleEndian)

// LostEventDeclaration is the declaration of the synthetic event emitted at the
// start of a packet that records discarded events.
var LostEventDeclaration = &EventDeclaration{
	ID:   -1,
	Name: LostEventName,
	Fields: types.MustStruct(
		types.Field{Name: LostEventsField, Decl: lostEventFieldType},
		types.Field{Name: LostEventsDurationField, Decl: lostEventFieldType},
	),
	LogLevel: -1,
}

// IsLostEvent returns true if ed is LostEventDeclaration.
func (ed *EventDeclaration) IsLostEvent() bool { return ed == LostEventDeclaration }
