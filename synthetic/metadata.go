// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package synthetic generates CTF traces.
//
// It builds an LTTng-style trace description, renders it as TSDL metadata, and
// encodes channel files holding caller-specified events. The generated traces
// are used to exercise readers and writers without a live tracer.
package synthetic

import (
	"github.com/danjacques/goctf/trace"
	"github.com/danjacques/goctf/types"

	"github.com/google/uuid"
)

// Event names declared by NewMetadata.
const (
	TickEvent    = "tick"
	MessageEvent = "message"
	SampleEvent  = "sample"
)

// ClockName is the name of the clock declared by NewMetadata.
const ClockName = "monotonic"

// DefaultUUID is the trace UUID used when Options does not specify one.
var DefaultUUID = uuid.MustParse("2a6422d0-6cee-11e0-8c08-cb07d7b3a564")

// Options configures NewMetadata.
type Options struct {
	// ByteOrder is the byte order of every field.
	ByteOrder types.ByteOrder
	// UUID is the trace UUID. If uuid.Nil, DefaultUUID is used.
	UUID uuid.UUID

	// Frequency is the clock frequency, in Hz. If zero, 1GHz is used.
	Frequency uint64
	// ClockOffsetSeconds and ClockOffset (in cycles) offset the clock from the
	// Epoch.
	ClockOffsetSeconds int64
	ClockOffset        int64

	// Hostname is recorded in the trace environment.
	Hostname string
}

// CompactTimestampBits is the width of the timestamp in compact event
// headers. Events further than this from their predecessor use extended
// headers.
const CompactTimestampBits = 27

// compactIDs is the number of event ids a compact header can express.
const compactIDs = 31

// NewMetadata builds a single-stream, LTTng-style trace description.
//
// Packets carry a header with a magic number, the trace UUID and the stream
// id, and a context with time bounds, sizes, a sequence number, a discarded
// events counter and the recording CPU. Events carry the compact/extended
// event header and a "vtid" context, and the stream declares three events:
//
//	tick:    { uint64 count; }
//	message: context { uint8 priority; }, { string msg; }
//	sample:  { double value; float ratio; uint8 n; int32 values[n];
//	           char tag[4]; enum kind; variant <kind> reading; }
func NewMetadata(opts Options) *trace.Metadata {
	bo := opts.ByteOrder
	id := opts.UUID
	if id == uuid.Nil {
		id = DefaultUUID
	}
	freq := opts.Frequency
	if freq == 0 {
		freq = 1000000000
	}

	uint8T := types.NewInteger(8, false, bo)
	uint32T := types.NewInteger(32, false, bo)
	uint64T := types.NewInteger(64, false, bo)
	clockT := &types.Integer{Length: 64, Order: bo, Clock: ClockName}

	packetHeader := types.MustAlignedStruct(8,
		types.Field{Name: "magic", Decl: &types.Integer{Length: 32, Order: bo, Base: 16}},
		types.Field{Name: "uuid", Decl: &types.Array{Length: 16, Element: uint8T}},
		types.Field{Name: "stream_id", Decl: uint32T},
	)

	packetContext := types.MustAlignedStruct(8,
		types.Field{Name: "timestamp_begin", Decl: clockT},
		types.Field{Name: "timestamp_end", Decl: clockT},
		types.Field{Name: "content_size", Decl: uint64T},
		types.Field{Name: "packet_size", Decl: uint64T},
		types.Field{Name: "packet_seq_num", Decl: uint64T},
		types.Field{Name: "events_discarded", Decl: uint64T},
		types.Field{Name: "cpu_id", Decl: uint32T},
	)

	eventHeader := types.MustAlignedStruct(8,
		types.Field{Name: "id", Decl: types.MustEnum(&types.Integer{Length: 5, Order: bo, Align: 1},
			types.EnumRange{Low: 0, High: compactIDs - 1, Label: "compact"},
			types.EnumRange{Low: compactIDs, High: compactIDs, Label: "extended"})},
		types.Field{Name: "v", Decl: types.MustVariant("id",
			types.Field{Name: "compact", Decl: types.MustStruct(
				types.Field{Name: "timestamp", Decl: &types.Integer{
					Length: CompactTimestampBits, Order: bo, Clock: ClockName, Align: 1}},
			)},
			types.Field{Name: "extended", Decl: types.MustAlignedStruct(8,
				types.Field{Name: "id", Decl: uint32T},
				types.Field{Name: "timestamp", Decl: clockT},
			)},
		)},
	)

	eventContext := types.MustStruct(
		types.Field{Name: "vtid", Decl: types.NewInteger(32, true, bo)},
	)

	char := &types.Integer{Length: 8, Order: bo, Encoding: types.EncodingUTF8}
	kind := types.MustEnum(uint8T,
		types.EnumRange{Low: 0, High: 0, Label: "low"},
		types.EnumRange{Low: 1, High: 1, Label: "high"})

	stream := &trace.Stream{
		ID:            0,
		PacketContext: packetContext,
		EventHeader:   eventHeader,
		EventContext:  eventContext,
		Events: map[int64]*trace.EventDeclaration{
			0: {
				ID:       0,
				Name:     TickEvent,
				LogLevel: 13,
				Fields:   types.MustStruct(types.Field{Name: "count", Decl: uint64T}),
			},
			1: {
				ID:       1,
				Name:     MessageEvent,
				LogLevel: 6,
				Context:  types.MustStruct(types.Field{Name: "priority", Decl: uint8T}),
				Fields:   types.MustStruct(types.Field{Name: "msg", Decl: &types.String{Encoding: types.EncodingUTF8}}),
			},
			2: {
				ID:       2,
				Name:     SampleEvent,
				LogLevel: 13,
				Fields: types.MustStruct(
					types.Field{Name: "value", Decl: &types.Float{Exponent: 11, Mantissa: 53, Order: bo}},
					types.Field{Name: "ratio", Decl: &types.Float{Exponent: 8, Mantissa: 24, Order: bo}},
					types.Field{Name: "n", Decl: uint8T},
					types.Field{Name: "values", Decl: &types.Sequence{
						LengthField: "n", Element: types.NewInteger(32, true, bo)}},
					types.Field{Name: "tag", Decl: &types.Array{Length: 4, Element: char}},
					types.Field{Name: "kind", Decl: kind},
					types.Field{Name: "reading", Decl: types.MustVariant("kind",
						types.Field{Name: "low", Decl: types.NewInteger(16, true, bo)},
						types.Field{Name: "high", Decl: types.NewInteger(64, true, bo)},
					)},
				),
			},
		},
	}
	for _, ev := range stream.Events {
		ev.StreamID = stream.ID
	}

	host := opts.Hostname
	if host == "" {
		host = "synthetic"
	}
	return &trace.Metadata{
		ByteOrder: bo,
		Major:     1,
		Minor:     8,
		UUID:      id,
		Env: map[string]string{
			"hostname":    host,
			"domain":      "ust",
			"tracer_name": "goctf-synthetic",
		},
		Clocks: []*trace.Clock{{
			Name:          ClockName,
			Description:   "Monotonic Clock",
			Frequency:     freq,
			OffsetSeconds: opts.ClockOffsetSeconds,
			Offset:        opts.ClockOffset,
			Precision:     1,
			Absolute:      false,
		}},
		PacketHeader: packetHeader,
		Streams:      []*trace.Stream{stream},
	}
}

// EventID returns the id of the named event in stream s.
func EventID(s *trace.Stream, name string) (int64, bool) {
	for _, id := range s.EventIDs() {
		if s.Events[id].Name == name {
			return id, true
		}
	}
	return 0, false
}
