// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/danjacques/goctf/types"
)

// Absolute scope prefixes.
const (
	scopeTracePacketHeader   = "trace.packet.header"
	scopeStreamPacketContext = "stream.packet.context"
	scopeEventHeader         = "event.header"
	scopeStreamEventContext  = "stream.event.context"
	scopeEventContext        = "event.context"
	scopeEventFields         = "event.fields"
)

// packetScope resolves the packet-level absolute scopes. It is shared by every
// event decoded from the same packet.
type packetScope struct {
	header  *types.StructDefinition
	context *types.StructDefinition
}

var _ types.Scope = (*packetScope)(nil)

func (ps *packetScope) Lookup(path string) types.Definition {
	if rest, ok := trimScope(path, scopeTracePacketHeader); ok {
		return lookupIn(ps.header, rest)
	}
	if rest, ok := trimScope(path, scopeStreamPacketContext); ok {
		return lookupIn(ps.context, rest)
	}
	return nil
}

func trimScope(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if rest == "" {
		return "", true
	}
	if rest[0] != '.' {
		return "", false
	}
	return rest[1:], true
}

func lookupIn(d *types.StructDefinition, path string) types.Definition {
	switch {
	case d == nil:
		return nil
	case path == "":
		return d
	default:
		return d.Lookup(path)
	}
}

// EventDefinition is one decoded event record.
//
// An EventDefinition is immutable once returned by a reader. It is also the
// Scope that its own fields are decoded in, resolving the absolute CTF scope
// prefixes ("event.fields.len", "stream.packet.context.cpu_id", ...).
type EventDefinition struct {
	decl      *EventDeclaration
	timestamp int64
	cpu       int
	input     *StreamInput
	packet    *packetScope

	header        *types.StructDefinition
	streamContext *types.StructDefinition
	context       *types.StructDefinition
	fields        *types.StructDefinition
}

var _ types.Scope = (*EventDefinition)(nil)

// Declaration returns the event's declaration.
func (ev *EventDefinition) Declaration() *EventDeclaration { return ev.decl }

// Name returns the event's name.
func (ev *EventDefinition) Name() string { return ev.decl.Name }

// ID returns the event's id within its stream.
func (ev *EventDefinition) ID() int64 { return ev.decl.ID }

// Timestamp returns the event's timestamp, in raw clock cycles.
func (ev *EventDefinition) Timestamp() int64 { return ev.timestamp }

// CPU returns the CPU that recorded the event, or -1 if unknown.
func (ev *EventDefinition) CPU() int { return ev.cpu }

// StreamInput returns the channel the event was read from.
func (ev *EventDefinition) StreamInput() *StreamInput { return ev.input }

// IsLostEvent returns true if ev reports discarded events.
func (ev *EventDefinition) IsLostEvent() bool { return ev.decl.IsLostEvent() }

// Header returns the decoded event header, or nil.
func (ev *EventDefinition) Header() *types.StructDefinition { return ev.header }

// StreamContext returns the decoded stream event context, or nil.
func (ev *EventDefinition) StreamContext() *types.StructDefinition { return ev.streamContext }

// Context returns the decoded per-event context, or nil.
func (ev *EventDefinition) Context() *types.StructDefinition { return ev.context }

// Fields returns the decoded event payload, or nil.
func (ev *EventDefinition) Fields() *types.StructDefinition { return ev.fields }

// PacketHeader returns the enclosing packet's decoded header, or nil.
func (ev *EventDefinition) PacketHeader() *types.StructDefinition { return ev.packet.header }

// PacketContext returns the enclosing packet's decoded context, or nil.
func (ev *EventDefinition) PacketContext() *types.StructDefinition { return ev.packet.context }

// Field returns the payload field at path, or nil.
func (ev *EventDefinition) Field(path string) types.Definition { return lookupIn(ev.fields, path) }

// Lookup implements types.Scope.
//
// Paths must be absolute. Scopes that have not been decoded yet resolve to
// nil.
func (ev *EventDefinition) Lookup(path string) types.Definition {
	for _, s := range []struct {
		prefix string
		def    *types.StructDefinition
	}{
		{scopeEventFields, ev.fields},
		{scopeEventContext, ev.context},
		{scopeStreamEventContext, ev.streamContext},
		{scopeEventHeader, ev.header},
	} {
		if rest, ok := trimScope(path, s.prefix); ok {
			return lookupIn(s.def, rest)
		}
	}
	return ev.packet.Lookup(path)
}

func (ev *EventDefinition) String() string {
	var sb bytes.Buffer
	fmt.Fprintf(&sb, "[%d] %s", ev.timestamp, ev.decl.Name)
	if ev.cpu >= 0 {
		fmt.Fprintf(&sb, " cpu=%d", ev.cpu)
	}
	if ev.context != nil {
		fmt.Fprintf(&sb, " context=%s", ev.context)
	}
	if ev.fields != nil {
		fmt.Fprintf(&sb, " %s", ev.fields)
	}
	return sb.String()
}
