// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package synthetic

import (
	"fmt"
)

// Layout describes a family of generated channels.
type Layout struct {
	// Channels is the number of channels. Channel i is recorded on CPU i.
	Channels int
	// Packets is the number of packets per channel.
	Packets int
	// Events is the number of events per packet.
	Events int

	// Start is the timestamp of the first event, in cycles.
	Start int64
	// Interval is the number of cycles between a channel's events. If zero,
	// 1000 is used.
	Interval int64
	// Gap is the number of cycles between the last event of a packet and the
	// first event of the next.
	Gap int64
}

// Generate returns the channels described by l.
//
// Channels interleave: channel i's events are offset from channel 0's by
// i*Interval/Channels cycles. Events cycle through the declared event types.
func Generate(l Layout) []Channel {
	interval := l.Interval
	if interval <= 0 {
		interval = 1000
	}

	channels := make([]Channel, l.Channels)
	for c := range channels {
		ch := Channel{
			Name:    fmt.Sprintf("channel0_%d", c),
			CPU:     c,
			Packets: make([]Packet, l.Packets),
		}

		ts := l.Start + int64(c)*interval/int64(l.Channels)
		seq := 0
		for p := range ch.Packets {
			pkt := &ch.Packets[p]
			pkt.Events = make([]Event, l.Events)
			for e := range pkt.Events {
				pkt.Events[e] = generatedEvent(seq, c, ts)
				seq++
				ts += interval
			}
			ts += l.Gap
		}
		channels[c] = ch
	}
	return channels
}

func generatedEvent(seq, cpu int, ts int64) Event {
	ev := Event{
		Timestamp:     ts,
		StreamContext: Values{"vtid": int32(1000 + cpu)},
	}
	switch seq % 3 {
	case 0:
		ev.Name = TickEvent
		ev.Fields = Values{"count": uint64(seq)}
	case 1:
		ev.Name = MessageEvent
		ev.Context = Values{"priority": uint8(seq % 8)}
		ev.Fields = Values{"msg": fmt.Sprintf("cpu %d event %d", cpu, seq)}
	default:
		n := seq % 4
		values := make([]int32, n)
		for i := range values {
			values[i] = int32(seq * (i + 1))
		}
		kind, reading := "low", Variant{Label: "low", Value: int16(seq)}
		if seq%2 == 0 {
			kind, reading = "high", Variant{Label: "high", Value: int64(seq) << 40}
		}
		ev.Name = SampleEvent
		ev.Fields = Values{
			"value":   float64(seq) / 4,
			"ratio":   float32(0.5),
			"n":       uint8(n),
			"values":  values,
			"tag":     "gen",
			"kind":    kind,
			"reading": reading,
		}
	}
	return ev
}
