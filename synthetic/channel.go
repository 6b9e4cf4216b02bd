// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package synthetic

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/danjacques/goctf/support/bitbuffer"
	"github.com/danjacques/goctf/trace"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Event is a single event to encode.
type Event struct {
	// Name is the declared name of the event.
	Name string
	// Timestamp is the event's timestamp, in clock cycles.
	Timestamp int64

	// StreamContext, Context and Fields hold the values of the event's stream
	// event context, event context and payload.
	StreamContext Values
	Context       Values
	Fields        Values
}

// Packet is a single packet to encode.
type Packet struct {
	// Begin and End are the packet's time bounds, in clock cycles. If both are
	// zero, they are taken from the first and last events.
	Begin, End int64
	// Lost is the number of events discarded by the tracer immediately before
	// this packet. It is added to the channel's cumulative counter.
	Lost uint64
	// Size is the packet size, in bytes. If it is smaller than the packet's
	// content, the content size rounded up to 8 bytes is used.
	Size int

	Events []Event
}

func (p *Packet) bounds() (int64, int64) {
	if p.Begin == 0 && p.End == 0 && len(p.Events) > 0 {
		return p.Events[0].Timestamp, p.Events[len(p.Events)-1].Timestamp
	}
	return p.Begin, p.End
}

// ChannelWriter encodes packets of one stream to a channel.
type ChannelWriter struct {
	w      io.Writer
	md     *trace.Metadata
	stream *trace.Stream
	cpu    int

	seq       uint64
	discarded uint64
	offset    int64
}

// NewChannelWriter returns a ChannelWriter that writes packets of the stream
// streamID, recorded on cpu, to w.
func NewChannelWriter(w io.Writer, md *trace.Metadata, streamID int64, cpu int) (*ChannelWriter, error) {
	s := md.Stream(streamID)
	if s == nil {
		return nil, errors.Errorf("metadata has no stream %d", streamID)
	}
	return &ChannelWriter{
		w:      w,
		md:     md,
		stream: s,
		cpu:    cpu,
	}, nil
}

// Offset returns the number of bytes written so far.
func (cw *ChannelWriter) Offset() int64 { return cw.offset }

// WritePacket encodes p and writes it.
func (cw *ChannelWriter) WritePacket(p *Packet) error {
	discarded := cw.discarded + p.Lost

	// The header is encoded twice: once to measure the content, and again
	// with the sizes filled in. The size fields are fixed width, so the
	// layout does not change between passes.
	var w bitbuffer.W
	if err := cw.encode(&w, p, discarded, 0, 0); err != nil {
		return err
	}
	content := w.Position()

	size := int64(p.Size)
	if size*8 < content {
		size = (content + 63) / 64 * 8
	}

	w.Reset()
	if err := cw.encode(&w, p, discarded, content, size*8); err != nil {
		return err
	}
	if err := w.PadTo(int(size)); err != nil {
		return err
	}

	n, err := cw.w.Write(w.Bytes())
	cw.offset += int64(n)
	if err != nil {
		return errors.Wrap(err, "writing packet")
	}

	cw.seq++
	cw.discarded = discarded
	return nil
}

func (cw *ChannelWriter) encode(w *bitbuffer.W, p *Packet, discarded uint64, content, size int64) error {
	s := cw.stream
	begin, end := p.bounds()

	if ph := cw.md.PacketHeader; ph != nil {
		hdr := Values{
			"magic":     uint64(trace.PacketMagic),
			"uuid":      cw.md.UUID[:],
			"stream_id": s.ID,
		}
		if err := Encode(w, ph, hdr); err != nil {
			return errors.Wrap(err, "encoding packet header")
		}
	}

	if pc := s.PacketContext; pc != nil {
		ctx := Values{
			"timestamp_begin":  begin,
			"timestamp_end":    end,
			"content_size":     content,
			"packet_size":      size,
			"packet_seq_num":   cw.seq,
			"events_discarded": discarded,
			"cpu_id":           cw.cpu,
		}
		if err := Encode(w, pc, ctx); err != nil {
			return errors.Wrap(err, "encoding packet context")
		}
	}

	prev := begin
	for i := range p.Events {
		ev := &p.Events[i]
		if err := cw.encodeEvent(w, ev, prev); err != nil {
			return errors.Wrapf(err, "encoding event #%d (%q)", i, ev.Name)
		}
		prev = ev.Timestamp
	}
	return nil
}

func (cw *ChannelWriter) encodeEvent(w *bitbuffer.W, ev *Event, prev int64) error {
	s := cw.stream
	id, ok := EventID(s, ev.Name)
	if !ok {
		return errors.Errorf("stream %d has no event %q", s.ID, ev.Name)
	}
	decl := s.Event(id)

	if eh := s.EventHeader; eh != nil {
		if err := Encode(w, eh, eventHeader(id, ev.Timestamp, prev)); err != nil {
			return err
		}
	}
	if ec := s.EventContext; ec != nil {
		if err := Encode(w, ec, ev.StreamContext); err != nil {
			return err
		}
	}
	if decl.Context != nil {
		if err := Encode(w, decl.Context, ev.Context); err != nil {
			return err
		}
	}
	if decl.Fields != nil {
		if err := Encode(w, decl.Fields, ev.Fields); err != nil {
			return err
		}
	}
	return nil
}

// eventHeader returns the header values for an event. The compact form is
// used when the id fits and the timestamp is within CompactTimestampBits of
// the previous one.
func eventHeader(id, ts, prev int64) Values {
	if delta := ts - prev; id < compactIDs && delta >= 0 && delta < 1<<CompactTimestampBits {
		return Values{
			"id": id,
			"v":  Variant{Label: "compact", Value: Values{"timestamp": ts}},
		}
	}
	return Values{
		"id": compactIDs,
		"v":  Variant{Label: "extended", Value: Values{"id": id, "timestamp": ts}},
	}
}

// Channel is a channel file to generate.
type Channel struct {
	// Name is the channel's file name.
	Name     string
	StreamID int64
	CPU      int
	Packets  []Packet
}

// WriteChannel writes c's packets to path.
func WriteChannel(path string, md *trace.Metadata, c *Channel) (err error) {
	fd, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating channel")
	}
	defer func() {
		err = multierr.Append(err, fd.Close())
	}()

	bw := bufio.NewWriter(fd)
	cw, err := NewChannelWriter(bw, md, c.StreamID, c.CPU)
	if err != nil {
		return err
	}
	for i := range c.Packets {
		if err := cw.WritePacket(&c.Packets[i]); err != nil {
			return errors.Wrapf(err, "channel %q packet #%d", c.Name, i)
		}
	}
	return bw.Flush()
}

// WriteMetadata writes md's TSDL text to the metadata file in dir.
func WriteMetadata(dir string, md *trace.Metadata) error {
	path := filepath.Join(dir, trace.MetadataFileName)
	return errors.Wrap(os.WriteFile(path, []byte(TSDL(md)), 0644), "writing metadata")
}

// WriteTrace writes a complete trace to dir, creating it if necessary.
func WriteTrace(dir string, md *trace.Metadata, channels []Channel) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating trace directory")
	}
	if err := WriteMetadata(dir, md); err != nil {
		return err
	}
	for i := range channels {
		c := &channels[i]
		if err := WriteChannel(filepath.Join(dir, c.Name), md, c); err != nil {
			return err
		}
	}
	return nil
}
