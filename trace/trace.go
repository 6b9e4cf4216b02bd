// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package trace reads and writes CTF traces.
//
// A trace is a directory holding a metadata file and one or more channel
// files. Each channel is a sequence of packets, and each packet holds a run of
// timestamped event records. Open indexes a trace's channels; a
// StreamInputReader decodes the events of one channel, and a TraceReader
// merges every channel into a single timestamp-ordered sequence.
//
// Traces may grow while they are read. New channels are admitted with
// AddStreamFile, and packets appended to existing channels are discovered by
// Update.
package trace

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/danjacques/goctf/support/logging"
	"github.com/danjacques/goctf/types"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Trace is an open trace directory.
//
// Trace is safe for concurrent use.
type Trace struct {
	cfg    *Config
	logger logging.L
	path   string

	md           *Metadata
	packetHeader *types.Struct
	streams      map[int64]*Stream
	clock        *Clock

	mu          sync.Mutex
	inputs      []*StreamInput
	inputPaths  map[string]*StreamInput
	nextOrder   int
	channelErrs []error
	closed      bool
}

// Open opens the trace in the directory at path, described by md.
//
// Every regular file in the directory other than the metadata file and hidden
// files is a channel. Channels are admitted in file name order. A channel that
// cannot be opened or whose first packet is malformed is excluded; its error
// is logged and reported by ChannelErrors.
//
// cfg may be nil.
func Open(path string, md *Metadata, cfg *Config) (*Trace, error) {
	if md == nil {
		return nil, errors.New("no metadata")
	}
	if err := md.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid metadata")
	}
	if cfg == nil {
		cfg = &Config{}
	}

	st, err := os.Stat(path)
	switch {
	case err != nil:
		return nil, errors.Wrap(err, "opening trace directory")
	case !st.IsDir():
		return nil, errors.Errorf("trace path %q is not a directory", path)
	}

	interner := cfg.Interner
	if interner == nil {
		if interner, err = types.NewInterner(0); err != nil {
			return nil, err
		}
	}

	t := Trace{
		cfg:          cfg,
		logger:       cfg.logger(),
		path:         path,
		md:           md,
		packetHeader: interner.InternStruct(md.PacketHeader),
		streams:      make(map[int64]*Stream, len(md.Streams)),
		inputPaths:   make(map[string]*StreamInput),
	}
	for _, s := range md.Streams {
		t.streams[s.ID] = internStream(interner, s)
	}
	t.clock = t.selectClock()

	files, err := ioutil.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(err, "listing trace directory")
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	for _, fi := range files {
		if !isChannelFile(fi) {
			continue
		}
		if _, err := t.AddStreamFile(filepath.Join(path, fi.Name())); err != nil {
			t.logger.Warnf("Excluding channel %q: %s", fi.Name(), err)
		}
	}

	t.logger.Infof("Opened trace %q with %d channel(s).", path, len(t.inputs))
	return &t, nil
}

func isChannelFile(fi os.FileInfo) bool {
	name := fi.Name()
	return fi.Mode().IsRegular() && name != MetadataFileName &&
		!strings.HasPrefix(name, ".") && !strings.HasPrefix(name, "_")
}

// internStream returns a copy of s whose declarations are interned.
func internStream(in *types.Interner, s *Stream) *Stream {
	is := Stream{
		ID:            s.ID,
		PacketContext: in.InternStruct(s.PacketContext),
		EventHeader:   in.InternStruct(s.EventHeader),
		EventContext:  in.InternStruct(s.EventContext),
		Events:        make(map[int64]*EventDeclaration, len(s.Events)),
	}
	for id, ev := range s.Events {
		iev := *ev
		iev.StreamID = s.ID
		iev.Context = in.InternStruct(ev.Context)
		iev.Fields = in.InternStruct(ev.Fields)
		is.Events[id] = &iev
	}
	return &is
}

// selectClock picks the clock that packet timestamps are mapped to, falling
// back on the first declared clock.
func (t *Trace) selectClock() *Clock {
	if len(t.md.Clocks) == 0 {
		return DefaultClock
	}
	for _, s := range t.streams {
		if s.PacketContext == nil {
			continue
		}
		if ts, ok := s.PacketContext.Field("timestamp_begin").(*types.Integer); ok && ts.Clock != "" {
			for _, c := range t.md.Clocks {
				if c.Name == ts.Clock {
					return c
				}
			}
		}
	}
	return t.md.Clocks[0]
}

// AddStreamFile admits the channel file at path.
//
// Adding a channel that is already part of the trace returns it. A channel
// that cannot be opened, or whose existing packets are malformed, is not
// admitted; the error is returned and recorded in ChannelErrors.
func (t *Trace) AddStreamFile(path string) (*StreamInput, error) {
	path = filepath.Clean(path)
	if filepath.Base(path) == MetadataFileName {
		return nil, errors.Wrapf(ErrNotChannel, "%q is the metadata file", path)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if si := t.inputPaths[path]; si != nil {
		return si, nil
	}

	si, err := t.openChannelLocked(path)
	if err != nil {
		t.channelErrs = append(t.channelErrs, err)
		channelOpenErrors.Inc()
		return nil, err
	}

	t.inputs = append(t.inputs, si)
	t.inputPaths[path] = si
	return si, nil
}

func (t *Trace) openChannelLocked(path string) (*StreamInput, error) {
	st, err := os.Stat(path)
	switch {
	case err != nil:
		return nil, errors.Wrap(err, "opening channel")
	case !st.Mode().IsRegular():
		return nil, errors.Wrapf(ErrNotChannel, "%q is not a regular file", path)
	}

	si, err := openStreamInput(t, path, t.nextOrder)
	if err != nil {
		return nil, err
	}
	if _, err := si.Update(); err != nil {
		_ = si.Close()
		return nil, err
	}

	t.nextOrder++
	t.logger.Debugf("Admitted channel %q with %d packet(s).", si.name, si.index.Len())
	return si, nil
}

// StreamInputs returns the trace's channels, in admission order.
func (t *Trace) StreamInputs() []*StreamInput {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*StreamInput(nil), t.inputs...)
}

// ChannelErrors returns the errors of every channel that failed to be
// admitted, combined, or nil.
func (t *Trace) ChannelErrors() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return multierr.Combine(t.channelErrs...)
}

// Update scans every channel for appended packets. It returns true if any were
// found.
func (t *Trace) Update() (bool, error) {
	var (
		added bool
		err   error
	)
	for _, si := range t.StreamInputs() {
		ok, uerr := si.Update()
		added = added || ok
		err = multierr.Append(err, uerr)
	}
	return added, err
}

// Path returns the trace directory.
func (t *Trace) Path() string { return t.path }

// MetadataPath returns the path of the trace's metadata file.
func (t *Trace) MetadataPath() string { return filepath.Join(t.path, MetadataFileName) }

// Metadata returns the metadata the trace was opened with.
func (t *Trace) Metadata() *Metadata { return t.md }

// Stream returns the stream with the specified id, or nil.
func (t *Trace) Stream(id int64) *Stream { return t.streams[id] }

// Clock returns the clock that packet and event timestamps are expressed in.
func (t *Trace) Clock() *Clock { return t.clock }

// CyclesToNanos converts raw timestamps to nanoseconds since the Epoch.
func (t *Trace) CyclesToNanos(cycles int64) int64 { return t.clock.CyclesToNanos(cycles) }

// NanosToCycles converts nanoseconds since the Epoch to raw timestamps.
func (t *Trace) NanosToCycles(ns int64) int64 { return t.clock.NanosToCycles(ns) }

func (t *Trace) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close closes the trace's channels. Close may be called more than once.
func (t *Trace) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var err error
	for _, si := range t.inputs {
		err = multierr.Append(err, si.Close())
	}
	return err
}

func (t *Trace) checkUUID(hdr *types.StructDefinition) error {
	if t.md.UUID == uuid.Nil {
		return nil
	}
	ad, ok := hdr.Field("uuid").(*types.ArrayDefinition)
	if !ok {
		return nil
	}

	id, err := uuid.FromBytes(ad.Bytes())
	if err != nil {
		return errors.Wrapf(ErrUUIDMismatch, "packet UUID: %s", err)
	}
	if id != t.md.UUID {
		return errors.Wrapf(ErrUUIDMismatch, "packet UUID %s, trace UUID %s", id, t.md.UUID)
	}
	return nil
}
