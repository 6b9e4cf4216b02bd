// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"io"
	"os"
	"path/filepath"

	"github.com/danjacques/goctf/index"
	"github.com/danjacques/goctf/support/stagingdir"

	"github.com/pkg/errors"
)

// Writer extracts time ranges of a trace into new traces.
type Writer struct {
	t   *Trace
	cfg *Config
}

// NewWriter creates a Writer for t. If cfg is nil, t's Config is used.
func NewWriter(t *Trace, cfg *Config) *Writer {
	if cfg == nil {
		cfg = t.cfg
	}
	return &Writer{t: t, cfg: cfg}
}

// WriteStats describes a written trace.
type WriteStats struct {
	// Channels is the number of channel files written.
	Channels int
	// Omitted are the names of channels with no packets in range.
	Omitted []string
	// Packets is the number of packets copied.
	Packets int64
	// Bytes is the number of channel bytes copied.
	Bytes int64
}

// CopyPackets writes a new trace at dest holding every packet of the trace
// whose time range overlaps [start, end], in nanoseconds since the Epoch.
//
// The metadata file is copied unchanged, and packets are copied whole and
// byte-identical. Channels with no packets in range are omitted. If end is
// before start, no packets are in range.
//
// The trace is built in a staging directory and moved to dest once complete,
// replacing anything already there.
func (w *Writer) CopyPackets(start, end int64, dest string) (*WriteStats, error) {
	tempDir := w.cfg.TempDir
	if tempDir == "" {
		tempDir = filepath.Dir(dest)
	}
	log := w.cfg.logger()

	sd, err := stagingdir.New(tempDir, filepath.Base(dest))
	if err != nil {
		return nil, errors.Wrap(err, "creating staging directory")
	}
	defer func() {
		// Cleanup if we failed to commit.
		if sd != nil {
			_ = sd.Destroy()
		}
	}()

	if err := linkOrCopyFile(w.t.MetadataPath(), sd.Path(MetadataFileName)); err != nil {
		return nil, errors.Wrap(err, "copying metadata")
	}

	tr := TimeRange{Start: start, End: end}
	var stats WriteStats
	for _, si := range w.t.StreamInputs() {
		var selected []index.Entry
		for _, e := range si.index.Snapshot() {
			if tr.Overlaps(w.t.CyclesToNanos(e.TimestampBegin), w.t.CyclesToNanos(e.TimestampEnd)) {
				selected = append(selected, e)
			}
		}
		if len(selected) == 0 {
			stats.Omitted = append(stats.Omitted, si.name)
			continue
		}

		written, err := w.copyChannel(si, selected, sd)
		if err != nil {
			return nil, errors.Wrapf(err, "copying channel %q", si.name)
		}
		stats.Channels++
		stats.Packets += int64(len(written))
		for i := range written {
			stats.Bytes += written[i].PacketSize / 8
		}
	}

	if err := sd.Commit(dest); err != nil {
		return nil, errors.Wrap(err, "committing trace")
	}
	sd = nil // Committed.

	writerPackets.Add(float64(stats.Packets))
	writerBytes.Add(float64(stats.Bytes))
	log.Infof("Wrote %d packet(s) from %d channel(s) to %q.", stats.Packets, stats.Channels, dest)
	return &stats, nil
}

// copyChannel copies entries' packets into a channel file of the same name in
// sd. It returns the entries rebased to their offsets in the new file.
func (w *Writer) copyChannel(si *StreamInput, entries []index.Entry, sd *stagingdir.D) ([]index.Entry, error) {
	in, err := os.Open(si.path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := createBuffered(sd.Path(si.name))
	if err != nil {
		return nil, err
	}
	defer func() {
		if out != nil {
			_ = out.Close()
		}
	}()

	written := make([]index.Entry, 0, len(entries))
	var off int64
	for _, e := range entries {
		size := e.PacketSize / 8
		amt, err := io.Copy(out, io.NewSectionReader(in, e.Offset, size))
		if err != nil {
			return nil, errors.Wrapf(err, "copying packet at %d", e.Offset)
		}
		if amt != size {
			return nil, errors.Errorf("short copy of packet at %d (%d of %d bytes)", e.Offset, amt, size)
		}

		e.Offset, e.Header, e.Context = off, nil, nil
		written = append(written, e)
		off += size
	}

	if err := out.Close(); err != nil {
		return nil, err
	}
	out = nil // Don't double-close in defer.

	if w.cfg.WriteIndexFiles {
		dir, err := sd.MkdirAll(index.DirName)
		if err != nil {
			return nil, err
		}
		if err := index.WriteFile(filepath.Join(dir, si.name+index.FileSuffix), written); err != nil {
			return nil, err
		}
	}
	return written, nil
}
