// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace_test

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/danjacques/goctf/index"
	"github.com/danjacques/goctf/trace"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Writer", func() {
	var (
		tb   traceTestBed
		t    *trace.Trace
		dest string
	)
	BeforeEach(func() {
		tb.setUp()
		tb.write(
			channel("channel_a", 0, ticks(100, 200), ticks(400, 500)),
			channel("channel_b", 1, ticks(150, 250)),
		)
		t = tb.open(nil)
		dest = filepath.Join(tb.root, "out")
	})
	AfterEach(func() {
		Expect(t.Close()).To(Succeed())
		tb.tearDown()
	})

	readAll := func(dir string, cfg *trace.Config) []seen {
		out, err := trace.Open(dir, tb.md, cfg)
		Expect(err).ToNot(HaveOccurred())
		defer out.Close()
		Expect(out.ChannelErrors()).ToNot(HaveOccurred())

		tr, err := trace.NewTraceReader(out)
		Expect(err).ToNot(HaveOccurred())
		defer tr.Close()
		return drain(tr)
	}

	channelFiles := func(dir string) []string {
		files, err := ioutil.ReadDir(dir)
		Expect(err).ToNot(HaveOccurred())

		var names []string
		for _, fi := range files {
			names = append(names, fi.Name())
		}
		return names
	}

	It("copies the whole trace byte for byte", func() {
		stats, err := trace.NewWriter(t, nil).CopyPackets(trace.AllTime.Start, trace.AllTime.End, dest)
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Channels).To(Equal(2))
		Expect(stats.Omitted).To(BeEmpty())
		Expect(stats.Packets).To(Equal(int64(3)))

		for _, name := range []string{trace.MetadataFileName, "channel_a", "channel_b"} {
			orig, err := ioutil.ReadFile(tb.path(name))
			Expect(err).ToNot(HaveOccurred())
			copied, err := ioutil.ReadFile(filepath.Join(dest, name))
			Expect(err).ToNot(HaveOccurred())
			Expect(copied).To(Equal(orig), "file %q", name)
		}
		Expect(readAll(dest, nil)).To(HaveLen(6))
	})

	It("copies only packets overlapping the range", func() {
		stats, err := trace.NewWriter(t, nil).CopyPackets(300, 450, dest)
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Channels).To(Equal(1))
		Expect(stats.Omitted).To(Equal([]string{"channel_b"}))
		Expect(stats.Packets).To(Equal(int64(1)))

		Expect(channelFiles(dest)).To(ConsistOf(trace.MetadataFileName, "channel_a"))
		Expect(readAll(dest, nil)).To(Equal([]seen{
			{"channel_a", "tick", 400},
			{"channel_a", "tick", 500},
		}))
	})

	It("includes packets that touch the range boundary", func() {
		stats, err := trace.NewWriter(t, nil).CopyPackets(250, 250, dest)
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Packets).To(Equal(int64(1)))
		Expect(timestamps(readAll(dest, nil))).To(Equal([]int64{150, 250}))
	})

	It("writes only metadata for an inverted range", func() {
		stats, err := trace.NewWriter(t, nil).CopyPackets(500, 100, dest)
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Channels).To(Equal(0))
		Expect(stats.Omitted).To(ConsistOf("channel_a", "channel_b"))
		Expect(channelFiles(dest)).To(Equal([]string{trace.MetadataFileName}))
	})

	It("replaces an existing destination", func() {
		Expect(os.MkdirAll(filepath.Join(dest, "stale"), 0755)).To(Succeed())
		_, err := trace.NewWriter(t, nil).CopyPackets(trace.AllTime.Start, trace.AllTime.End, dest)
		Expect(err).ToNot(HaveOccurred())
		Expect(channelFiles(dest)).To(ConsistOf(trace.MetadataFileName, "channel_a", "channel_b"))
	})

	It("writes index files with rebased offsets", func() {
		cfg := testConfig()
		cfg.WriteIndexFiles = true
		cfg.TempDir = tb.root

		_, err := trace.NewWriter(t, cfg).CopyPackets(150, trace.AllTime.End, dest)
		Expect(err).ToNot(HaveOccurred())

		entries, err := index.ReadFile(filepath.Join(dest, index.DirName, "channel_a"+index.FileSuffix))
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Offset).To(Equal(int64(0)))
		Expect(entries[1].Offset).To(Equal(entries[0].End()))
		Expect(entries[1].TimestampBegin).To(Equal(int64(400)))

		cfg = testConfig()
		cfg.UseIndexFiles = true
		Expect(timestamps(readAll(dest, cfg))).To(Equal([]int64{100, 150, 200, 250, 400, 500}))
	})

	It("fails without a metadata file", func() {
		Expect(os.Remove(t.MetadataPath())).To(Succeed())
		_, err := trace.NewWriter(t, nil).CopyPackets(trace.AllTime.Start, trace.AllTime.End, dest)
		Expect(err).To(HaveOccurred())

		_, err = os.Stat(dest)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})
