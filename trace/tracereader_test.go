// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace_test

import (
	"os"

	"github.com/danjacques/goctf/synthetic"
	"github.com/danjacques/goctf/trace"
	"github.com/danjacques/goctf/types"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("TraceReader", func() {
	var (
		tb traceTestBed
		t  *trace.Trace
		tr *trace.TraceReader
	)
	BeforeEach(func() { tb.setUp() })
	AfterEach(func() {
		if tr != nil {
			Expect(tr.Close()).To(Succeed())
			tr = nil
		}
		if t != nil {
			Expect(t.Close()).To(Succeed())
			t = nil
		}
		tb.tearDown()
	})

	openReader := func() {
		t = tb.open(nil)

		var err error
		tr, err = trace.NewTraceReader(t)
		Expect(err).ToNot(HaveOccurred())
	}

	Context("with two overlapping channels", func() {
		BeforeEach(func() {
			tb.write(
				channel("channel_a", 0, ticks(100, 125, 150, 175, 200)),
				channel("channel_b", 1, ticks(150, 200, 250)),
			)
			openReader()
		})

		It("merges events in timestamp order, breaking ties by channel", func() {
			Expect(drain(tr)).To(Equal([]seen{
				{"channel_a", "tick", 100},
				{"channel_a", "tick", 125},
				{"channel_a", "tick", 150},
				{"channel_b", "tick", 150},
				{"channel_a", "tick", 175},
				{"channel_a", "tick", 200},
				{"channel_b", "tick", 200},
				{"channel_b", "tick", 250},
			}))
			Expect(tr.Advance()).To(BeFalse())
			Expect(tr.HasMoreEvents()).To(BeFalse())
			Expect(tr.Err()).ToNot(HaveOccurred())
		})

		It("reports the trace's time bounds", func() {
			Expect(tr.StartTime()).To(Equal(int64(100)))
			Expect(tr.EndTime()).To(Equal(int64(250)))
		})

		It("goes to the last event", func() {
			Expect(tr.Advance()).To(BeTrue())
			Expect(tr.GoToLastEvent()).To(BeTrue())
			Expect(summarize(tr.Current())).To(Equal(seen{"channel_b", "tick", 250}))
			Expect(tr.Advance()).To(BeFalse())
		})

		It("picks the later channel's event when the last events tie", func() {
			appendPackets(tb.path("channel_a"), tb.md, 0, ticks(300))
			appendPackets(tb.path("channel_b"), tb.md, 1, ticks(300))
			Expect(tr.Update()).To(Succeed())

			Expect(tr.GoToLastEvent()).To(BeTrue())
			Expect(summarize(tr.Current())).To(Equal(seen{"channel_b", "tick", 300}))
		})

		It("copies its position independently", func() {
			for i := 0; i < 3; i++ {
				Expect(tr.Advance()).To(BeTrue())
			}

			cp, err := tr.CopyFrom()
			Expect(err).ToNot(HaveOccurred())
			defer cp.Close()
			Expect(cp.Current()).To(BeIdenticalTo(tr.Current()))

			rest := drain(tr)
			Expect(rest).To(HaveLen(5))
			Expect(drain(cp)).To(Equal(rest))
		})

		It("stops after Close", func() {
			Expect(tr.Close()).To(Succeed())
			Expect(tr.Advance()).To(BeFalse())
			Expect(tr.Seek(0)).To(BeFalse())
			Expect(tr.Update()).To(Equal(trace.ErrClosed))
			_, err := tr.CopyFrom()
			Expect(err).To(Equal(trace.ErrClosed))
		})
	})

	Context("seeking", func() {
		BeforeEach(func() {
			tb.write(
				channel("channel_a", 0, ticks(100, 150, 200), ticks(400, 450, 500)),
				channel("channel_b", 1, ticks(175, 250)),
			)
			openReader()
		})

		It("lands on the first event at or after the target", func() {
			Expect(tr.Seek(0)).To(BeTrue())
			Expect(tr.Current().Timestamp()).To(Equal(int64(100)))

			Expect(tr.Seek(175)).To(BeTrue())
			Expect(summarize(tr.Current())).To(Equal(seen{"channel_b", "tick", 175}))
			Expect(tr.Advance()).To(BeTrue())
			Expect(tr.Current().Timestamp()).To(Equal(int64(200)))
		})

		It("lands after a gap between packets", func() {
			Expect(tr.Seek(300)).To(BeTrue())
			Expect(summarize(tr.Current())).To(Equal(seen{"channel_a", "tick", 400}))
			Expect(timestamps(drain(tr))).To(Equal([]int64{450, 500}))
		})

		It("returns false past the end", func() {
			Expect(tr.Seek(501)).To(BeFalse())
			Expect(tr.Current()).To(BeNil())
			Expect(tr.Advance()).To(BeFalse())
		})

		It("never lands before its target", func() {
			prev := int64(-1)
			for ns := int64(0); ns <= 500; ns += 25 {
				Expect(tr.Seek(ns)).To(BeTrue())
				ts := tr.Current().Timestamp()
				Expect(ts).To(BeNumerically(">=", ns))
				Expect(ts).To(BeNumerically(">=", prev))
				prev = ts
			}
		})

		It("resumes a full read after seeking backwards", func() {
			Expect(tr.Seek(450)).To(BeTrue())
			Expect(tr.Seek(0)).To(BeTrue())
			Expect(timestamps(drain(tr))).To(Equal([]int64{150, 175, 200, 250, 400, 450, 500}))
		})
	})

	It("seeks in nanoseconds on an offset clock", func() {
		tb.md = synthetic.NewMetadata(synthetic.Options{Frequency: 1000000, ClockOffsetSeconds: 10})
		tb.write(channel("channel_a", 0, ticks(100, 200, 300)))
		openReader()

		const base = int64(10 * 1000000000)
		Expect(tr.StartTime()).To(Equal(base + 100000))
		Expect(tr.EndTime()).To(Equal(base + 300000))

		Expect(tr.Seek(base + 150000)).To(BeTrue())
		Expect(tr.Current().Timestamp()).To(Equal(int64(200)))
	})

	Context("on a growing trace", func() {
		It("delivers appended packets after Update", func() {
			tb.write(channel("channel_a", 0, ticks(100, 200)), channel("channel_b", 1, ticks(150)))
			openReader()

			Expect(timestamps(drain(tr))).To(Equal([]int64{100, 150, 200}))

			appendPackets(tb.path("channel_b"), tb.md, 1, ticks(300, 400))
			Expect(tr.Advance()).To(BeFalse())
			Expect(tr.Update()).To(Succeed())
			Expect(tr.HasMoreEvents()).To(BeTrue())
			Expect(timestamps(drain(tr))).To(Equal([]int64{300, 400}))
		})

		It("does not move when updated mid-read", func() {
			tb.write(channel("channel_a", 0, ticks(100, 200)), channel("channel_b", 1, ticks(150)))
			openReader()

			Expect(tr.Advance()).To(BeTrue())
			Expect(tr.Current().Timestamp()).To(Equal(int64(100)))

			appendPackets(tb.path("channel_b"), tb.md, 1, ticks(175))
			Expect(tr.Update()).To(Succeed())
			Expect(tr.Current().Timestamp()).To(Equal(int64(100)))
			Expect(timestamps(drain(tr))).To(Equal([]int64{150, 175, 200}))
		})

		It("waits for a packet that is partially written", func() {
			tb.write(channel("channel_a", 0))
			data, sizes := encodePackets(tb.md, 0, ticks(100), ticks(200))
			appendRaw(tb.path("channel_a"), data[:sizes[0]+8])
			openReader()

			Expect(timestamps(drain(tr))).To(Equal([]int64{100}))

			appendRaw(tb.path("channel_a"), data[sizes[0]+8:])
			Expect(tr.Update()).To(Succeed())
			Expect(timestamps(drain(tr))).To(Equal([]int64{200}))
		})

		It("continues after the last event once the trace grows", func() {
			tb.write(channel("channel_a", 0, ticks(100)), channel("channel_b", 1, ticks(200)))
			openReader()

			Expect(tr.GoToLastEvent()).To(BeTrue())
			Expect(tr.Current().Timestamp()).To(Equal(int64(200)))

			appendPackets(tb.path("channel_a"), tb.md, 0, ticks(300))
			Expect(tr.Update()).To(Succeed())
			Expect(timestamps(drain(tr))).To(Equal([]int64{300}))
		})

		It("merges channels added while reading", func() {
			tb.write(channel("channel_a", 0, ticks(100, 125, 150, 175)))
			openReader()

			Expect(tr.Advance()).To(BeTrue())
			Expect(tr.Advance()).To(BeTrue())

			appendPackets(tb.path("channel_b"), tb.md, 1, ticks(150, 160))
			Expect(tr.AddStreamFile(tb.path("channel_b"))).To(Succeed())
			Expect(tr.AddStreamFile(tb.path("channel_b"))).To(Succeed())

			Expect(drain(tr)).To(Equal([]seen{
				{"channel_a", "tick", 150},
				{"channel_b", "tick", 150},
				{"channel_b", "tick", 160},
				{"channel_a", "tick", 175},
			}))
		})

		It("logs a packet that extends past the end of its channel", func() {
			core, logs := observer.New(zapcore.DebugLevel)
			cfg := testConfig()
			cfg.Logger = zap.New(core).Sugar()

			tb.write(channel("channel_a", 0))
			data, _ := encodePackets(tb.md, 0, ticks(100), ticks(200))
			appendRaw(tb.path("channel_a"), data[:len(data)-1])
			t = tb.open(cfg)

			var err error
			tr, err = trace.NewTraceReader(t)
			Expect(err).ToNot(HaveOccurred())
			Expect(timestamps(drain(tr))).To(Equal([]int64{100}))
			Expect(tr.Err()).ToNot(HaveOccurred())

			entries := logs.FilterMessageSnippet("past the end of the channel").All()
			Expect(entries).ToNot(BeEmpty())
			Expect(entries[0].Level).To(Equal(zapcore.DebugLevel))
			Expect(entries[0].Message).To(HavePrefix("channel_a: "))
		})

		It("reads in order while another goroutine appends and updates", func() {
			tb.write(channel("channel_a", 0, ticks(0)), channel("channel_b", 1, ticks(5)))
			openReader()

			cp, err := tr.CopyFrom()
			Expect(err).ToNot(HaveOccurred())
			defer cp.Close()

			const rounds = 50
			expected := []int64{0, 5}
			for i := 1; i <= rounds; i++ {
				expected = append(expected, int64(i*10), int64(i*10+5))
			}

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)

				for i := 1; i <= rounds; i++ {
					appendPackets(tb.path("channel_a"), tb.md, 0, ticks(int64(i*10)))
					appendPackets(tb.path("channel_b"), tb.md, 1, ticks(int64(i*10+5)))
					_, err := t.Update()
					Expect(err).ToNot(HaveOccurred())
				}
			}()

			var got []int64
			collect := func() {
				for cp.Advance() {
					got = append(got, cp.Current().Timestamp())
				}
			}
			for running := true; running; {
				select {
				case <-done:
					running = false
				default:
				}
				Expect(cp.Update()).To(Succeed())
				collect()
			}

			Expect(got).To(Equal(expected))
			Expect(cp.Err()).ToNot(HaveOccurred())
		})

		It("admits channels added to the trace on Update", func() {
			tb.write(channel("channel_a", 0, ticks(100)))
			openReader()
			Expect(timestamps(drain(tr))).To(Equal([]int64{100}))

			appendPackets(tb.path("channel_b"), tb.md, 1, ticks(200))
			_, err := t.AddStreamFile(tb.path("channel_b"))
			Expect(err).ToNot(HaveOccurred())

			Expect(tr.Update()).To(Succeed())
			Expect(drain(tr)).To(Equal([]seen{{"channel_b", "tick", 200}}))
		})
	})

	It("excludes a channel that cannot be opened for reading", func() {
		tb.write(channel("channel_a", 0, ticks(100, 200)), channel("channel_b", 1, ticks(150)))
		t = tb.open(nil)
		Expect(t.StreamInputs()).To(HaveLen(2))
		Expect(os.Remove(tb.path("channel_b"))).To(Succeed())

		var err error
		tr, err = trace.NewTraceReader(t)
		Expect(err).ToNot(HaveOccurred())
		Expect(tr.Err()).To(MatchError(ContainSubstring("channel_b")))
		Expect(timestamps(drain(tr))).To(Equal([]int64{100, 200}))

		// The excluded channel is reported once and not retried.
		Expect(tr.Update()).To(Succeed())
		Expect(multierr.Errors(tr.Err())).To(HaveLen(1))
	})

	It("drops a channel that fails to decode", func() {
		tb.write(channel("channel_a", 0, ticks(100, 200, 300)))

		// Write a channel whose second event has an id unknown to the trace.
		other := synthetic.NewMetadata(synthetic.Options{})
		other.Streams[0].Events[7] = &trace.EventDeclaration{
			ID:       7,
			Name:     "unknown",
			LogLevel: -1,
			Fields:   types.MustStruct(types.Field{Name: "x", Decl: types.NewInteger(8, false, types.LittleEndian)}),
		}
		p := ticks(150)
		p.Events = append(p.Events, synthetic.Event{Name: "unknown", Timestamp: 250})
		appendPackets(tb.path("channel_x"), other, 1, p)

		openReader()
		Expect(drain(tr)).To(Equal([]seen{
			{"channel_a", "tick", 100},
			{"channel_x", "tick", 150},
			{"channel_a", "tick", 200},
			{"channel_a", "tick", 300},
		}))

		err := tr.Err()
		Expect(errors.Cause(err)).To(Equal(trace.ErrUnknownEvent))
		Expect(trace.IsMalformed(err)).To(BeTrue())
	})
})

var _ = Describe("StreamInputReader", func() {
	var (
		tb traceTestBed
		t  *trace.Trace
		r  *trace.StreamInputReader
	)
	BeforeEach(func() {
		tb.setUp()
		tb.write(channel("channel_a", 4, ticks(100, 200), ticks(300, 400)))
		t = tb.open(nil)

		var err error
		r, err = trace.NewStreamInputReader(t.StreamInputs()[0])
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		Expect(r.Close()).To(Succeed())
		Expect(t.Close()).To(Succeed())
		tb.tearDown()
	})

	readAll := func(r *trace.StreamInputReader) []int64 {
		var ts []int64
		for {
			resp, err := r.ReadNextEvent()
			Expect(err).ToNot(HaveOccurred())
			if resp == trace.End {
				return ts
			}
			ts = append(ts, r.Current().Timestamp())
		}
	}

	It("reads every event of its channel", func() {
		Expect(r.Current()).To(BeNil())
		Expect(r.PacketIndex()).To(Equal(-1))
		Expect(r.CPU()).To(Equal(-1))

		Expect(readAll(r)).To(Equal([]int64{100, 200, 300, 400}))
		Expect(r.PacketIndex()).To(Equal(1))
		Expect(r.CPU()).To(Equal(4))
		Expect(r.Current().Timestamp()).To(Equal(int64(400)))
		Expect(trace.End.String()).To(Equal("END"))
		Expect(trace.OK.String()).To(Equal("OK"))
	})

	It("seeks in cycles", func() {
		found, err := r.Seek(250)
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(r.Current().Timestamp()).To(Equal(int64(300)))
		Expect(r.PacketIndex()).To(Equal(1))

		found, err = r.Seek(401)
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeFalse())
	})

	It("copies its position", func() {
		resp, err := r.ReadNextEvent()
		Expect(err).ToNot(HaveOccurred())
		Expect(resp).To(Equal(trace.OK))

		cp, err := r.CopyFrom()
		Expect(err).ToNot(HaveOccurred())
		defer cp.Close()

		Expect(readAll(r)).To(Equal([]int64{200, 300, 400}))
		Expect(readAll(cp)).To(Equal([]int64{200, 300, 400}))
	})

	It("goes to the last event", func() {
		found, err := r.GoToLastEvent()
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(r.Current().Timestamp()).To(Equal(int64(400)))

		resp, err := r.ReadNextEvent()
		Expect(err).ToNot(HaveOccurred())
		Expect(resp).To(Equal(trace.End))
	})

	It("fails once closed", func() {
		Expect(r.Close()).To(Succeed())
		_, err := r.ReadNextEvent()
		Expect(err).To(Equal(trace.ErrClosed))
	})
})
