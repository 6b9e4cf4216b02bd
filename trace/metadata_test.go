// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace_test

import (
	"math"

	"github.com/danjacques/goctf/trace"

	"github.com/spf13/pflag"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("Clock", func() {
	DescribeTable("converts cycles to nanoseconds",
		func(c *trace.Clock, cycles, ns int64) {
			Expect(c.CyclesToNanos(cycles)).To(Equal(ns))
		},
		Entry("at 1GHz", &trace.Clock{Frequency: 1000000000}, int64(12345), int64(12345)),
		Entry("with the default frequency", &trace.Clock{}, int64(12345), int64(12345)),
		Entry("at 1MHz", &trace.Clock{Frequency: 1000000}, int64(3), int64(3000)),
		Entry("at 3Hz, rounding down", &trace.Clock{Frequency: 3}, int64(1), int64(333333333)),
		Entry("negative, rounding down", &trace.Clock{Frequency: 3}, int64(-1), int64(-333333334)),
		Entry("with offsets", &trace.Clock{OffsetSeconds: 10, Offset: 5}, int64(0), int64(10000000005)),
		Entry("saturating", &trace.Clock{Frequency: 1}, int64(math.MaxInt64), int64(math.MaxInt64)),
		Entry("saturating negative", &trace.Clock{Frequency: 1}, int64(math.MinInt64), int64(math.MinInt64)),
	)

	It("converts nanoseconds back to cycles", func() {
		c := &trace.Clock{Frequency: 1000000, OffsetSeconds: 2, Offset: 7}
		for _, cycles := range []int64{0, 1, 999, 123456789} {
			Expect(c.NanosToCycles(c.CyclesToNanos(cycles))).To(Equal(cycles))
		}
		Expect(c.NanosToCycles(c.CyclesToNanos(10) + 999)).To(Equal(int64(10)))
	})
})

var _ = Describe("TimeRange", func() {
	It("tests containment and overlap inclusively", func() {
		tr := trace.TimeRange{Start: 100, End: 200}
		Expect(tr.Contains(100)).To(BeTrue())
		Expect(tr.Contains(200)).To(BeTrue())
		Expect(tr.Contains(201)).To(BeFalse())

		Expect(tr.Overlaps(50, 100)).To(BeTrue())
		Expect(tr.Overlaps(200, 300)).To(BeTrue())
		Expect(tr.Overlaps(201, 300)).To(BeFalse())
		Expect(tr.Overlaps(0, 99)).To(BeFalse())

		Expect(trace.TimeRange{Start: 200, End: 100}.Overlaps(0, 1000)).To(BeFalse())
	})

	DescribeTable("parses flag values",
		func(v string, expected trace.TimeRange) {
			var trf trace.TimeRangeFlag
			Expect(trf.Set(v)).To(Succeed())
			Expect(trf.Value()).To(Equal(expected))
			Expect(trf.String()).To(Equal(v))
		},
		Entry("both bounds", "100,200", trace.TimeRange{Start: 100, End: 200}),
		Entry("open start", ",200", trace.TimeRange{Start: math.MinInt64, End: 200}),
		Entry("open end", "100,", trace.TimeRange{Start: 100, End: math.MaxInt64}),
		Entry("all time", ",", trace.AllTime),
	)

	It("rejects malformed flag values", func() {
		var trf trace.TimeRangeFlag
		Expect(trf.Set("100")).ToNot(Succeed())
		Expect(trf.Set("a,b")).ToNot(Succeed())
	})

	It("binds to a flag set", func() {
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		trf := trace.TimeRangeFlag(trace.AllTime)
		fs.Var(&trf, "range", "time range")

		Expect(fs.Parse([]string{"--range", "5,10"})).To(Succeed())
		Expect(trf.Value()).To(Equal(trace.TimeRange{Start: 5, End: 10}))
		Expect(fs.Lookup("range").Value.Type()).To(Equal("trace.TimeRange"))
	})
})
