// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	channelOpenErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctf_channel_open_errors",
		Help: "Count of channel files that could not be opened.",
	})

	packetsIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctf_packets_indexed",
		Help: "Count of packets added to channel indexes.",
	})

	growthScans = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctf_growth_scans",
		Help: "Count of channel scans for newly appended packets.",
	})

	eventsRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctf_events_read",
		Help: "Count of event records decoded.",
	})

	lostEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctf_lost_events",
		Help: "Count of events reported as discarded by the tracer.",
	})

	decodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ctf_decode_errors",
		Help: "Count of channel decode errors encountered.",
	}, []string{"type"})

	readersOpenGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ctf_readers_open",
		Help: "Count of open channel readers.",
	})

	writerPackets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctf_writer_packets",
		Help: "Count of packets copied by trace writers.",
	})

	writerBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctf_writer_bytes",
		Help: "Count of bytes copied by trace writers.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Trace
		channelOpenErrors,
		packetsIndexed,
		growthScans,

		// Readers
		eventsRead,
		lostEvents,
		decodeErrors,
		readersOpenGauge,

		// Writer
		writerPackets,
		writerBytes,
	)
}
