// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package ctfcat defines the logic for the "ctfcat" demo app.
//
// ctfcat prints the merged events of a CTF trace directory, optionally
// following it as it grows, and can cut a time range of it into a new trace.
// With --generate, it first writes a synthetic trace to read. There is no
// metadata parser here, so the trace is always read with the synthetic
// package's metadata layout.
//
// This demonstrates how to open a trace, merge its channels with a
// TraceReader, pick up appended data with Update, and extract packets with a
// Writer.
package ctfcat

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/danjacques/goctf/support/logging"
	"github.com/danjacques/goctf/synthetic"
	"github.com/danjacques/goctf/trace"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	generate bool
	layout   synthetic.Layout

	timeRange  trace.TimeRangeFlag
	limit      int
	cut        string
	indexFiles bool
	follow     time.Duration

	metrics bool
	verbose bool
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	o.timeRange = trace.TimeRangeFlag(trace.AllTime)

	fs.BoolVar(&o.generate, "generate", false,
		"Write a synthetic trace to the trace directory before reading it.")
	fs.IntVar(&o.layout.Channels, "channels", 4, "Number of channels to generate.")
	fs.IntVar(&o.layout.Packets, "packets", 8, "Number of packets per generated channel.")
	fs.IntVar(&o.layout.Events, "events", 16, "Number of events per generated packet.")
	fs.Int64Var(&o.layout.Interval, "interval", 1000, "Cycles between a generated channel's events.")
	fs.Int64Var(&o.layout.Gap, "gap", 0, "Extra cycles between generated packets.")

	fs.Var(&o.timeRange, "range", "Time range to print or cut, as START,END nanoseconds. Either may be empty.")
	fs.IntVar(&o.limit, "limit", 0, "If >0, stop after printing this many events.")
	fs.StringVar(&o.cut, "cut", "",
		"If set, write the packets overlapping --range to a new trace at this path instead of printing.")
	fs.BoolVar(&o.indexFiles, "index-files", false, "Read and write LTTng packet index files.")
	fs.DurationVar(&o.follow, "follow", 0,
		"If >0, keep polling the trace for new data at this interval until interrupted.")

	fs.BoolVar(&o.metrics, "metrics", false, "Dump monitoring metrics on exit.")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "Enable verbose logging.")
}

// Main is the main entry point.
func Main() {
	var opts options
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	opts.addFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] TRACE-DIR\n", os.Args[0])
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	logger := newLogger(opts.verbose)
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	trace.RegisterMonitoring(reg)

	err := run(&opts, fs.Arg(0), logger.Sugar(), os.Stdout)
	if opts.metrics {
		if merr := dumpMetrics(reg, os.Stderr); merr != nil {
			logger.Sugar().Warnf("Couldn't dump metrics: %s", merr)
		}
	}
	if err != nil {
		logger.Sugar().Errorf("ctfcat failed: %s", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level.SetLevel(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(opts *options, dir string, logger logging.L, out io.Writer) error {
	md := synthetic.NewMetadata(synthetic.Options{})
	if opts.generate {
		channels := synthetic.Generate(opts.layout)
		if err := synthetic.WriteTrace(dir, md, channels); err != nil {
			return errors.Wrap(err, "generating trace")
		}
		logger.Infof("Generated %d channel(s) in %q.", len(channels), dir)
	}

	cfg := trace.Config{
		Logger:          logger,
		UseIndexFiles:   opts.indexFiles,
		WriteIndexFiles: opts.indexFiles,
	}
	t, err := trace.Open(dir, md, &cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Close(); err != nil {
			logger.Warnf("Couldn't close trace: %s", err)
		}
	}()
	if err := t.ChannelErrors(); err != nil {
		logger.Warnf("Some channels were excluded: %s", err)
	}

	tr := opts.timeRange.Value()
	if opts.cut != "" {
		stats, err := trace.NewWriter(t, nil).CopyPackets(tr.Start, tr.End, opts.cut)
		if err != nil {
			return err
		}
		logger.Infof("Cut %d packet(s) (%d bytes) from %d channel(s); omitted %v.",
			stats.Packets, stats.Bytes, stats.Channels, stats.Omitted)
		return nil
	}

	return printEvents(opts, t, tr, out, logger)
}

func printEvents(opts *options, t *trace.Trace, tr trace.TimeRange, out io.Writer, logger logging.L) error {
	r, err := trace.NewTraceReader(t)
	if err != nil {
		return err
	}
	defer r.Close()

	logger.Debugf("Trace spans [%d, %d] ns.", r.StartTime(), r.EndTime())

	var (
		printed int
		ok      bool
	)
	if tr.Start > r.StartTime() {
		ok = r.Seek(tr.Start)
	} else {
		ok = r.Advance()
	}

	var interrupted chan os.Signal
	if opts.follow > 0 {
		interrupted = make(chan os.Signal, 1)
		signal.Notify(interrupted, os.Interrupt)
		defer signal.Stop(interrupted)
	}

	for {
		for ; ok; ok = r.Advance() {
			ev := r.Current()
			ns := t.CyclesToNanos(ev.Timestamp())
			if ns > tr.End {
				return r.Err()
			}
			fmt.Fprintf(out, "%d %s: %s\n", ns, ev.StreamInput().Name(), ev)

			printed++
			if opts.limit > 0 && printed >= opts.limit {
				return r.Err()
			}
		}

		if opts.follow <= 0 {
			return r.Err()
		}
		select {
		case <-interrupted:
			return r.Err()
		case <-time.After(opts.follow):
		}

		if err := r.Update(); err != nil {
			logger.Warnf("Errors while updating trace: %s", err)
		}
		ok = r.Advance()
	}
}

func dumpMetrics(reg *prometheus.Registry, w io.Writer) error {
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
