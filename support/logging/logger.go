// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package logging defines the logger interface used throughout this module.
package logging

// L accepts logging data.
//
// L is satisfied by zap's *zap.SugaredLogger, but is generic enough that any
// leveled logger should be able to match it.
type L interface {
	// Error emits an error-level log.
	Error(args ...interface{})
	// Warn emits a warning-level log.
	Warn(args ...interface{})
	// Info emits an info-level log.
	Info(args ...interface{})
	// Debug emits a debug-level log.
	Debug(args ...interface{})

	// Errorf emits a formatted error-level log.
	Errorf(fmt string, args ...interface{})
	// Warnf emits a formatted warning-level log.
	Warnf(fmt string, args ...interface{})
	// Infof emits a formatted info-level log.
	Infof(fmt string, args ...interface{})
	// Debugf emits a formatted debug-level log.
	Debugf(fmt string, args ...interface{})
}

// Nop is a L instance that does nothing.
var Nop L = nopLogger{}

// Must ensures that a valid L is available. If l is not nil, it will be
// returned; otherwise, Must will return Nop.
func Must(l L) L {
	if l != nil {
		return l
	}
	return Nop
}

// Prefixed returns an L that prepends "prefix: " to every message logged
// through l. Channel-level code uses it to name the channel.
func Prefixed(l L, prefix string) L {
	l = Must(l)
	if l == Nop {
		return Nop
	}
	return &prefixLogger{base: l, prefix: prefix + ": "}
}

type nopLogger struct{}

func (nopLogger) Error(args ...interface{}) {}
func (nopLogger) Warn(args ...interface{})  {}
func (nopLogger) Info(args ...interface{})  {}
func (nopLogger) Debug(args ...interface{}) {}

func (nopLogger) Errorf(fmt string, args ...interface{}) {}
func (nopLogger) Warnf(fmt string, args ...interface{})  {}
func (nopLogger) Infof(fmt string, args ...interface{})  {}
func (nopLogger) Debugf(fmt string, args ...interface{}) {}

type prefixLogger struct {
	base   L
	prefix string
}

func (pl *prefixLogger) args(args []interface{}) []interface{} {
	return append([]interface{}{pl.prefix}, args...)
}

func (pl *prefixLogger) Error(args ...interface{}) { pl.base.Error(pl.args(args)...) }
func (pl *prefixLogger) Warn(args ...interface{})  { pl.base.Warn(pl.args(args)...) }
func (pl *prefixLogger) Info(args ...interface{})  { pl.base.Info(pl.args(args)...) }
func (pl *prefixLogger) Debug(args ...interface{}) { pl.base.Debug(pl.args(args)...) }

func (pl *prefixLogger) Errorf(fmt string, args ...interface{}) {
	pl.base.Errorf(pl.prefix+fmt, args...)
}
func (pl *prefixLogger) Warnf(fmt string, args ...interface{}) { pl.base.Warnf(pl.prefix+fmt, args...) }
func (pl *prefixLogger) Infof(fmt string, args ...interface{}) { pl.base.Infof(pl.prefix+fmt, args...) }
func (pl *prefixLogger) Debugf(fmt string, args ...interface{}) {
	pl.base.Debugf(pl.prefix+fmt, args...)
}
