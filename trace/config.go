// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"github.com/danjacques/goctf/support/bufferpool"
	"github.com/danjacques/goctf/support/logging"
	"github.com/danjacques/goctf/types"
)

// DefaultReadChunkSize is the default size of the first read when scanning a
// packet header.
const DefaultReadChunkSize = bufferpool.MinSize

// Config configures how a trace is opened, read, and written.
//
// The zero value is a valid configuration.
type Config struct {
	// Logger, if not nil, receives log messages.
	Logger logging.L

	// TempDir is the temporary directory to stage written traces in. If empty,
	// the destination's parent directory is used.
	TempDir string

	// UseIndexFiles, if true, seeds each channel's packet index from its LTTng
	// index file ("index/<channel>.idx"), if one exists and is consistent with
	// the channel.
	UseIndexFiles bool
	// WriteIndexFiles, if true, writes LTTng index files alongside channels
	// written by a Writer.
	WriteIndexFiles bool

	// Interner, if not nil, is used to share structurally-equal declarations.
	// If nil, each trace uses its own.
	Interner *types.Interner

	// ReadChunkSize is the size of the first read issued when scanning a packet
	// header. It doubles until the header fits. If <= 0,
	// DefaultReadChunkSize is used.
	ReadChunkSize int

	// BufferPool, if not nil, is the pool that packet buffers are drawn from. If
	// nil, bufferpool.Default is used.
	BufferPool *bufferpool.Pool
}

func (cfg *Config) logger() logging.L {
	if cfg == nil {
		return logging.Nop
	}
	return logging.Must(cfg.Logger)
}

func (cfg *Config) readChunkSize() int {
	if cfg == nil || cfg.ReadChunkSize <= 0 {
		return DefaultReadChunkSize
	}
	return cfg.ReadChunkSize
}

func (cfg *Config) bufferPool() *bufferpool.Pool {
	if cfg == nil || cfg.BufferPool == nil {
		return &bufferpool.Default
	}
	return cfg.BufferPool
}
