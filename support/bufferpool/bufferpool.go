// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bufferpool offers reference-counted byte buffers drawn from
// size-classed pools.
package bufferpool

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// MinSize is the smallest buffer size that a Pool allocates.
const MinSize = 4096

// numClasses is the number of power-of-two size classes, starting at MinSize.
const numClasses = 20

// Pool maintains pools of buffers, one per power-of-two size class. It offers
// a new buffer when one is unavailable.
//
// The zero value is ready to use.
type Pool struct {
	classes [numClasses]sync.Pool
}

// Default is a process-wide Pool.
var Default Pool

// class returns the size class holding buffers of at least size bytes, and
// that class's buffer size. If size is too large to pool, class returns -1.
func class(size int) (int, int) {
	if size <= MinSize {
		return 0, MinSize
	}
	c := bits.Len(uint((size - 1) / MinSize))
	if c >= numClasses {
		return -1, size
	}
	return c, MinSize << uint(c)
}

// Get returns a buffer holding at least size bytes, allocating one if one is
// not available. The returned buffer is truncated to size and returned with a
// reference count of 1.
//
// The caller should return the buffer to the pool by calling its Release
// method when done with it.
func (bp *Pool) Get(size int) *Buffer {
	c, capacity := class(size)

	var b *Buffer
	if c >= 0 {
		b, _ = bp.classes[c].Get().(*Buffer)
	}
	if b == nil {
		// Create a blank buffer. When it is released, it will be added back to
		// its pool.
		b = &Buffer{
			bytes: make([]byte, capacity),
		}
	}

	// Attune the allocated buffer.
	b.pool = bp
	b.class = c
	b.size = size
	b.refcount = 1
	return b
}

func (bp *Pool) releaseNode(b *Buffer) {
	if b.class >= 0 {
		bp.classes[b.class].Put(b)
	}
}

// Buffer contains a byte buffer that can be released into a Pool for reuse.
//
// Buffer is reference counted, and can be retained and released appropriately.
// Failure to release Buffer will not cause a memory leak, but will prevent the
// reuse of the Buffer.
type Buffer struct {
	refcount int64

	bytes []byte
	size  int
	class int

	pool *Pool
}

// Bytes returns this buffer's byte slice, truncated to its size.
func (b *Buffer) Bytes() []byte { return b.bytes[:b.size] }

// Len returns the number of bytes in the buffer.
func (b *Buffer) Len() int { return b.size }

// Cap returns the number of bytes the buffer can hold.
func (b *Buffer) Cap() int { return len(b.bytes) }

// Truncate caps the number of bytes returned by Bytes. size must not exceed
// Cap.
func (b *Buffer) Truncate(size int) {
	if size > len(b.bytes) {
		panic("truncate beyond capacity")
	}
	b.size = size
}

// Release returns the buffer to its buffer pool.
//
// Release is safe for concurrent use.
//
// A Buffer must only be released once per reference.
func (b *Buffer) Release() {
	if atomic.AddInt64(&b.refcount, -1) != 0 {
		return
	}

	var pool *Pool
	pool, b.pool = b.pool, nil
	pool.releaseNode(b)
}

// Retain increases the Buffer's reference count. It should be accompanied by
// a Release call to reuse the buffer when it's finished.
func (b *Buffer) Retain() { atomic.AddInt64(&b.refcount, 1) }
