// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package types

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// DefaultInternerSize is the number of hash buckets an Interner holds when no
// size is specified.
const DefaultInternerSize = 4096

// Interner de-duplicates structurally equal Declarations, so that identical
// layouts described separately (by different streams, or different traces)
// share a single instance.
//
// Interner is safe for concurrent use.
type Interner struct {
	mu    sync.Mutex
	cache *lru.Cache[uint64, []Declaration]
}

// NewInterner returns an Interner holding up to size hash buckets. If size is
// <= 0, DefaultInternerSize is used.
func NewInterner(size int) (*Interner, error) {
	if size <= 0 {
		size = DefaultInternerSize
	}
	cache, err := lru.New[uint64, []Declaration](size)
	if err != nil {
		return nil, errors.Wrap(err, "creating interner cache")
	}
	return &Interner{cache: cache}, nil
}

// Intern returns the canonical instance of d: the first Declaration interned
// that is Equal to d, or d itself if there is none.
func (in *Interner) Intern(d Declaration) Declaration {
	if d == nil {
		return nil
	}
	h := Hash(d)

	in.mu.Lock()
	defer in.mu.Unlock()

	bucket, _ := in.cache.Get(h)
	for _, c := range bucket {
		if Equal(c, d) {
			return c
		}
	}
	in.cache.Add(h, append(bucket[:len(bucket):len(bucket)], d))
	return d
}

// InternStruct is Intern for a *Struct.
func (in *Interner) InternStruct(s *Struct) *Struct {
	if s == nil {
		return nil
	}
	return in.Intern(s).(*Struct)
}

// Len returns the number of hash buckets held.
func (in *Interner) Len() int { return in.cache.Len() }
