// File: core/buffer/bufferpool.go
// Package buffer implements zero-copy buffer chains, messages and region pooling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"sync"
	"sync/atomic"
)

// Predefined (power-of-two) region size classes (bytes).
var sizeClasses = [...]int{
	256,
	1024,
	4 * 1024,
	16 * 1024,
	64 * 1024,
	256 * 1024,
	1024 * 1024,
}

// sizeClassIndex returns the index of the smallest class >= size, or -1.
func sizeClassIndex(size int) int {
	for i, c := range sizeClasses {
		if size <= c {
			return i
		}
	}
	return -1
}

// Pool hands out backing regions by size class. Requests above the largest
// class are allocated exactly and never pooled.
type Pool struct {
	classes [len(sizeClasses)]sync.Pool

	gets   atomic.Uint64
	puts   atomic.Uint64
	allocs atomic.Uint64
}

// PoolStats aggregates allocation/reuse counters.
type PoolStats struct {
	Gets   uint64
	Puts   uint64
	Allocs uint64
}

// DefaultPool is the process-wide region pool used by NewMessage.
var DefaultPool = NewPool()

// NewPool creates an empty region pool.
func NewPool() *Pool {
	p := &Pool{}
	for i := range p.classes {
		size := sizeClasses[i]
		p.classes[i].New = func() any {
			p.allocs.Add(1)
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

// Get returns a region with len >= size.
func (p *Pool) Get(size int) []byte {
	p.gets.Add(1)
	idx := sizeClassIndex(size)
	if idx < 0 {
		p.allocs.Add(1)
		return make([]byte, size)
	}
	bp := p.classes[idx].Get().(*[]byte)
	return (*bp)[:cap(*bp)]
}

// Put returns a region obtained from Get. Regions of foreign sizes are dropped.
func (p *Pool) Put(b []byte) {
	c := cap(b)
	for i, sc := range sizeClasses {
		if sc == c {
			p.puts.Add(1)
			b = b[:c]
			p.classes[i].Put(&b)
			return
		}
	}
}

// Stats returns pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Gets:   p.gets.Load(),
		Puts:   p.puts.Load(),
		Allocs: p.allocs.Load(),
	}
}
