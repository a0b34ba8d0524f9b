// File: core/buffer/buffer_batch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Batch accumulates byte slices for one scatter write and tracks partial progress.
// Designed for single-goroutine use; no locks for minimal overhead.

package buffer

// Batch holds a slice of pending write segments.
type Batch struct {
	segs  [][]byte
	total int
}

// NewBatch creates a batch with initial capacity `cap`.
func NewBatch(cap int) *Batch {
	return &Batch{segs: make([][]byte, 0, cap)}
}

// Append adds segments to the batch; empty segments are skipped.
func (bb *Batch) Append(segs ...[]byte) {
	for _, s := range segs {
		if len(s) == 0 {
			continue
		}
		bb.segs = append(bb.segs, s)
		bb.total += len(s)
	}
}

// Len reports the number of pending segments.
func (bb *Batch) Len() int {
	return len(bb.segs)
}

// Size reports the number of pending bytes.
func (bb *Batch) Size() int {
	return bb.total
}

// Underlying returns the raw slice for a vectored write.
func (bb *Batch) Underlying() [][]byte {
	return bb.segs
}

// Consume drops the first n written bytes, keeping a partially written
// segment as a re-slice of the original memory.
func (bb *Batch) Consume(n int) {
	if n >= bb.total {
		bb.Reset()
		return
	}
	bb.total -= n
	i := 0
	for n > 0 && i < len(bb.segs) {
		if n >= len(bb.segs[i]) {
			n -= len(bb.segs[i])
			bb.segs[i] = nil
			i++
			continue
		}
		bb.segs[i] = bb.segs[i][n:]
		n = 0
	}
	rest := copy(bb.segs, bb.segs[i:])
	for j := rest; j < len(bb.segs); j++ {
		bb.segs[j] = nil
	}
	bb.segs = bb.segs[:rest]
}

// Reset clears the batch but retains capacity.
func (bb *Batch) Reset() {
	for i := range bb.segs {
		bb.segs[i] = nil
	}
	bb.segs = bb.segs[:0]
	bb.total = 0
}
