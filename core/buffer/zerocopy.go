// File: core/buffer/zerocopy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ZeroCopyBuffer is an append-only chain of backing regions. Bytes written into
// a reserved region are never copied into another region when the chain grows.

package buffer

import (
	"github.com/momentics/hioload-link/api"
)

// DefaultBlockSize is the reservation size used when a caller gives no hint.
const DefaultBlockSize = 4096

// BufferRef is a view into a backing region owned by a ZeroCopyBuffer.
type BufferRef struct {
	Data   []byte
	Offset int
	Length int

	region int
}

// Bytes returns the viewed bytes.
func (r BufferRef) Bytes() []byte {
	if r.Data == nil {
		return nil
	}
	return r.Data[r.Offset : r.Offset+r.Length]
}

// IsZero reports whether the ref views nothing.
func (r BufferRef) IsZero() bool {
	return r.Data == nil
}

type region struct {
	data   []byte
	used   int
	pooled bool
}

// ZeroCopyBuffer owns an ordered sequence of regions.
// It is not safe for concurrent use.
type ZeroCopyBuffer struct {
	pool    *Pool
	regions []*region
	refs    []BufferRef
	open    bool
	size    int
}

// NewZeroCopyBuffer creates an empty chain. A nil pool allocates regions exactly.
func NewZeroCopyBuffer(pool *Pool) *ZeroCopyBuffer {
	return &ZeroCopyBuffer{pool: pool}
}

// AddBuffer reserves at least requestedSize writable bytes and returns the open
// reservation. When the last region still has enough unused capacity the
// reservation is carved from its tail; otherwise a region of
// max(requestedSize, reserveHint) bytes is appended. An open reservation from a
// previous call is finalized at its full length first.
func (b *ZeroCopyBuffer) AddBuffer(requestedSize, reserveHint int) (BufferRef, error) {
	if requestedSize < 0 {
		return BufferRef{}, api.Wrap(api.ErrCodeInvalidArgument, api.ErrInvalidArgument, "negative buffer size").
			WithContext("requested", requestedSize)
	}
	if b.open {
		last := b.refs[len(b.refs)-1]
		if err := b.DownsizeLastBuffer(last.Length); err != nil {
			return BufferRef{}, err
		}
	}

	if n := len(b.regions); n > 0 {
		r := b.regions[n-1]
		if free := len(r.data) - r.used; free > 0 && free >= requestedSize {
			return b.reserve(n-1, r.used, free), nil
		}
	}

	size := requestedSize
	if reserveHint > size {
		size = reserveHint
	}
	if size == 0 {
		size = DefaultBlockSize
	}
	r := &region{}
	if b.pool != nil {
		r.data = b.pool.Get(size)
		r.pooled = true
	} else {
		r.data = make([]byte, size)
	}
	b.regions = append(b.regions, r)
	return b.reserve(len(b.regions)-1, 0, len(r.data)), nil
}

func (b *ZeroCopyBuffer) reserve(idx, offset, length int) BufferRef {
	ref := BufferRef{Data: b.regions[idx].data, Offset: offset, Length: length, region: idx}
	b.refs = append(b.refs, ref)
	b.open = true
	return ref
}

// DownsizeLastBuffer finalizes the open reservation at actualUsed bytes.
// A finalized ref directly following the previous one in the same region is
// merged into it.
func (b *ZeroCopyBuffer) DownsizeLastBuffer(actualUsed int) error {
	if !b.open {
		return api.Wrap(api.ErrCodeInvalidState, api.ErrInvalidState, "no open buffer to downsize")
	}
	last := len(b.refs) - 1
	ref := b.refs[last]
	if actualUsed < 0 || actualUsed > ref.Length {
		return api.Wrap(api.ErrCodeInvalidArgument, api.ErrInvalidArgument, "downsize out of range").
			WithContext("used", actualUsed).
			WithContext("reserved", ref.Length)
	}
	b.open = false
	b.regions[ref.region].used = ref.Offset + actualUsed
	b.size += actualUsed

	b.refs = b.refs[:last]
	if actualUsed == 0 {
		return nil
	}
	ref.Length = actualUsed
	if last > 0 {
		prev := &b.refs[last-1]
		if prev.region == ref.region && prev.Offset+prev.Length == ref.Offset {
			prev.Length += ref.Length
			return nil
		}
	}
	b.refs = append(b.refs, ref)
	return nil
}

// RemainingSize returns the capacity of the open reservation, 0 if none is open.
func (b *ZeroCopyBuffer) RemainingSize() int {
	if !b.open {
		return 0
	}
	return b.refs[len(b.refs)-1].Length
}

// Len returns the number of finalized bytes.
func (b *ZeroCopyBuffer) Len() int {
	return b.size
}

// Regions returns the number of backing regions.
func (b *ZeroCopyBuffer) Regions() int {
	return len(b.regions)
}

// Refs returns a copy of the finalized refs in order.
func (b *ZeroCopyBuffer) Refs() []BufferRef {
	n := len(b.refs)
	if b.open {
		n--
	}
	out := make([]BufferRef, n)
	copy(out, b.refs[:n])
	return out
}

// GetAllSendBuffers returns the finalized bytes as an ordered list of views,
// suitable for a scatter write.
func (b *ZeroCopyBuffer) GetAllSendBuffers() [][]byte {
	n := len(b.refs)
	if b.open {
		n--
	}
	out := make([][]byte, 0, n)
	for _, r := range b.refs[:n] {
		out = append(out, r.Bytes())
	}
	return out
}

// Append copies p into the chain, reusing the last region's tail when it fits.
func (b *ZeroCopyBuffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	ref, err := b.AddBuffer(len(p), DefaultBlockSize)
	if err != nil {
		return err
	}
	copy(ref.Bytes(), p)
	return b.DownsizeLastBuffer(len(p))
}

// CopyBytes returns the finalized content as one contiguous slice.
func (b *ZeroCopyBuffer) CopyBytes() []byte {
	out := make([]byte, 0, b.size)
	for _, seg := range b.GetAllSendBuffers() {
		out = append(out, seg...)
	}
	return out
}

// Release returns pooled regions and empties the chain.
// Refs obtained before Release must not be used afterwards.
func (b *ZeroCopyBuffer) Release() {
	for _, r := range b.regions {
		if r.pooled && b.pool != nil {
			b.pool.Put(r.data)
		}
	}
	b.regions = nil
	b.refs = nil
	b.open = false
	b.size = 0
}
