// File: core/buffer/writer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import "io"

// Writer serializes into a ZeroCopyBuffer in blocks of a fixed size. Content
// may straddle any number of regions. Writing continues after whatever the
// chain already holds. Flush must be called before the chain is read or handed
// to anyone else.
type Writer struct {
	buf         *ZeroCopyBuffer
	blockSize   int
	reserveHint int

	cur     BufferRef
	limit   int
	written int
	open    bool
}

var _ io.Writer = (*Writer)(nil)

// NewWriter creates a block writer. blockSize <= 0 selects DefaultBlockSize.
func NewWriter(buf *ZeroCopyBuffer, blockSize int) *Writer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Writer{buf: buf, blockSize: blockSize, reserveHint: blockSize}
}

// WithReserveHint sets the region size requested when a new region is needed.
func (w *Writer) WithReserveHint(n int) *Writer {
	w.reserveHint = n
	return w
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if !w.open {
			ref, err := w.buf.AddBuffer(w.blockSize, w.reserveHint)
			if err != nil {
				return total, err
			}
			w.cur = ref
			w.limit = min(ref.Length, w.blockSize)
			w.written = 0
			w.open = true
		}
		n := copy(w.cur.Bytes()[w.written:w.limit], p)
		w.written += n
		total += n
		p = p[n:]
		if w.written == w.limit {
			if err := w.Flush(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// WriteString writes s.
func (w *Writer) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(c byte) error {
	_, err := w.Write([]byte{c})
	return err
}

// Flush finalizes the open block at the number of bytes written into it.
func (w *Writer) Flush() error {
	if !w.open {
		return nil
	}
	w.open = false
	return w.buf.DownsizeLastBuffer(w.written)
}
