// Package pool provides reusable byte buffers for record encoding using sync.Pool.
package pool

import (
	"sync"
)

// DefaultBufferSize is the default capacity of pooled buffers.
const DefaultBufferSize = 64 * 1024 // 64KB

// ByteBuffer wraps a byte slice for pooled reuse.
type ByteBuffer struct {
	Data []byte
}

// Reset clears the buffer for reuse.
func (b *ByteBuffer) Reset() {
	b.Data = b.Data[:0]
}

// Grow ensures the buffer has room for at least n more bytes.
func (b *ByteBuffer) Grow(n int) {
	if cap(b.Data)-len(b.Data) < n {
		grown := make([]byte, len(b.Data), 2*cap(b.Data)+n)
		copy(grown, b.Data)
		b.Data = grown
	}
}

// Write appends data to the buffer.
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.Data = append(b.Data, p...)
	return len(p), nil
}

// WriteByte appends a single byte.
func (b *ByteBuffer) WriteByte(c byte) error {
	b.Data = append(b.Data, c)
	return nil
}

// Len returns the current length of data in the buffer.
func (b *ByteBuffer) Len() int {
	return len(b.Data)
}

// Bytes returns the underlying byte slice.
func (b *ByteBuffer) Bytes() []byte {
	return b.Data
}

// Detach returns a copy of the buffered bytes that outlives the buffer.
func (b *ByteBuffer) Detach() []byte {
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

// BufferPool manages reusable byte buffers.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new buffer pool with the specified buffer size.
func NewBufferPool(bufferSize int) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	bp := &BufferPool{size: bufferSize}
	bp.pool.New = func() any {
		return &ByteBuffer{
			Data: make([]byte, 0, bufferSize),
		}
	}
	return bp
}

// Get retrieves a buffer from the pool.
func (p *BufferPool) Get() *ByteBuffer {
	return p.pool.Get().(*ByteBuffer)
}

// Put returns a buffer to the pool. Oversized buffers are dropped so a single
// large record does not pin memory for the lifetime of the pool.
func (p *BufferPool) Put(buf *ByteBuffer) {
	if cap(buf.Data) > 16*p.size {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}
