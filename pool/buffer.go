// File: pool/buffer.go
// Growable byte region with read/write cursors, backing connection I/O.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"golang.org/x/sys/unix"
)

// DefaultBufferSize is the minimum initial capacity of a Buffer.
const DefaultBufferSize = 4096

// Buffer is a growable byte region with two cursors:
//
//	0 <= readPos <= writePos <= capacity
//
// [readPos, writePos) holds readable data, [writePos, cap) is writable, and
// [0, readPos) is prependable space reclaimed by compaction. A Buffer is
// mutated only by its owning connection, on that connection's loop goroutine.
type Buffer struct {
	data     []byte
	readPos  int
	writePos int
}

// NewBuffer creates an empty buffer with the given capacity.
// Capacities below DefaultBufferSize are rounded up to it.
func NewBuffer(size int) *Buffer {
	if size < DefaultBufferSize {
		size = DefaultBufferSize
	}
	return &Buffer{data: make([]byte, size)}
}

// NewBufferWithCapacity creates an empty buffer of exactly size bytes.
// The pool uses it for its size classes and for oversized direct allocations.
func NewBufferWithCapacity(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Capacity returns the total backing size.
func (b *Buffer) Capacity() int { return len(b.data) }

// ReadableBytes returns the number of unconsumed bytes.
func (b *Buffer) ReadableBytes() int { return b.writePos - b.readPos }

// WritableBytes returns the free space past the write cursor.
func (b *Buffer) WritableBytes() int { return len(b.data) - b.writePos }

// PrependableBytes returns the space already consumed at the front.
func (b *Buffer) PrependableBytes() int { return b.readPos }

// Peek returns the readable region without consuming it. The slice aliases
// the buffer and is invalidated by the next mutation.
func (b *Buffer) Peek() []byte { return b.data[b.readPos:b.writePos] }

// Retrieve consumes n readable bytes. Consuming everything resets both
// cursors to zero.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readPos += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll drops all readable data and resets the cursors.
func (b *Buffer) RetrieveAll() {
	b.readPos = 0
	b.writePos = 0
}

// Take copies out up to n readable bytes and consumes them.
func (b *Buffer) Take(n int) []byte {
	if r := b.ReadableBytes(); n > r {
		n = r
	}
	out := make([]byte, n)
	copy(out, b.data[b.readPos:])
	b.Retrieve(n)
	return out
}

// TakeAll copies out and consumes everything readable.
func (b *Buffer) TakeAll() []byte {
	return b.Take(b.ReadableBytes())
}

// Append copies p behind the write cursor, compacting or growing first.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.ensureWritable(len(p))
	if b.WritableBytes() < len(p) {
		// ensureWritable must leave room; anything else is a corrupted buffer.
		panic("pool: buffer grow failed")
	}
	copy(b.data[b.writePos:], p)
	b.writePos += len(p)
}

// AppendString copies s behind the write cursor.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

// ReadFromFD reads once from fd into the writable region, retrying on EINTR.
// Returns (0, nil) on orderly EOF. On failure the unix.Errno is returned
// unwrapped so the caller can tell EAGAIN from fatal errors.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	if b.WritableBytes() == 0 {
		b.ensureWritable(1)
	}
	for {
		n, err := unix.Read(fd, b.data[b.writePos:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		b.writePos += n
		return n, nil
	}
}

// WriteToFD writes the readable region to fd once, retrying on EINTR.
// A full drain resets the cursors. The unix.Errno is returned unwrapped.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	if b.ReadableBytes() == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(fd, b.data[b.readPos:b.writePos])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		b.readPos += n
		if b.readPos == b.writePos {
			b.RetrieveAll()
		}
		return n, nil
	}
}

// ensureWritable makes room for at least n more bytes: compact into the
// prependable space when that suffices, otherwise reallocate to
// max(2*cap, cap+n) and compact.
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	readable := b.ReadableBytes()
	if b.PrependableBytes()+b.WritableBytes() >= n {
		copy(b.data, b.data[b.readPos:b.writePos])
	} else {
		newCap := 2 * len(b.data)
		if newCap < len(b.data)+n {
			newCap = len(b.data) + n
		}
		grown := make([]byte, newCap)
		copy(grown, b.data[b.readPos:b.writePos])
		b.data = grown
	}
	b.readPos = 0
	b.writePos = readable
}
