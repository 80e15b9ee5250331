// File: pool/bufferpool.go
// Size-classed buffer pool with move-style owning handles.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "sync"

// Size classes; their preallocation counts are set in NewBufferPool. Requests
// above the largest class fall back to direct allocation and are never pooled.
const (
	smallSize  = 256
	mediumSize = 1024
	largeSize  = 8 * 1024
	hugeSize   = 64 * 1024
)

const (
	initialExpand = 10
	maxExpand     = 1000
)

// FixedSizePool keeps a free-list of buffers of one capacity. Only buffers
// whose capacity equals the block size may re-enter the list.
type FixedSizePool struct {
	blockSize int

	mu     sync.Mutex
	free   []*Buffer
	expand int
}

// NewFixedSizePool preallocates count buffers of blockSize bytes.
func NewFixedSizePool(blockSize, count int) *FixedSizePool {
	p := &FixedSizePool{
		blockSize: blockSize,
		expand:    initialExpand,
	}
	p.free = make([]*Buffer, 0, count)
	for i := 0; i < count; i++ {
		p.free = append(p.free, NewBufferWithCapacity(blockSize))
	}
	return p
}

// Allocate pops a buffer from the free-list, replenishing it first when
// exhausted. The replenishment batch doubles per exhaustion up to a cap.
func (p *FixedSizePool) Allocate() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		for i := 0; i < p.expand; i++ {
			p.free = append(p.free, NewBufferWithCapacity(p.blockSize))
		}
		if p.expand*2 <= maxExpand {
			p.expand *= 2
		} else {
			p.expand = maxExpand
		}
	}
	buf := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return buf
}

// Deallocate returns buf to the free-list. Buffers of a foreign capacity
// are ignored; a grown buffer no longer belongs to its original class.
func (p *FixedSizePool) Deallocate(buf *Buffer) {
	if buf == nil || buf.Capacity() != p.blockSize {
		return
	}
	buf.RetrieveAll()
	p.mu.Lock()
	p.free = append(p.free, buf)
	p.mu.Unlock()
}

// BlockSize returns the class's buffer capacity.
func (p *FixedSizePool) BlockSize() int { return p.blockSize }

// FreeCount returns the current free-list length.
func (p *FixedSizePool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// BufferPool serves read/write scratch memory from four size classes.
// Each class is guarded by its own mutex; acquiring from one class never
// touches another class's lock.
type BufferPool struct {
	pools [4]*FixedSizePool
}

// NewBufferPool builds a pool with the standard classes. The pool is a pure
// value type; tests may construct their own instead of using Shared.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pools: [4]*FixedSizePool{
			NewFixedSizePool(smallSize, 100),
			NewFixedSizePool(mediumSize, 100),
			NewFixedSizePool(largeSize, 50),
			NewFixedSizePool(hugeSize, 10),
		},
	}
}

var (
	sharedOnce sync.Once
	shared     *BufferPool
)

// Shared returns the lazily-initialized process-wide pool.
func Shared() *BufferPool {
	sharedOnce.Do(func() {
		shared = NewBufferPool()
	})
	return shared
}

// Acquire returns a handle backed by the smallest class whose block size
// covers size. Oversized requests get a direct allocation that is dropped,
// not pooled, on release. Acquire(0) returns a smallest-class buffer.
func (bp *BufferPool) Acquire(size int) PooledBuffer {
	for _, p := range bp.pools {
		if size <= p.BlockSize() {
			return PooledBuffer{buf: p.Allocate(), owner: bp}
		}
	}
	return PooledBuffer{buf: NewBufferWithCapacity(size)}
}

// release routes buf back to the class whose block size equals its
// capacity. Unmatched capacities are left to the garbage collector.
func (bp *BufferPool) release(buf *Buffer) {
	cap := buf.Capacity()
	for _, p := range bp.pools {
		if cap == p.BlockSize() {
			p.Deallocate(buf)
			return
		}
	}
}

// freeCount exposes a class's free-list length for tests.
func (bp *BufferPool) freeCount(class int) int {
	return bp.pools[class].FreeCount()
}

// PooledBuffer is a move-style owning handle: exactly one live handle owns
// the release obligation. Release drains the handle, so releasing again is
// a no-op and can never corrupt a free-list.
type PooledBuffer struct {
	buf   *Buffer
	owner *BufferPool
}

// Buf returns the owned buffer, or nil after release.
func (h *PooledBuffer) Buf() *Buffer { return h.buf }

// Valid reports whether the handle still owns a buffer.
func (h *PooledBuffer) Valid() bool { return h.buf != nil }

// Release returns the buffer to its class and drains the handle. Direct
// allocations (oversized requests) are simply dropped.
func (h *PooledBuffer) Release() {
	if h.buf == nil {
		return
	}
	if h.owner != nil {
		h.owner.release(h.buf)
	}
	h.buf = nil
	h.owner = nil
}

// MoveTo transfers ownership to a fresh handle and drains h.
func (h *PooledBuffer) MoveTo() PooledBuffer {
	moved := PooledBuffer{buf: h.buf, owner: h.owner}
	h.buf = nil
	h.owner = nil
	return moved
}
