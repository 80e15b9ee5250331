// File: pool/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pool provides the byte buffers and the size-classed buffer pool
// that back connection reads and writes.
//
// Buffer is a growable region with read/write cursors, single-owner by
// convention (one connection, one loop goroutine). BufferPool keeps four
// size classes with independent locks; PooledBuffer is the owning handle
// that returns a buffer to its class exactly once.
package pool
