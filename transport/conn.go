// File: transport/conn.go
// Per-connection state machine over a reactor channel.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/netreactor/log"
	"github.com/momentics/netreactor/pool"
	"github.com/momentics/netreactor/reactor"
	"github.com/momentics/netreactor/timestamp"
)

// ConnState is the connection lifecycle state.
type ConnState int32

const (
	// StateConnecting is the window between accept and Establish.
	StateConnecting ConnState = iota
	// StateConnected is the steady state.
	StateConnected
	// StateDisconnecting means Shutdown was requested and the half-close
	// waits for the output buffer to drain.
	StateDisconnecting
	// StateDisconnected is terminal.
	StateDisconnected
)

// DefaultHighWaterMark is the output-buffer size at which back-pressure is
// signaled.
const DefaultHighWaterMark = 64 * 1024 * 1024

// Callback signatures. Every callback runs on the connection's loop
// goroutine. The buffer handed to a MessageCallback is pooled scratch,
// valid only for the duration of the call; copy out what must outlive it.
type (
	ConnectionCallback    func(*Conn)
	MessageCallback       func(*Conn, *pool.Buffer, timestamp.Timestamp)
	WriteCompleteCallback func(*Conn)
	HighWaterMarkCallback func(*Conn, int)
	CloseCallback         func(*Conn)
)

// Conn is one live TCP peer: a socket, its channel, the in/out buffers and
// the state machine tying them together. All of its mutable state is owned
// by one event loop; other goroutines reach it through Send / Shutdown /
// ForceClose, which post to that loop.
type Conn struct {
	name string
	loop *reactor.EventLoop
	sock *Socket
	ch   *reactor.Channel

	localAddr Addr
	peerAddr  Addr

	state atomic.Int32

	bufPool *pool.BufferPool
	input   *pool.Buffer
	output  *pool.Buffer

	highWaterMark int

	connectionCB    ConnectionCallback
	messageCB       MessageCallback
	writeCompleteCB WriteCompleteCallback
	highWaterMarkCB HighWaterMarkCallback
	closeCB         CloseCallback
	serverCloseCB   CloseCallback

	downFired bool // the connected==false onConnection fired
	context   any
}

// NewConn wraps an accepted descriptor. The connection starts in
// StateConnecting; Establish must be scheduled on the owning loop.
func NewConn(fd int, loop *reactor.EventLoop, name string, localAddr, peerAddr Addr, bufPool *pool.BufferPool) *Conn {
	if bufPool == nil {
		bufPool = pool.Shared()
	}
	c := &Conn{
		name:          name,
		loop:          loop,
		sock:          NewSocket(fd),
		ch:            reactor.NewChannel(loop, fd),
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		bufPool:       bufPool,
		input:         pool.NewBuffer(0),
		output:        pool.NewBuffer(0),
		highWaterMark: DefaultHighWaterMark,
	}
	c.state.Store(int32(StateConnecting))
	c.sock.SetKeepAlive(true)
	c.ch.SetReadCallback(c.handleRead)
	c.ch.SetWriteCallback(c.handleWrite)
	c.ch.SetCloseCallback(c.handleClose)
	c.ch.SetErrorCallback(c.handleError)
	log.Info("conn %s: created, fd %d, peer %s", name, fd, peerAddr)
	return c
}

// Name returns the connection's server-assigned name.
func (c *Conn) Name() string { return c.name }

// Loop returns the owning event loop.
func (c *Conn) Loop() *reactor.EventLoop { return c.loop }

// FD returns the connection descriptor.
func (c *Conn) FD() int { return c.sock.FD() }

// LocalAddr returns the local endpoint.
func (c *Conn) LocalAddr() Addr { return c.localAddr }

// PeerAddr returns the remote endpoint.
func (c *Conn) PeerAddr() Addr { return c.peerAddr }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Connected reports the steady state.
func (c *Conn) Connected() bool { return c.State() == StateConnected }

// SetContext attaches an opaque application payload.
func (c *Conn) SetContext(ctx any) { c.context = ctx }

// Context returns the attached payload.
func (c *Conn) Context() any { return c.context }

// SetHighWaterMark overrides the back-pressure threshold.
func (c *Conn) SetHighWaterMark(n int) { c.highWaterMark = n }

// SetTCPNoDelay toggles Nagle on the connection socket.
func (c *Conn) SetTCPNoDelay(on bool) { c.sock.SetTCPNoDelay(on) }

// SetConnectionCallback installs the up/down observer. It fires exactly
// once with the connection up and exactly once with it down.
func (c *Conn) SetConnectionCallback(cb ConnectionCallback) { c.connectionCB = cb }

// SetMessageCallback installs the data observer.
func (c *Conn) SetMessageCallback(cb MessageCallback) { c.messageCB = cb }

// SetWriteCompleteCallback installs the output-drained observer.
func (c *Conn) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCB = cb }

// SetHighWaterMarkCallback installs the back-pressure observer.
func (c *Conn) SetHighWaterMarkCallback(cb HighWaterMarkCallback) { c.highWaterMarkCB = cb }

// SetCloseCallback installs the user close observer.
func (c *Conn) SetCloseCallback(cb CloseCallback) { c.closeCB = cb }

// SetServerCloseCallback installs the owning server's bookkeeping hook. It
// runs before the user's close observer so the descriptor is already
// forgotten everywhere when the application sees the close.
func (c *Conn) SetServerCloseCallback(cb CloseCallback) { c.serverCloseCB = cb }

// Establish ties the channel, enables reading and fires the up transition.
// Must run on the owning loop; the acceptor posts it there.
func (c *Conn) Establish() {
	if !c.loop.InLoopGoroutine() {
		log.Fatal("conn %s: Establish off the owning loop", c.name)
		return
	}
	c.ch.Tie(func() bool { return c.State() != StateDisconnected })
	c.ch.EnableReading()
	c.state.Store(int32(StateConnected))
	if c.connectionCB != nil {
		c.connectionCB(c)
	}
}

// Destroy tears the connection down from the server side: the down
// transition fires, the channel is removed, the descriptor closed. Must
// run on the owning loop, or after that loop has stopped.
func (c *Conn) Destroy() {
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) ||
		c.state.CompareAndSwap(int32(StateDisconnecting), int32(StateDisconnected)) {
		c.ch.DisableAll()
		c.fireDown()
	}
	c.state.Store(int32(StateDisconnected))
	c.ch.Remove()
	c.sock.Close()
}

// Shutdown half-closes the write direction once the output buffer drains.
func (c *Conn) Shutdown() {
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *Conn) shutdownInLoop() {
	if !c.ch.IsWriting() {
		// Output already drained; the write handler completes the
		// half-close otherwise.
		c.sock.ShutdownWrite()
	}
}

// ForceClose drives the connection through the close path on its loop.
func (c *Conn) ForceClose() {
	st := c.State()
	if st == StateConnected || st == StateDisconnecting {
		c.loop.RunInLoop(c.handleClose)
	}
}

// Send writes data to the peer. Off-loop callers are serialized through the
// loop's task queue; the bytes are copied before posting. Data sent on a
// connection that is not in the steady state is dropped.
func (c *Conn) Send(data []byte) {
	if c.State() != StateConnected {
		log.Debug("conn %s: send on non-connected state dropped", c.name)
		return
	}
	if c.loop.InLoopGoroutine() {
		c.sendInLoop(data)
		return
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	c.loop.Post(func() { c.sendInLoop(owned) })
}

// SendString writes a string to the peer.
func (c *Conn) SendString(s string) {
	c.Send([]byte(s))
}

// sendInLoop attempts a direct write when nothing is queued, spills the
// remainder into the output buffer, and raises write interest and the
// high-watermark signal as needed.
func (c *Conn) sendInLoop(data []byte) {
	if c.State() == StateDisconnected {
		log.Warn("conn %s: send after disconnect dropped", c.name)
		return
	}
	written := 0
	remaining := len(data)
	fatal := false

	if !c.ch.IsWriting() && c.output.ReadableBytes() == 0 {
		n, err := unix.Write(c.sock.FD(), data)
		for err == unix.EINTR {
			n, err = unix.Write(c.sock.FD(), data)
		}
		if err == nil {
			written = n
			remaining -= n
			if remaining == 0 && c.writeCompleteCB != nil {
				cb := c.writeCompleteCB
				c.loop.Post(func() { cb(c) })
			}
		} else if err != unix.EAGAIN {
			log.Error("conn %s: write: %v", c.name, err)
			if err == unix.EPIPE || err == unix.ECONNRESET {
				fatal = true
			}
		}
	}

	if !fatal && remaining > 0 {
		queued := c.output.ReadableBytes()
		if queued+remaining >= c.highWaterMark && queued < c.highWaterMark && c.highWaterMarkCB != nil {
			c.highWaterMarkCB(c, queued+remaining)
		}
		c.output.Append(data[written:])
		if !c.ch.IsWriting() {
			c.ch.EnableWriting()
		}
	}
	if fatal {
		c.handleClose()
	}
}

// handleRead pulls one read into pooled scratch and hands it to the
// message observer. EOF and fatal errors funnel into the close path.
func (c *Conn) handleRead(ts timestamp.Timestamp) {
	if c.State() == StateDisconnected {
		return
	}
	handle := c.bufPool.Acquire(pool.DefaultBufferSize)
	defer handle.Release()

	buf := handle.Buf()
	n, err := buf.ReadFromFD(c.sock.FD())
	switch {
	case err == unix.EAGAIN:
		return
	case err != nil:
		log.Error("conn %s: read: %v", c.name, err)
		c.handleError()
		c.handleClose()
	case n == 0:
		c.handleClose()
	default:
		if c.messageCB != nil {
			c.messageCB(c, buf, ts)
			return
		}
		// No observer installed; retain the bytes for a later reader.
		c.input.Append(buf.Peek())
		buf.RetrieveAll()
	}
}

// handleWrite flushes the output buffer on writable readiness.
func (c *Conn) handleWrite() {
	if c.State() == StateDisconnected {
		return
	}
	if !c.ch.IsWriting() {
		log.Warn("conn %s: writable event with write interest down", c.name)
		return
	}
	_, err := c.output.WriteToFD(c.sock.FD())
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		log.Error("conn %s: flush: %v", c.name, err)
		c.handleError()
		c.handleClose()
		return
	}
	if c.output.ReadableBytes() > 0 {
		return
	}
	c.ch.DisableWriting()
	switch c.State() {
	case StateDisconnecting:
		c.sock.ShutdownWrite()
	case StateConnected:
		if c.writeCompleteCB != nil {
			cb := c.writeCompleteCB
			c.loop.Post(func() { cb(c) })
		}
	}
}

// handleClose runs the close path exactly once: detach from the loop,
// run the server's bookkeeping (timeout entry, connection table), fire the
// down transition and the user close observer, release the descriptor.
func (c *Conn) handleClose() {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) &&
		!c.state.CompareAndSwap(int32(StateDisconnecting), int32(StateDisconnected)) &&
		!c.state.CompareAndSwap(int32(StateConnecting), int32(StateDisconnected)) {
		return
	}
	log.Info("conn %s: closed, fd %d", c.name, c.sock.FD())
	c.ch.DisableAll()
	c.loop.RemoveChannel(c.ch)
	if c.serverCloseCB != nil {
		c.serverCloseCB(c)
	}
	c.fireDown()
	if c.closeCB != nil {
		c.closeCB(c)
	}
	c.sock.Close()
}

// handleError reports the socket's pending error.
func (c *Conn) handleError() {
	soErr, err := unix.GetsockoptInt(c.sock.FD(), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		log.Error("conn %s: SO_ERROR query failed: %v", c.name, err)
		return
	}
	if soErr != 0 {
		log.Error("conn %s: socket error: %v", c.name, unix.Errno(soErr))
	}
}

// fireDown delivers the connected==false onConnection exactly once.
func (c *Conn) fireDown() {
	if c.downFired {
		return
	}
	c.downFired = true
	if c.connectionCB != nil {
		c.connectionCB(c)
	}
}
