// File: reactor/channel.go
// Per-descriptor event registration and dispatch object.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/netreactor/timestamp"
)

// ChannelState tracks where a channel stands with its loop's multiplexer.
type ChannelState int

const (
	// ChannelNew means the descriptor has never been registered.
	ChannelNew ChannelState = iota
	// ChannelRegistered means the descriptor is in the epoll set.
	ChannelRegistered
	// ChannelRemoved means the descriptor was deleted from the epoll set.
	ChannelRemoved
)

// Event bitmasks. Interest and ready sets share the epoll encoding.
const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI
	writeEvents = unix.EPOLLOUT
)

// Channel binds one file descriptor to one event loop and dispatches the
// loop's readiness notifications to its callbacks. All mutation happens on
// the loop goroutine.
type Channel struct {
	loop *EventLoop
	fd   int

	events  uint32 // interest set
	revents uint32 // ready set, stamped by the loop before dispatch
	state   ChannelState

	edgeTriggered bool

	tied  bool
	guard func() bool // owner liveness check, see Tie

	readCB  func(timestamp.Timestamp)
	writeCB func()
	closeCB func()
	errorCB func()
}

// NewChannel creates a channel for fd in state ChannelNew with an empty
// interest set.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd}
}

// FD returns the monitored descriptor.
func (c *Channel) FD() int { return c.fd }

// Loop returns the owning event loop.
func (c *Channel) Loop() *EventLoop { return c.loop }

// State returns the registration state.
func (c *Channel) State() ChannelState { return c.state }

func (c *Channel) setState(s ChannelState) { c.state = s }

// Events returns the interest set in epoll encoding.
func (c *Channel) Events() uint32 {
	if c.edgeTriggered {
		return c.events | unix.EPOLLET
	}
	return c.events
}

func (c *Channel) setRevents(ev uint32) { c.revents = ev }

// SetReadCallback installs the readable handler. The argument is the
// poll-wake timestamp of the dispatching iteration.
func (c *Channel) SetReadCallback(cb func(timestamp.Timestamp)) { c.readCB = cb }

// SetWriteCallback installs the writable handler.
func (c *Channel) SetWriteCallback(cb func()) { c.writeCB = cb }

// SetCloseCallback installs the hang-up handler.
func (c *Channel) SetCloseCallback(cb func()) { c.closeCB = cb }

// SetErrorCallback installs the error handler.
func (c *Channel) SetErrorCallback(cb func()) { c.errorCB = cb }

// SetEdgeTriggered switches the channel to edge-triggered notification.
// The acceptor uses it for the listen descriptor; connection channels stay
// level-triggered so a single read per wake cannot strand data.
func (c *Channel) SetEdgeTriggered(on bool) { c.edgeTriggered = on }

// Tie installs a liveness guard for the channel's owner. Once tied, events
// arriving after the guard reports false are dropped: the owner is gone and
// the descriptor number may already belong to someone else.
func (c *Channel) Tie(guard func() bool) {
	c.guard = guard
	c.tied = true
}

// EnableReading adds readable interest and reconciles with the loop.
func (c *Channel) EnableReading() {
	c.events |= readEvents
	c.update()
}

// DisableReading removes readable interest.
func (c *Channel) DisableReading() {
	c.events &^= readEvents
	c.update()
}

// EnableWriting adds writable interest.
func (c *Channel) EnableWriting() {
	c.events |= writeEvents
	c.update()
}

// DisableWriting removes writable interest.
func (c *Channel) DisableWriting() {
	c.events &^= writeEvents
	c.update()
}

// DisableAll clears the interest set, which detaches the descriptor from
// the multiplexer on reconciliation.
func (c *Channel) DisableAll() {
	c.events = 0
	c.update()
}

// IsNoneEvent reports an empty interest set.
func (c *Channel) IsNoneEvent() bool { return c.events == 0 }

// IsWriting reports writable interest.
func (c *Channel) IsWriting() bool { return c.events&writeEvents != 0 }

// IsReading reports readable interest.
func (c *Channel) IsReading() bool { return c.events&readEvents != 0 }

// Remove detaches the channel from its loop entirely.
func (c *Channel) Remove() {
	c.loop.RemoveChannel(c)
}

// update asks the loop to reconcile the interest set with epoll. Must run
// on the loop goroutine.
func (c *Channel) update() {
	c.loop.UpdateChannel(c)
}

// HandleEvent dispatches the ready set. A tied channel first consults its
// guard; events on a dead owner are dropped silently.
func (c *Channel) HandleEvent(ts timestamp.Timestamp) {
	if c.tied && c.guard != nil && !c.guard() {
		return
	}
	c.handleEventGuarded(ts)
}

// handleEventGuarded runs the callbacks in the fixed order:
// hang-up-without-readable, error, readable, writable. The order keeps a
// writable notification on a closed socket from racing the close path.
func (c *Channel) handleEventGuarded(ts timestamp.Timestamp) {
	if c.revents&unix.EPOLLHUP != 0 && c.revents&unix.EPOLLIN == 0 {
		if c.closeCB != nil {
			c.closeCB()
		}
	}
	if c.revents&unix.EPOLLERR != 0 {
		if c.errorCB != nil {
			c.errorCB()
		}
	}
	if c.revents&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		if c.readCB != nil {
			c.readCB(ts)
		}
	}
	if c.revents&unix.EPOLLOUT != 0 {
		if c.writeCB != nil {
			c.writeCB()
		}
	}
}
