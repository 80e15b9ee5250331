// File: reactor/eventloop.go
// Epoll readiness loop (edge- or level-triggered per channel) with
// cross-goroutine wakeup and a deferred-task queue.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/momentics/netreactor/internal/gid"
	"github.com/momentics/netreactor/log"
	"github.com/momentics/netreactor/timestamp"
)

// pollTimeoutMs bounds the epoll wait so Stop takes effect on an idle loop
// within one tick.
const pollTimeoutMs = 100

// initialEventListSize is the starting capacity of the ready-event scratch.
const initialEventListSize = 64

// loopRegistry maps a goroutine id to the loop it hosts. A goroutine may
// host at most one running loop.
var loopRegistry sync.Map // int64 -> *EventLoop

// Functor is a deferred task posted to a loop.
type Functor func()

// EventLoop multiplexes many descriptors on a single goroutine. All channel
// registration and dispatch happens on that goroutine; other goroutines
// interact with the loop only through Post and Wakeup.
type EventLoop struct {
	epollFD  int
	wakeupFD int
	wakeupCh *Channel

	channels       map[int]*Channel
	activeChannels []*Channel
	events         []unix.EpollEvent

	mu           sync.Mutex
	pending      *queue.Queue // of Functor
	doingPending atomic.Bool

	looping  atomic.Bool
	stopFlag atomic.Bool

	loopGID  atomic.Int64
	lastPoll atomic.Int64 // micros
}

// NewEventLoop creates a loop with its epoll instance and wakeup eventfd.
// The loop is idle until Run is called; Run binds it to the calling
// goroutine.
func NewEventLoop() (*EventLoop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	evfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	el := &EventLoop{
		epollFD:  epfd,
		wakeupFD: evfd,
		channels: make(map[int]*Channel),
		events:   make([]unix.EpollEvent, initialEventListSize),
		pending:  queue.New(),
	}
	el.wakeupCh = NewChannel(el, evfd)
	el.wakeupCh.SetReadCallback(func(timestamp.Timestamp) { el.handleWakeup() })
	el.wakeupCh.EnableReading()
	log.Debug("eventloop: created, epoll fd %d, wakeup fd %d", epfd, evfd)
	return el, nil
}

// Close tears the loop down. It must not be called while Run is active.
func (el *EventLoop) Close() {
	el.wakeupCh.DisableAll()
	el.wakeupCh.Remove()
	unix.Close(el.wakeupFD)
	unix.Close(el.epollFD)
}

// updateEpoller issues one epoll_ctl for ch.
func (el *EventLoop) updateEpoller(op int, ch *Channel) {
	ev := unix.EpollEvent{
		Events: ch.Events(),
		Fd:     int32(ch.FD()),
	}
	if err := unix.EpollCtl(el.epollFD, op, ch.FD(), &ev); err != nil {
		log.Error("eventloop: epoll_ctl op %d on fd %d: %v", op, ch.FD(), err)
	}
}

// UpdateChannel reconciles ch's interest set with the multiplexer. Must be
// called on the loop goroutine (or before Run has bound one).
func (el *EventLoop) UpdateChannel(ch *Channel) {
	switch ch.State() {
	case ChannelNew:
		el.channels[ch.FD()] = ch
		el.updateEpoller(unix.EPOLL_CTL_ADD, ch)
		ch.setState(ChannelRegistered)
	case ChannelRegistered:
		if ch.IsNoneEvent() {
			el.updateEpoller(unix.EPOLL_CTL_DEL, ch)
			ch.setState(ChannelRemoved)
		} else {
			el.updateEpoller(unix.EPOLL_CTL_MOD, ch)
		}
	case ChannelRemoved:
		if existing, ok := el.channels[ch.FD()]; !ok || existing != ch {
			log.Error("eventloop: update on a channel no longer indexed, fd %d", ch.FD())
			return
		}
		el.updateEpoller(unix.EPOLL_CTL_ADD, ch)
		ch.setState(ChannelRegistered)
	}
}

// RemoveChannel drops ch from the loop's index and from the multiplexer.
func (el *EventLoop) RemoveChannel(ch *Channel) {
	delete(el.channels, ch.FD())
	if ch.State() == ChannelRegistered {
		el.updateEpoller(unix.EPOLL_CTL_DEL, ch)
	}
	ch.setState(ChannelRemoved)
}

// HasChannel reports whether ch is indexed by this loop.
func (el *EventLoop) HasChannel(ch *Channel) bool {
	existing, ok := el.channels[ch.FD()]
	return ok && existing == ch
}

// Run binds the loop to the calling goroutine and processes events until
// Stop. Running a second loop on a goroutine that already hosts one is a
// fatal misuse.
func (el *EventLoop) Run() {
	id := gid.Get()
	if prev, loaded := loopRegistry.LoadOrStore(id, el); loaded && prev != el {
		log.Fatal("eventloop: goroutine %d already hosts a loop", id)
		panic("reactor: one event loop per goroutine")
	}
	el.loopGID.Store(id)
	defer func() {
		loopRegistry.Delete(id)
		el.loopGID.Store(0)
	}()

	el.looping.Store(true)
	log.Debug("eventloop: running on goroutine %d", id)

	for !el.stopFlag.Load() {
		el.activeChannels = el.activeChannels[:0]
		n, err := unix.EpollWait(el.epollFD, el.events, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Error("eventloop: epoll_wait: %v", err)
			continue
		}
		ts := timestamp.Now()
		el.lastPoll.Store(ts.UnixMicros())

		for i := 0; i < n; i++ {
			ch, ok := el.channels[int(el.events[i].Fd)]
			if !ok {
				// Stale readiness for a descriptor we no longer index.
				log.Warn("eventloop: ready event on unindexed fd %d", el.events[i].Fd)
				continue
			}
			ch.setRevents(el.events[i].Events)
			el.activeChannels = append(el.activeChannels, ch)
		}
		if n == len(el.events) {
			grown := make([]unix.EpollEvent, 2*len(el.events))
			el.events = grown
		}

		for _, ch := range el.activeChannels {
			el.dispatch(ch, ts)
		}

		el.doPendingFunctors()
	}

	// Reset on exit, not on entry, so a Stop issued before Run gets here
	// is not lost.
	el.stopFlag.Store(false)
	el.looping.Store(false)
	log.Debug("eventloop: stopped on goroutine %d", id)
}

// dispatch runs one channel's handlers, containing callback panics so one
// connection cannot tear down the loop.
func (el *EventLoop) dispatch(ch *Channel, ts timestamp.Timestamp) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("eventloop: callback panic on fd %d: %v", ch.FD(), r)
		}
	}()
	ch.HandleEvent(ts)
}

// Stop asks the loop to exit. Called from another goroutine it wakes the
// loop so the request is observed without waiting out the poll ceiling.
func (el *EventLoop) Stop() {
	el.stopFlag.Store(true)
	if !el.InLoopGoroutine() {
		el.Wakeup()
	}
}

// Wakeup interrupts the multiplexer wait by writing the 8-byte word 1 to
// the counting descriptor.
func (el *EventLoop) Wakeup() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	n, err := unix.Write(el.wakeupFD, buf[:])
	if n != len(buf) {
		log.Error("eventloop: wakeup wrote %d bytes (err %v), want 8", n, err)
	}
}

// handleWakeup drains the counting descriptor. The wake protocol is
// exclusive and monotonic: exactly 8 bytes carrying the count 1. Any other
// count, including several coalesced wakeups, is logged as an error.
func (el *EventLoop) handleWakeup() {
	var buf [8]byte
	n, err := unix.Read(el.wakeupFD, buf[:])
	if n != len(buf) || err != nil {
		log.Error("eventloop: wakeup read %d bytes (err %v), want 8", n, err)
		return
	}
	if count := binary.LittleEndian.Uint64(buf[:]); count != 1 {
		log.Error("eventloop: wakeup fd polluted, count %d", count)
	}
}

// Post enqueues fn for execution on the loop goroutine. Posts from other
// goroutines, and posts landing while the loop is draining its queue, wake
// the loop; in-loop posts during dispatch are picked up by the drain step
// of the same iteration.
func (el *EventLoop) Post(fn Functor) {
	el.mu.Lock()
	el.pending.Add(fn)
	el.mu.Unlock()
	if !el.InLoopGoroutine() || el.doingPending.Load() {
		el.Wakeup()
	}
}

// RunInLoop runs fn immediately when called on the loop goroutine, and
// posts it otherwise. Everything off-loop goes through the queue.
func (el *EventLoop) RunInLoop(fn Functor) {
	if el.InLoopGoroutine() {
		fn()
		return
	}
	el.Post(fn)
}

// doPendingFunctors drains the queue by swapping it out under the mutex and
// invoking the functors with the mutex released. Tasks posted during the
// drain are deferred to the next iteration.
func (el *EventLoop) doPendingFunctors() {
	el.doingPending.Store(true)
	el.mu.Lock()
	drained := el.pending
	el.pending = queue.New()
	el.mu.Unlock()

	for drained.Length() > 0 {
		fn := drained.Remove().(Functor)
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("eventloop: posted task panic: %v", r)
				}
			}()
			fn()
		}()
	}
	el.doingPending.Store(false)
}

// InLoopGoroutine reports whether the caller is the loop's goroutine.
func (el *EventLoop) InLoopGoroutine() bool {
	id := el.loopGID.Load()
	return id != 0 && id == gid.Get()
}

// Looping reports whether Run is active.
func (el *EventLoop) Looping() bool { return el.looping.Load() }

// LastPollTime returns the timestamp recorded after the most recent
// multiplexer wake.
func (el *EventLoop) LastPollTime() timestamp.Timestamp {
	return timestamp.FromMicros(el.lastPoll.Load())
}

// pendingLength is test-only visibility into the queue.
func (el *EventLoop) pendingLength() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.pending.Length()
}
