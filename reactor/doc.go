// File: reactor/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package reactor implements the event-loop runtime: EventLoop multiplexes
// descriptors on epoll from a single goroutine, Channel carries one
// descriptor's interest set and callbacks, and the eventfd-backed wakeup
// plus the pending-functor queue let other goroutines schedule work onto a
// loop without sharing its state.
package reactor
