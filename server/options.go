// File: server/options.go
// Package server defines functional options for Server construction.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "github.com/momentics/netreactor/transport"

// Option customizes server initialization.
type Option func(*Server)

// WithIOThreads sets the number of I/O reactors.
func WithIOThreads(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.ioThreads = n
		}
	}
}

// WithTimeout sets the idle-connection cutoff in seconds; 0 disables the
// timeout manager entirely.
func WithTimeout(seconds int) Option {
	return func(s *Server) {
		s.timeoutSec = seconds
	}
}

// WithHighWaterMark sets the per-connection output back-pressure threshold.
func WithHighWaterMark(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.highWater = n
		}
	}
}

// WithConnectionCallback installs the up/down observer.
func WithConnectionCallback(cb transport.ConnectionCallback) Option {
	return func(s *Server) { s.connectionCB = cb }
}

// WithMessageCallback installs the data observer.
func WithMessageCallback(cb transport.MessageCallback) Option {
	return func(s *Server) { s.messageCB = cb }
}

// WithWriteCompleteCallback installs the output-drained observer.
func WithWriteCompleteCallback(cb transport.WriteCompleteCallback) Option {
	return func(s *Server) { s.writeCompleteCB = cb }
}

// WithHighWaterMarkCallback installs the back-pressure observer.
func WithHighWaterMarkCallback(cb transport.HighWaterMarkCallback) Option {
	return func(s *Server) { s.highWaterMarkCB = cb }
}

// WithCloseCallback installs the close observer.
func WithCloseCallback(cb transport.CloseCallback) Option {
	return func(s *Server) { s.closeCB = cb }
}
