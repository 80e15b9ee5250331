// File: transport/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package transport holds the socket-level pieces: Addr (IPv4 endpoint
// value), Socket (owned descriptor with the bind/listen/accept/option
// surface) and Conn (the per-connection state machine over a reactor
// channel, owning the input/output buffers).
package transport
