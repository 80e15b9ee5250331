// File: server/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package server assembles the framework: a listening socket on an
// acceptor loop, a pool of I/O loops fed round-robin, the idle-timeout
// sweeper, and the callback surface applications program against.
package server
