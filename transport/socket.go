// File: transport/socket.go
// Owned socket descriptor with the listen/accept/option surface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/netreactor/log"
)

// Socket owns one descriptor. Closing is the owner's responsibility and is
// idempotent through Close.
type Socket struct {
	fd     int
	closed bool
}

// NewTCPSocket creates a non-blocking IPv4 stream socket.
func NewTCPSocket() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	return &Socket{fd: fd}, nil
}

// NewSocket wraps an already-open descriptor, typically from accept.
func NewSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// FD returns the raw descriptor.
func (s *Socket) FD() int { return s.fd }

// Bind binds to addr.
func (s *Socket) Bind(addr Addr) error {
	return unix.Bind(s.fd, addr.Sockaddr())
}

// Listen starts listening with the OS maximum backlog.
func (s *Socket) Listen() error {
	return unix.Listen(s.fd, unix.SOMAXCONN)
}

// Accept accepts one pending connection with the non-blocking and
// close-on-exec flags applied atomically. The unix.Errno is returned
// unwrapped so the accept loop can see EAGAIN.
func (s *Socket) Accept() (int, Addr, error) {
	for {
		connFD, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, Addr{}, err
		}
		return connFD, AddrFromSockaddr(sa), nil
	}
}

// LocalAddr returns the bound endpoint, useful after binding port 0.
func (s *Socket) LocalAddr() Addr {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		log.Error("socket: getsockname on fd %d: %v", s.fd, err)
		return Addr{}
	}
	return AddrFromSockaddr(sa)
}

// ShutdownWrite half-closes the write direction.
func (s *Socket) ShutdownWrite() {
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil {
		log.Error("socket: shutdown write on fd %d: %v", s.fd, err)
	}
}

// SetReuseAddr toggles SO_REUSEADDR.
func (s *Socket) SetReuseAddr(on bool) {
	s.setOption(unix.SOL_SOCKET, unix.SO_REUSEADDR, on)
}

// SetReusePort toggles SO_REUSEPORT.
func (s *Socket) SetReusePort(on bool) {
	s.setOption(unix.SOL_SOCKET, unix.SO_REUSEPORT, on)
}

// SetKeepAlive toggles SO_KEEPALIVE.
func (s *Socket) SetKeepAlive(on bool) {
	s.setOption(unix.SOL_SOCKET, unix.SO_KEEPALIVE, on)
}

// SetTCPNoDelay toggles TCP_NODELAY.
func (s *Socket) SetTCPNoDelay(on bool) {
	s.setOption(unix.IPPROTO_TCP, unix.TCP_NODELAY, on)
}

func (s *Socket) setOption(level, opt int, on bool) {
	val := 0
	if on {
		val = 1
	}
	if err := unix.SetsockoptInt(s.fd, level, opt, val); err != nil {
		log.Error("socket: setsockopt(%d, %d) on fd %d: %v", level, opt, s.fd, err)
	}
}

// Close releases the descriptor. Safe to call twice.
func (s *Socket) Close() {
	if s.closed {
		return
	}
	s.closed = true
	unix.Close(s.fd)
}
