// File: transport/addr.go
// IPv4 endpoint value type.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Addr is an IPv4 TCP endpoint. The zero value is 0.0.0.0:0.
type Addr struct {
	ip   [4]byte
	port uint16
}

// NewAddr parses a dotted IPv4 string. Empty or "0.0.0.0" binds the
// wildcard address. Non-IPv4 input falls back to the wildcard.
func NewAddr(ip string, port uint16) Addr {
	a := Addr{port: port}
	if ip == "" || ip == "0.0.0.0" {
		return a
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return a
	}
	if v4 := parsed.To4(); v4 != nil {
		copy(a.ip[:], v4)
	}
	return a
}

// AddrFromSockaddr converts an accept/getsockname result.
func AddrFromSockaddr(sa unix.Sockaddr) Addr {
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return Addr{ip: in4.Addr, port: uint16(in4.Port)}
	}
	return Addr{}
}

// Sockaddr converts to the form bind/connect expect.
func (a Addr) Sockaddr() *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(a.port), Addr: a.ip}
}

// IP returns the dotted-quad form.
func (a Addr) IP() string {
	return net.IP(a.ip[:]).String()
}

// Port returns the TCP port.
func (a Addr) Port() uint16 { return a.port }

// String formats as "ip:port".
func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.IP(), a.port)
}
