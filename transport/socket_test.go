// File: transport/socket_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestSocketListenAccept(t *testing.T) {
	sock, err := NewTCPSocket()
	if err != nil {
		t.Fatal(err)
	}
	defer sock.Close()
	sock.SetReuseAddr(true)

	if err := sock.Bind(NewAddr("127.0.0.1", 0)); err != nil {
		t.Fatal(err)
	}
	if err := sock.Listen(); err != nil {
		t.Fatal(err)
	}
	bound := sock.LocalAddr()
	if bound.Port() == 0 {
		t.Fatal("bound port not resolved")
	}

	client, err := net.Dial("tcp", bound.String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// The listen socket is non-blocking; poll until the handshake lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		fd, peer, err := sock.Accept()
		if err == unix.EAGAIN {
			if time.Now().After(deadline) {
				t.Fatal("accept never completed")
			}
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		defer unix.Close(fd)
		if peer.IP() != "127.0.0.1" {
			t.Fatalf("peer = %v", peer)
		}
		break
	}
}

func TestSocketCloseIdempotent(t *testing.T) {
	sock, err := NewTCPSocket()
	if err != nil {
		t.Fatal(err)
	}
	sock.Close()
	sock.Close()
}
