// File: transport/conn_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/netreactor/pool"
	"github.com/momentics/netreactor/reactor"
	"github.com/momentics/netreactor/timestamp"
)

// connFixture wires a Conn over one end of a socketpair onto a running
// loop and hands the other end to the test.
type connFixture struct {
	loop   *reactor.EventLoop
	conn   *Conn
	peerFD int
	join   func()
}

func newConnFixture(t *testing.T) *connFixture {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatal(err)
	}

	loop, err := reactor.NewEventLoop()
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run()
	}()

	conn := NewConn(fds[0], loop, "fixture", Addr{}, Addr{}, pool.NewBufferPool())
	f := &connFixture{
		loop:   loop,
		conn:   conn,
		peerFD: fds[1],
		join: func() {
			loop.Stop()
			wg.Wait()
			loop.Close()
		},
	}
	t.Cleanup(func() {
		f.join()
		unix.Close(f.peerFD)
	})
	return f
}

// peerRead blocks (by polling) until n bytes arrive on the peer end.
func (f *connFixture) peerRead(t *testing.T, n int, timeout time.Duration) []byte {
	t.Helper()
	out := make([]byte, 0, n)
	buf := make([]byte, 64*1024)
	deadline := time.Now().Add(timeout)
	for len(out) < n {
		r, err := unix.Read(f.peerFD, buf)
		if err == unix.EAGAIN {
			if time.Now().After(deadline) {
				t.Fatalf("peer read timed out with %d/%d bytes", len(out), n)
			}
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if r == 0 {
			break
		}
		out = append(out, buf[:r]...)
	}
	return out
}

func TestConnEstablishFiresUpTransition(t *testing.T) {
	f := newConnFixture(t)

	up := make(chan bool, 1)
	f.conn.SetConnectionCallback(func(c *Conn) { up <- c.Connected() })
	f.loop.Post(f.conn.Establish)

	select {
	case connected := <-up:
		if !connected {
			t.Fatal("first onConnection reported connected == false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onConnection never fired")
	}
	if f.conn.State() != StateConnected {
		t.Fatalf("state = %v, want StateConnected", f.conn.State())
	}
}

func TestConnDeliversMessages(t *testing.T) {
	f := newConnFixture(t)

	type delivery struct {
		payload []byte
		ts      timestamp.Timestamp
	}
	got := make(chan delivery, 1)
	f.conn.SetMessageCallback(func(c *Conn, b *pool.Buffer, ts timestamp.Timestamp) {
		got <- delivery{payload: append([]byte(nil), b.Peek()...), ts: ts}
		b.RetrieveAll()
	})
	f.loop.Post(f.conn.Establish)

	if _, err := unix.Write(f.peerFD, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	select {
	case d := <-got:
		if !bytes.Equal(d.payload, []byte("ping")) {
			t.Fatalf("payload = %q", d.payload)
		}
		if !d.ts.Valid() {
			t.Fatal("message timestamp invalid")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestConnEcho(t *testing.T) {
	f := newConnFixture(t)

	f.conn.SetMessageCallback(func(c *Conn, b *pool.Buffer, ts timestamp.Timestamp) {
		c.Send(b.TakeAll())
	})
	f.loop.Post(f.conn.Establish)

	if _, err := unix.Write(f.peerFD, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if got := f.peerRead(t, 5, 2*time.Second); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("echo = %q", got)
	}
}

func TestConnUpDownExactlyOnce(t *testing.T) {
	f := newConnFixture(t)

	var ups, downs atomic.Int32
	downDone := make(chan struct{}, 1)
	f.conn.SetConnectionCallback(func(c *Conn) {
		if c.Connected() {
			ups.Add(1)
		} else {
			downs.Add(1)
			downDone <- struct{}{}
		}
	})
	f.loop.Post(f.conn.Establish)

	// Peer closes; the connection must observe EOF and go down once.
	time.Sleep(100 * time.Millisecond)
	unix.Shutdown(f.peerFD, unix.SHUT_WR)

	select {
	case <-downDone:
	case <-time.After(2 * time.Second):
		t.Fatal("down transition never fired")
	}
	// A second close attempt must be a no-op.
	f.conn.ForceClose()
	time.Sleep(100 * time.Millisecond)

	if ups.Load() != 1 || downs.Load() != 1 {
		t.Fatalf("up/down = %d/%d, want 1/1", ups.Load(), downs.Load())
	}
	if f.conn.State() != StateDisconnected {
		t.Fatalf("state = %v, want StateDisconnected", f.conn.State())
	}
}

func TestConnCloseCallbackAfterBookkeeping(t *testing.T) {
	f := newConnFixture(t)

	var order []string
	closed := make(chan struct{})
	f.conn.SetServerCloseCallback(func(*Conn) { order = append(order, "server") })
	f.conn.SetCloseCallback(func(*Conn) {
		order = append(order, "user")
		close(closed)
	})
	f.loop.Post(f.conn.Establish)

	time.Sleep(50 * time.Millisecond)
	unix.Close(f.peerFD)
	// Reopen a placeholder so the cleanup close has a valid target.
	fd, _ := unix.Open("/dev/null", unix.O_RDONLY, 0)
	f.peerFD = fd

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close path never ran")
	}
	if len(order) != 2 || order[0] != "server" || order[1] != "user" {
		t.Fatalf("close order = %v, want [server user]", order)
	}
}

func TestConnHighWaterMarkAndWriteComplete(t *testing.T) {
	f := newConnFixture(t)

	unix.SetsockoptInt(f.conn.FD(), unix.SOL_SOCKET, unix.SO_SNDBUF, 4096)
	unix.SetsockoptInt(f.peerFD, unix.SOL_SOCKET, unix.SO_RCVBUF, 4096)

	f.conn.SetHighWaterMark(1024)
	var hwmSize atomic.Int64
	f.conn.SetHighWaterMarkCallback(func(c *Conn, n int) {
		hwmSize.Store(int64(n))
	})
	complete := make(chan struct{}, 1)
	f.conn.SetWriteCompleteCallback(func(*Conn) {
		select {
		case complete <- struct{}{}:
		default:
		}
	})
	f.loop.Post(f.conn.Establish)
	time.Sleep(50 * time.Millisecond)

	payload := bytes.Repeat([]byte{'x'}, 1<<20)
	f.conn.Send(payload)

	// The slow consumer drains everything; the echo of back-pressure and
	// the final drain notification must both be observed.
	got := f.peerRead(t, len(payload), 10*time.Second)
	if len(got) != len(payload) {
		t.Fatalf("received %d bytes, want %d", len(got), len(payload))
	}
	select {
	case <-complete:
	case <-time.After(2 * time.Second):
		t.Fatal("onWriteComplete never fired")
	}
	if hwmSize.Load() < 1024 {
		t.Fatalf("high watermark size = %d, want >= 1024", hwmSize.Load())
	}
}

func TestConnShutdownHalfCloses(t *testing.T) {
	f := newConnFixture(t)
	f.loop.Post(f.conn.Establish)
	time.Sleep(50 * time.Millisecond)

	f.conn.Shutdown()

	// The peer observes EOF on its read end.
	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := unix.Read(f.peerFD, buf)
		if err == unix.EAGAIN {
			if time.Now().After(deadline) {
				t.Fatal("peer never observed the half-close")
			}
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			return // EOF
		}
	}
}

func TestConnContextRoundTrip(t *testing.T) {
	f := newConnFixture(t)
	type session struct{ user string }

	f.conn.SetContext(&session{user: "alice"})
	got, ok := f.conn.Context().(*session)
	if !ok || got.user != "alice" {
		t.Fatalf("context = %#v", f.conn.Context())
	}
}

func TestConnSendDroppedWhenNotConnected(t *testing.T) {
	f := newConnFixture(t)
	// Never established: still StateConnecting.
	f.conn.Send([]byte("dropped"))

	time.Sleep(100 * time.Millisecond)
	buf := make([]byte, 16)
	if _, err := unix.Read(f.peerFD, buf); err != unix.EAGAIN {
		t.Fatalf("peer received data from a non-connected send (err=%v)", err)
	}
}
