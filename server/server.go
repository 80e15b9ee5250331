// File: server/server.go
// Multi-reactor TCP server: one acceptor loop, N I/O loops, round-robin
// connection dispatch, idle-timeout sweeping.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/netreactor/config"
	"github.com/momentics/netreactor/log"
	"github.com/momentics/netreactor/pool"
	"github.com/momentics/netreactor/reactor"
	"github.com/momentics/netreactor/timeout"
	"github.com/momentics/netreactor/timestamp"
	"github.com/momentics/netreactor/transport"
)

// ErrAlreadyRunning is returned by Serve on a server that is serving.
var ErrAlreadyRunning = errors.New("server already running")

// Server owns the listening endpoint and the reactor pool. Construction
// binds and listens; Serve runs the acceptor loop on the calling goroutine
// and spawns one goroutine per I/O loop plus the timeout sweeper.
//
// Callbacks must be installed before Serve.
type Server struct {
	addr       transport.Addr
	ioThreads  int
	timeoutSec int
	highWater  int

	listenSock *transport.Socket
	acceptLoop *reactor.EventLoop
	acceptCh   *reactor.Channel

	ioLoops []*reactor.EventLoop
	ioWG    sync.WaitGroup
	next    int // round-robin cursor, touched only on the acceptor loop

	connSeq atomic.Int64
	mu      sync.Mutex
	conns   map[int]*transport.Conn

	timeoutMgr *timeout.Manager
	sweepDone  chan struct{}
	sweepWG    sync.WaitGroup
	acceptDone chan struct{}

	running atomic.Bool

	connectionCB    transport.ConnectionCallback
	messageCB       transport.MessageCallback
	writeCompleteCB transport.WriteCompleteCallback
	highWaterMarkCB transport.HighWaterMarkCallback
	closeCB         transport.CloseCallback
}

// New binds ip:port and builds the reactor pool. The listen socket gets
// SO_REUSEADDR and the OS maximum backlog; I/O loops default to hardware
// concurrency.
func New(ip string, port uint16, opts ...Option) (*Server, error) {
	s := &Server{
		addr:       transport.NewAddr(ip, port),
		ioThreads:  runtime.NumCPU(),
		timeoutSec: 300,
		highWater:  transport.DefaultHighWaterMark,
		conns:      make(map[int]*transport.Conn),
		sweepDone:  make(chan struct{}),
		acceptDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	sock, err := transport.NewTCPSocket()
	if err != nil {
		return nil, fmt.Errorf("listen socket: %w", err)
	}
	sock.SetReuseAddr(true)
	if err := sock.Bind(s.addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("bind %s: %w", s.addr, err)
	}
	if err := sock.Listen(); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listenSock = sock
	s.addr = sock.LocalAddr() // resolve port 0

	s.acceptLoop, err = reactor.NewEventLoop()
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("acceptor loop: %w", err)
	}
	s.ioLoops = make([]*reactor.EventLoop, 0, s.ioThreads)
	for i := 0; i < s.ioThreads; i++ {
		loop, err := reactor.NewEventLoop()
		if err != nil {
			s.closeLoops()
			sock.Close()
			return nil, fmt.Errorf("io loop %d: %w", i, err)
		}
		s.ioLoops = append(s.ioLoops, loop)
	}

	if s.timeoutSec > 0 {
		s.timeoutMgr = timeout.NewManager(s.timeoutSec, s.handleTimeout)
	}

	// The listen descriptor drains in bursts, so it runs edge-triggered.
	s.acceptCh = reactor.NewChannel(s.acceptLoop, sock.FD())
	s.acceptCh.SetEdgeTriggered(true)
	s.acceptCh.SetReadCallback(s.handleAccept)

	log.Info("server: listening on %s with %d io loops", s.addr, s.ioThreads)
	return s, nil
}

// FromConfig builds a Server from a loaded configuration, applying its log
// level to the default logger when that is a StdLogger. Options given here
// override the configuration.
func FromConfig(cfg *config.Config, opts ...Option) (*Server, error) {
	if lvl, ok := log.ParseLevel(cfg.Logging.Level); ok {
		if std, isStd := log.Default().(*log.StdLogger); isStd {
			std.SetLevel(lvl)
		}
	}
	base := []Option{
		WithTimeout(cfg.Server.TimeoutSeconds),
		WithHighWaterMark(cfg.Server.HighWaterMark),
		WithIOThreads(cfg.Server.IOThreads),
	}
	return New(cfg.Server.ListenIP, cfg.Server.Port, append(base, opts...)...)
}

// Addr returns the resolved listen endpoint.
func (s *Server) Addr() transport.Addr { return s.addr }

// SetConnectionCallback installs the up/down observer for every connection.
func (s *Server) SetConnectionCallback(cb transport.ConnectionCallback) { s.connectionCB = cb }

// SetMessageCallback installs the data observer for every connection.
func (s *Server) SetMessageCallback(cb transport.MessageCallback) { s.messageCB = cb }

// SetWriteCompleteCallback installs the output-drained observer.
func (s *Server) SetWriteCompleteCallback(cb transport.WriteCompleteCallback) {
	s.writeCompleteCB = cb
}

// SetHighWaterMarkCallback installs the back-pressure observer.
func (s *Server) SetHighWaterMarkCallback(cb transport.HighWaterMarkCallback) {
	s.highWaterMarkCB = cb
}

// SetCloseCallback installs the close observer.
func (s *Server) SetCloseCallback(cb transport.CloseCallback) { s.closeCB = cb }

// Serve starts the I/O loops and the timeout sweeper, then runs the
// acceptor loop on the calling goroutine until Stop.
func (s *Server) Serve() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	for i, loop := range s.ioLoops {
		s.ioWG.Add(1)
		go func(i int, loop *reactor.EventLoop) {
			defer s.ioWG.Done()
			log.Debug("server: io loop %d starting", i)
			loop.Run()
		}(i, loop)
	}

	if s.timeoutMgr != nil {
		s.sweepWG.Add(1)
		go func() {
			defer s.sweepWG.Done()
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-s.sweepDone:
					return
				case <-ticker.C:
					s.timeoutMgr.Sweep()
				}
			}
		}()
	}

	s.acceptCh.EnableReading()
	s.acceptLoop.Run()
	close(s.acceptDone)
	return nil
}

// Stop shuts the server down: the acceptor first, then the I/O loops, the
// sweeper, the surviving connections, and finally the listen descriptor.
// The loop goroutines are joined before the pool is torn down; Stop must
// therefore be called from outside every loop goroutine.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	log.Info("server: stopping %s", s.addr)

	s.acceptLoop.Stop()
	<-s.acceptDone
	for _, loop := range s.ioLoops {
		loop.Stop()
	}
	if s.timeoutMgr != nil {
		close(s.sweepDone)
		s.sweepWG.Wait()
	}
	s.ioWG.Wait()

	// The loops are quiescent; surviving connections are torn down on this
	// goroutine, firing their down transitions symmetrically.
	s.mu.Lock()
	remaining := make([]*transport.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		remaining = append(remaining, c)
	}
	s.conns = make(map[int]*transport.Conn)
	s.mu.Unlock()
	for _, c := range remaining {
		if s.timeoutMgr != nil {
			s.timeoutMgr.Remove(c.FD())
		}
		c.Destroy()
	}

	s.closeLoops()
	s.listenSock.Close()
}

func (s *Server) closeLoops() {
	if s.acceptLoop != nil {
		s.acceptLoop.Close()
	}
	for _, loop := range s.ioLoops {
		loop.Close()
	}
}

// handleAccept drains the listen socket until EAGAIN, dispatching each
// accepted descriptor to the next I/O loop in round-robin order.
func (s *Server) handleAccept(timestamp.Timestamp) {
	for {
		connFD, peerAddr, err := s.listenSock.Accept()
		if err != nil {
			if err == unix.EAGAIN {
				return // burst drained
			}
			log.Error("server: accept: %v", err)
			return
		}

		loop := s.ioLoops[s.next]
		s.next = (s.next + 1) % len(s.ioLoops)

		seq := s.connSeq.Add(1)
		name := fmt.Sprintf("%s#%d-%s", s.addr, seq, peerAddr)
		conn := transport.NewConn(connFD, loop, name, s.addr, peerAddr, pool.Shared())
		conn.SetHighWaterMark(s.highWater)
		conn.SetConnectionCallback(s.connectionCB)
		conn.SetMessageCallback(s.deliverMessage)
		conn.SetWriteCompleteCallback(s.writeCompleteCB)
		conn.SetHighWaterMarkCallback(s.highWaterMarkCB)
		conn.SetCloseCallback(s.closeCB)
		conn.SetServerCloseCallback(s.forgetConnection)

		s.mu.Lock()
		s.conns[connFD] = conn
		s.mu.Unlock()
		if s.timeoutMgr != nil {
			s.timeoutMgr.Add(connFD)
		}

		loop.Post(conn.Establish)
	}
}

// deliverMessage refreshes the idle deadline and forwards to the
// application observer.
func (s *Server) deliverMessage(c *transport.Conn, b *pool.Buffer, ts timestamp.Timestamp) {
	if s.timeoutMgr != nil {
		s.timeoutMgr.Update(c.FD())
	}
	if s.messageCB != nil {
		s.messageCB(c, b, ts)
	}
}

// forgetConnection is the server-side close bookkeeping, run on the
// connection's loop before the application observes the close.
func (s *Server) forgetConnection(c *transport.Conn) {
	if s.timeoutMgr != nil {
		s.timeoutMgr.Remove(c.FD())
	}
	s.mu.Lock()
	delete(s.conns, c.FD())
	s.mu.Unlock()
}

// handleTimeout closes an idle connection through its owning loop.
func (s *Server) handleTimeout(fd int) {
	s.mu.Lock()
	conn := s.conns[fd]
	s.mu.Unlock()
	if conn == nil {
		return
	}
	log.Info("server: idle timeout on %s", conn.Name())
	conn.ForceClose()
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
