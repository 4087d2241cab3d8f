// Package fanout is the Fan-out Server: a non-blocking accept/event loop
// over golang.org/x/sys/unix epoll, a tick-generation goroutine, and a
// broadcast path with per-symbol subscription filtering and slow-consumer
// isolation, per §4.8.
//
// Grounded on original_source/src/server/exchange_simulator.cpp's
// ExchangeSimulator (epoll_create1 + server-fd EPOLLIN + per-client
// EPOLLIN|EPOLLET, the 100ms epoll_wait timeout, and broadcast_message's
// EAGAIN→mark_slow / EPIPE→disconnect split), recast into Go idiom the
// way the teacher's feeder/binance/feeder.go structures its own dial/run
// goroutine plus a context-cancelable shutdown.
package fanout

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/arcrelay/tickfan/registry"
	"github.com/arcrelay/tickfan/tickengine"
	"github.com/arcrelay/tickfan/wire"
)

const (
	backlog         = 1000
	maxEvents       = 256
	epollTimeoutMS  = 100
	clientReadLimit = 1024
	fragmentSleep   = 100 * time.Microsecond
)

// Config holds the values the spec's CLI/config layer feeds into a
// Server (§6): listening port, tick rate, and whether the tick engine's
// fault injection is enabled. The symbol set is passed to New separately.
type Config struct {
	Port           int
	TickRate       int
	FaultInjection bool
}

// Server is the fan-out server's runtime state: one listening socket,
// one epoll instance, the client registry, and the tick engine.
type Server struct {
	cfg Config
	log *log.Logger

	listenFD int
	epollFD  int

	registry *registry.Registry
	engine   *tickengine.Engine

	mu      sync.Mutex
	running bool

	rateChanged chan struct{}
}

// New builds a Server bound to no socket yet. Symbols must already be
// loaded (typically via the catalog package) before Start.
func New(cfg Config, symbols []*tickengine.Symbol) *Server {
	fault := tickengine.FaultInjection{Enabled: cfg.FaultInjection}
	return &Server{
		cfg:         cfg,
		log:         log.New(os.Stderr, "fanout: ", log.LstdFlags),
		listenFD:    -1,
		epollFD:     -1,
		registry:    registry.New(),
		engine:      tickengine.New(symbols, cfg.TickRate, fault),
		rateChanged: make(chan struct{}, 1),
	}
}

// Registry exposes the client registry for introspection (tests, admin
// endpoints); the server itself is the only writer.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Start creates the listening socket, binds, listens with the spec's
// backlog of 1000, and registers the server fd for readable events.
// Listening-socket failures are fatal at startup per §4.8/§7.
func (s *Server) Start() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("fanout: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("fanout: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("fanout: set nonblocking: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("fanout: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return fmt.Errorf("fanout: listen: %w", err)
	}

	epollFD, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("fanout: epoll_create1: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(epollFD)
		unix.Close(fd)
		return fmt.Errorf("fanout: epoll_ctl add server fd: %w", err)
	}

	s.listenFD, s.epollFD = fd, epollFD
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.log.Printf("🐙 listening on port %d", s.cfg.Port)
	return nil
}

// Run blocks, draining the epoll readiness set with the spec's 100ms
// timeout, until ctx is canceled. The caller is expected to also run the
// tick task (via RunTickLoop) concurrently.
func (s *Server) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, maxEvents)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := unix.EpollWait(s.epollFD, events, epollTimeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("fanout: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch {
			case fd == s.listenFD:
				s.acceptOne()
			case events[i].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0:
				s.disconnect(fd)
			case events[i].Events&unix.EPOLLIN != 0:
				s.handleClientData(fd)
			}
		}
	}
}

func (s *Server) acceptOne() {
	fd, _, err := unix.Accept(s.listenFD)
	if err != nil {
		return
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return
	}
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epollFD, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		return
	}

	s.registry.Add(fd)
	s.log.Printf("client connected: fd=%d", fd)
}

func (s *Server) disconnect(fd int) {
	unix.EpollCtl(s.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
	s.registry.Remove(fd)
	s.log.Printf("client disconnected: fd=%d", fd)
}

// handleClientData reads up to clientReadLimit bytes; a leading 0xFF
// marks a subscription frame (§4.1), anything else is discarded. A read
// error other than EAGAIN/EWOULDBLOCK runs the disconnect path.
func (s *Server) handleClientData(fd int) {
	buf := make([]byte, clientReadLimit)
	n, err := unix.Read(fd, buf)
	if n == 0 && err == nil {
		s.disconnect(fd)
		return
	}
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		s.disconnect(fd)
		return
	}

	data := buf[:n]
	if len(data) == 0 || data[0] != 0xFF {
		return
	}
	ids, ok := wire.DecodeSubscribe(data)
	if !ok {
		s.log.Printf("dropped malformed subscribe frame from fd=%d", fd)
		return
	}
	filtered := make([]uint16, 0, len(ids))
	for _, id := range ids {
		if int(id) < len(s.engine.Symbols) {
			filtered = append(filtered, id)
		}
	}
	s.registry.Subscribe(fd, filtered)
}

// RunTickLoop is the tick task described in §4.8: with tick_rate == 0 it
// parks until the rate changes or ctx is canceled; otherwise it paces
// tick_rate/N messages per symbol per second, sleeping the remainder of
// each 1-second cycle.
func (s *Server) RunTickLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		rate := s.cfg.TickRate
		s.mu.Unlock()
		if rate == 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.rateChanged:
				continue
			}
		}

		numSymbols := len(s.engine.Symbols)
		if numSymbols == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		start := time.Now()
		perSymbol := rate / numSymbols
		for idx := range s.engine.Symbols {
			for i := 0; i < perSymbol; i++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				msg := s.engine.Tick(idx)
				s.Broadcast(msg, s.engine.Symbols[idx].ID)
			}
		}

		elapsed := time.Since(start)
		remaining := time.Second - elapsed
		if remaining > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(remaining):
			case <-s.rateChanged:
			}
		}
	}
}

// SetTickRate updates the tick rate and wakes RunTickLoop if it was
// parked waiting for a zero-to-nonzero transition.
func (s *Server) SetTickRate(rate int) {
	s.mu.Lock()
	s.cfg.TickRate = rate
	s.mu.Unlock()
	select {
	case s.rateChanged <- struct{}{}:
	default:
	}
}

// Broadcast sends msg to every client subscribed to symbolID, applying
// the fault-injection fragmentation check per recipient and the
// EAGAIN→slow / EPIPE→disconnect split from §4.8.
func (s *Server) Broadcast(msg []byte, symbolID uint16) {
	fds := s.registry.SubscribedClients(symbolID)
	for _, fd := range fds {
		if s.engine.ShouldFragment() {
			s.sendFragmented(fd, msg)
			continue
		}
		s.sendOne(fd, msg)
	}
}

func (s *Server) sendOne(fd int, msg []byte) {
	n, err := unix.SendmsgN(fd, msg, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
	if err != nil {
		s.registry.Record(fd, 0, false)
		switch err {
		case unix.EAGAIN:
			s.registry.MarkSlow(fd)
		case unix.EPIPE, unix.ECONNRESET:
			s.disconnect(fd)
		}
		return
	}
	s.registry.Record(fd, n, true)
}

func (s *Server) sendFragmented(fd int, msg []byte) {
	half := len(msg) / 2
	n1, err := unix.SendmsgN(fd, msg[:half], nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
	if err != nil || n1 <= 0 {
		s.registry.Record(fd, 0, false)
		return
	}
	time.Sleep(fragmentSleep)
	n2, err := unix.SendmsgN(fd, msg[half:], nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
	if err != nil {
		s.registry.Record(fd, n1, false)
		return
	}
	s.registry.Record(fd, n1+n2, true)
}

// Stop marks the server stopped and closes the listening and epoll
// descriptors. It does not close client fds — the caller's shutdown
// sequence is expected to let in-flight disconnects happen naturally, or
// to call Registry().Remove explicitly per fd.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.listenFD >= 0 {
		unix.Close(s.listenFD)
		s.listenFD = -1
	}
	if s.epollFD >= 0 {
		unix.Close(s.epollFD)
		s.epollFD = -1
	}
	s.log.Printf("👋 stopped")
}
