package fanout

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/arcrelay/tickfan/tickengine"
	"github.com/arcrelay/tickfan/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startServer(t *testing.T, cfg Config) (*Server, context.CancelFunc) {
	t.Helper()
	symbols := []*tickengine.Symbol{tickengine.NewSymbol(0, "TEST", 100, 0, 0.1)}
	s := New(cfg, symbols)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
	return s, cancel
}

// TestAcceptRegistersClient confirms a freshly accepted connection can
// subscribe and receive a broadcast — the only externally observable
// proof that the accept path registered it, since Registry exposes no
// raw client count.
func TestAcceptRegistersClient(t *testing.T) {
	port := freePort(t)
	s, _ := startServer(t, Config{Port: port})

	conn, err := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	conn.Write(wire.EncodeSubscribe([]uint16{0}))
	time.Sleep(50 * time.Millisecond)

	msg := wire.EncodeTrade(wire.Header{SeqNum: 1, SymbolID: 0}, 1, 1)
	s.Broadcast(msg, 0)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	if n, err := conn.Read(buf); err != nil || n != len(msg) {
		t.Fatalf("accepted client never received its broadcast: n=%d err=%v", n, err)
	}
}

func TestSubscriptionFiltersBroadcast(t *testing.T) {
	port := freePort(t)
	s, _ := startServer(t, Config{Port: port})

	connA, err := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer connA.Close()
	connB, err := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer connB.Close()

	time.Sleep(50 * time.Millisecond) // let accept-loop register both

	subA := wire.EncodeSubscribe([]uint16{0})
	if _, err := connA.Write(subA); err != nil {
		t.Fatalf("write subscribe A: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the event loop process it

	msg := wire.EncodeTrade(wire.Header{SeqNum: 1, SymbolID: 0}, 42, 1)
	s.Broadcast(msg, 0)

	connA.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, err := connA.Read(buf)
	if err != nil || n != len(msg) {
		t.Fatalf("client A did not receive the broadcast: n=%d err=%v", n, err)
	}

	connB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := connB.Read(buf); err == nil {
		t.Fatal("client B (unsubscribed) received a message")
	}
}

func TestSlowConsumerIsolation(t *testing.T) {
	port := freePort(t)
	s, _ := startServer(t, Config{Port: port})

	slow, err := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial slow: %v", err)
	}
	defer slow.Close()
	fast, err := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial fast: %v", err)
	}
	defer fast.Close()

	time.Sleep(50 * time.Millisecond)
	for _, c := range []net.Conn{slow, fast} {
		c.Write(wire.EncodeSubscribe([]uint16{0}))
	}
	time.Sleep(50 * time.Millisecond)

	// Never read from slow — its kernel send buffer eventually fills and
	// Broadcast must keep delivering to fast without blocking.
	for i := 0; i < 5000; i++ {
		msg := wire.EncodeTrade(wire.Header{SeqNum: uint32(i + 1), SymbolID: 0}, 1, 1)
		s.Broadcast(msg, 0)
	}

	fast.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, wire.TradeMessageSize)
	if _, err := fast.Read(buf); err != nil {
		t.Fatalf("fast consumer starved: %v", err)
	}
}

func TestDisconnectPurgesSubscriptions(t *testing.T) {
	port := freePort(t)
	s, _ := startServer(t, Config{Port: port})

	conn, err := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	conn.Write(wire.EncodeSubscribe([]uint16{0}))
	time.Sleep(50 * time.Millisecond)
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(s.Registry().SubscribedClients(0)) == 0 {
			return
		}
		// the event loop only notices the close on its next epoll_wait
		s.Broadcast(wire.EncodeTrade(wire.Header{SeqNum: 1, SymbolID: 0}, 1, 1), 0)
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("subscription not purged after disconnect")
}

func TestTickLoopParksAtZeroRate(t *testing.T) {
	port := freePort(t)
	s, _ := startServer(t, Config{Port: port, TickRate: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.RunTickLoop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunTickLoop did not return after context cancellation")
	}
}
