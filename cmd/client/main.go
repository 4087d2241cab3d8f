// Command client connects to a Fan-out Server (§6 CLI): `client host
// port [num_symbols]`.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/arcrelay/tickfan/clientsock"
	"github.com/arcrelay/tickfan/latency"
	"github.com/arcrelay/tickfan/parser"
	"github.com/arcrelay/tickfan/seqcache"
	"github.com/arcrelay/tickfan/wire"
)

const defaultNumSymbols = 10

type cacheHandler struct {
	cache     *seqcache.Cache
	latency   *latency.Tracker
	lastRecvT time.Time
}

func (h *cacheHandler) OnTrade(t wire.Trade) {
	h.cache.UpdateTrade(int(t.SymbolID), t.Price, t.Quantity)
	h.cache.Touch(int(t.SymbolID), t.Timestamp)
	h.recordInterval()
}

func (h *cacheHandler) OnQuote(q wire.Quote) {
	h.cache.UpdateQuote(int(q.SymbolID), q.BidPrice, q.BidQty, q.AskPrice, q.AskQty)
	h.cache.Touch(int(q.SymbolID), q.Timestamp)
	h.recordInterval()
}

func (h *cacheHandler) OnHeartbeat(hb wire.Heartbeat) {
	h.cache.Touch(int(hb.SymbolID), hb.Timestamp)
	h.recordInterval()
}

// recordInterval records the receive-to-receive interval into the
// latency tracker — the spec's §9 open question preserves this behavior
// (a recv-delta sample, not true wire-to-handler latency) unchanged.
func (h *cacheHandler) recordInterval() {
	now := time.Now()
	if !h.lastRecvT.IsZero() {
		h.latency.Record(now.Sub(h.lastRecvT).Nanoseconds())
	}
	h.lastRecvT = now
}

func main() {
	log.Println("🐙 tickfan client starting...")
	godotenv.Load()

	host, port, numSymbols, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("usage: client host port [num_symbols]: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sock := clientsock.New()
	log.Printf("🔌 connecting to %s:%d...", host, port)
	if !sock.Connect(host, port, 5*time.Second) {
		log.Fatalf("clientsock: failed to connect to %s:%d", host, port)
	}
	defer sock.Close()

	ids := make([]uint16, numSymbols)
	for i := range ids {
		ids[i] = uint16(i)
	}
	if !sock.SendSubscription(ids) {
		log.Fatalf("clientsock: failed to send subscription")
	}

	h := &cacheHandler{
		cache:   seqcache.New(numSymbols),
		latency: latency.New(1024),
	}
	p := parser.New(parser.MinBufferCapacity)

	go reportLoop(ctx, h)

	buf := make([]byte, 64*1024)
	for ctx.Err() == nil {
		n := sock.Receive(buf)
		switch {
		case n > 0:
			p.Parse(buf[:n], h)
		case n == 0 && !sock.Connected():
			log.Println("👋 server closed the connection.")
			return
		case n < 0:
			log.Println("clientsock: receive error, stopping.")
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
	log.Println("👋 client stopped.")
}

func reportLoop(ctx context.Context, h *cacheHandler) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := h.latency.Stats()
			log.Printf("updates=%d recv_interval_p99=%dns", h.cache.TotalUpdates(), stats.P99)
		}
	}
}

func parseArgs(args []string) (host string, port, numSymbols int, err error) {
	if len(args) < 2 {
		return "", 0, 0, fmt.Errorf("missing host/port")
	}
	host = args[0]
	port, err = strconv.Atoi(args[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad port %q: %w", args[1], err)
	}
	numSymbols = defaultNumSymbols
	if len(args) >= 3 {
		numSymbols, err = strconv.Atoi(args[2])
		if err != nil {
			return "", 0, 0, fmt.Errorf("bad num_symbols %q: %w", args[2], err)
		}
	}
	return host, port, numSymbols, nil
}
