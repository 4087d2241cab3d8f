// Package calibration is an optional startup-time price seed: it pulls a
// live reference mid-price from Binance's public bookTicker stream for a
// configured set of symbols and publishes each (bid, ask) once, so the
// Tick Engine's GBM process can start from a real S0 instead of a static
// catalog price. It never runs on the hot broadcast path.
//
// Grounded on feeder/binance/feeder.go's WS dial/decode loop: the same
// nhooyr.io/websocket + wsjson envelope decode, narrowed from feeder.go's
// ticker-and-depth dual stream down to bookTicker only, and adapted from
// a fire-and-forget Publisher sink into a channel the caller drains a
// bounded number of times before moving on.
package calibration

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/arcrelay/tickfan/reconnect"
)

// Quote is one observed (bid, ask) pair for a symbol.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
}

type bookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

// Feed dials Binance's combined bookTicker stream for a set of symbols
// and emits a Quote on Quotes() each time one updates.
type Feed struct {
	symbols []string
	quotes  chan Quote
}

// NewFeed builds a Feed for the given symbols (Binance trading pairs,
// e.g. "btcusdt"). The returned channel has room for one pending quote
// per symbol so a slow drainer cannot stall the websocket reader
// indefinitely.
func NewFeed(symbols []string) *Feed {
	return &Feed{
		symbols: symbols,
		quotes:  make(chan Quote, len(symbols)),
	}
}

// Quotes returns the channel Run publishes observed quotes on.
func (f *Feed) Quotes() <-chan Quote { return f.quotes }

// Run dials and decodes until ctx is canceled, reconnecting with a 5
// second backoff on any stream error — the same backoff feeder.go uses
// for its own Binance reconnects, here delegated to the reconnect
// package instead of inlined.
func (f *Feed) Run(ctx context.Context) error {
	return reconnect.Loop(ctx, "calibration", 5*time.Second, f.connect)
}

func (f *Feed) connect(ctx context.Context) error {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}
	url := "wss://stream.binance.com:9443/stream?streams=" + strings.Join(streams, "/")

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("calibration: dial: %w", err)
	}
	defer conn.CloseNow()

	for {
		var envelope struct {
			Stream string          `json:"stream"`
			Data   json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, conn, &envelope); err != nil {
			return fmt.Errorf("calibration: read: %w", err)
		}
		if !strings.HasSuffix(envelope.Stream, "@bookTicker") {
			continue
		}

		var raw bookTicker
		if err := json.Unmarshal(envelope.Data, &raw); err != nil {
			continue
		}
		bid, err1 := strconv.ParseFloat(raw.BidPrice, 64)
		ask, err2 := strconv.ParseFloat(raw.AskPrice, 64)
		if err1 != nil || err2 != nil {
			continue
		}

		select {
		case f.quotes <- Quote{Symbol: raw.Symbol, Bid: bid, Ask: ask}:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// the channel is full of undrained quotes (from any symbol);
			// drop the update rather than block the reader.
		}
	}
}

// SeedOnce blocks until either n distinct-or-repeated quotes have been
// observed or timeout elapses, returning whatever quotes arrived. It is
// the startup-time helper the server's main drains once before spinning
// up the Tick Engine.
func SeedOnce(ctx context.Context, f *Feed, n int, timeout time.Duration) []Quote {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go f.Run(ctx)

	quotes := make([]Quote, 0, n)
	for len(quotes) < n {
		select {
		case q := <-f.Quotes():
			quotes = append(quotes, q)
		case <-ctx.Done():
			return quotes
		}
	}
	return quotes
}
