// Package reconnect is the generic reconnect/backoff wrapper the spec
// leaves as an external collaborator around any dial-and-stream loop
// (§1 "deliberately out of scope … reconnect/backoff wrapper around the
// client socket"). It is not used by the core Client Socket, which the
// spec keeps bare per §4.5/§9 — the calibration feed is its only caller
// here.
//
// Grounded verbatim on feeder/exchanges/base.go's RunConnectionLoop.
package reconnect

import (
	"context"
	"log"
	"time"
)

// ConnectFunc is the actual dial-and-stream loop; it returns when the
// connection drops or ctx is canceled.
type ConnectFunc func(ctx context.Context) error

// Loop retries connect indefinitely, sleeping backoff after each attempt
// that returns an error (an attempt returning nil is retried at once),
// until ctx is canceled. name is used only for the log line.
func Loop(ctx context.Context, name string, backoff time.Duration, connect ConnectFunc) error {
	for {
		err := connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Printf("%s: disconnected (%v), reconnecting in %s...", name, err, backoff)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
}
