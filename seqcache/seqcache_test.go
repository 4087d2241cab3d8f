package seqcache

import (
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"
)

func TestOutOfRangeIsSilentNoOp(t *testing.T) {
	c := New(4)
	c.UpdateBid(10, 1, 1)
	c.UpdateQuote(-1, 1, 1, 2, 1)
	if got := c.Snapshot(99); got != (Snapshot{}) {
		t.Errorf("Snapshot(out of range) = %+v, want zero value", got)
	}
}

func TestUpdateQuoteAtomicPair(t *testing.T) {
	c := New(1)
	c.UpdateQuote(0, 10, 5, 10.5, 6)
	snap := c.Snapshot(0)
	if snap.BestBid != 10 || snap.BidQty != 5 || snap.BestAsk != 10.5 || snap.AskQty != 6 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.UpdateCount != 1 {
		t.Errorf("UpdateCount = %d, want 1", snap.UpdateCount)
	}
}

func TestUpdateCountMatchesWriterJoin(t *testing.T) {
	c := New(1)
	const writes = 1000
	for i := 0; i < writes; i++ {
		c.UpdateTrade(0, float64(i), uint32(i))
	}
	if got := c.Snapshot(0).UpdateCount; got != writes {
		t.Errorf("UpdateCount = %d, want %d", got, writes)
	}
}

// TestSeqlockUnderContention is the spec's §8 scenario 4: a writer issues
// 100,000 update_quote calls where bid_qty == ask_qty by construction; a
// concurrent reader takes 100,000 snapshots. No snapshot may ever observe
// bid_qty != ask_qty — that would mean a torn read slipped through.
func TestSeqlockUnderContention(t *testing.T) {
	c := New(1)
	const iterations = 100_000
	var tornReads atomic.Int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for k := 0; k < iterations; k++ {
			c.UpdateQuote(0, float64(k), uint32(k), float64(k)+0.5, uint32(k))
		}
	}()
	go func() {
		defer wg.Done()
		for k := 0; k < iterations; k++ {
			snap := c.Snapshot(0)
			if snap.BidQty != snap.AskQty {
				tornReads.Add(1)
			}
		}
	}()
	wg.Wait()

	if n := tornReads.Load(); n != 0 {
		t.Errorf("observed %d torn reads", n)
	}
}

func TestTotalUpdatesSumsAllSymbols(t *testing.T) {
	c := New(3)
	c.UpdateTrade(0, 1, 1)
	c.UpdateTrade(0, 2, 1)
	c.UpdateTrade(1, 1, 1)
	if got := c.TotalUpdates(); got != 3 {
		t.Errorf("TotalUpdates() = %d, want 3", got)
	}
}

func TestSingleFieldAccessors(t *testing.T) {
	c := New(1)
	c.UpdateQuote(0, 1.5, 1, 2.5, 1)
	c.UpdateTrade(0, 3.5, 1)
	if got := c.Bid(0); got != 1.5 {
		t.Errorf("Bid() = %v, want 1.5", got)
	}
	if got := c.Ask(0); got != 2.5 {
		t.Errorf("Ask() = %v, want 2.5", got)
	}
	if got := c.LTP(0); got != 3.5 {
		t.Errorf("LTP() = %v, want 3.5", got)
	}
}

func TestTouchSetsLastUpdateTime(t *testing.T) {
	c := New(1)
	c.UpdateTrade(0, 1, 1)
	c.Touch(0, 1234)
	snap := c.Snapshot(0)
	if snap.LastUpdateTime != 1234 {
		t.Errorf("LastUpdateTime = %d, want 1234", snap.LastUpdateTime)
	}
	if snap.UpdateCount != 1 {
		t.Errorf("Touch must not bump UpdateCount: got %d, want 1", snap.UpdateCount)
	}
}

func TestMarketStateIsCacheLineAligned(t *testing.T) {
	c := New(2)
	if SlotSize != 64 {
		t.Fatalf("SlotSize = %d, want 64", SlotSize)
	}
	if addr := uintptr(unsafe.Pointer(&c.slots[0])); addr%SlotSize != 0 {
		t.Errorf("slot array starts at %#x, not a multiple of %d", addr, SlotSize)
	}
}
