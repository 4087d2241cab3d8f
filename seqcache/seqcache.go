// Package seqcache is the client-side Symbol Cache: a contiguous,
// cache-line-aligned array of per-symbol market state, each slot guarded
// by its own seqlock so one writer (the stream parser) and any number of
// concurrent readers never observe a torn update.
//
// Adapted from the single shared-memory seqlock slot in
// feeder/shm/seqlock.go and the per-symbol array layout of
// feeder/shm/matrix.go's BboMatrix.
package seqcache

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// MarketState is one symbol's slot. Field order is deliberate: Go's
// natural alignment rules pack it to exactly 64 bytes (one cache line)
// without any explicit padding field, so adjacent slots in the Cache's
// backing array never share a line between writer and reader.
type MarketState struct {
	Sequence       uint32  // even: stable; odd: write in progress
	BestBid        float64
	BestAsk        float64
	BidQty         uint32
	AskQty         uint32
	LastPrice      float64
	LastQty        uint32
	LastUpdateTime uint64 // ns since epoch
	UpdateCount    uint64
}

const SlotSize = 64

func init() {
	if unsafe.Sizeof(MarketState{}) != SlotSize {
		panic(fmt.Sprintf("seqcache: MarketState size is %d, expected %d", unsafe.Sizeof(MarketState{}), SlotSize))
	}
}

// Snapshot is a by-value copy of a MarketState's user-visible fields,
// taken atomically by a seqlock read. It carries no sequence field — it
// is, by construction, never torn.
type Snapshot struct {
	BestBid        float64
	BestAsk        float64
	BidQty         uint32
	AskQty         uint32
	LastPrice      float64
	LastQty        uint32
	LastUpdateTime uint64
	UpdateCount    uint64
}

// Cache is the full per-symbol array, indexed by symbol id. The container
// itself needs no synchronization beyond what each slot's seqlock
// provides — it is safe to share a *Cache across goroutines without a
// mutex.
type Cache struct {
	slots []MarketState
}

// New allocates a Cache sized for numSymbols symbols (ids 0..numSymbols-1).
func New(numSymbols int) *Cache {
	return &Cache{slots: make([]MarketState, numSymbols)}
}

// NumSymbols returns the number of slots the cache was built with.
func (c *Cache) NumSymbols() int {
	return len(c.slots)
}

func (c *Cache) seqAddr(id int) *uint32 {
	return &c.slots[id].Sequence
}

func (c *Cache) inRange(id int) bool {
	return id >= 0 && id < len(c.slots)
}

// beginWrite executes seqlock write-protocol steps 1-2: load the current
// sequence and publish "write in progress" (odd) with a store-release.
// It returns the sequence value writes should complete with (step 4).
func beginWrite(seqAddr *uint32) uint32 {
	seq := atomic.LoadUint32(seqAddr)
	atomic.StoreUint32(seqAddr, seq+1)
	return seq + 2
}

func endWrite(seqAddr *uint32, completeSeq uint32) {
	atomic.StoreUint32(seqAddr, completeSeq)
}

// UpdateBid writes a new best bid. Out-of-range ids are a silent no-op.
func (c *Cache) UpdateBid(id int, price float64, qty uint32) {
	if !c.inRange(id) {
		return
	}
	slot := &c.slots[id]
	seqAddr := &slot.Sequence
	done := beginWrite(seqAddr)
	slot.BestBid = price
	slot.BidQty = qty
	slot.UpdateCount++
	endWrite(seqAddr, done)
}

// UpdateAsk writes a new best ask. Out-of-range ids are a silent no-op.
func (c *Cache) UpdateAsk(id int, price float64, qty uint32) {
	if !c.inRange(id) {
		return
	}
	slot := &c.slots[id]
	seqAddr := &slot.Sequence
	done := beginWrite(seqAddr)
	slot.BestAsk = price
	slot.AskQty = qty
	slot.UpdateCount++
	endWrite(seqAddr, done)
}

// UpdateTrade writes the last traded price/quantity. Out-of-range ids
// are a silent no-op.
func (c *Cache) UpdateTrade(id int, price float64, qty uint32) {
	if !c.inRange(id) {
		return
	}
	slot := &c.slots[id]
	seqAddr := &slot.Sequence
	done := beginWrite(seqAddr)
	slot.LastPrice = price
	slot.LastQty = qty
	slot.UpdateCount++
	endWrite(seqAddr, done)
}

// UpdateQuote atomically publishes a (bid, ask) pair — the only operation
// that updates both sides of the book under a single seqlock cycle, so a
// reader never sees one side updated without the other.
func (c *Cache) UpdateQuote(id int, bidPx float64, bidQty uint32, askPx float64, askQty uint32) {
	if !c.inRange(id) {
		return
	}
	slot := &c.slots[id]
	seqAddr := &slot.Sequence
	done := beginWrite(seqAddr)
	slot.BestBid = bidPx
	slot.BidQty = bidQty
	slot.BestAsk = askPx
	slot.AskQty = askQty
	slot.UpdateCount++
	endWrite(seqAddr, done)
}

// Touch stamps a slot's last-update time from the wire message's own
// timestamp. The client's handler calls it alongside any Update* call,
// kept as a separate seqlock cycle so the hot write path above stays
// branch-free on whether a timestamp was supplied.
func (c *Cache) Touch(id int, tsNs uint64) {
	if !c.inRange(id) {
		return
	}
	slot := &c.slots[id]
	seqAddr := &slot.Sequence
	done := beginWrite(seqAddr)
	slot.LastUpdateTime = tsNs
	endWrite(seqAddr, done)
}

// Snapshot performs a seqlock read: spin until the sequence is even,
// copy every payload field, then confirm the sequence didn't change
// during the copy. Out-of-range ids return a zeroed Snapshot.
func (c *Cache) Snapshot(id int) Snapshot {
	if !c.inRange(id) {
		return Snapshot{}
	}
	slot := &c.slots[id]
	seqAddr := &slot.Sequence
	for {
		s1 := atomic.LoadUint32(seqAddr)
		for s1&1 != 0 {
			s1 = atomic.LoadUint32(seqAddr)
		}
		snap := Snapshot{
			BestBid:        slot.BestBid,
			BestAsk:        slot.BestAsk,
			BidQty:         slot.BidQty,
			AskQty:         slot.AskQty,
			LastPrice:      slot.LastPrice,
			LastQty:        slot.LastQty,
			LastUpdateTime: slot.LastUpdateTime,
			UpdateCount:    slot.UpdateCount,
		}
		s2 := atomic.LoadUint32(seqAddr)
		if s1 == s2 {
			return snap
		}
	}
}

// Bid returns the current best bid via a single-field seqlock read.
func (c *Cache) Bid(id int) float64 { return c.Snapshot(id).BestBid }

// Ask returns the current best ask via a single-field seqlock read.
func (c *Cache) Ask(id int) float64 { return c.Snapshot(id).BestAsk }

// LTP returns the last traded price via a single-field seqlock read.
func (c *Cache) LTP(id int) float64 { return c.Snapshot(id).LastPrice }

// TotalUpdates sums UpdateCount across every symbol, each read under its
// own seqlock.
func (c *Cache) TotalUpdates() uint64 {
	var total uint64
	for id := range c.slots {
		total += c.Snapshot(id).UpdateCount
	}
	return total
}
