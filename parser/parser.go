// Package parser is the stateful, fragmentation-tolerant stream decoder:
// it consumes arbitrary byte chunks from a TCP connection and dispatches
// fully validated, typed messages to a caller-supplied Handler.
//
// Grounded on the length-prefixed frame extraction loop in
// other_examples/FalandyJEAN-GO-LEARNING-SETUP__lesson07_binary_protocol.go
// (io.ReadFull-style "peek header, check declared size, wait for more if
// short" discipline) combined with the checksummed-message discipline of
// this repo's wire package; adapted from a pull-based io.Reader decoder
// into a push-based parser that owns its own fragmentation buffer, since
// the client hands it whatever a non-blocking recv returned.
package parser

import (
	"encoding/binary"

	"github.com/arcrelay/tickfan/wire"
)

// MinBufferCapacity is the smallest fragmentation buffer a Parser may be
// constructed with, per §4.4.
const MinBufferCapacity = 64 * 1024

// Handler receives typed, validated messages as the parser extracts them
// from the stream — the tagged-dispatch replacement for the source's
// compile-time handler selection (§9).
type Handler interface {
	OnTrade(wire.Trade)
	OnQuote(wire.Quote)
	OnHeartbeat(wire.Heartbeat)
}

// Counters tracks the parser's cumulative bookkeeping.
type Counters struct {
	Parsed         uint64
	ChecksumErrors uint64
	SequenceGaps   uint64
	Malformed      uint64
	FragmentedHits uint64
}

// Parser holds the fragmentation buffer and running decode state for one
// byte stream. A Parser is not safe for concurrent use — one goroutine
// (the connection's reader) owns it.
type Parser struct {
	buf      []byte
	writePos int
	lastSeq  uint32
	counters Counters
}

// New creates a Parser with the given fragmentation buffer capacity,
// clamped up to MinBufferCapacity.
func New(capacity int) *Parser {
	if capacity < MinBufferCapacity {
		capacity = MinBufferCapacity
	}
	return &Parser{buf: make([]byte, capacity)}
}

// Counters returns a snapshot of the parser's cumulative counters.
func (p *Parser) Counters() Counters {
	return p.counters
}

// Reset zeroes the buffer position, last observed sequence number, and
// every counter.
func (p *Parser) Reset() {
	p.writePos = 0
	p.lastSeq = 0
	p.counters = Counters{}
}

// Parse appends data to the internal buffer (as much as fits) and
// repeatedly extracts complete, validated messages, dispatching each to
// handler. It returns the number of bytes from data actually buffered.
func (p *Parser) Parse(data []byte, handler Handler) int {
	n := copy(p.buf[p.writePos:], data)
	p.writePos += n

	for p.extractOne(handler) {
	}

	return n
}

// extractOne attempts to pull exactly one message out of the buffer. It
// returns true if the caller should try again immediately (a message was
// consumed, or corrupt bytes were discarded and more buffered data may
// still decode), false if no further progress is possible this call.
func (p *Parser) extractOne(handler Handler) bool {
	if p.writePos < wire.HeaderSize {
		return false
	}

	msgType := binary.LittleEndian.Uint16(p.buf[0:2])
	size, ok := wire.MessageSize(msgType)
	if !ok || size > wire.MaxMessageSize {
		p.counters.Malformed++
		p.discard(1)
		return true
	}

	if p.writePos < size {
		p.counters.FragmentedHits++
		return false
	}

	msg := p.buf[:size]
	if !wire.Validate(msg) {
		p.counters.ChecksumErrors++
		p.discard(size)
		return true
	}

	seqNum := binary.LittleEndian.Uint32(msg[2:6])
	if p.lastSeq != 0 && seqNum != p.lastSeq+1 {
		p.counters.SequenceGaps++
	}
	p.lastSeq = seqNum

	p.dispatch(msgType, msg, handler)
	p.counters.Parsed++
	p.discard(size)
	return true
}

func (p *Parser) dispatch(msgType uint16, msg []byte, handler Handler) {
	switch msgType {
	case wire.MsgTypeTrade:
		handler.OnTrade(wire.DecodeTrade(msg))
	case wire.MsgTypeQuote:
		handler.OnQuote(wire.DecodeQuote(msg))
	case wire.MsgTypeHeartbeat:
		handler.OnHeartbeat(wire.DecodeHeartbeat(msg))
	}
}

// discard drops n bytes from the front of the buffer, shifting the rest
// left. n==1 is the resync-by-one-byte path for framing errors; n==size
// is the normal advance-past-message path.
func (p *Parser) discard(n int) {
	if n > p.writePos {
		n = p.writePos
	}
	copy(p.buf, p.buf[n:p.writePos])
	p.writePos -= n
}
