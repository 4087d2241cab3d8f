// Package wire defines the packed binary message layout shared by the
// fan-out server and its clients: header, trade/quote/heartbeat payloads,
// the trailing XOR checksum, and the subscription command frame.
//
// Grounded on original_source/include/common/protocol.h's message
// layout and checksum calculation.
package wire

import (
	"encoding/binary"
	"math"
)

// Message type tags. 0xFF is reserved for the client→server subscribe
// command and never appears as the type of a broadcast message.
const (
	MsgTypeTrade     uint16 = 0x01
	MsgTypeQuote     uint16 = 0x02
	MsgTypeHeartbeat uint16 = 0x03
	MsgTypeSubscribe uint16 = 0xFF
)

// Fixed field widths, little-endian, no padding.
const (
	HeaderSize        = 2 + 4 + 8 + 2 // msg_type, seq_num, timestamp, symbol_id
	TradePayloadSize  = 8 + 4         // price, quantity
	QuotePayloadSize  = 8 + 4 + 8 + 4 // bid_price, bid_qty, ask_price, ask_qty
	ChecksumSize      = 4

	TradeMessageSize     = HeaderSize + TradePayloadSize + ChecksumSize     // 32
	QuoteMessageSize     = HeaderSize + QuotePayloadSize + ChecksumSize     // 44
	HeartbeatMessageSize = HeaderSize + ChecksumSize                        // 20

	// MaxMessageSize bounds how large a single message may legitimately
	// claim to be; anything larger is framing corruption, not fragmentation.
	MaxMessageSize = 1024
)

// MessageSize returns the total wire size (header + payload + checksum)
// for a known message type, or ok=false for anything else — including
// the subscribe command, which has no fixed size.
func MessageSize(msgType uint16) (size int, ok bool) {
	switch msgType {
	case MsgTypeTrade:
		return TradeMessageSize, true
	case MsgTypeQuote:
		return QuoteMessageSize, true
	case MsgTypeHeartbeat:
		return HeartbeatMessageSize, true
	default:
		return 0, false
	}
}

// Checksum XOR-folds every byte of b into a u32 accumulator. It is a
// parity-preserving integrity tag against fragmentation/truncation bugs,
// not a cryptographic digest — a two-bit flip at the same bit position in
// two different bytes is invisible to it.
func Checksum(b []byte) uint32 {
	var acc uint32
	for _, c := range b {
		acc ^= uint32(c)
	}
	return acc
}

// Validate recomputes the checksum over every byte of msg except the
// trailing 4-byte checksum field and compares it against the stored
// value. msg must be at least ChecksumSize bytes long.
func Validate(msg []byte) bool {
	if len(msg) < ChecksumSize {
		return false
	}
	body := msg[:len(msg)-ChecksumSize]
	want := binary.LittleEndian.Uint32(msg[len(msg)-ChecksumSize:])
	return Checksum(body) == want
}

// Header is the common prefix of every broadcast message.
type Header struct {
	MsgType   uint16
	SeqNum    uint32
	Timestamp uint64
	SymbolID  uint16
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint16(b[0:2], h.MsgType)
	binary.LittleEndian.PutUint32(b[2:6], h.SeqNum)
	binary.LittleEndian.PutUint64(b[6:14], h.Timestamp)
	binary.LittleEndian.PutUint16(b[14:16], h.SymbolID)
}

func readHeader(b []byte) Header {
	return Header{
		MsgType:   binary.LittleEndian.Uint16(b[0:2]),
		SeqNum:    binary.LittleEndian.Uint32(b[2:6]),
		Timestamp: binary.LittleEndian.Uint64(b[6:14]),
		SymbolID:  binary.LittleEndian.Uint16(b[14:16]),
	}
}

// Trade is the decoded view of a trade message.
type Trade struct {
	Header
	Price    float64
	Quantity uint32
}

// Quote is the decoded view of a quote message.
type Quote struct {
	Header
	BidPrice float64
	BidQty   uint32
	AskPrice float64
	AskQty   uint32
}

// Heartbeat is the decoded view of a heartbeat message (header only).
type Heartbeat struct {
	Header
}

// EncodeTrade serializes a trade message into a freshly allocated,
// checksummed wire buffer.
func EncodeTrade(h Header, price float64, qty uint32) []byte {
	h.MsgType = MsgTypeTrade
	b := make([]byte, TradeMessageSize)
	putHeader(b, h)
	binary.LittleEndian.PutUint64(b[16:24], math.Float64bits(price))
	binary.LittleEndian.PutUint32(b[24:28], qty)
	binary.LittleEndian.PutUint32(b[28:32], Checksum(b[:28]))
	return b
}

// EncodeQuote serializes a quote message into a freshly allocated,
// checksummed wire buffer.
func EncodeQuote(h Header, bidPx float64, bidQty uint32, askPx float64, askQty uint32) []byte {
	h.MsgType = MsgTypeQuote
	b := make([]byte, QuoteMessageSize)
	putHeader(b, h)
	binary.LittleEndian.PutUint64(b[16:24], math.Float64bits(bidPx))
	binary.LittleEndian.PutUint32(b[24:28], bidQty)
	binary.LittleEndian.PutUint64(b[28:36], math.Float64bits(askPx))
	binary.LittleEndian.PutUint32(b[36:40], askQty)
	binary.LittleEndian.PutUint32(b[40:44], Checksum(b[:40]))
	return b
}

// EncodeHeartbeat serializes a heartbeat message into a freshly allocated,
// checksummed wire buffer.
func EncodeHeartbeat(h Header) []byte {
	h.MsgType = MsgTypeHeartbeat
	b := make([]byte, HeartbeatMessageSize)
	putHeader(b, h)
	binary.LittleEndian.PutUint32(b[16:20], Checksum(b[:16]))
	return b
}

// DecodeTrade interprets a validated, correctly-sized buffer as a trade.
// Callers must validate length and checksum first (the parser does this).
func DecodeTrade(b []byte) Trade {
	return Trade{
		Header:   readHeader(b),
		Price:    math.Float64frombits(binary.LittleEndian.Uint64(b[16:24])),
		Quantity: binary.LittleEndian.Uint32(b[24:28]),
	}
}

// DecodeQuote interprets a validated, correctly-sized buffer as a quote.
func DecodeQuote(b []byte) Quote {
	return Quote{
		Header:   readHeader(b),
		BidPrice: math.Float64frombits(binary.LittleEndian.Uint64(b[16:24])),
		BidQty:   binary.LittleEndian.Uint32(b[24:28]),
		AskPrice: math.Float64frombits(binary.LittleEndian.Uint64(b[28:36])),
		AskQty:   binary.LittleEndian.Uint32(b[36:40]),
	}
}

// DecodeHeartbeat interprets a validated, correctly-sized buffer as a
// heartbeat.
func DecodeHeartbeat(b []byte) Heartbeat {
	return Heartbeat{Header: readHeader(b)}
}

// EncodeSubscribe serializes the client→server subscription command:
// 0xFF, count (u16 LE), then count symbol ids (u16 LE each).
func EncodeSubscribe(ids []uint16) []byte {
	b := make([]byte, 3+2*len(ids))
	b[0] = 0xFF
	binary.LittleEndian.PutUint16(b[1:3], uint16(len(ids)))
	for i, id := range ids {
		binary.LittleEndian.PutUint16(b[3+2*i:5+2*i], id)
	}
	return b
}

// DecodeSubscribe parses a subscription command frame. ok is false if the
// frame is too short, doesn't start with 0xFF, or declares more ids than
// the buffer actually holds.
func DecodeSubscribe(b []byte) (ids []uint16, ok bool) {
	if len(b) < 3 || b[0] != 0xFF {
		return nil, false
	}
	count := int(binary.LittleEndian.Uint16(b[1:3]))
	need := 3 + 2*count
	if len(b) < need {
		return nil, false
	}
	ids = make([]uint16, count)
	for i := 0; i < count; i++ {
		ids[i] = binary.LittleEndian.Uint16(b[3+2*i : 5+2*i])
	}
	return ids, true
}
