// Package tickengine synthesizes per-symbol quote/trade messages from a
// Geometric Brownian Motion price process, adapted from the random-walk
// BBO generator in feeder/exchanges/mock.go — that generator perturbs a
// mid price by a uniform ±bp step every tick and derives a fixed spread;
// this one replaces the uniform step with proper GBM drift/diffusion
// (Box–Muller-sampled) and widens mock.go's single "emit a quote" path
// into the spec's probabilistic quote-vs-trade synthesis with optional
// fault injection.
package tickengine

import (
	"math"
	"math/rand"
	"time"

	"github.com/arcrelay/tickfan/wire"
)

// PriceUpdateInterval is how many ticks separate price re-samples,
// decoupling message throughput from the price process's own frequency.
const PriceUpdateInterval = 100

// Quote probability and spread/volume distributions, per §4.6.
const (
	quoteProbability  = 0.70
	spreadMinFraction = 0.0005
	spreadMaxFraction = 0.002
	volumeLogMin      = 2.0
	volumeLogMax      = 5.0
)

// Fault injection probabilities, per §4.6.
const (
	SeqGapProbability   = 0.01
	FragmentProbability = 0.05
)

// Symbol is the server-side per-symbol state: identity, current price,
// GBM parameters, and the bookkeeping the price process needs between
// calls (sequence counter, tick countdown, cached Box–Muller output).
type Symbol struct {
	ID    uint16
	Name  string
	Price float64
	Mu    float64
	Sigma float64

	seqNum     uint32
	ticksSince int
	hasCachedZ bool
	cachedZ    float64
}

// NewSymbol builds a Symbol ready for ticking. ticksSince starts at
// PriceUpdateInterval so the very first tick re-samples the price.
func NewSymbol(id uint16, name string, price, mu, sigma float64) *Symbol {
	return &Symbol{
		ID:         id,
		Name:       name,
		Price:      price,
		Mu:         mu,
		Sigma:      sigma,
		ticksSince: PriceUpdateInterval,
	}
}

// FaultInjection toggles the two fault modes described in §4.6. The zero
// value (Enabled false, the Engine's default) means fault injection is
// disabled entirely, independent of the probabilities above.
type FaultInjection struct {
	Enabled bool
	Rand    *rand.Rand // nil uses a fresh per-engine source
}

// Engine advances every configured symbol's price process and emits the
// serialized wire bytes for one synthesized message at a time.
type Engine struct {
	Symbols []*Symbol
	Fault   FaultInjection

	rng *rand.Rand
	dt  float64
}

// New builds an Engine. dt is derived from tickRate and len(symbols) per
// §4.6: dt = PriceUpdateInterval * numSymbols / tickRate seconds. A
// tickRate of 0 yields dt = 0 (the fan-out server parks entirely in that
// case and never calls Tick).
func New(symbols []*Symbol, tickRate int, fault FaultInjection) *Engine {
	e := &Engine{
		Symbols: symbols,
		Fault:   fault,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if fault.Rand != nil {
		e.rng = fault.Rand
	}
	if tickRate > 0 && len(symbols) > 0 {
		e.dt = float64(PriceUpdateInterval*len(symbols)) / float64(tickRate)
	}
	return e
}

// boxMuller returns one N(0,1) sample per call, generating a fresh pair
// every other call and caching the second for next time — both outputs
// of the transform get used, as §4.6 requires.
func (s *Symbol) boxMuller(rng *rand.Rand) float64 {
	if s.hasCachedZ {
		s.hasCachedZ = false
		return s.cachedZ
	}
	var u1, u2 float64
	for u1 == 0 {
		u1 = rng.Float64()
	}
	u2 = rng.Float64()
	r := math.Sqrt(-2 * math.Log(u1))
	z0 := r * math.Cos(2*math.Pi*u2)
	z1 := r * math.Sin(2*math.Pi*u2)
	s.cachedZ = z1
	s.hasCachedZ = true
	return z0
}

// stepPrice applies one GBM update: dS = mu*S*dt + sigma*S*sqrt(dt)*Z,
// floored at 0.1.
func (s *Symbol) stepPrice(rng *rand.Rand, dt float64) {
	z := s.boxMuller(rng)
	dS := s.Mu*s.Price*dt + s.Sigma*s.Price*math.Sqrt(dt)*z
	s.Price = math.Max(0.1, s.Price+dS)
}

// logUniformVolume samples 10^U(min,max) — log-uniform between 100 and
// 100,000 for the spec's default [2,5] exponent range.
func logUniformVolume(rng *rand.Rand, min, max float64) uint32 {
	exp := min + rng.Float64()*(max-min)
	return uint32(math.Pow(10, exp))
}

// tick advances the symbol by one tick: re-samples the price every
// PriceUpdateInterval ticks, then synthesizes and serializes exactly one
// quote or trade message. now is the wall-clock timestamp to stamp.
func (s *Symbol) tick(rng *rand.Rand, dt float64, now time.Time, fault FaultInjection) []byte {
	s.ticksSince++
	if s.ticksSince >= PriceUpdateInterval {
		s.stepPrice(rng, dt)
		s.ticksSince = 0
	}

	s.seqNum++
	if fault.Enabled && rng.Float64() < SeqGapProbability {
		s.seqNum++ // skip one sequence number
	}

	h := wire.Header{
		SeqNum:    s.seqNum,
		Timestamp: uint64(now.UnixNano()),
		SymbolID:  s.ID,
	}

	if rng.Float64() < quoteProbability {
		spreadFrac := spreadMinFraction + rng.Float64()*(spreadMaxFraction-spreadMinFraction)
		spread := s.Price * spreadFrac
		bidPx := s.Price - spread/2
		askPx := s.Price + spread/2
		bidQty := logUniformVolume(rng, volumeLogMin, volumeLogMax)
		askQty := logUniformVolume(rng, volumeLogMin, volumeLogMax)
		return wire.EncodeQuote(h, bidPx, bidQty, askPx, askQty)
	}

	qty := logUniformVolume(rng, volumeLogMin, volumeLogMax)
	return wire.EncodeTrade(h, s.Price, qty)
}

// Tick advances the symbol at index idx and returns its serialized
// message. It is not safe for concurrent use, even for distinct indices:
// every call draws from the Engine's single *rand.Rand (the Fan-out
// Server's tick task is the sole caller in practice).
func (e *Engine) Tick(idx int) []byte {
	s := e.Symbols[idx]
	return s.tick(e.rng, e.dt, time.Now(), e.Fault)
}

// ShouldFragment answers the per-recipient fragmentation fault-injection
// check (§4.6): with probability 0.05, the caller should split its send
// into two halves separated by a short sleep.
func (e *Engine) ShouldFragment() bool {
	return e.Fault.Enabled && e.rng.Float64() < FragmentProbability
}
