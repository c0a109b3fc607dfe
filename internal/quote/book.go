package quote

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"sleipnir/internal/domain"
)

// Level is one price level of a venue's displayed book.
type Level struct {
	Price    decimal.Decimal
	Quantity uint64
}

type levels = btree.BTreeG[Level]

// BookSnapshot is a point-in-time view of one venue's book for one symbol.
// Snapshots are immutable per-call inputs; freshness is the quote source's
// responsibility, not ours.
type BookSnapshot struct {
	Venue     string
	Symbol    string
	Latency   time.Duration // Venue round-trip estimate, used for tie-breaks
	DarkPool  bool
	Timestamp time.Time

	// Bids sorted greatest first, asks least first, so the best level on
	// either side is always Min.
	bids *levels
	asks *levels
}

func NewBookSnapshot(venue, symbol string, bids, asks []Level) *BookSnapshot {
	b := &BookSnapshot{
		Venue:     venue,
		Symbol:    symbol,
		Timestamp: time.Now(),
		bids: btree.NewBTreeG(func(a, b Level) bool {
			return a.Price.GreaterThan(b.Price)
		}),
		asks: btree.NewBTreeG(func(a, b Level) bool {
			return a.Price.LessThan(b.Price)
		}),
	}
	for _, l := range bids {
		b.bids.Set(l)
	}
	for _, l := range asks {
		b.asks.Set(l)
	}
	return b
}

// side returns the levels an aggressor on the given side would consume.
func (b *BookSnapshot) side(s domain.Side) *levels {
	if s == domain.Buy {
		return b.asks
	}
	return b.bids
}

// Depth returns the total displayed quantity available to the given side.
func (b *BookSnapshot) Depth(s domain.Side) uint64 {
	var total uint64
	b.side(s).Scan(func(l Level) bool {
		total += l.Quantity
		return true
	})
	return total
}

// Best returns the top-of-book level for the given aggressor side.
func (b *BookSnapshot) Best(s domain.Side) (Level, bool) {
	return b.side(s).Min()
}

// VWAP walks price levels best-first until quantity is exhausted or the
// book runs out, and returns the volume-weighted average price over the
// levels consumed plus the quantity actually available. A short book is
// reported through the second return, never as an error.
func (b *BookSnapshot) VWAP(s domain.Side, quantity uint64) (decimal.Decimal, uint64) {
	if quantity == 0 {
		return decimal.Zero, 0
	}

	remaining := quantity
	notional := decimal.Zero
	var taken uint64

	b.side(s).Scan(func(l Level) bool {
		matchQty := min(remaining, l.Quantity)
		notional = notional.Add(l.Price.Mul(decimal.NewFromUint64(matchQty)))
		taken += matchQty
		remaining -= matchQty
		return remaining > 0
	})

	if taken == 0 {
		return decimal.Zero, 0
	}
	return notional.Div(decimal.NewFromUint64(taken)), taken
}

// VWAPWithin is VWAP constrained to levels at or better than limit. Used
// for limit orders, where levels beyond the limit price are untouchable.
func (b *BookSnapshot) VWAPWithin(s domain.Side, quantity uint64, limit decimal.Decimal) (decimal.Decimal, uint64) {
	if quantity == 0 {
		return decimal.Zero, 0
	}

	remaining := quantity
	notional := decimal.Zero
	var taken uint64

	b.side(s).Scan(func(l Level) bool {
		if s == domain.Buy && l.Price.GreaterThan(limit) {
			return false
		}
		if s == domain.Sell && l.Price.LessThan(limit) {
			return false
		}
		matchQty := min(remaining, l.Quantity)
		notional = notional.Add(l.Price.Mul(decimal.NewFromUint64(matchQty)))
		taken += matchQty
		remaining -= matchQty
		return remaining > 0
	})

	if taken == 0 {
		return decimal.Zero, 0
	}
	return notional.Div(decimal.NewFromUint64(taken)), taken
}

// Mid returns the bid/ask midpoint, or the one-sided best if the other
// side is empty. Used as the arrival-price benchmark.
func (b *BookSnapshot) Mid() decimal.Decimal {
	bestBid, bidOk := b.bids.Min()
	bestAsk, askOk := b.asks.Min()
	switch {
	case bidOk && askOk:
		return bestBid.Price.Add(bestAsk.Price).Div(decimal.NewFromInt(2))
	case bidOk:
		return bestBid.Price
	case askOk:
		return bestAsk.Price
	}
	return decimal.Zero
}

// Source supplies current per-venue book snapshots for a symbol.
type Source interface {
	Snapshot(ctx context.Context, symbol string, venues []string) (map[string]*BookSnapshot, error)
}
