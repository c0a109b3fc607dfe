// Package venue provides the in-process execution venue used by the demo
// harness and tests. It fills requests by sweeping its book snapshot the
// way a real counterparty would, with optional injected latency and
// failures.
package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"sleipnir/internal/dispatch"
	"sleipnir/internal/domain"
	"sleipnir/internal/quote"
)

var ErrNoLiquidity = errors.New("no liquidity at or inside the limit")

// Sim executes against the book snapshots of a quote source. Partial
// fills are normal: the report covers whatever the book could supply.
type Sim struct {
	name    string
	quotes  quote.Source
	latency time.Duration

	mu       sync.Mutex
	failWith error // next Execute fails with this, then it clears
}

func NewSim(name string, quotes quote.Source, latency time.Duration) *Sim {
	return &Sim{name: name, quotes: quotes, latency: latency}
}

func (s *Sim) Name() string {
	return s.name
}

// FailNext makes the next Execute call fail with err. Test hook.
func (s *Sim) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *Sim) Execute(ctx context.Context, req dispatch.Request) (domain.ExecutionReport, error) {
	s.mu.Lock()
	if err := s.failWith; err != nil {
		s.failWith = nil
		s.mu.Unlock()
		return domain.ExecutionReport{}, err
	}
	s.mu.Unlock()

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.ExecutionReport{}, ctx.Err()
		case <-timer.C:
		}
	}

	books, err := s.quotes.Snapshot(ctx, req.Symbol, []string{s.name})
	if err != nil {
		return domain.ExecutionReport{}, fmt.Errorf("venue %s: %w", s.name, err)
	}
	book, ok := books[s.name]
	if !ok {
		return domain.ExecutionReport{}, fmt.Errorf("venue %s: %w", s.name, quote.ErrNoQuotes)
	}

	var price decimal.Decimal
	var filled uint64
	if req.Type == domain.LimitOrder || req.Type == domain.StopLimitOrder {
		price, filled = book.VWAPWithin(req.Side, req.Quantity, req.LimitPrice)
	} else {
		price, filled = book.VWAP(req.Side, req.Quantity)
	}
	if filled == 0 {
		return domain.ExecutionReport{}, fmt.Errorf("venue %s: %w", s.name, ErrNoLiquidity)
	}

	report := domain.ExecutionReport{
		ExecutionID: uuid.New().String(),
		OrderID:     req.OrderID,
		SliceID:     req.SliceID,
		Venue:       s.name,
		Quantity:    filled,
		Price:       price,
		Timestamp:   time.Now(),
	}
	log.Debug().
		Str("venue", s.name).
		Str("order", req.OrderID).
		Uint64("filled", filled).
		Str("price", price.String()).
		Msg("simulated execution")
	return report, nil
}

// SimVolume is a VolumeSource that accretes a fixed amount of market
// volume per elapsed interval. Enough realism for POV pacing in the demo.
type SimVolume struct {
	start    time.Time
	perSec   uint64
	mu       sync.Mutex
	override *uint64
}

func NewSimVolume(perSecond uint64) *SimVolume {
	return &SimVolume{start: time.Now(), perSec: perSecond}
}

// Set pins the cumulative volume to a fixed value. Test hook.
func (v *SimVolume) Set(total uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.override = &total
}

func (v *SimVolume) TradedVolume(_ context.Context, _ string) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.override != nil {
		return *v.override, nil
	}
	elapsed := time.Since(v.start).Seconds()
	return uint64(elapsed * float64(v.perSec)), nil
}
