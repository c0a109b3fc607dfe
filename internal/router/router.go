// Package router computes venue allocation plans. Routing is a pure
// function of (order snapshot, quote snapshot, config): it never mutates
// the order and is safely re-computable on retry.
package router

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"sleipnir/internal/domain"
	"sleipnir/internal/quote"
)

var ErrNoEligibleVenue = errors.New("no eligible venue with liquidity")

type Strategy string

const (
	// StrategyBestPrice routes to the single best venue when it can fill
	// the whole order, splitting only when it cannot.
	StrategyBestPrice Strategy = "BEST_PRICE"
	// StrategyCustom always splits across the top venues by price.
	StrategyCustom Strategy = "CUSTOM"
)

// Config enumerates every recognized routing option. Unknown options do
// not exist here; adding one means adding a field.
type Config struct {
	Strategy        Strategy      `yaml:"strategy"`
	Venues          []string      `yaml:"venues"`
	MaxVenueLatency time.Duration `yaml:"-"`
	EnableDarkPools bool          `yaml:"enable_dark_pools"`
	// Aggressiveness in (0,1] scales how much displayed depth we are
	// willing to claim per venue. Product tuning, not an invariant.
	Aggressiveness float64 `yaml:"aggressiveness"`
	// MaxSplits caps the venues per plan. Zero means unlimited.
	MaxSplits int `yaml:"max_splits"`
}

// candidate is one venue's obtainable execution for the remaining quantity.
type candidate struct {
	venue     string
	vwap      decimal.Decimal
	available uint64
	latency   time.Duration
	rank      int // position in cfg.Venues, for deterministic tie-breaks
}

// Route walks each eligible venue's book for the order's remaining
// quantity and allocates best price first. For a BUY the lowest obtainable
// VWAP wins, for a SELL the highest; ties break on lower latency, then on
// the venue's position in cfg.Venues.
func Route(order domain.Order, books map[string]*quote.BookSnapshot, cfg Config) (domain.RoutingPlan, error) {
	remaining := order.Remaining
	if remaining == 0 {
		remaining = order.Quantity
	}

	candidates := gather(order, remaining, books, cfg)
	if len(candidates) == 0 {
		return domain.RoutingPlan{}, fmt.Errorf("%w: %s on %d venue(s)", ErrNoEligibleVenue, order.Symbol, len(cfg.Venues))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.vwap.Equal(b.vwap) {
			if order.Side == domain.Buy {
				return a.vwap.LessThan(b.vwap)
			}
			return a.vwap.GreaterThan(b.vwap)
		}
		if a.latency != b.latency {
			return a.latency < b.latency
		}
		return a.rank < b.rank
	})

	plan := domain.RoutingPlan{
		OrderID:      order.ID,
		PrimaryVenue: candidates[0].venue,
		CreatedAt:    time.Now(),
	}

	split := cfg.Strategy == StrategyCustom || candidates[0].available < remaining

	var totalAvailable uint64
	for _, c := range candidates {
		totalAvailable += c.available
	}

	unallocated := remaining
	for i, c := range candidates {
		if unallocated == 0 {
			break
		}
		if !split && i > 0 {
			break
		}
		if cfg.MaxSplits > 0 && i >= cfg.MaxSplits {
			break
		}

		qty := min(unallocated, c.available)
		price, _ := books[c.venue].VWAP(order.Side, qty)
		plan.Routes = append(plan.Routes, domain.VenueRoute{
			Venue:         c.venue,
			Quantity:      qty,
			ExpectedPrice: price,
			Priority:      i,
		})
		unallocated -= qty
	}

	if totalAvailable >= remaining {
		plan.Confidence = 1
	} else {
		plan.Confidence = float64(totalAvailable) / float64(remaining)
	}

	log.Debug().
		Str("order", order.ID).
		Str("primary", plan.PrimaryVenue).
		Int("routes", len(plan.Routes)).
		Float64("confidence", plan.Confidence).
		Msg("routing plan computed")
	return plan, nil
}

func gather(order domain.Order, remaining uint64, books map[string]*quote.BookSnapshot, cfg Config) []candidate {
	var out []candidate
	for rank, venue := range cfg.Venues {
		book, ok := books[venue]
		if !ok {
			continue
		}
		if book.DarkPool && !cfg.EnableDarkPools {
			continue
		}
		if cfg.MaxVenueLatency > 0 && book.Latency > cfg.MaxVenueLatency {
			continue
		}

		// The walk covers displayed depth regardless of the order's limit;
		// limit enforcement happens at execution. A plan line the venue
		// cannot honor comes back as a short fill, not a routing error.
		vwap, available := book.VWAP(order.Side, remaining)
		if cfg.Aggressiveness > 0 && cfg.Aggressiveness < 1 {
			available = uint64(float64(available) * cfg.Aggressiveness)
		}
		if available == 0 {
			continue
		}

		out = append(out, candidate{
			venue:     venue,
			vwap:      vwap,
			available: available,
			latency:   book.Latency,
			rank:      rank,
		})
	}
	return out
}

// Exclude returns cfg with the named venues removed, preserving order.
// Used for fallback routing after a venue failure.
func (c Config) Exclude(venues ...string) Config {
	out := c
	out.Venues = nil
	for _, v := range c.Venues {
		excluded := false
		for _, x := range venues {
			if v == x {
				excluded = true
				break
			}
		}
		if !excluded {
			out.Venues = append(out.Venues, v)
		}
	}
	return out
}
