// Package ledger holds the authoritative record of every order. It is the
// only component permitted to mutate order state; everything else submits
// proposed mutations (execution reports, cancel/modify requests) through it
// and reads immutable snapshots back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"sleipnir/internal/domain"
)

var (
	ErrValidation        = errors.New("order validation failed")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrTerminalOrder     = errors.New("order is in a terminal state")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

// Store is the persistence port. The ledger assumes at-least-once
// durability and is agnostic to the engine behind it.
type Store interface {
	Load(ctx context.Context, orderID string) (domain.Order, error)
	Save(ctx context.Context, order domain.Order) error
}

// validNext enumerates every legal transition. Any (state, target) pair not
// listed here is rejected with ErrInvalidTransition and must never mutate
// the entry.
var validNext = map[domain.OrderStatus][]domain.OrderStatus{
	domain.StatusPending: {domain.StatusNew, domain.StatusRejected, domain.StatusPendingCancel},
	domain.StatusNew: {
		domain.StatusPartiallyFilled, domain.StatusFilled,
		domain.StatusPendingCancel, domain.StatusPendingReplace, domain.StatusExpired,
	},
	domain.StatusPartiallyFilled: {
		domain.StatusPartiallyFilled, domain.StatusFilled,
		domain.StatusPendingCancel, domain.StatusPendingReplace, domain.StatusExpired,
	},
	domain.StatusPendingCancel: {
		domain.StatusCanceled, domain.StatusPartiallyFilled, domain.StatusFilled,
	},
	domain.StatusPendingReplace: {
		domain.StatusReplaced, domain.StatusPartiallyFilled, domain.StatusFilled,
	},
	domain.StatusReplaced: {domain.StatusNew},
}

func canTransition(from, to domain.OrderStatus) bool {
	if from == to {
		// Re-entrant partial fills are covered explicitly above; anything
		// else staying put is a no-op, not a transition.
		return false
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// entry serializes all writers for one order. Concurrent venue fills for
// the same parent must not race on Filled.
type entry struct {
	mu    sync.Mutex
	order domain.Order
}

type Ledger struct {
	store Store

	mu      sync.Mutex
	entries map[string]*entry
}

func New(store Store) *Ledger {
	return &Ledger{
		store:   store,
		entries: make(map[string]*entry),
	}
}

// Changes is the set of fields a modify request may touch. Nil fields are
// left alone.
type Changes struct {
	Quantity   *uint64
	LimitPrice *decimal.Decimal
}

// Create validates and registers a new order in PENDING. LIMIT and
// STOP-family types must carry the corresponding price field.
func (l *Ledger) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.Quantity == 0 {
		return domain.Order{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	switch order.Type {
	case domain.LimitOrder:
		if !order.LimitPrice.IsPositive() {
			return domain.Order{}, fmt.Errorf("%w: limit order requires a limit price", ErrValidation)
		}
	case domain.StopOrder:
		if !order.StopPrice.IsPositive() {
			return domain.Order{}, fmt.Errorf("%w: stop order requires a stop price", ErrValidation)
		}
	case domain.StopLimitOrder:
		if !order.LimitPrice.IsPositive() || !order.StopPrice.IsPositive() {
			return domain.Order{}, fmt.Errorf("%w: stop-limit order requires both prices", ErrValidation)
		}
	}

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now()
	order.Status = domain.StatusPending
	order.Filled = 0
	order.Remaining = order.Quantity
	order.AveragePrice = decimal.Zero
	order.CreatedAt = now
	order.UpdatedAt = now

	l.mu.Lock()
	if _, exists := l.entries[order.ID]; exists {
		l.mu.Unlock()
		return domain.Order{}, fmt.Errorf("%w: duplicate order id %s", ErrValidation, order.ID)
	}
	l.entries[order.ID] = &entry{order: order}
	l.mu.Unlock()

	if err := l.store.Save(ctx, order); err != nil {
		// Release the id so the caller can retry once the store recovers.
		l.mu.Lock()
		delete(l.entries, order.ID)
		l.mu.Unlock()
		return domain.Order{}, fmt.Errorf("persisting order %s: %w", order.ID, err)
	}

	log.Info().
		Str("order", order.ID).
		Str("symbol", order.Symbol).
		Str("side", order.Side.String()).
		Uint64("quantity", order.Quantity).
		Msg("order created")
	return order, nil
}

// Accept moves a PENDING order to NEW after the compliance gate passes.
func (l *Ledger) Accept(ctx context.Context, orderID string) (domain.Order, error) {
	return l.transition(ctx, orderID, func(o *domain.Order) error {
		return l.setStatus(o, domain.StatusNew)
	})
}

// Reject terminates a pre-NEW order. Orders that already reached NEW are
// live and must go through cancel instead.
func (l *Ledger) Reject(ctx context.Context, orderID, reason string) (domain.Order, error) {
	return l.transition(ctx, orderID, func(o *domain.Order) error {
		if o.Status != domain.StatusPending {
			return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, o.Status)
		}
		o.Status = domain.StatusRejected
		log.Info().Str("order", o.ID).Str("reason", reason).Msg("order rejected")
		return nil
	})
}

// ApplyExecution folds one venue fill into the order. The running average
// is the notional-weighted mean of every applied fill:
//
//	avg' = (avg*filled + price*qty) / (filled + qty)
func (l *Ledger) ApplyExecution(ctx context.Context, report domain.ExecutionReport) (domain.Order, error) {
	return l.transition(ctx, report.OrderID, func(o *domain.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminalOrder, o.ID, o.Status)
		}
		if !o.Status.Fillable() {
			return fmt.Errorf("%w: fill against %s order", ErrInvalidTransition, o.Status)
		}
		if report.Quantity == 0 {
			return fmt.Errorf("%w: empty execution report", ErrValidation)
		}
		if report.Quantity > o.Remaining {
			return fmt.Errorf("%w: fill %d exceeds remaining %d", ErrValidation, report.Quantity, o.Remaining)
		}

		prevNotional := o.AveragePrice.Mul(decimal.NewFromUint64(o.Filled))
		fillNotional := report.Price.Mul(decimal.NewFromUint64(report.Quantity))
		o.Filled += report.Quantity
		o.Remaining = o.Quantity - o.Filled
		o.AveragePrice = prevNotional.Add(fillNotional).Div(decimal.NewFromUint64(o.Filled))

		if o.Remaining == 0 {
			o.Status = domain.StatusFilled
		} else if o.Status == domain.StatusNew {
			o.Status = domain.StatusPartiallyFilled
		}
		// PENDING_CANCEL / PENDING_REPLACE keep their status on a partial
		// fill; the pending request still owns the outcome.

		log.Info().
			Str("order", o.ID).
			Str("execution", report.ExecutionID).
			Str("venue", report.Venue).
			Uint64("quantity", report.Quantity).
			Str("price", report.Price.String()).
			Uint64("filled", o.Filled).
			Msg("execution applied")
		return nil
	})
}

// RequestCancel moves a live order to PENDING_CANCEL. The boolean reports
// whether a cancel was actually initiated; an already-terminal order
// returns false with ErrTerminalOrder and no state change.
func (l *Ledger) RequestCancel(ctx context.Context, orderID, reason string) (bool, domain.Order, error) {
	order, err := l.transition(ctx, orderID, func(o *domain.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: cancel of %s order", ErrTerminalOrder, o.Status)
		}
		if o.Status == domain.StatusPendingCancel {
			return nil // already on its way out
		}
		if err := l.setStatus(o, domain.StatusPendingCancel); err != nil {
			return err
		}
		log.Info().Str("order", o.ID).Str("reason", reason).Msg("cancel requested")
		return nil
	})
	if err != nil {
		return false, order, err
	}
	return true, order, nil
}

// ConfirmCancel finalizes a PENDING_CANCEL order once all outstanding
// venue and slice activity has drained.
func (l *Ledger) ConfirmCancel(ctx context.Context, orderID string) (domain.Order, error) {
	return l.transition(ctx, orderID, func(o *domain.Order) error {
		return l.setStatus(o, domain.StatusCanceled)
	})
}

// RequestModify moves a live order to PENDING_REPLACE. The caller is
// expected to re-route the remaining quantity once the replace confirms.
func (l *Ledger) RequestModify(ctx context.Context, orderID string, changes Changes) (domain.Order, error) {
	if changes.Quantity != nil && *changes.Quantity == 0 {
		return domain.Order{}, fmt.Errorf("%w: modified quantity must be positive", ErrValidation)
	}
	return l.transition(ctx, orderID, func(o *domain.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: modify of %s order", ErrTerminalOrder, o.Status)
		}
		return l.setStatus(o, domain.StatusPendingReplace)
	})
}

// ConfirmReplace applies the requested changes and returns the order to
// NEW via REPLACED. A quantity below the filled amount is rejected.
func (l *Ledger) ConfirmReplace(ctx context.Context, orderID string, changes Changes) (domain.Order, error) {
	return l.transition(ctx, orderID, func(o *domain.Order) error {
		if err := l.setStatus(o, domain.StatusReplaced); err != nil {
			return err
		}
		if changes.Quantity != nil {
			if *changes.Quantity < o.Filled {
				return fmt.Errorf("%w: new quantity %d below filled %d", ErrValidation, *changes.Quantity, o.Filled)
			}
			o.Quantity = *changes.Quantity
			o.Remaining = o.Quantity - o.Filled
		}
		if changes.LimitPrice != nil {
			o.LimitPrice = *changes.LimitPrice
		}
		o.Status = domain.StatusNew
		log.Info().Str("order", o.ID).Uint64("quantity", o.Quantity).Msg("order replaced")
		return nil
	})
}

// Expire terminates an unfilled DAY/GTD order past its window.
func (l *Ledger) Expire(ctx context.Context, orderID string) (domain.Order, error) {
	return l.transition(ctx, orderID, func(o *domain.Order) error {
		return l.setStatus(o, domain.StatusExpired)
	})
}

// Get returns an immutable snapshot of the order.
func (l *Ledger) Get(orderID string) (domain.Order, error) {
	e, err := l.entry(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order, nil
}

func (l *Ledger) entry(orderID string) (*entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return e, nil
}

// transition runs mutate under the order's lock against a scratch copy,
// persists, then commits. A failed mutate or save leaves the entry
// untouched, so an invalid transition can never corrupt ledger state.
func (l *Ledger) transition(ctx context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error) {
	e, err := l.entry(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	scratch := e.order
	if err := mutate(&scratch); err != nil {
		return e.order, err
	}
	scratch.UpdatedAt = time.Now()

	if err := l.store.Save(ctx, scratch); err != nil {
		return e.order, fmt.Errorf("persisting order %s: %w", orderID, err)
	}
	e.order = scratch
	return scratch, nil
}

func (l *Ledger) setStatus(o *domain.Order, to domain.OrderStatus) error {
	if !canTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	return nil
}
