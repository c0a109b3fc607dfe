// Package oms composes the gate, ledger, router, dispatcher, and
// scheduler into the order lifecycle: submit, cancel, modify. This is the
// library surface request-handling code calls into; it owns no wire
// format of its own.
package oms

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"sleipnir/internal/algo"
	"sleipnir/internal/compliance"
	"sleipnir/internal/dispatch"
	"sleipnir/internal/domain"
	"sleipnir/internal/ledger"
	"sleipnir/internal/quote"
	"sleipnir/internal/router"
)

type Service struct {
	gate       compliance.Gate
	ledger     *ledger.Ledger
	quotes     quote.Source
	dispatcher *dispatch.Dispatcher
	scheduler  *algo.Scheduler
	routing    router.Config
}

func NewService(
	gate compliance.Gate,
	l *ledger.Ledger,
	quotes quote.Source,
	dispatcher *dispatch.Dispatcher,
	scheduler *algo.Scheduler,
	routing router.Config,
) *Service {
	return &Service{
		gate:       gate,
		ledger:     l,
		quotes:     quotes,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		routing:    routing,
	}
}

// SubmitResult reports what the caller gets back from a submission:
// either a live order, or a rejection with the specific failing checks.
type SubmitResult struct {
	Order      domain.Order
	Compliance domain.ComplianceResult
	// Outcome is set for non-algorithmic orders dispatched inline.
	Outcome *dispatch.Outcome
}

// Submit runs the full acceptance path: validate and register the order,
// gate it, then either hand it to the algo scheduler or route and
// dispatch it immediately.
func (s *Service) Submit(ctx context.Context, order domain.Order) (SubmitResult, error) {
	created, err := s.ledger.Create(ctx, order)
	if err != nil {
		return SubmitResult{}, err
	}

	result, err := s.gate.Check(ctx, created)
	if err != nil {
		return SubmitResult{Order: created}, fmt.Errorf("compliance gate: %w", err)
	}
	for _, check := range result.Checks {
		if !check.Passed && check.Severity == domain.SeverityWarning {
			log.Warn().
				Str("order", created.ID).
				Str("check", check.Name).
				Str("message", check.Message).
				Msg("compliance warning recorded")
		}
	}
	if result.Blocking() {
		rejected, rejErr := s.ledger.Reject(ctx, created.ID, "compliance")
		if rejErr != nil {
			return SubmitResult{Order: created, Compliance: result}, rejErr
		}
		return SubmitResult{Order: rejected, Compliance: result},
			fmt.Errorf("%w: order %s", compliance.ErrRejected, created.ID)
	}

	accepted, err := s.ledger.Accept(ctx, created.ID)
	if err != nil {
		return SubmitResult{Order: created, Compliance: result}, err
	}

	if accepted.Algorithm != domain.AlgoNone {
		if err := s.scheduler.Start(ctx, accepted); err != nil {
			return SubmitResult{Order: accepted, Compliance: result}, err
		}
		return SubmitResult{Order: accepted, Compliance: result}, nil
	}

	outcome, err := s.routeAndDispatch(ctx, accepted)
	if err != nil {
		return SubmitResult{Order: accepted, Compliance: result}, err
	}

	final, err := s.ledger.Get(accepted.ID)
	if err != nil {
		return SubmitResult{Order: accepted, Compliance: result, Outcome: &outcome}, err
	}

	// IOC orders give up their unfilled remainder immediately; FOK orders
	// kill whatever the sweep could not cover.
	if final.Remaining > 0 &&
		(final.TimeInForce == domain.ImmediateOrCancel || final.TimeInForce == domain.FillOrKill) {
		if _, _, err := s.ledger.RequestCancel(ctx, final.ID, "unfilled "+final.TimeInForce.String()); err == nil {
			final, _ = s.ledger.ConfirmCancel(ctx, final.ID)
		}
	}

	return SubmitResult{Order: final, Compliance: result, Outcome: &outcome}, nil
}

// Cancel requests cancellation. Algo orders cancel through the scheduler
// so the runner can drain; plain orders have no outstanding activity once
// Submit returns and confirm immediately.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (bool, error) {
	if s.scheduler.Active(orderID) {
		return s.scheduler.Cancel(ctx, orderID, reason)
	}

	ok, _, err := s.ledger.RequestCancel(ctx, orderID, reason)
	if err != nil {
		return ok, err
	}
	if _, err := s.ledger.ConfirmCancel(ctx, orderID); err != nil {
		return false, err
	}
	return true, nil
}

// Modify replaces order economics and re-routes the remaining quantity.
func (s *Service) Modify(ctx context.Context, orderID string, changes ledger.Changes) (domain.Order, error) {
	if _, err := s.ledger.RequestModify(ctx, orderID, changes); err != nil {
		return domain.Order{}, err
	}
	replaced, err := s.ledger.ConfirmReplace(ctx, orderID, changes)
	if err != nil {
		return replaced, err
	}

	if replaced.Remaining > 0 && replaced.Algorithm == domain.AlgoNone {
		if _, err := s.routeAndDispatch(ctx, replaced); err != nil {
			return replaced, err
		}
		return s.ledger.Get(orderID)
	}
	return replaced, nil
}

// Get returns the order's current snapshot.
func (s *Service) Get(orderID string) (domain.Order, error) {
	return s.ledger.Get(orderID)
}

func (s *Service) routeAndDispatch(ctx context.Context, order domain.Order) (dispatch.Outcome, error) {
	books, err := s.quotes.Snapshot(ctx, order.Symbol, s.routing.Venues)
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("quote snapshot: %w", err)
	}
	plan, err := router.Route(order, books, s.routing)
	if err != nil {
		return dispatch.Outcome{}, err
	}
	// Fill-or-kill never dispatches into books that cannot cover it; the
	// whole quantity comes back as remainder and is killed by the caller.
	if order.TimeInForce == domain.FillOrKill && plan.Confidence < 1 {
		return dispatch.Outcome{}, nil
	}
	return s.dispatcher.Dispatch(ctx, order, plan)
}
