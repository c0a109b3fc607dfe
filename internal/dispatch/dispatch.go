// Package dispatch fans a routing plan out to execution venues. Venue
// calls run concurrently; one venue failing must never abort its siblings,
// so successes and failures are collected separately and a partial fill is
// a success, not an error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"sleipnir/internal/domain"
	"sleipnir/internal/quote"
	"sleipnir/internal/router"
)

var ErrVenueFailure = errors.New("venue execution failure")

const (
	defaultVenueTimeout = 2 * time.Second
	defaultMaxParallel  = 8
)

// Request is one execution instruction for one venue.
type Request struct {
	OrderID    string
	SliceID    string
	Symbol     string
	Side       domain.Side
	Type       domain.OrderType
	Quantity   uint64
	LimitPrice decimal.Decimal
}

// Venue is the execution endpoint port. Execute either returns a report
// (possibly for less than the requested quantity) or fails.
type Venue interface {
	Name() string
	Execute(ctx context.Context, req Request) (domain.ExecutionReport, error)
}

// Applier receives successful reports. Satisfied by *ledger.Ledger.
type Applier interface {
	ApplyExecution(ctx context.Context, report domain.ExecutionReport) (domain.Order, error)
}

type Config struct {
	// VenueTimeout bounds each venue call; a timeout is a venue failure
	// and takes the one-shot fallback path.
	VenueTimeout time.Duration `yaml:"-"`
	// MaxParallel bounds concurrent venue calls per dispatch.
	MaxParallel int `yaml:"max_parallel"`
}

type VenueFailure struct {
	Venue    string
	Quantity uint64 // quantity that went unfilled at this venue
	Err      error
}

type Outcome struct {
	Reports  []domain.ExecutionReport
	Failures []VenueFailure
	// TotalFilled is the sum of successful report quantities. It may be
	// less than the plan's requested total.
	TotalFilled uint64
}

type Dispatcher struct {
	venues  map[string]Venue
	applier Applier
	quotes  quote.Source
	routing router.Config
	cfg     Config
}

func New(venues []Venue, applier Applier, quotes quote.Source, routing router.Config, cfg Config) *Dispatcher {
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = defaultVenueTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	byName := make(map[string]Venue, len(venues))
	for _, v := range venues {
		byName[v.Name()] = v
	}
	return &Dispatcher{
		venues:  byName,
		applier: applier,
		quotes:  quotes,
		routing: routing,
		cfg:     cfg,
	}
}

// Dispatch executes every route of the plan concurrently, re-routes each
// failed venue's unfilled quantity exactly once against the remaining
// eligible venues, and applies all successful reports to the ledger.
func (d *Dispatcher) Dispatch(ctx context.Context, order domain.Order, plan domain.RoutingPlan) (Outcome, error) {
	return d.DispatchSlice(ctx, order, "", plan)
}

// run issues one venue call per route and waits for all of them.
func (d *Dispatcher) run(ctx context.Context, order domain.Order, sliceID string, routes []domain.VenueRoute) ([]domain.ExecutionReport, []VenueFailure) {
	var (
		mu       sync.Mutex
		reports  []domain.ExecutionReport
		failures []VenueFailure
	)

	t, ctx := tomb.WithContext(ctx)
	sem := make(chan struct{}, d.cfg.MaxParallel)

	for _, route := range routes {
		t.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-t.Dying():
				return nil
			}
			defer func() { <-sem }()

			report, err := d.execute(ctx, order, sliceID, route)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn().
					Str("order", order.ID).
					Str("venue", route.Venue).
					Uint64("quantity", route.Quantity).
					Err(err).
					Msg("venue execution failed")
				failures = append(failures, VenueFailure{
					Venue:    route.Venue,
					Quantity: route.Quantity,
					Err:      err,
				})
				return nil
			}
			reports = append(reports, report)
			// A short fill is success; only the shortfall of a *failed*
			// venue is re-routed.
			return nil
		})
	}

	// Worker errors are all folded into failures above, so Wait only
	// reflects tomb lifecycle problems.
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Str("order", order.ID).Msg("dispatch group error")
	}
	return reports, failures
}

func (d *Dispatcher) execute(ctx context.Context, order domain.Order, sliceID string, route domain.VenueRoute) (domain.ExecutionReport, error) {
	venue, ok := d.venues[route.Venue]
	if !ok {
		return domain.ExecutionReport{}, fmt.Errorf("%w: unknown venue %s", ErrVenueFailure, route.Venue)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.VenueTimeout)
	defer cancel()

	return venue.Execute(callCtx, Request{
		OrderID:    order.ID,
		SliceID:    sliceID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Type:       order.Type,
		Quantity:   route.Quantity,
		LimitPrice: order.LimitPrice,
	})
}

// fallback recomputes a sub-plan for each failed venue's unfilled quantity
// against the venues that did not fail, and dispatches it once.
func (d *Dispatcher) fallback(ctx context.Context, order domain.Order, sliceID string, failed []VenueFailure) ([]domain.ExecutionReport, []VenueFailure) {
	excluded := make([]string, 0, len(failed))
	var unfilled uint64
	for _, f := range failed {
		excluded = append(excluded, f.Venue)
		unfilled += f.Quantity
	}

	cfg := d.routing.Exclude(excluded...)
	if len(cfg.Venues) == 0 {
		return nil, nil
	}

	books, err := d.quotes.Snapshot(ctx, order.Symbol, cfg.Venues)
	if err != nil {
		log.Warn().Str("order", order.ID).Err(err).Msg("fallback quote snapshot failed")
		return nil, nil
	}

	sub := order
	sub.Remaining = unfilled
	plan, err := router.Route(sub, books, cfg)
	if err != nil {
		log.Warn().Str("order", order.ID).Err(err).Msg("no fallback route available")
		return nil, nil
	}

	log.Info().
		Str("order", order.ID).
		Strs("failed", excluded).
		Uint64("quantity", unfilled).
		Str("primary", plan.PrimaryVenue).
		Msg("dispatching fallback plan")
	return d.run(ctx, order, sliceID, plan.Routes)
}

// DispatchSlice executes a routing plan on behalf of an algo slice. Fills
// carry the parent order id, so the ledger applies them to the parent.
func (d *Dispatcher) DispatchSlice(ctx context.Context, parent domain.Order, sliceID string, plan domain.RoutingPlan) (Outcome, error) {
	reports, failures := d.run(ctx, parent, sliceID, plan.Routes)

	// One fallback attempt per originally failed venue. No retry loop:
	// bounded latency beats a marginally better fill, and re-dispatching
	// the same quantity twice risks duplication.
	if len(failures) > 0 {
		fbReports, fbFailures := d.fallback(ctx, parent, sliceID, failures)
		reports = append(reports, fbReports...)
		failures = append(failures, fbFailures...)
	}

	outcome := Outcome{Reports: reports, Failures: failures}
	for _, r := range reports {
		outcome.TotalFilled += r.Quantity
	}

	for _, r := range reports {
		if _, err := d.applier.ApplyExecution(ctx, r); err != nil {
			// The fill happened at the venue; dropping it silently would
			// desync the ledger from reality. Surface loudly.
			log.Error().
				Str("order", parent.ID).
				Str("execution", r.ExecutionID).
				Err(err).
				Msg("failed applying execution report")
			return outcome, err
		}
	}

	log.Info().
		Str("order", parent.ID).
		Uint64("filled", outcome.TotalFilled).
		Int("reports", len(reports)).
		Int("failures", len(failures)).
		Msg("dispatch complete")
	return outcome, nil
}
