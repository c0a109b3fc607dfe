// Package algo decomposes TWAP/VWAP/POV/Iceberg parent orders into child
// slices and drives each slice through routing and dispatch on schedule.
// One timer-driven runner serves each active parent order.
package algo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"sleipnir/internal/dispatch"
	"sleipnir/internal/domain"
	"sleipnir/internal/ledger"
	"sleipnir/internal/quote"
	"sleipnir/internal/router"
)

const (
	defaultPOVInterval = 5 * time.Second
)

// Executor dispatches a slice's routing plan. Satisfied by
// *dispatch.Dispatcher.
type Executor interface {
	DispatchSlice(ctx context.Context, parent domain.Order, sliceID string, plan domain.RoutingPlan) (dispatch.Outcome, error)
}

// Ledger is the slice of ledger behavior the scheduler drives.
type Ledger interface {
	Get(orderID string) (domain.Order, error)
	RequestCancel(ctx context.Context, orderID, reason string) (bool, domain.Order, error)
	ConfirmCancel(ctx context.Context, orderID string) (domain.Order, error)
	Expire(ctx context.Context, orderID string) (domain.Order, error)
}

// VolumeSource reports cumulative traded market volume for a symbol. The
// POV control loop paces itself against deltas of this figure.
type VolumeSource interface {
	TradedVolume(ctx context.Context, symbol string) (uint64, error)
}

type Config struct {
	// POVInterval is the control-loop tick for POV orders.
	POVInterval time.Duration `yaml:"-"`
	// SlippageWeight scales reported slippage. Product tuning.
	SlippageWeight float64 `yaml:"slippage_weight"`
	// ScheduleTolerance is the fraction an order may lag its expected
	// fill before MonitorProgress reports it off schedule.
	ScheduleTolerance float64 `yaml:"schedule_tolerance"`
}

// Adjust carries parameter changes for a live algo order. Nil fields are
// untouched; changes take effect from the next unscheduled tick or slice.
type Adjust struct {
	MinPOVRate *float64
	MaxPOVRate *float64
	EndTime    *time.Time
}

type runner struct {
	t   *tomb.Tomb
	ctx context.Context

	parentID string
	symbol   string
	algo     domain.AlgorithmType
	quantity uint64
	started  time.Time
	arrival  decimal.Decimal

	wake chan struct{}

	mu          sync.Mutex
	slices      []domain.OrderSlice
	params      domain.AlgoParams
	paused      bool
	pauseReason string
	carried     uint64 // unfilled remainder rolled into the next slice
	startVolume uint64 // POV baseline
}

func (r *runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *runner) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

type Scheduler struct {
	ledger  Ledger
	quotes  quote.Source
	exec    Executor
	routing router.Config
	volume  VolumeSource
	cfg     Config

	mu      sync.Mutex
	runners map[string]*runner
}

func NewScheduler(l Ledger, quotes quote.Source, exec Executor, routing router.Config, volume VolumeSource, cfg Config) *Scheduler {
	if cfg.POVInterval <= 0 {
		cfg.POVInterval = defaultPOVInterval
	}
	if cfg.SlippageWeight == 0 {
		cfg.SlippageWeight = 1
	}
	if cfg.ScheduleTolerance <= 0 {
		cfg.ScheduleTolerance = 0.1
	}
	return &Scheduler{
		ledger:  l,
		quotes:  quotes,
		exec:    exec,
		routing: routing,
		volume:  volume,
		cfg:     cfg,
		runners: make(map[string]*runner),
	}
}

// Start plans the order's slices and spawns its runner. The order must be
// an accepted algorithmic order.
func (s *Scheduler) Start(ctx context.Context, order domain.Order) error {
	if order.Algorithm == domain.AlgoNone {
		return fmt.Errorf("%w: order %s has no algorithm", ledger.ErrValidation, order.ID)
	}
	if !order.Status.Fillable() {
		return fmt.Errorf("%w: order %s is %s", ledger.ErrInvalidTransition, order.ID, order.Status)
	}

	var slices []domain.OrderSlice
	var err error
	switch order.Algorithm {
	case domain.AlgoTWAP:
		slices, err = PlanTWAP(order.ID, order.Remaining, order.AlgoParams)
	case domain.AlgoVWAP:
		slices, err = PlanVWAP(order.ID, order.Remaining, order.AlgoParams)
	case domain.AlgoIceberg:
		slices, err = PlanIceberg(order.ID, order.Remaining, order.AlgoParams)
	case domain.AlgoPOV:
		if order.AlgoParams.MaxPOVRate <= 0 || order.AlgoParams.MaxPOVRate < order.AlgoParams.MinPOVRate {
			return fmt.Errorf("%w: bad POV participation bounds", ledger.ErrValidation)
		}
	}
	if err != nil {
		return err
	}

	r := &runner{
		parentID: order.ID,
		symbol:   order.Symbol,
		algo:     order.Algorithm,
		quantity: order.Quantity,
		started:  time.Now(),
		arrival:  order.AlgoParams.ArrivalPrice,
		wake:     make(chan struct{}, 1),
		slices:   slices,
		params:   order.AlgoParams,
	}

	// Benchmark fills against the market at arrival when the caller did
	// not pin an arrival price.
	if !r.arrival.IsPositive() {
		if books, err := s.quotes.Snapshot(ctx, order.Symbol, s.routing.Venues); err == nil {
			for _, b := range books {
				if mid := b.Mid(); mid.IsPositive() {
					r.arrival = mid
					break
				}
			}
		}
	}

	if order.Algorithm == domain.AlgoPOV && s.volume != nil {
		if vol, err := s.volume.TradedVolume(ctx, order.Symbol); err == nil {
			r.startVolume = vol
		}
	}

	r.t, r.ctx = tomb.WithContext(ctx)

	s.mu.Lock()
	if _, exists := s.runners[order.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: algo already running for %s", ledger.ErrValidation, order.ID)
	}
	s.runners[order.ID] = r
	s.mu.Unlock()

	// Finished runners stay registered so slice history and progress
	// remain queryable; Stop drains them.
	r.t.Go(func() error {
		if r.algo == domain.AlgoPOV {
			return s.runPOV(r)
		}
		return s.runSliced(r)
	})

	log.Info().
		Str("order", order.ID).
		Str("algorithm", order.Algorithm.String()).
		Int("slices", len(slices)).
		Msg("algo schedule started")
	return nil
}

// Pause suspends future slice dispatch. Already-dispatched slices are
// unaffected.
func (s *Scheduler) Pause(orderID, reason string) error {
	r, err := s.runner(orderID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.paused = true
	r.pauseReason = reason
	r.mu.Unlock()
	r.signal()
	log.Info().Str("order", orderID).Str("reason", reason).Msg("algo paused")
	return nil
}

func (s *Scheduler) Resume(orderID string) error {
	r, err := s.runner(orderID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.paused = false
	r.pauseReason = ""
	r.mu.Unlock()
	r.signal()
	log.Info().Str("order", orderID).Msg("algo resumed")
	return nil
}

// AdjustParameters applies changes to a live algo order. They affect the
// next unscheduled tick or slice only; nothing already dispatched moves.
func (s *Scheduler) AdjustParameters(orderID string, adj Adjust) error {
	r, err := s.runner(orderID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if adj.MinPOVRate != nil {
		r.params.MinPOVRate = *adj.MinPOVRate
	}
	if adj.MaxPOVRate != nil {
		r.params.MaxPOVRate = *adj.MaxPOVRate
	}
	if adj.EndTime != nil {
		r.params.EndTime = *adj.EndTime
	}
	log.Info().Str("order", orderID).Msg("algo parameters adjusted")
	return nil
}

// Cancel requests cancellation of the parent. A live runner observes it
// on its next tick and dispatches no further slices; in-flight venue calls
// complete and their fills still apply. When the runner already drained
// and exited, nothing is outstanding and nothing will observe the request,
// so the cancel confirms here.
func (s *Scheduler) Cancel(ctx context.Context, orderID, reason string) (bool, error) {
	ok, _, err := s.ledger.RequestCancel(ctx, orderID, reason)
	if err != nil {
		return ok, err
	}

	r, rErr := s.runner(orderID)
	if rErr != nil {
		_, cErr := s.ledger.ConfirmCancel(ctx, orderID)
		return ok, cErr
	}

	r.signal()
	if !r.t.Alive() {
		// The status re-check covers a runner that confirmed on its way out.
		if order, gErr := s.ledger.Get(orderID); gErr == nil && order.Status == domain.StatusPendingCancel {
			if _, cErr := s.ledger.ConfirmCancel(ctx, orderID); cErr != nil {
				return ok, cErr
			}
		}
	}
	return ok, nil
}

// Active reports whether a runner exists for the order.
func (s *Scheduler) Active(orderID string) bool {
	_, err := s.runner(orderID)
	return err == nil
}

// Slices returns a snapshot of the order's slice plan.
func (s *Scheduler) Slices(orderID string) ([]domain.OrderSlice, error) {
	r, err := s.runner(orderID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OrderSlice, len(r.slices))
	copy(out, r.slices)
	return out, nil
}

// Wait blocks until the order's runner exits. Mainly for tests and
// orderly shutdown.
func (s *Scheduler) Wait(orderID string) error {
	r, err := s.runner(orderID)
	if err != nil {
		return nil // already gone
	}
	return r.t.Wait()
}

// Stop kills every runner and waits for them to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	runners := make([]*runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	for _, r := range runners {
		r.t.Kill(nil)
	}
	for _, r := range runners {
		_ = r.t.Wait()
		s.remove(r.parentID)
	}
}

func (s *Scheduler) runner(orderID string) (*runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: no active algo for %s", ledger.ErrUnknownOrder, orderID)
	}
	return r, nil
}

func (s *Scheduler) remove(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runners, orderID)
}
