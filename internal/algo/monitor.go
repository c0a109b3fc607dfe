package algo

import (
	"time"

	"github.com/shopspring/decimal"

	"sleipnir/internal/domain"
)

// Progress is a point-in-time report on an algo order's execution.
type Progress struct {
	OrderID  string
	Progress float64 // filled / quantity
	// ExpectedProgress is the elapsed-time-weighted (TWAP) or
	// curve-weighted (VWAP) fraction that should have filled by now.
	ExpectedProgress float64
	// SlippageBps is the side-signed fill-vs-benchmark difference in
	// basis points, scaled by the configured slippage weight. Positive
	// means worse than benchmark.
	SlippageBps float64
	OnSchedule  bool
	Paused      bool
	PauseReason string
}

// MonitorProgress compares actual fills against the schedule and the
// arrival-price benchmark.
func (s *Scheduler) MonitorProgress(orderID string) (Progress, error) {
	r, err := s.runner(orderID)
	if err != nil {
		return Progress{}, err
	}
	parent, err := s.ledger.Get(orderID)
	if err != nil {
		return Progress{}, err
	}

	r.mu.Lock()
	paused := r.paused
	reason := r.pauseReason
	params := r.params
	slices := r.slices
	r.mu.Unlock()

	p := Progress{
		OrderID:     orderID,
		Paused:      paused,
		PauseReason: reason,
	}
	if parent.Quantity > 0 {
		p.Progress = float64(parent.Filled) / float64(parent.Quantity)
	}
	p.ExpectedProgress = expectedFraction(r.algo, params, slices, parent.Quantity, time.Now())
	p.SlippageBps = s.slippageBps(r, parent)
	p.OnSchedule = p.Progress >= p.ExpectedProgress*(1-s.cfg.ScheduleTolerance)
	return p, nil
}

// expectedFraction is curve-weighted for sliced algos (the share of slice
// quantity whose scheduled time has passed) and linear in elapsed time
// for POV.
func expectedFraction(algo domain.AlgorithmType, params domain.AlgoParams, slices []domain.OrderSlice, quantity uint64, now time.Time) float64 {
	if algo == domain.AlgoPOV {
		window := params.EndTime.Sub(params.StartTime)
		if window <= 0 {
			return 0
		}
		elapsed := now.Sub(params.StartTime)
		return clamp01(float64(elapsed) / float64(window))
	}

	if quantity == 0 {
		return 0
	}
	var due uint64
	for _, sl := range slices {
		if !sl.ScheduledTime.After(now) {
			due += sl.Quantity
		}
	}
	return clamp01(float64(due) / float64(quantity))
}

func (s *Scheduler) slippageBps(r *runner, parent domain.Order) float64 {
	if parent.Filled == 0 || !r.arrival.IsPositive() || !parent.AveragePrice.IsPositive() {
		return 0
	}

	diff := parent.AveragePrice.Sub(r.arrival).Div(r.arrival).Mul(decimal.NewFromInt(10000))
	bps, _ := diff.Float64()
	if parent.Side == domain.Sell {
		// Selling below the benchmark is the adverse direction.
		bps = -bps
	}
	return bps * s.cfg.SlippageWeight
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
