package algo

import (
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"sleipnir/internal/domain"
	"sleipnir/internal/router"
)

// runSliced drives a TWAP/VWAP/Iceberg plan: wait for each slice's
// scheduled time, re-check parent state, then push the slice (plus any
// carried remainder) through routing and dispatch. A slice that fails to
// fill is never abandoned; its shortfall rolls into the next slice.
func (s *Scheduler) runSliced(r *runner) error {
	for i := range r.slices {
		r.mu.Lock()
		slice := r.slices[i]
		r.mu.Unlock()

		proceed, err := s.awaitSlice(r, slice.ScheduledTime)
		if err != nil {
			return err
		}
		if !proceed {
			s.cancelSlicesFrom(r, i)
			return nil
		}

		parent, err := s.ledger.Get(r.parentID)
		if err != nil {
			return err
		}

		r.mu.Lock()
		target := slice.Quantity + r.carried
		r.mu.Unlock()
		if target > parent.Remaining {
			target = parent.Remaining
		}
		if target == 0 {
			// Parent already done (filled elsewhere or replaced down);
			// nothing left for this slice.
			s.setSlice(r, i, func(sl *domain.OrderSlice) { sl.Status = domain.SliceFilled })
			continue
		}

		s.setSlice(r, i, func(sl *domain.OrderSlice) { sl.Status = domain.SliceActive })

		filled := s.executeChild(r, parent, slice.ID, target)

		r.mu.Lock()
		r.carried = target - filled
		carried := r.carried
		r.mu.Unlock()

		s.setSlice(r, i, func(sl *domain.OrderSlice) {
			sl.Filled = filled
			if filled > 0 {
				sl.Status = domain.SliceFilled
			} else {
				sl.Status = domain.SliceCanceled
			}
		})

		log.Info().
			Str("order", r.parentID).
			Str("slice", slice.ID).
			Uint64("target", target).
			Uint64("filled", filled).
			Uint64("carried", carried).
			Msg("slice executed")
	}

	return s.finish(r)
}

// runPOV is the continuous participation control loop: at each tick,
// submit just enough child quantity to keep cumulative participation
// within the configured band of observed market volume.
func (s *Scheduler) runPOV(r *runner) error {
	ticker := time.NewTicker(s.cfg.POVInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.t.Dying():
			return tomb.ErrDying
		case <-r.wake:
		case <-ticker.C:
		}

		parent, err := s.ledger.Get(r.parentID)
		if err != nil {
			return err
		}
		if done, err := s.observeParent(r, parent); done {
			return err
		}
		if r.isPaused() {
			continue
		}

		r.mu.Lock()
		endTime := r.params.EndTime
		minRate := r.params.MinPOVRate
		maxRate := r.params.MaxPOVRate
		r.mu.Unlock()

		if !endTime.IsZero() && !time.Now().Before(endTime) {
			return s.finish(r)
		}
		if parent.Remaining == 0 {
			return nil
		}

		volume, err := s.volume.TradedVolume(r.ctx, r.symbol)
		if err != nil {
			log.Warn().Str("order", r.parentID).Err(err).Msg("volume source unavailable")
			continue
		}
		observed := volume - r.startVolume
		if observed == 0 {
			continue
		}

		// Submitting up to the max bound keeps participation <= max;
		// submitting whenever we are under it keeps us above min as long
		// as the band is feasible against the remaining quantity.
		maxAllowed := maxRate * float64(observed)
		minWanted := minRate * float64(observed)
		filled := float64(parent.Filled)
		if filled >= maxAllowed {
			continue
		}
		child := uint64(maxAllowed - filled)
		if filled+float64(child) < minWanted {
			// Even a full submission cannot reach the lower bound; take
			// what we can this tick and catch up on the next.
			log.Debug().Str("order", r.parentID).Msg("participation below band, catching up")
		}
		if child > parent.Remaining {
			child = parent.Remaining
		}
		if child == 0 {
			continue
		}

		filledNow := s.executeChild(r, parent, "", child)
		log.Info().
			Str("order", r.parentID).
			Uint64("market_volume", observed).
			Uint64("child", child).
			Uint64("filled", filledNow).
			Msg("pov tick executed")
	}
}

// awaitSlice blocks until the slice's scheduled time, honoring pause,
// wake signals, and runner death. The bool reports whether dispatch
// should proceed; false means the parent was canceled or went terminal.
func (s *Scheduler) awaitSlice(r *runner, scheduled time.Time) (bool, error) {
	for {
		parent, err := s.ledger.Get(r.parentID)
		if err != nil {
			return false, err
		}
		if done, err := s.observeParent(r, parent); done {
			return false, err
		}
		if parent.Status.Terminal() {
			return false, nil
		}

		if r.isPaused() {
			select {
			case <-r.t.Dying():
				return false, tomb.ErrDying
			case <-r.wake:
			}
			continue
		}

		wait := time.Until(scheduled)
		if wait <= 0 {
			return true, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-r.t.Dying():
			timer.Stop()
			return false, tomb.ErrDying
		case <-r.wake:
			timer.Stop()
			// State changed; re-run the checks.
		case <-timer.C:
		}
	}
}

// observeParent reacts to a cancel request: no further dispatch happens,
// outstanding slices are marked canceled, and the cancel confirms once we
// (the only dispatcher for this parent) have drained.
func (s *Scheduler) observeParent(r *runner, parent domain.Order) (bool, error) {
	if parent.Status != domain.StatusPendingCancel {
		return parent.Status.Terminal(), nil
	}

	s.cancelSlicesFrom(r, 0)
	if _, err := s.ledger.ConfirmCancel(r.ctx, r.parentID); err != nil {
		return true, err
	}
	log.Info().Str("order", r.parentID).Msg("algo canceled")
	return true, nil
}

// executeChild routes and dispatches a child of the parent for the given
// quantity, returning the quantity actually filled. Routing or quote
// failures fill nothing; the quantity stays with the parent and the
// catch-up policy retries it later.
func (s *Scheduler) executeChild(r *runner, parent domain.Order, sliceID string, quantity uint64) uint64 {
	books, err := s.quotes.Snapshot(r.ctx, r.symbol, s.routing.Venues)
	if err != nil {
		log.Warn().Str("order", r.parentID).Err(err).Msg("quote snapshot failed")
		return 0
	}

	child := parent
	child.Remaining = quantity
	plan, err := router.Route(child, books, s.routing)
	if err != nil {
		log.Warn().Str("order", r.parentID).Err(err).Msg("child routing failed")
		return 0
	}

	outcome, err := s.exec.DispatchSlice(r.ctx, parent, sliceID, plan)
	if err != nil {
		log.Error().Str("order", r.parentID).Err(err).Msg("child dispatch failed")
	}
	return outcome.TotalFilled
}

// finish expires unfilled timed orders at the end of their window.
func (s *Scheduler) finish(r *runner) error {
	parent, err := s.ledger.Get(r.parentID)
	if err != nil {
		return err
	}
	if done, err := s.observeParent(r, parent); done {
		return err
	}

	if parent.Remaining > 0 &&
		(parent.TimeInForce == domain.Day || parent.TimeInForce == domain.GoodTillDate) {
		if _, err := s.ledger.Expire(r.ctx, r.parentID); err != nil {
			return err
		}
		log.Info().
			Str("order", r.parentID).
			Uint64("unfilled", parent.Remaining).
			Msg("algo window closed, order expired")
	}
	return nil
}

func (s *Scheduler) setSlice(r *runner, i int, mutate func(*domain.OrderSlice)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sl := &r.slices[i]
	// FILLED and CANCELED slices are immutable.
	if sl.Status == domain.SliceFilled || sl.Status == domain.SliceCanceled {
		return
	}
	mutate(sl)
}

// cancelSlicesFrom marks every not-yet-terminal slice from index i on as
// canceled.
func (s *Scheduler) cancelSlicesFrom(r *runner, i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for j := i; j < len(r.slices); j++ {
		sl := &r.slices[j]
		if sl.Status == domain.SlicePending || sl.Status == domain.SliceActive {
			sl.Status = domain.SliceCanceled
		}
	}
}
