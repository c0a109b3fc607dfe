package algo

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sleipnir/internal/domain"
)

var ErrBadWindow = errors.New("invalid execution window")

const defaultSliceInterval = 5 * time.Minute

// PlanTWAP divides the execution window into fixed-width intervals and
// spreads the parent quantity evenly. All but the last slice take
// floor(quantity/n); the last absorbs the remainder so slices always sum
// exactly to the parent quantity.
func PlanTWAP(parentID string, quantity uint64, params domain.AlgoParams) ([]domain.OrderSlice, error) {
	window := params.EndTime.Sub(params.StartTime)
	if window <= 0 {
		return nil, fmt.Errorf("%w: end %v not after start %v", ErrBadWindow, params.EndTime, params.StartTime)
	}

	interval := params.SliceInterval
	if interval <= 0 {
		interval = defaultSliceInterval
	}
	n := int(window / interval)
	if n < 1 {
		n = 1
	}

	base := quantity / uint64(n)
	slices := make([]domain.OrderSlice, n)
	var allocated uint64
	for i := range slices {
		qty := base
		if i == n-1 {
			qty = quantity - allocated
		}
		allocated += qty
		slices[i] = domain.OrderSlice{
			ID:            uuid.New().String(),
			ParentOrderID: parentID,
			Quantity:      qty,
			ScheduledTime: params.StartTime.Add(time.Duration(i) * interval),
			Status:        domain.SlicePending,
		}
	}
	return slices, nil
}

// defaultVolumeCurve approximates a U-shaped intraday volume profile:
// heavy at the open and close, thin over lunch. Weights are relative;
// PlanVWAP normalizes whatever curve it is given.
var defaultVolumeCurve = []float64{
	0.12, 0.09, 0.08, 0.07, 0.06, 0.06, 0.06, 0.06, 0.07, 0.08, 0.10, 0.15,
}

// PlanVWAP sizes slices proportionally to a volume curve, the supplied one
// or the default intraday profile. Each slice takes floor(quantity*w); the
// final slice absorbs the rounding remainder, so slices sum exactly to the
// parent quantity even when the curve does not sum to 1.
func PlanVWAP(parentID string, quantity uint64, params domain.AlgoParams) ([]domain.OrderSlice, error) {
	window := params.EndTime.Sub(params.StartTime)
	if window <= 0 {
		return nil, fmt.Errorf("%w: end %v not after start %v", ErrBadWindow, params.EndTime, params.StartTime)
	}

	curve := params.CustomCurve
	if len(curve) == 0 {
		curve = defaultVolumeCurve
	}

	var total float64
	for _, w := range curve {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative curve weight %f", ErrBadWindow, w)
		}
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: volume curve sums to zero", ErrBadWindow)
	}

	n := len(curve)
	interval := window / time.Duration(n)
	slices := make([]domain.OrderSlice, n)
	var allocated uint64
	for i, w := range curve {
		// The epsilon keeps float error from flooring 300.0 to 299.
		qty := uint64(float64(quantity)*(w/total) + 1e-9)
		if i == n-1 {
			qty = quantity - allocated
		}
		allocated += qty
		slices[i] = domain.OrderSlice{
			ID:            uuid.New().String(),
			ParentOrderID: parentID,
			Quantity:      qty,
			ScheduledTime: params.StartTime.Add(time.Duration(i) * interval),
			Status:        domain.SlicePending,
		}
	}
	return slices, nil
}

// PlanIceberg exposes DisplayQty per interval until the parent quantity is
// covered; the last slice takes whatever is left.
func PlanIceberg(parentID string, quantity uint64, params domain.AlgoParams) ([]domain.OrderSlice, error) {
	if params.DisplayQty == 0 {
		return nil, fmt.Errorf("%w: iceberg requires a display quantity", ErrBadWindow)
	}
	interval := params.SliceInterval
	if interval <= 0 {
		interval = defaultSliceInterval
	}

	n := int((quantity + params.DisplayQty - 1) / params.DisplayQty)
	slices := make([]domain.OrderSlice, n)
	var allocated uint64
	for i := range slices {
		qty := min(params.DisplayQty, quantity-allocated)
		allocated += qty
		slices[i] = domain.OrderSlice{
			ID:            uuid.New().String(),
			ParentOrderID: parentID,
			Quantity:      qty,
			ScheduledTime: params.StartTime.Add(time.Duration(i) * interval),
			Status:        domain.SlicePending,
		}
	}
	return slices, nil
}
