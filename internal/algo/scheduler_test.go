package algo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleipnir/internal/dispatch"
	"sleipnir/internal/domain"
	"sleipnir/internal/ledger"
	"sleipnir/internal/quote"
	"sleipnir/internal/router"
)

func price(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeExecutor fills dispatched plans through the real ledger, optionally
// shorting the first N calls to exercise the catch-up policy.
type fakeExecutor struct {
	ledger *ledger.Ledger

	mu        sync.Mutex
	calls     []uint64 // requested quantity per call
	sliceIDs  []string
	shortNext int // number of leading calls that fill nothing
}

func (e *fakeExecutor) DispatchSlice(ctx context.Context, parent domain.Order, sliceID string, plan domain.RoutingPlan) (dispatch.Outcome, error) {
	requested := plan.TotalQuantity()

	e.mu.Lock()
	e.calls = append(e.calls, requested)
	e.sliceIDs = append(e.sliceIDs, sliceID)
	short := e.shortNext > 0
	if short {
		e.shortNext--
	}
	e.mu.Unlock()

	if short {
		return dispatch.Outcome{}, nil
	}

	report := domain.ExecutionReport{
		ExecutionID: "exec-" + sliceID,
		OrderID:     parent.ID,
		SliceID:     sliceID,
		Venue:       "A",
		Quantity:    requested,
		Price:       price(150.00),
		Timestamp:   time.Now(),
	}
	if _, err := e.ledger.ApplyExecution(ctx, report); err != nil {
		return dispatch.Outcome{}, err
	}
	return dispatch.Outcome{
		Reports:     []domain.ExecutionReport{report},
		TotalFilled: requested,
	}, nil
}

func (e *fakeExecutor) requested() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint64, len(e.calls))
	copy(out, e.calls)
	return out
}

type fakeVolume struct {
	mu    sync.Mutex
	total uint64
}

func (v *fakeVolume) Set(total uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.total = total
}

func (v *fakeVolume) TradedVolume(context.Context, string) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.total, nil
}

type fixture struct {
	ledger    *ledger.Ledger
	executor  *fakeExecutor
	volume    *fakeVolume
	scheduler *Scheduler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	l := ledger.New(ledger.NewMemStore())
	exec := &fakeExecutor{ledger: l}
	volume := &fakeVolume{}

	quotes := quote.NewStatic()
	quotes.Put(quote.NewBookSnapshot("A", "AAPL",
		[]quote.Level{{Price: price(149.99), Quantity: 1 << 30}},
		[]quote.Level{{Price: price(150.01), Quantity: 1 << 30}},
	))
	routing := router.Config{Strategy: router.StrategyBestPrice, Venues: []string{"A"}}

	s := NewScheduler(l, quotes, exec, routing, volume, cfg)
	t.Cleanup(s.Stop)
	return &fixture{ledger: l, executor: exec, volume: volume, scheduler: s}
}

func (f *fixture) startAlgo(t *testing.T, algo domain.AlgorithmType, qty uint64, params domain.AlgoParams) domain.Order {
	t.Helper()
	order, err := f.ledger.Create(t.Context(), domain.Order{
		Symbol: "AAPL", Side: domain.Buy, Type: domain.MarketOrder,
		Quantity: qty, TimeInForce: domain.GoodTillCancel,
		Algorithm: algo, AlgoParams: params,
	})
	require.NoError(t, err)
	order, err = f.ledger.Accept(t.Context(), order.ID)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.Start(t.Context(), order))
	return order
}

func shortWindow(slices int, interval time.Duration) domain.AlgoParams {
	now := time.Now()
	return domain.AlgoParams{
		StartTime:     now,
		EndTime:       now.Add(time.Duration(slices) * interval),
		SliceInterval: interval,
		ArrivalPrice:  price(150.00),
	}
}

func TestScheduler_TWAPFillsParentThroughSlices(t *testing.T) {
	f := newFixture(t, Config{})
	order := f.startAlgo(t, domain.AlgoTWAP, 500, shortWindow(5, 20*time.Millisecond))

	require.NoError(t, f.scheduler.Wait(order.ID))

	// 1. The parent absorbed every slice fill.
	final, err := f.ledger.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, final.Status)
	assert.Equal(t, uint64(500), final.Filled)
	assert.True(t, final.AveragePrice.Equal(price(150.00)))

	// 2. Five dispatches of 100 each.
	assert.Equal(t, []uint64{100, 100, 100, 100, 100}, f.executor.requested())

	// 3. All slices terminal and accounted for.
	slices, err := f.scheduler.Slices(order.ID)
	require.NoError(t, err)
	require.Len(t, slices, 5)
	for _, sl := range slices {
		assert.Equal(t, domain.SliceFilled, sl.Status)
		assert.Equal(t, uint64(100), sl.Filled)
	}
}

func TestScheduler_CatchUpCarriesUnfilledRemainder(t *testing.T) {
	f := newFixture(t, Config{})
	f.executor.shortNext = 1 // first slice fills nothing

	order := f.startAlgo(t, domain.AlgoTWAP, 300, shortWindow(3, 20*time.Millisecond))
	require.NoError(t, f.scheduler.Wait(order.ID))

	// The first slice's 100 rolled into the second: 100, 200, 100.
	assert.Equal(t, []uint64{100, 200, 100}, f.executor.requested())

	final, err := f.ledger.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), final.Filled)

	slices, err := f.scheduler.Slices(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SliceCanceled, slices[0].Status, "zero-fill slice is canceled, not dropped")
	assert.Equal(t, uint64(0), slices[0].Filled)
	assert.Equal(t, domain.SliceFilled, slices[1].Status)
	assert.Equal(t, uint64(200), slices[1].Filled)
}

func TestScheduler_CancelStopsFutureSlices(t *testing.T) {
	f := newFixture(t, Config{})

	// Slices scheduled far apart: only the first executes before cancel.
	params := shortWindow(3, time.Hour)
	order := f.startAlgo(t, domain.AlgoTWAP, 300, params)

	// Give the first slice a moment to dispatch.
	require.Eventually(t, func() bool {
		current, err := f.ledger.Get(order.ID)
		return err == nil && current.Filled == 100
	}, 2*time.Second, 5*time.Millisecond)

	ok, err := f.scheduler.Cancel(t.Context(), order.ID, "client request")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.scheduler.Wait(order.ID))

	final, err := f.ledger.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, final.Status)
	assert.Equal(t, uint64(100), final.Filled, "dispatched fills survive the cancel")

	slices, err := f.scheduler.Slices(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SliceFilled, slices[0].Status)
	assert.Equal(t, domain.SliceCanceled, slices[1].Status)
	assert.Equal(t, domain.SliceCanceled, slices[2].Status)
	assert.Len(t, f.executor.requested(), 1, "no dispatch after cancel")
}

func TestScheduler_CancelAfterRunnerFinished(t *testing.T) {
	// A GTC order whose window closed short keeps its runner registered
	// but dead; a cancel arriving then must still reach CANCELED instead
	// of stranding the order in PENDING_CANCEL.
	f := newFixture(t, Config{})
	f.executor.shortNext = 3 // every slice shorts, the window ends unfilled

	order := f.startAlgo(t, domain.AlgoTWAP, 300, shortWindow(3, 20*time.Millisecond))
	require.NoError(t, f.scheduler.Wait(order.ID))

	current, err := f.ledger.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNew, current.Status)
	require.Equal(t, uint64(0), current.Filled)

	ok, err := f.scheduler.Cancel(t.Context(), order.ID, "client request")
	require.NoError(t, err)
	assert.True(t, ok)

	final, err := f.ledger.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, final.Status)
}

func TestScheduler_PauseSuspendsDispatch(t *testing.T) {
	f := newFixture(t, Config{})

	// First slice scheduled safely in the future so the pause lands first.
	params := shortWindow(2, 20*time.Millisecond)
	params.StartTime = params.StartTime.Add(100 * time.Millisecond)
	params.EndTime = params.EndTime.Add(100 * time.Millisecond)
	order := f.startAlgo(t, domain.AlgoTWAP, 200, params)

	require.NoError(t, f.scheduler.Pause(order.ID, "risk desk hold"))

	// Both slice times pass while paused; nothing may dispatch.
	time.Sleep(200 * time.Millisecond)
	progress, err := f.scheduler.MonitorProgress(order.ID)
	require.NoError(t, err)
	assert.True(t, progress.Paused)
	assert.Equal(t, "risk desk hold", progress.PauseReason)
	assert.Empty(t, f.executor.requested())

	// Resume releases the backlog and the order completes.
	require.NoError(t, f.scheduler.Resume(order.ID))
	require.NoError(t, f.scheduler.Wait(order.ID))

	final, err := f.ledger.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, final.Status)
}

func TestScheduler_POVKeepsParticipationInBand(t *testing.T) {
	f := newFixture(t, Config{POVInterval: 10 * time.Millisecond})

	now := time.Now()
	order := f.startAlgo(t, domain.AlgoPOV, 5000, domain.AlgoParams{
		StartTime:    now,
		EndTime:      now.Add(time.Hour),
		MinPOVRate:   0.05,
		MaxPOVRate:   0.10,
		ArrivalPrice: price(150.00),
	})

	// Volume observed after the order arrived is what counts.
	f.volume.Set(10000)

	// With 10000 of market volume and a 10% cap, fills stop at 1000.
	require.Eventually(t, func() bool {
		current, err := f.ledger.Get(order.ID)
		return err == nil && current.Filled == 1000
	}, 2*time.Second, 5*time.Millisecond)

	// Let several more ticks pass: participation must stay capped.
	time.Sleep(50 * time.Millisecond)
	current, err := f.ledger.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), current.Filled)

	// More market volume raises the budget.
	f.volume.Set(30000)
	require.Eventually(t, func() bool {
		current, err := f.ledger.Get(order.ID)
		return err == nil && current.Filled == 3000
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_POVExpiresAtWindowEnd(t *testing.T) {
	f := newFixture(t, Config{POVInterval: 10 * time.Millisecond})
	f.volume.Set(1000)

	now := time.Now()
	l := f.ledger
	order, err := l.Create(t.Context(), domain.Order{
		Symbol: "AAPL", Side: domain.Buy, Type: domain.MarketOrder,
		Quantity: 5000, TimeInForce: domain.Day,
		Algorithm: domain.AlgoPOV,
		AlgoParams: domain.AlgoParams{
			StartTime:  now,
			EndTime:    now.Add(40 * time.Millisecond),
			MinPOVRate: 0.01,
			MaxPOVRate: 0.02,
		},
	})
	require.NoError(t, err)
	order, err = l.Accept(t.Context(), order.ID)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.Start(t.Context(), order))

	require.NoError(t, f.scheduler.Wait(order.ID))

	final, err := l.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, final.Status)
	assert.Greater(t, final.Remaining, uint64(0))
}

func TestScheduler_AdjustParametersTakesEffectNextTick(t *testing.T) {
	f := newFixture(t, Config{POVInterval: 10 * time.Millisecond})

	now := time.Now()
	order := f.startAlgo(t, domain.AlgoPOV, 50000, domain.AlgoParams{
		StartTime:  now,
		EndTime:    now.Add(time.Hour),
		MinPOVRate: 0.05,
		MaxPOVRate: 0.10,
	})
	f.volume.Set(10000)

	require.Eventually(t, func() bool {
		current, err := f.ledger.Get(order.ID)
		return err == nil && current.Filled == 1000
	}, 2*time.Second, 5*time.Millisecond)

	// Raising the cap doubles the budget on the next tick.
	newMax := 0.20
	require.NoError(t, f.scheduler.AdjustParameters(order.ID, Adjust{MaxPOVRate: &newMax}))
	require.Eventually(t, func() bool {
		current, err := f.ledger.Get(order.ID)
		return err == nil && current.Filled == 2000
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_RejectsNonAlgoAndBadParams(t *testing.T) {
	f := newFixture(t, Config{})

	order, err := f.ledger.Create(t.Context(), domain.Order{
		Symbol: "AAPL", Side: domain.Buy, Type: domain.MarketOrder, Quantity: 100,
	})
	require.NoError(t, err)
	order, err = f.ledger.Accept(t.Context(), order.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.scheduler.Start(t.Context(), order), ledger.ErrValidation)

	order.Algorithm = domain.AlgoPOV
	order.AlgoParams = domain.AlgoParams{MinPOVRate: 0.5, MaxPOVRate: 0.1}
	assert.ErrorIs(t, f.scheduler.Start(t.Context(), order), ledger.ErrValidation)
}

func TestMonitorProgress(t *testing.T) {
	f := newFixture(t, Config{})
	order := f.startAlgo(t, domain.AlgoTWAP, 500, shortWindow(5, 20*time.Millisecond))
	require.NoError(t, f.scheduler.Wait(order.ID))

	progress, err := f.scheduler.MonitorProgress(order.ID)
	require.NoError(t, err)

	assert.Equal(t, float64(1), progress.Progress)
	assert.Equal(t, float64(1), progress.ExpectedProgress)
	assert.True(t, progress.OnSchedule)
	// Fills at 150.00 against a 150.00 arrival benchmark: no slippage.
	assert.InDelta(t, 0, progress.SlippageBps, 1e-9)
	assert.False(t, progress.Paused)
}
