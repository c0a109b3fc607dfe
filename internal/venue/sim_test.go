package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleipnir/internal/dispatch"
	"sleipnir/internal/domain"
	"sleipnir/internal/quote"
)

func price(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seededQuotes() *quote.Static {
	quotes := quote.NewStatic()
	quotes.Put(quote.NewBookSnapshot("ARCA", "AAPL",
		[]quote.Level{{Price: price(149.98), Quantity: 500}},
		[]quote.Level{
			{Price: price(150.00), Quantity: 300},
			{Price: price(150.02), Quantity: 700},
		},
	))
	return quotes
}

func TestSim_MarketOrderSweepsBook(t *testing.T) {
	sim := NewSim("ARCA", seededQuotes(), 0)

	report, err := sim.Execute(t.Context(), dispatch.Request{
		OrderID: "ord-1", Symbol: "AAPL", Side: domain.Buy,
		Type: domain.MarketOrder, Quantity: 500,
	})
	require.NoError(t, err)

	assert.Equal(t, "ARCA", report.Venue)
	assert.Equal(t, uint64(500), report.Quantity)
	// 300 @ 150.00 + 200 @ 150.02.
	expected := price(150.00).Mul(decimal.NewFromInt(300)).
		Add(price(150.02).Mul(decimal.NewFromInt(200))).
		Div(decimal.NewFromInt(500))
	assert.True(t, report.Price.Equal(expected), "got %s want %s", report.Price, expected)
	assert.NotEmpty(t, report.ExecutionID)
}

func TestSim_LimitOrderStopsAtLimit(t *testing.T) {
	sim := NewSim("ARCA", seededQuotes(), 0)

	// Limit 150.00 cannot touch the 150.02 level: partial fill of 300.
	report, err := sim.Execute(t.Context(), dispatch.Request{
		OrderID: "ord-1", Symbol: "AAPL", Side: domain.Buy,
		Type: domain.LimitOrder, Quantity: 500, LimitPrice: price(150.00),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(300), report.Quantity)
	assert.True(t, report.Price.Equal(price(150.00)))
}

func TestSim_NoLiquidityInsideLimit(t *testing.T) {
	sim := NewSim("ARCA", seededQuotes(), 0)

	_, err := sim.Execute(t.Context(), dispatch.Request{
		OrderID: "ord-1", Symbol: "AAPL", Side: domain.Buy,
		Type: domain.LimitOrder, Quantity: 100, LimitPrice: price(149.00),
	})
	assert.ErrorIs(t, err, ErrNoLiquidity)
}

func TestSim_FailNextFiresOnce(t *testing.T) {
	sim := NewSim("ARCA", seededQuotes(), 0)
	boom := errors.New("session down")
	sim.FailNext(boom)

	req := dispatch.Request{
		OrderID: "ord-1", Symbol: "AAPL", Side: domain.Sell,
		Type: domain.MarketOrder, Quantity: 100,
	}
	_, err := sim.Execute(t.Context(), req)
	assert.ErrorIs(t, err, boom)

	report, err := sim.Execute(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), report.Quantity)
	assert.True(t, report.Price.Equal(price(149.98)))
}

func TestSimVolume(t *testing.T) {
	v := NewSimVolume(1000)

	v.Set(42000)
	total, err := v.TradedVolume(t.Context(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, uint64(42000), total)
}

func TestSim_LatencyHonorsContext(t *testing.T) {
	sim := NewSim("ARCA", seededQuotes(), time.Second)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	_, err := sim.Execute(ctx, dispatch.Request{
		OrderID: "ord-1", Symbol: "AAPL", Side: domain.Buy,
		Type: domain.MarketOrder, Quantity: 100,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
