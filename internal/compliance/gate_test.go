package compliance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleipnir/internal/domain"
)

func limitOrder(symbol string, qty uint64, limit float64) domain.Order {
	return domain.Order{
		Symbol:     symbol,
		Side:       domain.Buy,
		Type:       domain.LimitOrder,
		Quantity:   qty,
		LimitPrice: decimal.NewFromFloat(limit),
	}
}

func findCheck(t *testing.T, result domain.ComplianceResult, name string) domain.ComplianceCheck {
	t.Helper()
	for _, c := range result.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not in result", name)
	return domain.ComplianceCheck{}
}

func TestRuleGate_PassesCleanOrder(t *testing.T) {
	gate := NewRuleGate(RuleConfig{
		MaxOrderQuantity:  100000,
		MaxNotional:       decimal.NewFromInt(10_000_000),
		RestrictedSymbols: []string{"GME"},
	})

	result, err := gate.Check(t.Context(), limitOrder("AAPL", 1000, 150.00))
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.False(t, result.Blocking())
	for _, c := range result.Checks {
		assert.True(t, c.Passed, c.Name)
	}
}

func TestRuleGate_QuantityLimitBlocks(t *testing.T) {
	gate := NewRuleGate(RuleConfig{MaxOrderQuantity: 500})

	result, err := gate.Check(t.Context(), limitOrder("AAPL", 501, 150.00))
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.True(t, result.Blocking())
	check := findCheck(t, result, "max-order-quantity")
	assert.Equal(t, domain.SeverityError, check.Severity)
	assert.False(t, check.Passed)
}

func TestRuleGate_NotionalLimitBlocks(t *testing.T) {
	gate := NewRuleGate(RuleConfig{MaxNotional: decimal.NewFromInt(100000)})

	// 1000 * 150.00 = 150000 notional, over the 100000 cap.
	result, err := gate.Check(t.Context(), limitOrder("AAPL", 1000, 150.00))
	require.NoError(t, err)
	assert.True(t, result.Blocking())
	assert.False(t, findCheck(t, result, "max-notional").Passed)

	// Market orders carry no limit price, so no pre-trade notional exists
	// and the rule does not apply.
	market := domain.Order{Symbol: "AAPL", Type: domain.MarketOrder, Quantity: 1000}
	result, err = gate.Check(t.Context(), market)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Checks)
}

func TestRuleGate_WarningDoesNotBlock(t *testing.T) {
	gate := NewRuleGate(RuleConfig{
		MaxNotional:  decimal.NewFromInt(1_000_000),
		WarnNotional: decimal.NewFromInt(100_000),
	})

	// Over the advisory, under the hard cap.
	result, err := gate.Check(t.Context(), limitOrder("AAPL", 1000, 150.00))
	require.NoError(t, err)

	assert.True(t, result.Passed, "warnings alone never reject")
	assert.False(t, result.Blocking())
	advisory := findCheck(t, result, "large-order-advisory")
	assert.Equal(t, domain.SeverityWarning, advisory.Severity)
	assert.False(t, advisory.Passed)
	assert.True(t, findCheck(t, result, "max-notional").Passed)
}

func TestRuleGate_RestrictedSymbol(t *testing.T) {
	gate := NewRuleGate(RuleConfig{RestrictedSymbols: []string{"GME", "AMC"}})

	result, err := gate.Check(t.Context(), limitOrder("GME", 10, 20.00))
	require.NoError(t, err)
	assert.True(t, result.Blocking())
	assert.False(t, findCheck(t, result, "restricted-symbol").Passed)

	result, err = gate.Check(t.Context(), limitOrder("AAPL", 10, 20.00))
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestRuleGate_ZeroConfigDisablesAllRules(t *testing.T) {
	gate := NewRuleGate(RuleConfig{})

	result, err := gate.Check(t.Context(), limitOrder("AAPL", 1<<40, 99999))
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Checks)
}
