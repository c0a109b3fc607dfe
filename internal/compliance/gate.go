// Package compliance defines the pre-trade gate every submission and slice
// must pass. The gate is a port; RuleGate is the in-process implementation
// used by the demo wiring and as the default.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"sleipnir/internal/domain"
)

var ErrRejected = errors.New("compliance rejection")

type Gate interface {
	Check(ctx context.Context, order domain.Order) (domain.ComplianceResult, error)
}

// RuleConfig enumerates the recognized pre-trade limits. Zero values
// disable the corresponding rule.
type RuleConfig struct {
	MaxOrderQuantity  uint64          `yaml:"max_order_quantity"`
	MaxNotional       decimal.Decimal `yaml:"max_notional"`
	WarnNotional      decimal.Decimal `yaml:"warn_notional"`
	RestrictedSymbols []string        `yaml:"restricted_symbols"`
}

type RuleGate struct {
	cfg RuleConfig
}

func NewRuleGate(cfg RuleConfig) *RuleGate {
	return &RuleGate{cfg: cfg}
}

func (g *RuleGate) Check(_ context.Context, order domain.Order) (domain.ComplianceResult, error) {
	var checks []domain.ComplianceCheck

	if g.cfg.MaxOrderQuantity > 0 {
		checks = append(checks, domain.ComplianceCheck{
			Name:     "max-order-quantity",
			Severity: domain.SeverityError,
			Passed:   order.Quantity <= g.cfg.MaxOrderQuantity,
			Message:  fmt.Sprintf("quantity %d against limit %d", order.Quantity, g.cfg.MaxOrderQuantity),
		})
	}

	// Notional limits only apply where a price is known pre-trade.
	if order.LimitPrice.IsPositive() {
		notional := order.LimitPrice.Mul(decimal.NewFromUint64(order.Quantity))
		if g.cfg.MaxNotional.IsPositive() {
			checks = append(checks, domain.ComplianceCheck{
				Name:     "max-notional",
				Severity: domain.SeverityError,
				Passed:   notional.LessThanOrEqual(g.cfg.MaxNotional),
				Message:  fmt.Sprintf("notional %s against limit %s", notional, g.cfg.MaxNotional),
			})
		}
		if g.cfg.WarnNotional.IsPositive() {
			checks = append(checks, domain.ComplianceCheck{
				Name:     "large-order-advisory",
				Severity: domain.SeverityWarning,
				Passed:   notional.LessThanOrEqual(g.cfg.WarnNotional),
				Message:  fmt.Sprintf("notional %s against advisory %s", notional, g.cfg.WarnNotional),
			})
		}
	}

	if len(g.cfg.RestrictedSymbols) > 0 {
		checks = append(checks, domain.ComplianceCheck{
			Name:     "restricted-symbol",
			Severity: domain.SeverityError,
			Passed:   !slices.Contains(g.cfg.RestrictedSymbols, order.Symbol),
			Message:  order.Symbol,
		})
	}

	result := domain.ComplianceResult{Checks: checks}
	result.Passed = !result.Blocking()
	return result, nil
}
