package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AlgoParams carries the instructions for an algorithmic parent order.
// Only the fields relevant to the chosen AlgorithmType are consulted.
type AlgoParams struct {
	StartTime     time.Time     // Execution window open
	EndTime       time.Time     // Execution window close
	SliceInterval time.Duration // TWAP interval width; zero means the default
	CustomCurve   []float64     // VWAP volume curve; need not sum to 1
	MinPOVRate    float64       // POV lower participation bound
	MaxPOVRate    float64       // POV upper participation bound
	DisplayQty    uint64        // Iceberg visible quantity per slice
	ArrivalPrice  decimal.Decimal
}

type Order struct {
	ID            string    // Exchange-assigned uuid
	ClientOrderID string    // Caller's idempotency handle
	ParentOrderID string    // Set on child orders of an algo parent
	Symbol        string    // Specific asset identifier
	SecurityID    string    // ISIN/CUSIP style secondary identifier
	Side          Side      //
	Type          OrderType //
	Quantity      uint64    // Total volume requested
	Filled        uint64    // Volume executed so far
	Remaining     uint64    // Quantity - Filled, maintained by the ledger
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	AveragePrice  decimal.Decimal // Notional-weighted mean of applied fills
	TimeInForce   TimeInForce
	Algorithm     AlgorithmType
	AlgoParams    AlgoParams
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time // Consulted for DAY/GTD expiry
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %s %d@%s filled=%d avg=%s status=%s",
		o.ID, o.Side, o.Symbol, o.Quantity, o.LimitPrice, o.Filled,
		o.AveragePrice, o.Status)
}

// ExecutionReport is an immutable fact emitted by one venue interaction.
// It is consumed exactly once by the ledger to update cumulative fill state.
type ExecutionReport struct {
	ExecutionID string
	OrderID     string
	SliceID     string // Empty unless the fill belongs to an algo slice
	Venue       string
	Quantity    uint64
	Price       decimal.Decimal
	Timestamp   time.Time
}

// OrderSlice is a child execution unit of an algorithmic parent. Slices are
// never mutated once FILLED or CANCELED.
type OrderSlice struct {
	ID            string
	ParentOrderID string
	Quantity      uint64
	Filled        uint64
	ScheduledTime time.Time
	Status        SliceStatus
}

// VenueRoute is one allocation line of a routing plan.
type VenueRoute struct {
	Venue         string
	Quantity      uint64
	ExpectedPrice decimal.Decimal // VWAP obtainable for Quantity on Venue
	Priority      int             // 0 is best; assigned by VWAP rank
}

// RoutingPlan is immutable once dispatched; re-routing produces a new plan.
type RoutingPlan struct {
	OrderID      string
	PrimaryVenue string
	Routes       []VenueRoute
	// Confidence is available depth over requested quantity, capped at 1.
	// Thin books lower confidence; they are not a routing error.
	Confidence float64
	CreatedAt  time.Time
}

func (p RoutingPlan) TotalQuantity() uint64 {
	var total uint64
	for _, r := range p.Routes {
		total += r.Quantity
	}
	return total
}

type ComplianceCheck struct {
	Name     string
	Severity Severity
	Passed   bool
	Message  string
}

type ComplianceResult struct {
	Passed bool
	Checks []ComplianceCheck
}

// Blocking reports whether any failed check carries ERROR severity.
// WARNING checks are recorded but never block submission.
func (r ComplianceResult) Blocking() bool {
	for _, c := range r.Checks {
		if !c.Passed && c.Severity == SeverityError {
			return true
		}
	}
	return false
}
