package domain

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

type OrderType int

const (
	// Market orders are instructions to buy or sell immediately at the
	// best available price, with no guarantee on the execution price.
	MarketOrder OrderType = iota
	// Limit orders execute at the limit price or better and may stay
	// working until filled or canceled.
	LimitOrder
	// Stop orders become market orders once the stop price trades.
	StopOrder
	// Stop-limit orders become limit orders once the stop price trades.
	StopLimitOrder
)

func (t OrderType) String() string {
	switch t {
	case MarketOrder:
		return "MARKET"
	case LimitOrder:
		return "LIMIT"
	case StopOrder:
		return "STOP"
	case StopLimitOrder:
		return "STOP_LIMIT"
	}
	return "UNKNOWN"
}

type TimeInForce int

const (
	Day TimeInForce = iota
	GoodTillCancel
	GoodTillDate
	ImmediateOrCancel
	FillOrKill
)

func (t TimeInForce) String() string {
	switch t {
	case Day:
		return "DAY"
	case GoodTillCancel:
		return "GTC"
	case GoodTillDate:
		return "GTD"
	case ImmediateOrCancel:
		return "IOC"
	case FillOrKill:
		return "FOK"
	}
	return "UNKNOWN"
}

type AlgorithmType int

const (
	AlgoNone AlgorithmType = iota
	AlgoTWAP
	AlgoVWAP
	AlgoPOV
	AlgoIceberg
)

func (a AlgorithmType) String() string {
	switch a {
	case AlgoNone:
		return "NONE"
	case AlgoTWAP:
		return "TWAP"
	case AlgoVWAP:
		return "VWAP"
	case AlgoPOV:
		return "POV"
	case AlgoIceberg:
		return "ICEBERG"
	}
	return "UNKNOWN"
}

type OrderStatus int

const (
	StatusPending OrderStatus = iota
	StatusNew
	StatusPartiallyFilled
	StatusFilled
	StatusPendingCancel
	StatusCanceled
	StatusPendingReplace
	StatusReplaced
	StatusRejected
	StatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusNew:
		return "NEW"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusPendingCancel:
		return "PENDING_CANCEL"
	case StatusCanceled:
		return "CANCELED"
	case StatusPendingReplace:
		return "PENDING_REPLACE"
	case StatusReplaced:
		return "REPLACED"
	case StatusRejected:
		return "REJECTED"
	case StatusExpired:
		return "EXPIRED"
	}
	return "UNKNOWN"
}

// Terminal statuses are immutable; no event moves an order out of them.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Fillable statuses accept execution reports. PENDING_CANCEL is fillable
// because in-flight venue calls for already-dispatched slices are allowed
// to complete and their fills still apply.
func (s OrderStatus) Fillable() bool {
	switch s {
	case StatusNew, StatusPartiallyFilled, StatusPendingReplace, StatusPendingCancel:
		return true
	}
	return false
}

type SliceStatus int

const (
	SlicePending SliceStatus = iota
	SliceActive
	SliceFilled
	SliceCanceled
)

func (s SliceStatus) String() string {
	switch s {
	case SlicePending:
		return "PENDING"
	case SliceActive:
		return "ACTIVE"
	case SliceFilled:
		return "FILLED"
	case SliceCanceled:
		return "CANCELED"
	}
	return "UNKNOWN"
}

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	}
	return "UNKNOWN"
}
