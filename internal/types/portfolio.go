package types

import "time"

// Weight is a signed portfolio weight for one (date, asset). The sign
// encodes long(+)/short(-); magnitudes sum to 1.0 within each side before
// the side allocation fraction is applied.
type Weight struct {
	Time         time.Time `csv:"time"`
	Asset        string    `csv:"asset"`
	Bucket       Bucket    `csv:"bucket"`
	SignedWeight float64   `csv:"signed_weight"`
}

// TradeReason records why a trade was emitted.
type TradeReason string

const (
	TradeReasonRebalance       TradeReason = "REBALANCE"
	TradeReasonThresholdAdjust TradeReason = "THRESHOLD_ADJUST"
)

// Trade is a change of notional in one asset on one date.
type Trade struct {
	TradeID       string      `csv:"trade_id"`
	Time          time.Time   `csv:"time"`
	Asset         string      `csv:"asset"`
	DeltaNotional float64     `csv:"delta_notional"`
	Reason        TradeReason `csv:"reason"`
	Cost          float64     `csv:"cost"`
}

// PerformanceRecord is one simulated day of portfolio state. The series is
// append-only with exactly one entry per simulated date.
type PerformanceRecord struct {
	Time           time.Time `csv:"time"`
	PortfolioValue float64   `csv:"portfolio_value"`
	DailyReturn    float64   `csv:"daily_return"`
}
