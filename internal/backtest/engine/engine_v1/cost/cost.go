package cost

// Calculator computes the trading cost for a change of notional.
type Calculator interface {
	// Calculate the trading cost for a given signed notional delta and returns the cost in USD
	Calculate(deltaNotional float64) float64
}

type Model string

const (
	ModelZero     Model = "zero"
	ModelFixedBps Model = "fixed_bps"
)

var AllModels = []any{
	ModelZero,
	ModelFixedBps,
}

func GetCostHandler(model Model, bps float64) Calculator {
	switch model {
	case ModelFixedBps:
		return NewFixedBpsCost(bps)
	case ModelZero:
		return NewZeroCost()
	default:
		return NewZeroCost()
	}
}
