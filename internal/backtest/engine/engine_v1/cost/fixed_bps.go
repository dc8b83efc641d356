package cost

import "math"

type FixedBpsCost struct {
	bps float64
}

// NewFixedBpsCost charges a flat number of basis points on traded notional.
func NewFixedBpsCost(bps float64) Calculator {
	return &FixedBpsCost{bps: bps}
}

func (c *FixedBpsCost) Calculate(deltaNotional float64) float64 {
	return math.Abs(deltaNotional) * c.bps / 10000.0
}
