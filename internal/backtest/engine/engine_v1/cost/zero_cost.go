package cost

type ZeroCost struct {
}

func NewZeroCost() Calculator {
	return &ZeroCost{}
}

func (c *ZeroCost) Calculate(deltaNotional float64) float64 {
	return 0
}
