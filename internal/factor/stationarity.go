package factor

import (
	"math"
	"time"

	"github.com/quantatlas-lab/factor-trading/internal/types"
)

// StationarityStatistic scores an asset by a unit-root test statistic on
// its trailing log prices: the t-statistic of gamma in the regression
//
//	delta y_t = alpha + gamma * y_{t-1} + e_t
//
// Strongly negative values indicate mean reversion; values near zero
// indicate a random walk.
type StationarityStatistic struct{}

// NewStationarityStatistic creates the stationarity-statistic scorer.
func NewStationarityStatistic() Scorer {
	return &StationarityStatistic{}
}

// Name returns the configuration enum value for this scorer.
func (s *StationarityStatistic) Name() types.FactorType {
	return types.FactorTypeStationarityStatistic
}

// Score implements Scorer.
func (s *StationarityStatistic) Score(asset string, date time.Time, ctx Context, params Params) (types.FactorScore, error) {
	bars := ctx.Panel.History(asset, date, params.Window+1)
	if len(bars)-1 < params.MinObservations() || len(bars) < 4 {
		return insufficientScore(asset, date), nil
	}

	logPrices := make([]float64, len(bars))
	for i, bar := range bars {
		logPrices[i] = math.Log(bar.Close)
	}

	// OLS of delta y_t on (1, y_{t-1}).
	n := len(logPrices) - 1
	lagged := logPrices[:n]

	deltas := make([]float64, n)
	for i := 0; i < n; i++ {
		deltas[i] = logPrices[i+1] - logPrices[i]
	}

	laggedMean := mean(lagged)
	deltaMean := mean(deltas)

	sxx := 0.0
	sxy := 0.0

	for i := 0; i < n; i++ {
		dx := lagged[i] - laggedMean
		sxx += dx * dx
		sxy += dx * (deltas[i] - deltaMean)
	}

	if sxx == 0 {
		return insufficientScore(asset, date), nil
	}

	gamma := sxy / sxx
	alpha := deltaMean - gamma*laggedMean

	residualSS := 0.0

	for i := 0; i < n; i++ {
		residual := deltas[i] - alpha - gamma*lagged[i]
		residualSS += residual * residual
	}

	degreesOfFreedom := n - 2
	if degreesOfFreedom <= 0 {
		return insufficientScore(asset, date), nil
	}

	standardError := math.Sqrt(residualSS / float64(degreesOfFreedom) / sxx)
	if standardError == 0 {
		return insufficientScore(asset, date), nil
	}

	return finalizeScore(asset, date, gamma/standardError, params), nil
}
