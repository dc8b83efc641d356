package factor

import (
	"math"
	"time"

	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
)

// ShapeStatistic scores an asset by the adjusted sample skewness of its
// trailing log returns, a third-moment measure of distributional shape.
type ShapeStatistic struct{}

// NewShapeStatistic creates the shape-statistic scorer.
func NewShapeStatistic() Scorer {
	return &ShapeStatistic{}
}

// Name returns the configuration enum value for this scorer.
func (s *ShapeStatistic) Name() types.FactorType {
	return types.FactorTypeShapeStatistic
}

// Score implements Scorer.
func (s *ShapeStatistic) Score(asset string, date time.Time, ctx Context, params Params) (types.FactorScore, error) {
	// Skewness needs at least three observations regardless of the
	// configured fraction.
	required := params.MinObservations()
	if required < 3 {
		required = 3
	}

	returns, err := observedReturns(ctx.Panel, asset, date, params.Window, required)
	if err != nil {
		if errors.IsInsufficientDataError(err) {
			return insufficientScore(asset, date), nil
		}

		return types.FactorScore{}, err
	}

	m := mean(returns)

	variance := sampleVariance(returns, m)
	if variance == 0 || math.IsNaN(variance) {
		return insufficientScore(asset, date), nil
	}

	stddev := math.Sqrt(variance)
	n := float64(len(returns))

	thirdMoment := 0.0
	for _, r := range returns {
		z := (r - m) / stddev
		thirdMoment += z * z * z
	}

	// Adjusted Fisher-Pearson coefficient.
	skewness := n / ((n - 1) * (n - 2)) * thirdMoment

	return finalizeScore(asset, date, skewness, params), nil
}
