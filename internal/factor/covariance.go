package factor

import (
	"math"
	"time"

	"github.com/quantatlas-lab/factor-trading/internal/panel"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
)

// CovarianceSensitivity scores an asset by the ratio of the covariance of
// its returns with a reference series to the variance of the reference:
// the classic rolling beta. Returns are aligned by date so assets with
// gaps contribute only overlapping observations.
type CovarianceSensitivity struct{}

// NewCovarianceSensitivity creates the covariance-sensitivity scorer.
func NewCovarianceSensitivity() Scorer {
	return &CovarianceSensitivity{}
}

// Name returns the configuration enum value for this scorer.
func (c *CovarianceSensitivity) Name() types.FactorType {
	return types.FactorTypeCovarianceSensitivity
}

// Score implements Scorer. A missing reference asset in the params is a
// configuration error; everything else degrades to an insufficient score.
func (c *CovarianceSensitivity) Score(asset string, date time.Time, ctx Context, params Params) (types.FactorScore, error) {
	if params.ReferenceAsset.IsNone() {
		return types.FactorScore{}, errors.Newf(errors.ErrCodeReferenceRequired,
			"scorer %s requires a reference_asset", c.Name())
	}

	reference := params.ReferenceAsset.Unwrap()

	assetReturns, referenceReturns := alignedLogReturns(ctx.Panel, asset, reference, date, params.Window)
	if len(assetReturns) < params.MinObservations() {
		return insufficientScore(asset, date), nil
	}

	assetMean := mean(assetReturns)
	referenceMean := mean(referenceReturns)

	covariance := 0.0
	for i := range assetReturns {
		covariance += (assetReturns[i] - assetMean) * (referenceReturns[i] - referenceMean)
	}

	covariance /= float64(len(assetReturns) - 1)

	referenceVariance := sampleVariance(referenceReturns, referenceMean)
	if referenceVariance == 0 || math.IsNaN(referenceVariance) {
		return insufficientScore(asset, date), nil
	}

	return finalizeScore(asset, date, covariance/referenceVariance, params), nil
}

// alignedLogReturns computes trailing log returns for both assets over the
// window ending at `until` and keeps only observations whose return period
// ends on the same date in both series.
func alignedLogReturns(p *panel.Panel, asset string, reference string, until time.Time, window int) ([]float64, []float64) {
	assetBars := p.History(asset, until, window+1)
	referenceBars := p.History(reference, until, window+1)

	if len(assetBars) < 2 || len(referenceBars) < 2 {
		return nil, nil
	}

	referenceByDate := make(map[int64]float64, len(referenceBars)-1)
	for i := 1; i < len(referenceBars); i++ {
		referenceByDate[referenceBars[i].Time.Unix()] = math.Log(referenceBars[i].Close / referenceBars[i-1].Close)
	}

	assetReturns := make([]float64, 0, len(assetBars)-1)
	referenceReturns := make([]float64, 0, len(assetBars)-1)

	for i := 1; i < len(assetBars); i++ {
		r, ok := referenceByDate[assetBars[i].Time.Unix()]
		if !ok {
			continue
		}

		assetReturns = append(assetReturns, math.Log(assetBars[i].Close/assetBars[i-1].Close))
		referenceReturns = append(referenceReturns, r)
	}

	return assetReturns, referenceReturns
}
