// Package portfolio converts bucket membership into per-asset weights and
// signed notional targets.
package portfolio

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantatlas-lab/factor-trading/internal/ranking"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"github.com/shopspring/decimal"
)

// Method selects the intra-bucket weighting scheme.
type Method string

const (
	MethodEqualWeight Method = "equal_weight"
	MethodRiskParity  Method = "risk_parity"
)

// AllMethods lists the weighting methods selectable from configuration.
var AllMethods = []any{
	MethodEqualWeight,
	MethodRiskParity,
}

// Allocation is the fraction of total strategy notional assigned to each
// side.
type Allocation struct {
	Long  float64 `yaml:"long_allocation" json:"long_allocation" jsonschema:"title=Long Allocation,minimum=0,maximum=1" validate:"gte=0,lte=1"`
	Short float64 `yaml:"short_allocation" json:"short_allocation" jsonschema:"title=Short Allocation,minimum=0,maximum=1" validate:"gte=0,lte=1"`
}

// DefaultAllocation is the documented 0.5/0.5 split.
func DefaultAllocation() Allocation {
	return Allocation{Long: 0.5, Short: 0.5}
}

// VolatilityLookup returns the rolling volatility for an asset as of the
// construction date, or None when it is unavailable.
type VolatilityLookup func(asset string) optional.Option[float64]

// BuildWeights converts bucket membership into signed weights. Within each
// non-empty side the weight magnitudes sum to 1.0. Risk parity weights are
// proportional to inverse volatility; assets with zero or unavailable
// volatility are excluded from their bucket rather than dividing by zero.
func BuildWeights(date time.Time, buckets ranking.Buckets, method Method, volatility VolatilityLookup) ([]types.Weight, error) {
	switch method {
	case MethodEqualWeight, MethodRiskParity:
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidWeightingMethod, "unknown weighting method %q", method)
	}

	weights := make([]types.Weight, 0, len(buckets.Long)+len(buckets.Short))

	longWeights := sideWeights(buckets.Long, method, volatility)
	for _, sw := range longWeights {
		weights = append(weights, types.Weight{
			Time:         date,
			Asset:        sw.asset,
			Bucket:       types.BucketLong,
			SignedWeight: sw.weight,
		})
	}

	shortWeights := sideWeights(buckets.Short, method, volatility)
	for _, sw := range shortWeights {
		weights = append(weights, types.Weight{
			Time:         date,
			Asset:        sw.asset,
			Bucket:       types.BucketShort,
			SignedWeight: -sw.weight,
		})
	}

	return weights, nil
}

type sideWeight struct {
	asset  string
	weight float64
}

func sideWeights(assets []string, method Method, volatility VolatilityLookup) []sideWeight {
	if len(assets) == 0 {
		return nil
	}

	if method == MethodEqualWeight {
		out := make([]sideWeight, 0, len(assets))

		w := 1.0 / float64(len(assets))
		for _, asset := range assets {
			out = append(out, sideWeight{asset: asset, weight: w})
		}

		return out
	}

	// Risk parity: weight proportional to inverse volatility, renormalized
	// within the side.
	type inverseVol struct {
		asset   string
		inverse float64
	}

	included := make([]inverseVol, 0, len(assets))
	total := 0.0

	for _, asset := range assets {
		if volatility == nil {
			continue
		}

		vol := volatility(asset)
		if vol.IsNone() || vol.Unwrap() <= 0 {
			continue
		}

		inverse := 1.0 / vol.Unwrap()
		included = append(included, inverseVol{asset: asset, inverse: inverse})
		total += inverse
	}

	if total == 0 {
		return nil
	}

	out := make([]sideWeight, 0, len(included))
	for _, iv := range included {
		out = append(out, sideWeight{asset: iv.asset, weight: iv.inverse / total})
	}

	return out
}

// ToNotional converts signed weights into per-asset notional targets:
// bucket weight times the side allocation fraction times the total strategy
// notional, with SHORT notionals negative. The sum of absolute notionals
// equals total * (long + short allocation) modulo risk-parity exclusions.
func ToNotional(weights []types.Weight, allocation Allocation, totalNotional float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	totalDec := decimal.NewFromFloat(totalNotional)

	for _, w := range weights {
		side := allocation.Long
		if w.Bucket == types.BucketShort {
			side = allocation.Short
		}

		notionalDec := decimal.NewFromFloat(w.SignedWeight).
			Mul(decimal.NewFromFloat(side)).
			Mul(totalDec)

		notional, _ := notionalDec.Float64()
		out[w.Asset] = notional
	}

	return out
}
