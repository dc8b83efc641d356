// Package universe reduces the asset set per date to those meeting
// liquidity, size, and data-sufficiency requirements.
package universe

import (
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/quantatlas-lab/factor-trading/internal/panel"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
)

// DefaultVolumeWindow is the trailing window used for the average-volume
// rule when none is configured.
const DefaultVolumeWindow = 20

// Rules are the eligibility thresholds, combined with AND. A zero threshold
// disables its rule; score sufficiency is always required.
type Rules struct {
	MinAvgVolume   float64 `yaml:"min_avg_volume" json:"min_avg_volume" jsonschema:"title=Min Avg Volume,description=Minimum trailing average volume" validate:"gte=0"`
	VolumeWindow   int     `yaml:"volume_window" json:"volume_window" jsonschema:"title=Volume Window,description=Trailing window for the volume average,default=20" validate:"gte=0"`
	MinMarketCap   float64 `yaml:"min_market_cap" json:"min_market_cap" jsonschema:"title=Min Market Cap,description=Minimum market capitalization" validate:"gte=0"`
	MinHistoryDays int     `yaml:"min_history_days" json:"min_history_days" jsonschema:"title=Min History Days,description=Minimum number of continuous-history days" validate:"gte=0"`
}

// Normalize fills unset fields with their documented defaults.
func (r Rules) Normalize() Rules {
	if r.VolumeWindow == 0 {
		r.VolumeWindow = DefaultVolumeWindow
	}

	return r
}

// Validate checks the rule thresholds.
func (r Rules) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid universe rules", err)
	}

	return nil
}

// Filter returns the candidates eligible on the given date, sorted
// ascending. Eligibility is re-evaluated from the panel on every call; an
// empty result means "no trade today", not a fault.
func Filter(p *panel.Panel, date time.Time, candidates []string, scores map[string]types.FactorScore, rules Rules) []string {
	rules = rules.Normalize()

	eligible := make([]string, 0, len(candidates))

	for _, asset := range candidates {
		score, ok := scores[asset]
		if !ok || !score.SufficientData {
			continue
		}

		if rules.MinHistoryDays > 0 && p.HistoryLength(asset, date) < rules.MinHistoryDays {
			continue
		}

		if rules.MinAvgVolume > 0 {
			avgVolume := p.TrailingAvgVolume(asset, date, rules.VolumeWindow)
			if avgVolume.IsNone() || avgVolume.Unwrap() < rules.MinAvgVolume {
				continue
			}
		}

		if rules.MinMarketCap > 0 {
			marketCap := p.MarketCap(asset, date)
			if marketCap.IsNone() || marketCap.Unwrap() < rules.MinMarketCap {
				continue
			}
		}

		eligible = append(eligible, asset)
	}

	sort.Strings(eligible)

	return eligible
}
