// Package factor computes rolling per-asset factor scores. Every scorer
// reads only bars with date <= the evaluation date; the panel enforces that
// through its trailing-history accessors.
package factor

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/quantatlas-lab/factor-trading/internal/panel"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
)

const (
	// DefaultMinObservationsFraction is the engine-wide default fraction of
	// the nominal window that must be observed for a score to count.
	DefaultMinObservationsFraction = 0.7

	// DefaultMaxAbsValue is the default sanity band for scores. Values
	// beyond it are marked insufficient rather than clipped.
	DefaultMaxAbsValue = 1e6
)

// Params configures a factor computation. Unknown keys are rejected at
// config load time by the strict YAML decoder.
type Params struct {
	Window                  int                     `yaml:"window" json:"window" jsonschema:"title=Window,description=Nominal rolling window length in bars,minimum=2" validate:"required,gt=1"`
	ReferenceAsset          optional.Option[string] `yaml:"-" json:"reference_asset,omitempty" jsonschema:"title=Reference Asset,description=Reference asset for covariance-based scorers"`
	MinObservationsFraction float64                 `yaml:"min_observations_fraction" json:"min_observations_fraction" jsonschema:"title=Min Observations Fraction,description=Fraction of the window that must be observed,default=0.7" validate:"gte=0,lte=1"`
	MaxAbsValue             float64                 `yaml:"max_abs_value" json:"max_abs_value" jsonschema:"title=Max Abs Value,description=Sanity band for scores; values beyond it are marked insufficient" validate:"gte=0"`
}

// UnmarshalYAML implements custom unmarshaling so optional fields map onto
// Option values.
func (p *Params) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawParams struct {
		Window                  int     `yaml:"window"`
		ReferenceAsset          *string `yaml:"reference_asset"`
		MinObservationsFraction float64 `yaml:"min_observations_fraction"`
		MaxAbsValue             float64 `yaml:"max_abs_value"`
	}

	var raw rawParams
	if err := unmarshal(&raw); err != nil {
		return err
	}

	p.Window = raw.Window
	p.MinObservationsFraction = raw.MinObservationsFraction
	p.MaxAbsValue = raw.MaxAbsValue

	if raw.ReferenceAsset != nil {
		p.ReferenceAsset = optional.Some(*raw.ReferenceAsset)
	}

	return nil
}

// DefaultParams returns Params with the documented defaults for the given
// window.
func DefaultParams(window int) Params {
	return Params{
		Window:                  window,
		ReferenceAsset:          optional.None[string](),
		MinObservationsFraction: DefaultMinObservationsFraction,
		MaxAbsValue:             DefaultMaxAbsValue,
	}
}

// Normalize fills unset numeric fields with their documented defaults.
func (p Params) Normalize() Params {
	if p.MinObservationsFraction == 0 {
		p.MinObservationsFraction = DefaultMinObservationsFraction
	}

	if p.MaxAbsValue == 0 {
		p.MaxAbsValue = DefaultMaxAbsValue
	}

	return p
}

// Validate checks the parameter values, returning a configuration error on
// the first violation.
func (p Params) Validate() error {
	validate := validator.New()
	if err := validate.Struct(p); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid factor params", err)
	}

	return nil
}

// MinObservations is the minimum number of rolling observations required
// for a score to be marked sufficient. Never below two.
func (p Params) MinObservations() int {
	minObs := int(math.Ceil(p.MinObservationsFraction * float64(p.Window)))
	if minObs < 2 {
		minObs = 2
	}

	return minObs
}

// Context carries the read-only inputs a scorer may use. Scorers must not
// hold mutable state: the same Context is shared across parallel per-asset
// computations.
type Context struct {
	Panel *panel.Panel
}

// Scorer produces a scalar score for one (date, asset) from trailing data.
type Scorer interface {
	// Name returns the configuration enum value selecting this scorer.
	Name() types.FactorType
	// Score computes the factor score for the asset as of the given date
	// using only bars with date <= date. Data insufficiency is reported via
	// FactorScore.SufficientData, not as an error.
	Score(asset string, date time.Time, ctx Context, params Params) (types.FactorScore, error)
}

// insufficientScore is the canonical "no usable score" result. The value is
// NaN so it can never silently enter ranking arithmetic.
func insufficientScore(asset string, date time.Time) types.FactorScore {
	return types.FactorScore{
		Time:           date,
		Asset:          asset,
		Value:          math.NaN(),
		SufficientData: false,
	}
}

// finalizeScore applies the numeric policy: non-finite values and values
// outside the sanity band are marked insufficient, never clipped.
func finalizeScore(asset string, date time.Time, value float64, params Params) types.FactorScore {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return insufficientScore(asset, date)
	}

	if math.Abs(value) > params.MaxAbsValue {
		return insufficientScore(asset, date)
	}

	return types.FactorScore{
		Time:           date,
		Asset:          asset,
		Value:          value,
		SufficientData: true,
	}
}

// observedReturns fetches trailing log returns and reports a typed
// InsufficientDataError when fewer than required observations are available.
// Scorers translate the error into an insufficient score; it never aborts a
// run.
func observedReturns(p *panel.Panel, asset string, until time.Time, window int, required int) ([]float64, error) {
	returns := p.LogReturns(asset, until, window)
	if len(returns) < required {
		return nil, errors.NewInsufficientDataErrorf(required, len(returns), asset,
			"asset %s has %d of %d required observations", asset, len(returns), required)
	}

	return returns, nil
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

func sampleVariance(values []float64, m float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}

	sum := 0.0

	for _, v := range values {
		d := v - m
		sum += d * d
	}

	return sum / float64(len(values)-1)
}
