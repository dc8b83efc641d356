package types

import "time"

// FactorType identifies a registered factor scorer.
type FactorType string

const (
	FactorTypeCovarianceSensitivity FactorType = "covariance_sensitivity"
	FactorTypeShapeStatistic        FactorType = "shape_statistic"
	FactorTypeStationarityStatistic FactorType = "stationarity_statistic"
)

// AllFactorTypes lists the factor types selectable from configuration.
var AllFactorTypes = []any{
	FactorTypeCovarianceSensitivity,
	FactorTypeShapeStatistic,
	FactorTypeStationarityStatistic,
}

// FactorScore is a scalar score for one (date, asset) pair. SufficientData
// is false when the rolling window had too few observations, the inputs
// contained NaN, or the value fell outside the configured sanity band.
// Insufficient scores never enter ranking.
type FactorScore struct {
	Time           time.Time `csv:"time"`
	Asset          string    `csv:"asset"`
	Value          float64   `csv:"value"`
	SufficientData bool      `csv:"sufficient_data"`
}

// Bucket is the cross-sectional exposure assignment for one (date, asset).
type Bucket string

const (
	BucketLong  Bucket = "LONG"
	BucketShort Bucket = "SHORT"
	BucketNone  Bucket = "NONE"
)
