package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/quantatlas-lab/factor-trading/internal/backtest/engine/engine_v1/cost"
	"github.com/quantatlas-lab/factor-trading/internal/factor"
	"github.com/quantatlas-lab/factor-trading/internal/portfolio"
	"github.com/quantatlas-lab/factor-trading/internal/ranking"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/internal/universe"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"gopkg.in/yaml.v2"
)

// FactorConfig selects a registered scorer and its rolling parameters.
type FactorConfig struct {
	Type   types.FactorType `yaml:"type" json:"type" jsonschema:"title=Factor Type,description=The factor scorer to rank the universe by"`
	Params factor.Params    `yaml:"params" json:"params" jsonschema:"title=Factor Params"`
}

// StrategyConfig describes one cross-sectional long/short strategy.
type StrategyConfig struct {
	Name                       string               `yaml:"name" json:"name" jsonschema:"title=Strategy Name,description=Identifier used to key persisted schedule state" validate:"required"`
	Factor                     FactorConfig         `yaml:"factor" json:"factor" jsonschema:"title=Factor"`
	Universe                   universe.Rules       `yaml:"universe" json:"universe" jsonschema:"title=Universe Rules"`
	LongPercentile             int                  `yaml:"long_percentile" json:"long_percentile" jsonschema:"title=Long Percentile,description=Assets at or below this score percentile go long,minimum=1,maximum=99" validate:"required,gt=0,lt=100"`
	ShortPercentile            int                  `yaml:"short_percentile" json:"short_percentile" jsonschema:"title=Short Percentile,description=Assets above this score percentile go short,minimum=1,maximum=99" validate:"required,gt=0,lt=100"`
	MinUniverseSize            int                  `yaml:"min_universe_size" json:"min_universe_size" jsonschema:"title=Min Universe Size,description=Eligible universe size below which no positions are taken,default=5" validate:"gte=0"`
	WeightingMethod            portfolio.Method     `yaml:"weighting_method" json:"weighting_method" jsonschema:"title=Weighting Method"`
	Allocation                 portfolio.Allocation `yaml:"allocation" json:"allocation" jsonschema:"title=Allocation"`
	RebalancePeriodDays        int                  `yaml:"rebalance_period_days" json:"rebalance_period_days" jsonschema:"title=Rebalance Period Days,description=Calendar days between rebalances,minimum=1" validate:"required,gt=0"`
	RebalanceThresholdFraction float64              `yaml:"rebalance_threshold_fraction" json:"rebalance_threshold_fraction" jsonschema:"title=Rebalance Threshold Fraction,description=Drift fraction of portfolio value beyond which a position is adjusted between rebalances; 0 disables" validate:"gte=0"`
}

// BacktestConfigV1 is the full engine configuration.
type BacktestConfigV1 struct {
	InitialCapital  float64                    `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,description=Starting capital for the backtest in USD,minimum=0"`
	CostModel       cost.Model                 `yaml:"cost_model" json:"cost_model" jsonschema:"title=Cost Model,description=The trading cost model applied to emitted trades"`
	CostBps         float64                    `yaml:"cost_bps" json:"cost_bps" jsonschema:"title=Cost Bps,description=Basis points charged per traded notional by the fixed_bps model" validate:"gte=0"`
	StartTime       optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start time for the backtest period"`
	EndTime         optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end time for the backtest period"`
	ParallelWorkers int                        `yaml:"parallel_workers" json:"parallel_workers" jsonschema:"title=Parallel Workers,description=Goroutines used for per-asset factor scoring; 0 means NumCPU" validate:"gte=0"`
	Strategy        StrategyConfig             `yaml:"strategy" json:"strategy" jsonschema:"title=Strategy"`
}

// UnmarshalYAML implements custom unmarshaling for BacktestConfigV1
func (c *BacktestConfigV1) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type Config struct {
		InitialCapital  float64        `yaml:"initial_capital"`
		CostModel       cost.Model     `yaml:"cost_model"`
		CostBps         float64        `yaml:"cost_bps"`
		StartTime       *time.Time     `yaml:"start_time"`
		EndTime         *time.Time     `yaml:"end_time"`
		ParallelWorkers int            `yaml:"parallel_workers"`
		Strategy        StrategyConfig `yaml:"strategy"`
	}

	var config Config
	if err := unmarshal(&config); err != nil {
		return err
	}

	c.InitialCapital = config.InitialCapital
	c.CostModel = config.CostModel
	c.CostBps = config.CostBps
	c.ParallelWorkers = config.ParallelWorkers
	c.Strategy = config.Strategy

	if config.StartTime != nil {
		c.StartTime = optional.Some(*config.StartTime)
	}

	if config.EndTime != nil {
		c.EndTime = optional.Some(*config.EndTime)
	}

	return nil
}

// ParseConfig decodes a configuration document strictly: unknown keys are
// rejected rather than ignored. The returned config is normalized and
// validated.
func ParseConfig(content string) (BacktestConfigV1, error) {
	var config BacktestConfigV1

	if err := yaml.UnmarshalStrict([]byte(content), &config); err != nil {
		return BacktestConfigV1{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	config = config.Normalize()
	if err := config.Validate(); err != nil {
		return BacktestConfigV1{}, err
	}

	return config, nil
}

// Normalize fills unset fields with their documented defaults.
func (c BacktestConfigV1) Normalize() BacktestConfigV1 {
	if c.CostModel == "" {
		c.CostModel = cost.ModelZero
	}

	if c.Strategy.WeightingMethod == "" {
		c.Strategy.WeightingMethod = portfolio.MethodEqualWeight
	}

	if c.Strategy.MinUniverseSize == 0 {
		c.Strategy.MinUniverseSize = ranking.DefaultMinUniverseSize
	}

	if c.Strategy.Allocation.Long == 0 && c.Strategy.Allocation.Short == 0 {
		c.Strategy.Allocation = portfolio.DefaultAllocation()
	}

	c.Strategy.Factor.Params = c.Strategy.Factor.Params.Normalize()
	c.Strategy.Universe = c.Strategy.Universe.Normalize()

	return c
}

// Validate rejects an inconsistent configuration before the simulation loop
// starts. Every violation maps to a configuration error code.
func (c BacktestConfigV1) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid backtest config", err)
	}

	if c.InitialCapital <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "initial_capital must be positive, got %f", c.InitialCapital)
	}

	switch c.CostModel {
	case cost.ModelZero, cost.ModelFixedBps:
	default:
		return errors.Newf(errors.ErrCodeInvalidType, "unknown cost model %q", c.CostModel)
	}

	if c.StartTime.IsSome() && c.EndTime.IsSome() && c.EndTime.Unwrap().Before(c.StartTime.Unwrap()) {
		return errors.New(errors.ErrCodeInvalidParameter, "end_time is before start_time")
	}

	if c.Strategy.LongPercentile >= c.Strategy.ShortPercentile {
		return errors.Newf(errors.ErrCodeInvalidPercentile,
			"long_percentile %d must be below short_percentile %d",
			c.Strategy.LongPercentile, c.Strategy.ShortPercentile)
	}

	if c.Strategy.Allocation.Long+c.Strategy.Allocation.Short > 1 {
		return errors.Newf(errors.ErrCodeInvalidAllocation,
			"allocations sum to %f, must not exceed 1",
			c.Strategy.Allocation.Long+c.Strategy.Allocation.Short)
	}

	switch c.Strategy.WeightingMethod {
	case portfolio.MethodEqualWeight, portfolio.MethodRiskParity:
	default:
		return errors.Newf(errors.ErrCodeInvalidWeightingMethod, "unknown weighting method %q", c.Strategy.WeightingMethod)
	}

	knownFactor := false

	for _, factorType := range types.AllFactorTypes {
		if factorType == c.Strategy.Factor.Type {
			knownFactor = true

			break
		}
	}

	if !knownFactor {
		return errors.Newf(errors.ErrCodeInvalidType, "unknown factor type %q", c.Strategy.Factor.Type)
	}

	if c.Strategy.Factor.Type == types.FactorTypeCovarianceSensitivity && c.Strategy.Factor.Params.ReferenceAsset.IsNone() {
		return errors.New(errors.ErrCodeMissingParameter,
			"factor type covariance_sensitivity requires params.reference_asset")
	}

	if err := c.Strategy.Factor.Params.Validate(); err != nil {
		return err
	}

	return c.Strategy.Universe.Validate()
}

// GenerateSchema generates a JSON schema for the BacktestConfigV1
func (c *BacktestConfigV1) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}

			if t.String() == "optional.Option[string]" {
				return &jsonschema.Schema{
					Type: "string",
				}
			}

			if strings.Contains(t.String(), "types.FactorType") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: types.AllFactorTypes,
				}
			}

			if strings.Contains(t.String(), "portfolio.Method") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: portfolio.AllMethods,
				}
			}

			if strings.Contains(t.String(), "cost.Model") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: cost.AllModels,
				}
			}

			return nil
		},
	}

	// Generate schema from BacktestConfigV1 struct
	schema := reflector.Reflect(c)

	// Set schema metadata
	schema.Title = "factor-backtest-engine-v1-config"
	schema.Description = "Configuration schema for FactorBacktestEngineV1"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates a JSON schema string for the BacktestConfigV1
func (c *BacktestConfigV1) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

func TestConfig(startTime time.Time, endTime time.Time, factorType types.FactorType) BacktestConfigV1 {
	config := BacktestConfigV1{
		InitialCapital: 100000,
		CostModel:      cost.ModelZero,
		StartTime:      optional.Some(startTime),
		EndTime:        optional.Some(endTime),
		Strategy: StrategyConfig{
			Name: "test-strategy",
			Factor: FactorConfig{
				Type:   factorType,
				Params: factor.DefaultParams(20),
			},
			LongPercentile:      20,
			ShortPercentile:     80,
			WeightingMethod:     portfolio.MethodEqualWeight,
			RebalancePeriodDays: 7,
		},
	}

	return config.Normalize()
}

// EmptyConfig returns a BacktestConfigV1 with default values
func EmptyConfig() BacktestConfigV1 {
	return BacktestConfigV1{
		InitialCapital: 0,
		CostModel:      cost.ModelZero,
		StartTime:      optional.None[time.Time](),
		EndTime:        optional.None[time.Time](),
	}
}
