package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/quantatlas-lab/factor-trading/internal/backtest/engine/engine_v1/cost"
	"github.com/quantatlas-lab/factor-trading/internal/portfolio"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite is a test suite for config parsing and validation
type ConfigTestSuite struct {
	suite.Suite
}

// TestConfigSuite runs the test suite
func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

const validConfig = `
initial_capital: 100000
cost_model: fixed_bps
cost_bps: 5
start_time: 2024-01-01T00:00:00Z
end_time: 2024-06-30T00:00:00Z
strategy:
  name: mean-revert
  factor:
    type: stationarity_statistic
    params:
      window: 60
  universe:
    min_avg_volume: 1000
    min_history_days: 60
  long_percentile: 20
  short_percentile: 80
  weighting_method: risk_parity
  allocation:
    long_allocation: 0.5
    short_allocation: 0.5
  rebalance_period_days: 7
  rebalance_threshold_fraction: 0.05
`

func (suite *ConfigTestSuite) TestParseValidConfig() {
	config, err := ParseConfig(validConfig)
	suite.Require().NoError(err)

	suite.Assert().Equal(100000.0, config.InitialCapital)
	suite.Assert().Equal(cost.ModelFixedBps, config.CostModel)
	suite.Assert().Equal(5.0, config.CostBps)
	suite.Require().True(config.StartTime.IsSome())
	suite.Assert().Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), config.StartTime.Unwrap().UTC())

	strategy := config.Strategy
	suite.Assert().Equal("mean-revert", strategy.Name)
	suite.Assert().Equal(types.FactorTypeStationarityStatistic, strategy.Factor.Type)
	suite.Assert().Equal(60, strategy.Factor.Params.Window)
	suite.Assert().Equal(portfolio.MethodRiskParity, strategy.WeightingMethod)
	suite.Assert().Equal(7, strategy.RebalancePeriodDays)
	suite.Assert().Equal(0.05, strategy.RebalanceThresholdFraction)
}

func (suite *ConfigTestSuite) TestParseFillsDefaults() {
	content := `
initial_capital: 50000
strategy:
  name: shape
  factor:
    type: shape_statistic
    params:
      window: 30
  long_percentile: 20
  short_percentile: 80
  rebalance_period_days: 5
`

	config, err := ParseConfig(content)
	suite.Require().NoError(err)

	suite.Assert().Equal(cost.ModelZero, config.CostModel)
	suite.Assert().Equal(portfolio.MethodEqualWeight, config.Strategy.WeightingMethod)
	suite.Assert().Equal(5, config.Strategy.MinUniverseSize)
	suite.Assert().Equal(portfolio.DefaultAllocation(), config.Strategy.Allocation)
	suite.Assert().Equal(0.7, config.Strategy.Factor.Params.MinObservationsFraction)
	suite.Assert().Equal(20, config.Strategy.Universe.VolumeWindow)
}

func (suite *ConfigTestSuite) TestParseRejectsUnknownKeys() {
	content := strings.Replace(validConfig, "cost_bps: 5", "cost_bps: 5\nturbo_mode: true", 1)

	_, err := ParseConfig(content)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestValidateRejectsInvertedPercentiles() {
	config, err := ParseConfig(validConfig)
	suite.Require().NoError(err)

	config.Strategy.LongPercentile = 80
	config.Strategy.ShortPercentile = 20

	err = config.Validate()
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidPercentile))
}

func (suite *ConfigTestSuite) TestValidateRejectsOverAllocation() {
	config, err := ParseConfig(validConfig)
	suite.Require().NoError(err)

	config.Strategy.Allocation = portfolio.Allocation{Long: 0.8, Short: 0.5}

	err = config.Validate()
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidAllocation))
}

func (suite *ConfigTestSuite) TestValidateRejectsNonPositiveCapital() {
	config, err := ParseConfig(validConfig)
	suite.Require().NoError(err)

	config.InitialCapital = 0

	err = config.Validate()
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *ConfigTestSuite) TestValidateRejectsUnknownWeightingMethod() {
	config, err := ParseConfig(validConfig)
	suite.Require().NoError(err)

	config.Strategy.WeightingMethod = portfolio.Method("momentum")

	err = config.Validate()
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidWeightingMethod))
}

func (suite *ConfigTestSuite) TestValidateRejectsUnknownFactorType() {
	config, err := ParseConfig(validConfig)
	suite.Require().NoError(err)

	config.Strategy.Factor.Type = types.FactorType("alpha42")

	err = config.Validate()
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidType))
}

func (suite *ConfigTestSuite) TestCovarianceRequiresReferenceAsset() {
	content := strings.Replace(validConfig, "type: stationarity_statistic", "type: covariance_sensitivity", 1)

	_, err := ParseConfig(content)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeMissingParameter))

	withReference := strings.Replace(content, "window: 60", "window: 60\n      reference_asset: SPY", 1)

	config, err := ParseConfig(withReference)
	suite.Require().NoError(err)
	suite.Require().True(config.Strategy.Factor.Params.ReferenceAsset.IsSome())
	suite.Assert().Equal("SPY", config.Strategy.Factor.Params.ReferenceAsset.Unwrap())
}

func (suite *ConfigTestSuite) TestValidateRejectsInvertedTimeRange() {
	content := strings.Replace(validConfig, "end_time: 2024-06-30T00:00:00Z", "end_time: 2023-06-30T00:00:00Z", 1)

	_, err := ParseConfig(content)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *ConfigTestSuite) TestGenerateSchemaJSON() {
	config := EmptyConfig()

	schema, err := config.GenerateSchemaJSON()
	suite.Require().NoError(err)

	suite.Assert().Contains(schema, "initial_capital")
	suite.Assert().Contains(schema, "covariance_sensitivity")
	suite.Assert().Contains(schema, "equal_weight")
	suite.Assert().Contains(schema, "fixed_bps")
}

func (suite *ConfigTestSuite) TestTestConfigIsValid() {
	config := TestConfig(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		types.FactorTypeShapeStatistic,
	)

	suite.Assert().NoError(config.Validate())
}
