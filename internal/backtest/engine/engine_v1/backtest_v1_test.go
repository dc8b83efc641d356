package engine

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	backtestengine "github.com/quantatlas-lab/factor-trading/internal/backtest/engine"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

// BacktestEngineV1TestSuite is a test suite for the v1 engine facade
type BacktestEngineV1TestSuite struct {
	suite.Suite
	dataDir string
	csvPath string
}

// TestBacktestEngineV1Suite runs the test suite
func TestBacktestEngineV1Suite(t *testing.T) {
	suite.Run(t, new(BacktestEngineV1TestSuite))
}

func (suite *BacktestEngineV1TestSuite) SetupSuite() {
	suite.dataDir = suite.T().TempDir()
	suite.csvPath = filepath.Join(suite.dataDir, "panel.csv")

	var sb strings.Builder

	sb.WriteString("time,asset,open,high,low,close,volume\n")

	assets := []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"}

	for d := 0; d < 15; d++ {
		date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)

		for a, asset := range assets {
			close := 100 + 5*math.Sin(0.9*float64(d)+1.3*float64(a)) + 0.1*float64(a)*float64(d)
			sb.WriteString(fmt.Sprintf("%s,%s,%.4f,%.4f,%.4f,%.4f,%d\n",
				date.Format("2006-01-02"), asset, close, close*1.01, close*0.99, close, 1000000))
		}
	}

	err := os.WriteFile(suite.csvPath, []byte(sb.String()), 0644)
	suite.Require().NoError(err)
}

const engineConfig = `
initial_capital: 100000
strategy:
  name: shape-test
  factor:
    type: shape_statistic
    params:
      window: 7
  long_percentile: 20
  short_percentile: 80
  rebalance_period_days: 7
`

func (suite *BacktestEngineV1TestSuite) TestRunEndToEnd() {
	resultsDir := suite.T().TempDir()

	e := NewFactorBacktestEngineV1()
	suite.Require().NoError(e.Initialize(engineConfig))
	suite.Require().NoError(e.SetDataPath(suite.csvPath))
	suite.Require().NoError(e.SetResultsFolder(resultsDir))

	var (
		runStarts   int
		runEnds     int
		datesTotal  int
		lastCurrent int
		resultPath  string
	)

	onRunStart := backtestengine.OnRunStartCallback(func(runID string, dataFileIndex int, dataFilePath string, totalDates int) error {
		runStarts++
		datesTotal = totalDates

		suite.Assert().NotEmpty(runID)
		suite.Assert().Equal(0, dataFileIndex)
		suite.Assert().Equal(suite.csvPath, dataFilePath)

		return nil
	})

	onProcessDate := backtestengine.OnProcessDateCallback(func(current int, total int) error {
		lastCurrent = current

		return nil
	})

	onRunEnd := backtestengine.OnRunEndCallback(func(dataFileIndex int, dataFilePath string, resultFolderPath string) {
		runEnds++
		resultPath = resultFolderPath
	})

	err := e.Run(context.Background(), backtestengine.LifecycleCallbacks{
		OnRunStart:    &onRunStart,
		OnRunEnd:      &onRunEnd,
		OnProcessDate: &onProcessDate,
	})
	suite.Require().NoError(err)

	suite.Assert().Equal(1, runStarts)
	suite.Assert().Equal(1, runEnds)
	suite.Assert().Equal(15, datesTotal)
	suite.Assert().Equal(15, lastCurrent)

	// No time range in the config: results land under <strategy>/<file>.
	suite.Assert().Equal(filepath.Join(resultsDir, "shape-test", "panel"), resultPath)

	for _, name := range []string{"trades.parquet", "performance.parquet", "metrics.yaml"} {
		info, err := os.Stat(filepath.Join(resultPath, name))
		suite.Require().NoError(err, name)
		suite.Assert().Greater(info.Size(), int64(0), name)
	}

	content, err := os.ReadFile(filepath.Join(resultPath, "metrics.yaml"))
	suite.Require().NoError(err)

	var metrics types.PerformanceMetrics
	suite.Require().NoError(yaml.Unmarshal(content, &metrics))

	suite.Assert().NotEmpty(metrics.ID)
	suite.Assert().Equal("shape-test", metrics.Strategy)
	suite.Assert().Equal(15, metrics.TradingDays)

	// Period 7 over 15 dates rebalances on days 1, 8 and 15. The first
	// rebalance finds no sufficient scores yet with a 7-bar window, so
	// trades only appear from day 8 on.
	suite.Assert().Equal(3, metrics.RebalanceCount)
	suite.Assert().Greater(metrics.TradeCount, 0)
	suite.Assert().Greater(metrics.FinalValue, 0.0)
}

func (suite *BacktestEngineV1TestSuite) TestRunRequiresInitialize() {
	e := NewFactorBacktestEngineV1()

	err := e.Run(context.Background(), backtestengine.LifecycleCallbacks{})
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeBacktestInitFailed))
}

func (suite *BacktestEngineV1TestSuite) TestRunRequiresDataPath() {
	e := NewFactorBacktestEngineV1()
	suite.Require().NoError(e.Initialize(engineConfig))
	suite.Require().NoError(e.SetResultsFolder(suite.T().TempDir()))

	err := e.Run(context.Background(), backtestengine.LifecycleCallbacks{})
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeBacktestNoData))
}

func (suite *BacktestEngineV1TestSuite) TestRunRequiresResultsFolder() {
	e := NewFactorBacktestEngineV1()
	suite.Require().NoError(e.Initialize(engineConfig))
	suite.Require().NoError(e.SetDataPath(suite.csvPath))

	err := e.Run(context.Background(), backtestengine.LifecycleCallbacks{})
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeBacktestNoResultsDir))
}

func (suite *BacktestEngineV1TestSuite) TestInitializeRejectsInvalidConfig() {
	e := NewFactorBacktestEngineV1()

	err := e.Initialize("initial_capital: -5")
	suite.Require().Error(err)
}

func (suite *BacktestEngineV1TestSuite) TestGetConfigSchema() {
	e := NewFactorBacktestEngineV1()

	schema, err := e.GetConfigSchema()
	suite.Require().NoError(err)
	suite.Assert().Contains(schema, "initial_capital")
	suite.Assert().Contains(schema, "rebalance_period_days")
}
