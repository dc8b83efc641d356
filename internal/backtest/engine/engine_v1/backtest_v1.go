package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/quantatlas-lab/factor-trading/internal/analytics"
	"github.com/quantatlas-lab/factor-trading/internal/backtest/engine"
	"github.com/quantatlas-lab/factor-trading/internal/backtest/engine/engine_v1/cost"
	"github.com/quantatlas-lab/factor-trading/internal/factor"
	"github.com/quantatlas-lab/factor-trading/internal/logger"
	"github.com/quantatlas-lab/factor-trading/internal/panel"
	"github.com/quantatlas-lab/factor-trading/internal/schedule"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"go.uber.org/zap"
)

type FactorBacktestEngineV1 struct {
	config         BacktestConfigV1
	dataPaths      []string
	resultsFolder  string
	log            *logger.Logger
	registry       factor.Registry
	scheduleStore  schedule.Store
	costs          cost.Calculator
	forceRebalance bool
	initialized    bool
}

func NewFactorBacktestEngineV1() engine.Engine {
	return &FactorBacktestEngineV1{
		config:        EmptyConfig(),
		dataPaths:     nil,
		resultsFolder: "",
		log:           nil,
		registry:      nil,
		scheduleStore: nil,
		costs:         nil,
		initialized:   false,
	}
}

// Initialize implements engine.Engine.
func (b *FactorBacktestEngineV1) Initialize(config string) error {
	// parse and validate the config
	parsed, err := ParseConfig(config)
	if err != nil {
		return err
	}

	b.config = parsed

	// initialize the logger
	var loggerError error

	b.log, loggerError = logger.NewLogger()
	if loggerError != nil {
		return loggerError
	}

	b.log.Debug("Backtest engine initialized",
		zap.String("strategy", b.config.Strategy.Name),
	)

	// initialize the scorer registry
	b.registry = factor.NewDefaultRegistry()

	// Use the configured cost model for trade costs
	b.costs = cost.GetCostHandler(b.config.CostModel, b.config.CostBps)

	if b.scheduleStore == nil {
		b.scheduleStore = schedule.NewMemoryStore()
	}

	b.initialized = true

	return nil
}

// SetDataPath implements engine.Engine.
func (b *FactorBacktestEngineV1) SetDataPath(path string) error {
	// use glob to get all the files that match the path
	files, err := filepath.Glob(path)
	if err != nil {
		b.log.Error("Failed to set data path",
			zap.String("path", path),
			zap.Error(err),
		)

		return err
	}

	// Convert all paths to absolute paths
	absolutePaths := make([]string, len(files))

	for i, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			b.log.Error("Failed to get absolute path",
				zap.String("path", file),
				zap.Error(err),
			)

			return err
		}

		absolutePaths[i] = absPath
	}

	sort.Strings(absolutePaths)

	b.dataPaths = absolutePaths
	b.log.Debug("Data paths set",
		zap.Strings("files", absolutePaths),
	)

	return nil
}

// SetResultsFolder implements engine.Engine.
func (b *FactorBacktestEngineV1) SetResultsFolder(folder string) error {
	b.resultsFolder = folder
	b.log.Debug("Results folder set",
		zap.String("folder", folder),
	)

	return nil
}

// SetScheduleStore implements engine.Engine.
func (b *FactorBacktestEngineV1) SetScheduleStore(store schedule.Store) error {
	b.scheduleStore = store

	return nil
}

// SetForceRebalance implements engine.Engine.
func (b *FactorBacktestEngineV1) SetForceRebalance(force bool) error {
	b.forceRebalance = force

	return nil
}

// Run implements engine.Engine.
func (b *FactorBacktestEngineV1) Run(ctx context.Context, callbacks engine.LifecycleCallbacks) error {
	if err := b.preRunCheck(); err != nil {
		return err
	}

	scorer, err := b.registry.GetScorer(b.config.Strategy.Factor.Type)
	if err != nil {
		return err
	}

	scheduler, err := schedule.NewScheduler(b.scheduleStore, b.config.Strategy.RebalancePeriodDays, b.log)
	if err != nil {
		return err
	}

	for dataFileIndex, dataPath := range b.dataPaths {
		if err := b.runDataFile(ctx, scorer, scheduler, dataFileIndex, dataPath, callbacks); err != nil {
			return err
		}
	}

	return nil
}

func (b *FactorBacktestEngineV1) runDataFile(
	ctx context.Context,
	scorer factor.Scorer,
	scheduler *schedule.Scheduler,
	dataFileIndex int,
	dataPath string,
	callbacks engine.LifecycleCallbacks,
) error {
	runID := uuid.New().String()

	loader, err := panel.NewLoader(b.log)
	if err != nil {
		return fmt.Errorf("failed to create panel loader: %w", err)
	}

	p, err := loader.Load(dataPath)

	loader.Close()

	if err != nil {
		return err
	}

	dates := p.DatesBetween(b.config.StartTime, b.config.EndTime)
	if len(dates) == 0 {
		return errors.Newf(errors.ErrCodeBacktestNoData, "panel %s has no dates in the configured range", dataPath)
	}

	if callbacks.OnRunStart != nil {
		if err := (*callbacks.OnRunStart)(runID, dataFileIndex, dataPath, len(dates)); err != nil {
			return err
		}
	}

	state, err := NewBacktestState(b.log)
	if err != nil {
		return fmt.Errorf("failed to create backtest state: %w", err)
	}
	defer state.Close()

	if err := state.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize state: %w", err)
	}

	// One schedule record per strategy and panel so runs over different
	// panels never share rebalance state.
	strategyID := fmt.Sprintf("%s:%s", b.config.Strategy.Name, dataFileName(dataPath))

	simulator := NewSimulator(p, scorer, b.config.Strategy, scheduler, b.costs, state, b.log, b.config.ParallelWorkers)
	if b.forceRebalance {
		simulator.ForceFirstRebalance()
	}

	var onProcessDate func(current int, total int) error
	if callbacks.OnProcessDate != nil {
		onProcessDate = *callbacks.OnProcessDate
	}

	b.log.Debug("Running backtest",
		zap.String("strategy", b.config.Strategy.Name),
		zap.String("data", dataPath),
		zap.Int("dates", len(dates)),
	)

	summary, err := simulator.Run(ctx, strategyID, dates, b.config.InitialCapital, onProcessDate)
	if err != nil {
		return err
	}

	resultFolderPath := getResultFolder(dataPath, b)
	if err := os.MkdirAll(resultFolderPath, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestNoResultsDir, "failed to create result folder", err)
	}

	if err := b.writeResults(state, summary, runID, resultFolderPath); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if callbacks.OnRunEnd != nil {
		(*callbacks.OnRunEnd)(dataFileIndex, dataPath, resultFolderPath)
	}

	return nil
}

func (b *FactorBacktestEngineV1) writeResults(state *BacktestState, summary RunSummary, runID string, resultFolderPath string) error {
	records, err := state.GetPerformance()
	if err != nil {
		return err
	}

	trades, err := state.GetAllTrades()
	if err != nil {
		return err
	}

	tradesPath, performancePath, err := state.Write(resultFolderPath)
	if err != nil {
		return err
	}

	metrics := analytics.Compute(records, trades)
	metrics.ID = runID
	metrics.Timestamp = time.Now().UTC()
	metrics.Strategy = b.config.Strategy.Name
	metrics.RebalanceCount = summary.RebalanceCount
	metrics.TradesFilePath = tradesPath
	metrics.PerformanceFilePath = performancePath

	return types.WriteMetrics(filepath.Join(resultFolderPath, "metrics.yaml"), metrics)
}

func (b *FactorBacktestEngineV1) preRunCheck() error {
	if !b.initialized {
		return errors.New(errors.ErrCodeBacktestInitFailed, "engine is not initialized")
	}

	if len(b.dataPaths) == 0 {
		return errors.New(errors.ErrCodeBacktestNoData, "no data path is set")
	}

	if b.resultsFolder == "" {
		return errors.New(errors.ErrCodeBacktestNoResultsDir, "no results folder is set")
	}

	return nil
}

func (b *FactorBacktestEngineV1) GetConfigSchema() (string, error) {
	config := b.config

	schema, err := config.GenerateSchemaJSON()
	if err != nil {
		return "", fmt.Errorf("failed to generate schema: %w", err)
	}

	return schema, nil
}
