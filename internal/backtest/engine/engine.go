package engine

import (
	"context"

	"github.com/quantatlas-lab/factor-trading/internal/schedule"
)

// Lifecycle callback types for backtest phases.
// All callbacks with error return can abort execution if they return an error.

// OnRunStartCallback is called when processing of a data file begins.
// runID is a unique identifier for this run, generated before processing starts.
type OnRunStartCallback func(runID string, dataFileIndex int, dataFilePath string, totalDates int) error

// OnRunEndCallback is called when processing of a data file ends.
type OnRunEndCallback func(dataFileIndex int, dataFilePath string, resultFolderPath string)

// OnProcessDateCallback is called for each simulated date.
type OnProcessDateCallback func(current int, total int) error

// LifecycleCallbacks holds all lifecycle callback functions for the backtest engine.
// All fields are pointers - nil means no callback will be invoked.
type LifecycleCallbacks struct {
	OnRunStart    *OnRunStartCallback
	OnRunEnd      *OnRunEndCallback
	OnProcessDate *OnProcessDateCallback
}

type Engine interface {
	// Initialize the engine with the given configuration content.
	Initialize(config string) error
	// SetDataPath sets the path to the price panel file. Supports loading data from:
	// 1. A single panel file holding every asset (e.g., panel_2020.parquet)
	// 2. Multiple panel files run independently (e.g., us_2020.parquet, eu_2020.parquet)
	// Accepts glob patterns for batch loading (e.g., "data/*.parquet")
	SetDataPath(path string) error
	// SetResultsFolder sets the output directory for saving backtest results.
	// Each run writes under: <results>/<strategy_name>/<time_range>/<data_file_name>
	SetResultsFolder(folder string) error
	// SetScheduleStore sets the store used to persist rebalance schedule
	// state between invocations. Defaults to an in-memory store.
	SetScheduleStore(store schedule.Store) error
	// SetForceRebalance makes the first simulated date of each run rebalance
	// regardless of persisted schedule state.
	SetForceRebalance(force bool) error
	// Run runs the engine and executes the walk-forward simulation.
	// The context can be used to cancel the backtest operation.
	// Use LifecycleCallbacks to receive notifications at different phases of the backtest.
	Run(ctx context.Context, callbacks LifecycleCallbacks) error
	// GetConfigSchema returns the schema of the engine configuration
	GetConfigSchema() (string, error)
}
