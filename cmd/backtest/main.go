package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/quantatlas-lab/factor-trading/internal/backtest/engine"
	engine_v1 "github.com/quantatlas-lab/factor-trading/internal/backtest/engine/engine_v1"
	"github.com/quantatlas-lab/factor-trading/internal/logger"
	"github.com/quantatlas-lab/factor-trading/internal/schedule"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

// backtestAction is the core logic executed by the CLI command.
// It loads the configuration, wires the schedule store, and runs the
// walk-forward simulation with a progress bar per data file.
func backtestAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	dataPath := cmd.String("data")
	resultsFolder := cmd.String("output")
	scheduleDBPath := cmd.String("schedule-db")
	dryRun := cmd.Bool("dry-run")
	printSchema := cmd.Bool("print-schema")

	backtestEngine := engine_v1.NewFactorBacktestEngineV1()

	if printSchema {
		schema, err := backtestEngine.GetConfigSchema()
		if err != nil {
			return fmt.Errorf("failed to generate config schema: %w", err)
		}

		fmt.Println(schema)

		return nil
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// A persistent schedule store carries rebalance state across
	// invocations; dry-run always uses the in-memory store.
	if scheduleDBPath != "" && !dryRun {
		storeLogger, err := logger.NewLogger()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		store, err := schedule.NewDuckDBStore(scheduleDBPath, storeLogger)
		if err != nil {
			return fmt.Errorf("failed to open schedule store: %w", err)
		}
		defer store.Close()

		if err := backtestEngine.SetScheduleStore(store); err != nil {
			return err
		}
	}

	if err := backtestEngine.Initialize(string(content)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := backtestEngine.SetDataPath(dataPath); err != nil {
		return fmt.Errorf("failed to set data path: %w", err)
	}

	if err := backtestEngine.SetResultsFolder(resultsFolder); err != nil {
		return fmt.Errorf("failed to set results folder: %w", err)
	}

	if err := backtestEngine.SetForceRebalance(cmd.Bool("force")); err != nil {
		return fmt.Errorf("failed to set force rebalance: %w", err)
	}

	var bar *progressbar.ProgressBar

	onRunStart := engine.OnRunStartCallback(func(runID string, dataFileIndex int, dataFilePath string, totalDates int) error {
		bar = progressbar.Default(int64(totalDates), filepath.Base(dataFilePath))

		return nil
	})

	onProcessDate := engine.OnProcessDateCallback(func(current int, total int) error {
		return bar.Set(current)
	})

	onRunEnd := engine.OnRunEndCallback(func(dataFileIndex int, dataFilePath string, resultFolderPath string) {
		_ = bar.Finish()

		log.Printf("Results for %s written to %s", filepath.Base(dataFilePath), resultFolderPath)
	})

	callbacks := engine.LifecycleCallbacks{
		OnRunStart:    &onRunStart,
		OnRunEnd:      &onRunEnd,
		OnProcessDate: &onProcessDate,
	}

	if err := backtestEngine.Run(ctx, callbacks); err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	return nil
}

func main() {
	// Define the CLI application
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Run a cross-sectional factor backtest over a price panel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine configuration YAML file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Path or glob of panel files in CSV or Parquet format (e.g., data/*.parquet)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Path to the results output directory",
				Value:    "results",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "schedule-db",
				Usage:    "Path to the persistent schedule state database. Empty keeps schedule state in memory.",
				Required: false,
			},
			&cli.BoolFlag{
				Name:     "dry-run",
				Usage:    "Never persist schedule state, even when --schedule-db is set",
				Required: false,
			},
			&cli.BoolFlag{
				Name:     "force",
				Usage:    "Rebalance on the first simulated date regardless of persisted schedule state",
				Required: false,
			},
			&cli.BoolFlag{
				Name:     "print-schema",
				Usage:    "Print the configuration JSON schema and exit",
				Required: false,
			},
		},
		Action: backtestAction, // Assign the action function
	}

	// Run the CLI application
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
