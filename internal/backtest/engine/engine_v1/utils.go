package engine

import (
	"fmt"
	"path/filepath"
	"strings"
)

func dataFileName(dataPath string) string {
	return strings.TrimSuffix(filepath.Base(dataPath), filepath.Ext(dataPath))
}

func getResultFolder(dataPath string, b *FactorBacktestEngineV1) string {
	// Create base folder for the strategy
	strategyFolder := filepath.Join(b.resultsFolder, b.config.Strategy.Name)

	// Create data folder with time range if specified
	var dataFolder string

	if b.config.StartTime.IsSome() || b.config.EndTime.IsSome() {
		startTimeStr := "all"
		endTimeStr := "all"

		if b.config.StartTime.IsSome() {
			startTimeStr = b.config.StartTime.Unwrap().Format("20060102")
		}

		if b.config.EndTime.IsSome() {
			endTimeStr = b.config.EndTime.Unwrap().Format("20060102")
		}

		timeRange := fmt.Sprintf("%s_%s", startTimeStr, endTimeStr)
		dataFolder = filepath.Join(strategyFolder, timeRange)
	} else {
		dataFolder = strategyFolder
	}

	// Add data file name as the final folder
	return filepath.Join(dataFolder, dataFileName(dataPath))
}
