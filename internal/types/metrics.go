package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PerformanceMetrics summarizes a backtest run. Ratio fields are NaN when
// their denominator is undefined (zero volatility, zero drawdown, empty
// series); NaN is propagated to reports, never coerced to zero.
type PerformanceMetrics struct {
	// ID is the unique identifier for this backtest run.
	ID string `yaml:"id" json:"id"`
	// Timestamp is when this backtest run was executed.
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	// Strategy is the strategy identifier the metrics belong to.
	Strategy string `yaml:"strategy" json:"strategy"`
	// AnnualizedReturn is the CAGR from compounded daily returns over 252-day years.
	AnnualizedReturn float64 `yaml:"annualized_return"`
	// AnnualizedVolatility is the daily return standard deviation scaled by sqrt(252).
	AnnualizedVolatility float64 `yaml:"annualized_volatility"`
	// Sharpe is the mean daily return over daily standard deviation, scaled by sqrt(252).
	Sharpe float64 `yaml:"sharpe"`
	// Sortino uses downside deviation in the denominator instead.
	Sortino float64 `yaml:"sortino"`
	// MaxDrawdown is the maximum peak-to-trough decline of cumulative value, as a positive fraction.
	MaxDrawdown float64 `yaml:"max_drawdown"`
	// Calmar is the annualized return over the absolute max drawdown.
	Calmar float64 `yaml:"calmar"`
	// Turnover is the sum of absolute traded notional over portfolio value, time-averaged per day.
	Turnover float64 `yaml:"turnover"`
	// WinRate is the fraction of days with positive daily return.
	WinRate float64 `yaml:"win_rate"`
	// TradingDays is the number of simulated dates.
	TradingDays int `yaml:"trading_days"`
	// TradeCount is the number of emitted trades.
	TradeCount int `yaml:"trade_count"`
	// RebalanceCount is the number of rebalance transitions during the run.
	RebalanceCount int `yaml:"rebalance_count"`
	// TotalCosts is the sum of trading costs charged by the cost model.
	TotalCosts float64 `yaml:"total_costs"`
	// FinalValue is the portfolio value on the last simulated date.
	FinalValue float64 `yaml:"final_value"`
	// PerformanceFilePath is the path to the performance series parquet file.
	PerformanceFilePath string `yaml:"performance_file_path" json:"performance_file_path"`
	// TradesFilePath is the path to the trade log parquet file.
	TradesFilePath string `yaml:"trades_file_path" json:"trades_file_path"`
}

// WriteMetrics writes the metrics summary record as YAML.
func WriteMetrics(path string, metrics PerformanceMetrics) error {
	data, err := yaml.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics to file: %w", err)
	}

	return nil
}
