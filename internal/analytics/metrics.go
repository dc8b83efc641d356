// Package analytics computes return-based risk/return metrics and
// turnover/trade statistics from a backtest's output series. Everything in
// this package is a pure function of the recorded series.
package analytics

import (
	"math"

	"github.com/quantatlas-lab/factor-trading/internal/types"
)

// TradingDaysPerYear is the annualization base for daily series.
const TradingDaysPerYear = 252

// Compute summarizes a performance series and trade log. Annualized return
// is the CAGR implied by compounding the daily returns over 252-day years.
// Every ratio guards its denominator: an undefined metric is NaN, never 0.
func Compute(records []types.PerformanceRecord, trades []types.Trade) types.PerformanceMetrics {
	metrics := types.PerformanceMetrics{
		AnnualizedReturn:     math.NaN(),
		AnnualizedVolatility: math.NaN(),
		Sharpe:               math.NaN(),
		Sortino:              math.NaN(),
		MaxDrawdown:          math.NaN(),
		Calmar:               math.NaN(),
		Turnover:             math.NaN(),
		WinRate:              math.NaN(),
		TradingDays:          len(records),
		TradeCount:           len(trades),
	}

	if len(records) == 0 {
		return metrics
	}

	metrics.FinalValue = records[len(records)-1].PortfolioValue

	returns := make([]float64, len(records))
	wins := 0
	growth := 1.0

	for i, record := range records {
		returns[i] = record.DailyReturn
		growth *= 1 + record.DailyReturn

		if record.DailyReturn > 0 {
			wins++
		}
	}

	metrics.WinRate = float64(wins) / float64(len(records))

	if growth > 0 {
		metrics.AnnualizedReturn = math.Pow(growth, TradingDaysPerYear/float64(len(records))) - 1
	}

	meanReturn := meanOf(returns)

	if len(returns) >= 2 {
		stddev := stddevOf(returns, meanReturn)
		metrics.AnnualizedVolatility = stddev * math.Sqrt(TradingDaysPerYear)

		if stddev > 0 {
			metrics.Sharpe = meanReturn / stddev * math.Sqrt(TradingDaysPerYear)
		}

		downside := downsideDeviation(returns)
		if downside > 0 {
			metrics.Sortino = meanReturn / downside * math.Sqrt(TradingDaysPerYear)
		}
	}

	metrics.MaxDrawdown = MaxDrawdown(records)
	if metrics.MaxDrawdown > 0 && !math.IsNaN(metrics.AnnualizedReturn) {
		metrics.Calmar = metrics.AnnualizedReturn / metrics.MaxDrawdown
	}

	metrics.Turnover = Turnover(records, trades)

	totalCosts := 0.0
	for _, trade := range trades {
		totalCosts += trade.Cost
	}

	metrics.TotalCosts = totalCosts

	return metrics
}

// MaxDrawdown returns the maximum peak-to-trough decline of portfolio
// value as a positive fraction, 0 for a series that never declines.
func MaxDrawdown(records []types.PerformanceRecord) float64 {
	if len(records) == 0 {
		return math.NaN()
	}

	peak := records[0].PortfolioValue
	maxDrawdown := 0.0

	for _, record := range records {
		if record.PortfolioValue > peak {
			peak = record.PortfolioValue
		}

		if peak > 0 {
			drawdown := (peak - record.PortfolioValue) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return maxDrawdown
}

// Turnover returns traded notional over portfolio value, time-averaged per
// simulated day. NaN when the series is empty or a trade date has no
// recorded portfolio value.
func Turnover(records []types.PerformanceRecord, trades []types.Trade) float64 {
	if len(records) == 0 {
		return math.NaN()
	}

	valueByDate := make(map[int64]float64, len(records))
	for _, record := range records {
		valueByDate[record.Time.Unix()] = record.PortfolioValue
	}

	total := 0.0

	for _, trade := range trades {
		value, ok := valueByDate[trade.Time.Unix()]
		if !ok || value == 0 {
			return math.NaN()
		}

		total += math.Abs(trade.DeltaNotional) / value
	}

	return total / float64(len(records))
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	sum := 0.0

	for _, v := range values {
		d := v - mean
		sum += d * d
	}

	return math.Sqrt(sum / float64(len(values)-1))
}

// downsideDeviation is the root mean square of the negative returns over
// the full sample.
func downsideDeviation(values []float64) float64 {
	sum := 0.0

	for _, v := range values {
		if v < 0 {
			sum += v * v
		}
	}

	return math.Sqrt(sum / float64(len(values)))
}
