package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/quantatlas-lab/factor-trading/internal/backtest/engine/engine_v1/cost"
	"github.com/quantatlas-lab/factor-trading/internal/factor"
	"github.com/quantatlas-lab/factor-trading/internal/logger"
	"github.com/quantatlas-lab/factor-trading/internal/panel"
	"github.com/quantatlas-lab/factor-trading/internal/portfolio"
	"github.com/quantatlas-lab/factor-trading/internal/ranking"
	"github.com/quantatlas-lab/factor-trading/internal/schedule"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/internal/universe"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"go.uber.org/zap"
)

// tradeEpsilon suppresses trades whose notional delta is numerically zero.
const tradeEpsilon = 1e-9

// Simulator walks the panel calendar forward one date at a time. Signals
// computed on date T earn the T to T+1 return: the only place a forward
// price is read is the mark-to-market step at the top of the next
// iteration.
type Simulator struct {
	panel      *panel.Panel
	scorer     factor.Scorer
	strategy   StrategyConfig
	scheduler  *schedule.Scheduler
	costs      cost.Calculator
	state      *BacktestState
	logger     *logger.Logger
	workers    int
	forceFirst bool
}

// RunSummary reports per-run counters not derivable from the recorded
// series.
type RunSummary struct {
	RebalanceCount int
	Recoveries     int
}

func NewSimulator(
	p *panel.Panel,
	scorer factor.Scorer,
	strategy StrategyConfig,
	scheduler *schedule.Scheduler,
	costs cost.Calculator,
	state *BacktestState,
	logger *logger.Logger,
	workers int,
) *Simulator {
	return &Simulator{
		panel:     p,
		scorer:    scorer,
		strategy:  strategy,
		scheduler: scheduler,
		costs:     costs,
		state:     state,
		logger:    logger,
		workers:   workers,
	}
}

// ForceFirstRebalance makes the first simulated date rebalance regardless of
// persisted schedule state.
func (s *Simulator) ForceFirstRebalance() {
	s.forceFirst = true
}

// Run simulates the strategy over the given dates starting from
// initialCapital, recording one performance row per date and every emitted
// trade into the run state. onProcessDate is invoked after each date when
// non-nil.
func (s *Simulator) Run(ctx context.Context, strategyID string, dates []time.Time, initialCapital float64, onProcessDate func(current int, total int) error) (RunSummary, error) {
	summary := RunSummary{}

	if len(dates) == 0 {
		return summary, errors.New(errors.ErrCodeBacktestNoData, "no dates to simulate")
	}

	portfolioValue := initialCapital
	holdings := make(map[string]float64)

	for i, today := range dates {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		prevValue := portfolioValue

		// Mark yesterday's positions to market. This is the single point
		// where a price later than the signal date is read.
		if i > 0 {
			portfolioValue += s.markToMarket(holdings, dates[i-1], today)
		}

		decision, err := s.scheduler.Evaluate(strategyID, today, s.forceFirst && i == 0, s.computeTargets(today, portfolioValue))
		if err != nil {
			return summary, err
		}

		if decision.RecoveredFromCorruption {
			summary.Recoveries++
		}

		var trades []types.Trade

		if decision.Rebalanced {
			summary.RebalanceCount++

			trades = s.rebalanceTrades(holdings, decision.Weights, today)
		} else if s.strategy.RebalanceThresholdFraction > 0 {
			trades = s.thresholdTrades(holdings, decision.Weights, today, portfolioValue)
		}

		for _, trade := range trades {
			portfolioValue -= trade.Cost
		}

		if !decision.Rebalanced && s.logger.DebugEnabled() {
			s.logDrift(strategyID, today, holdings, decision.Weights, portfolioValue)
		}

		// On the first date prevValue is the initial capital, so day-one
		// costs show up in the return series like any other day's.
		dailyReturn := 0.0
		if prevValue != 0 {
			dailyReturn = portfolioValue/prevValue - 1
		}

		if err := s.state.RecordPerformance(types.PerformanceRecord{
			Time:           today,
			PortfolioValue: portfolioValue,
			DailyReturn:    dailyReturn,
		}); err != nil {
			return summary, err
		}

		if err := s.state.RecordTrades(trades); err != nil {
			return summary, err
		}

		if onProcessDate != nil {
			if err := onProcessDate(i+1, len(dates)); err != nil {
				return summary, err
			}
		}
	}

	return summary, nil
}

// markToMarket applies the from->to simple return to each held position and
// returns the total profit and loss. Positions without a bar on either date
// carry unchanged, like cash.
func (s *Simulator) markToMarket(holdings map[string]float64, from time.Time, to time.Time) float64 {
	pnl := 0.0

	for asset, notional := range holdings {
		r := s.panel.SimpleReturn(asset, from, to)
		if r.IsNone() {
			continue
		}

		pnl += notional * r.Unwrap()
		holdings[asset] = notional * (1 + r.Unwrap())
	}

	return pnl
}

// computeTargets builds the full signal pipeline for one date: score the
// panel, filter the universe, bucket by percentile, weight within buckets,
// and convert to notional targets. Invoked by the scheduler only on
// rebalance transitions.
func (s *Simulator) computeTargets(today time.Time, portfolioValue float64) schedule.ComputeWeightsFunc {
	return func() (map[string]float64, error) {
		assets := s.panel.Assets()

		scores, err := factor.ScoreUniverse(
			factor.Context{Panel: s.panel},
			s.scorer,
			assets,
			today,
			s.strategy.Factor.Params,
			s.workers,
		)
		if err != nil {
			return nil, err
		}

		eligible := universe.Filter(s.panel, today, assets, scores, s.strategy.Universe)

		eligibleScores := make([]types.FactorScore, 0, len(eligible))
		for _, asset := range eligible {
			eligibleScores = append(eligibleScores, scores[asset])
		}

		buckets := ranking.RankAndBucket(eligibleScores, s.strategy.LongPercentile, s.strategy.ShortPercentile, s.strategy.MinUniverseSize)
		if buckets.IsEmpty() {
			s.logger.Debug("Eligible universe too small, no positions",
				zap.Time("date", today),
				zap.Int("eligible", len(eligible)),
			)

			return map[string]float64{}, nil
		}

		// Risk parity reads volatility over the factor window: signal and
		// sizing share one lookback.
		weights, err := portfolio.BuildWeights(today, buckets, s.strategy.WeightingMethod, func(asset string) optional.Option[float64] {
			return s.panel.RollingVolatility(asset, today, s.strategy.Factor.Params.Window)
		})
		if err != nil {
			return nil, err
		}

		return portfolio.ToNotional(weights, s.strategy.Allocation, portfolioValue), nil
	}
}

// rebalanceTrades moves holdings to the target notionals. An empty target
// set moves the book to cash without emitting trades: an empty universe is
// "no trade today", not a liquidation signal.
func (s *Simulator) rebalanceTrades(holdings map[string]float64, targets map[string]float64, today time.Time) []types.Trade {
	if len(targets) == 0 {
		if len(holdings) > 0 {
			s.logger.Info("Rebalance produced no targets, moving to cash",
				zap.Time("date", today),
				zap.Int("positions", len(holdings)),
			)
		}

		for asset := range holdings {
			delete(holdings, asset)
		}

		return nil
	}

	trades := make([]types.Trade, 0, len(targets))

	for _, asset := range unionAssets(holdings, targets) {
		delta := targets[asset] - holdings[asset]
		if math.Abs(delta) < tradeEpsilon {
			continue
		}

		trades = append(trades, types.Trade{
			TradeID:       uuid.New().String(),
			Time:          today,
			Asset:         asset,
			DeltaNotional: delta,
			Reason:        types.TradeReasonRebalance,
			Cost:          s.costs.Calculate(delta),
		})
	}

	for asset := range holdings {
		delete(holdings, asset)
	}

	for asset, notional := range targets {
		holdings[asset] = notional
	}

	return trades
}

// thresholdTrades adjusts only the positions that drifted beyond the
// configured fraction of portfolio value from their last-computed target.
func (s *Simulator) thresholdTrades(holdings map[string]float64, targets map[string]float64, today time.Time, portfolioValue float64) []types.Trade {
	threshold := s.strategy.RebalanceThresholdFraction * math.Abs(portfolioValue)

	var trades []types.Trade

	for _, asset := range unionAssets(holdings, targets) {
		delta := targets[asset] - holdings[asset]
		if math.Abs(delta) <= threshold {
			continue
		}

		trades = append(trades, types.Trade{
			TradeID:       uuid.New().String(),
			Time:          today,
			Asset:         asset,
			DeltaNotional: delta,
			Reason:        types.TradeReasonThresholdAdjust,
			Cost:          s.costs.Calculate(delta),
		})

		if target, ok := targets[asset]; ok {
			holdings[asset] = target
		} else {
			delete(holdings, asset)
		}
	}

	return trades
}

func (s *Simulator) logDrift(strategyID string, today time.Time, holdings map[string]float64, targets map[string]float64, portfolioValue float64) {
	drift := schedule.Drift(holdings, targets, portfolioValue)

	maxDrift := 0.0

	for _, d := range drift {
		if math.Abs(d) > maxDrift {
			maxDrift = math.Abs(d)
		}
	}

	s.logger.Debug("Holding",
		zap.String("strategy", strategyID),
		zap.Time("date", today),
		zap.Float64("max_drift", maxDrift),
	)
}

func unionAssets(a map[string]float64, b map[string]float64) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))

	for asset := range a {
		if !seen[asset] {
			seen[asset] = true

			out = append(out, asset)
		}
	}

	for asset := range b {
		if !seen[asset] {
			seen[asset] = true

			out = append(out, asset)
		}
	}

	// Deterministic trade order regardless of map iteration.
	sort.Strings(out)

	return out
}
