package schedule

import (
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/quantatlas-lab/factor-trading/internal/logger"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"go.uber.org/zap"
)

// MachineState names the scheduler's states.
type MachineState string

const (
	StateAwaitingFirstRebalance MachineState = "AWAITING_FIRST_REBALANCE"
	StateHolding                MachineState = "HOLDING"
	StateRebalancing            MachineState = "REBALANCING"
)

// ComputeWeightsFunc computes fresh notional targets for a rebalance. It is
// invoked only on REBALANCING transitions; callers must not recompute
// factors or buckets on hold days.
type ComputeWeightsFunc func() (map[string]float64, error)

// Decision is the outcome of one scheduler invocation.
type Decision struct {
	// State is the machine state after the invocation.
	State MachineState
	// Weights are the notional targets valid as of the invocation date. On
	// HOLDING days these are the last-computed weights, unchanged.
	Weights map[string]float64
	// Rebalanced is true when this invocation transitioned to REBALANCING.
	Rebalanced bool
	// RecoveredFromCorruption is true when persisted state failed its
	// consistency check and a fresh rebalance was forced. Never silent:
	// the recovery is also logged.
	RecoveredFromCorruption bool
}

// Scheduler drives the rebalance state machine against a Store.
type Scheduler struct {
	store      Store
	periodDays int
	logger     *logger.Logger
}

// NewScheduler creates a scheduler with the given rebalance period. A
// non-positive period is a configuration error.
func NewScheduler(store Store, periodDays int, logger *logger.Logger) (*Scheduler, error) {
	if periodDays <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidRebalancePeriod, "rebalance period must be positive, got %d", periodDays)
	}

	return &Scheduler{
		store:      store,
		periodDays: periodDays,
		logger:     logger,
	}, nil
}

// Evaluate runs one invocation of the state machine for `today`. The
// transition rule: with no prior state, or today >= next_rebalance_date, or
// the force flag set, transition to REBALANCING, invoke compute, and
// persist the new record atomically. Otherwise remain HOLDING and return
// the current weights without mutating any persisted field, so repeated
// calls on the same hold date are idempotent.
func (s *Scheduler) Evaluate(strategyID string, today time.Time, force bool, compute ComputeWeightsFunc) (Decision, error) {
	recovered := false

	prior, err := s.store.Load(strategyID)
	if err != nil {
		if !errors.HasCode(err, errors.ErrCodeStateCorruption) {
			return Decision{}, err
		}

		// Corrupt state is treated as "no prior state" and forces a fresh
		// rebalance, but never silently.
		s.logger.Warn("Persisted schedule state is corrupt, forcing fresh rebalance",
			zap.String("strategy", strategyID),
			zap.Error(err),
		)

		if resetErr := s.store.Reset(strategyID); resetErr != nil {
			return Decision{}, resetErr
		}

		prior = optional.None[State]()
		recovered = true
	}

	if prior.IsSome() && !force && today.Before(prior.Unwrap().NextRebalanceDate) {
		held := prior.Unwrap()

		return Decision{
			State:                   StateHolding,
			Weights:                 cloneWeights(held.CurrentWeights),
			Rebalanced:              false,
			RecoveredFromCorruption: recovered,
		}, nil
	}

	weights, err := compute()
	if err != nil {
		return Decision{}, err
	}

	next := State{
		StrategyID:        strategyID,
		LastRebalanceDate: today,
		NextRebalanceDate: today.AddDate(0, 0, s.periodDays),
		CurrentWeights:    cloneWeights(weights),
	}

	if prior.IsSome() {
		next.History = prior.Unwrap().History
	}

	next.History = append(next.History, Snapshot{
		ID:      uuid.New().String(),
		Date:    today,
		Weights: cloneWeights(weights),
	})

	if len(next.History) > HistoryLimit {
		next.History = next.History[len(next.History)-HistoryLimit:]
	}

	if err := s.store.Save(next); err != nil {
		return Decision{}, err
	}

	s.logger.Debug("Rebalanced",
		zap.String("strategy", strategyID),
		zap.Time("date", today),
		zap.Time("next_rebalance", next.NextRebalanceDate),
		zap.Int("positions", len(weights)),
	)

	return Decision{
		State:                   StateRebalancing,
		Weights:                 cloneWeights(weights),
		Rebalanced:              true,
		RecoveredFromCorruption: recovered,
	}, nil
}

// Reset removes the persisted record for the strategy. Explicit only.
func (s *Scheduler) Reset(strategyID string) error {
	return s.store.Reset(strategyID)
}

// Drift computes live weight minus target weight per asset for
// monitor-only alerting. It reads nothing from the store and triggers no
// transition.
func Drift(currentNotional map[string]float64, targetNotional map[string]float64, portfolioValue float64) map[string]float64 {
	if portfolioValue == 0 {
		return map[string]float64{}
	}

	out := make(map[string]float64, len(currentNotional)+len(targetNotional))

	for asset, notional := range currentNotional {
		out[asset] = notional / portfolioValue
	}

	for asset, notional := range targetNotional {
		out[asset] -= notional / portfolioValue
	}

	return out
}
