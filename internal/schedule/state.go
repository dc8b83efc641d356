// Package schedule implements the rebalance scheduler: a small persistent
// state machine deciding, per calendar date, whether to recompute weights
// or reuse the last-computed weights while positions drift with price.
package schedule

import (
	"time"

	"github.com/quantatlas-lab/factor-trading/pkg/errors"
)

// HistoryLimit bounds the number of past rebalance snapshots retained per
// strategy; the oldest entries are evicted first.
const HistoryLimit = 52

// Snapshot is one past rebalance event.
type Snapshot struct {
	ID      string             `yaml:"id"`
	Date    time.Time          `yaml:"date"`
	Weights map[string]float64 `yaml:"weights"`
}

// State is the durable schedule record for one strategy. It is the only
// long-lived mutable entity in the engine; its lifecycle is
// create-on-first-use, read-modify-write per invocation, and explicit
// reset.
type State struct {
	StrategyID        string
	LastRebalanceDate time.Time
	NextRebalanceDate time.Time
	CurrentWeights    map[string]float64
	History           []Snapshot
}

// Validate runs the internal consistency check a loaded record must pass.
// Violations are surfaced as StateCorruption, distinct from data
// insufficiency.
func (s State) Validate() error {
	if s.StrategyID == "" {
		return errors.New(errors.ErrCodeStateCorruption, "schedule state has empty strategy id")
	}

	if s.NextRebalanceDate.Before(s.LastRebalanceDate) {
		return errors.Newf(errors.ErrCodeStateCorruption,
			"schedule state for %s has next_rebalance_date %s before last_rebalance_date %s",
			s.StrategyID,
			s.NextRebalanceDate.Format(time.DateOnly),
			s.LastRebalanceDate.Format(time.DateOnly))
	}

	return nil
}

// clone deep-copies the state so callers can never alias store internals.
func (s State) clone() State {
	out := s

	out.CurrentWeights = cloneWeights(s.CurrentWeights)
	out.History = make([]Snapshot, len(s.History))

	for i, snapshot := range s.History {
		out.History[i] = Snapshot{
			ID:      snapshot.ID,
			Date:    snapshot.Date,
			Weights: cloneWeights(snapshot.Weights),
		}
	}

	return out
}

func cloneWeights(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for asset, notional := range weights {
		out[asset] = notional
	}

	return out
}
