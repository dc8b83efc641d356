package schedule

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantatlas-lab/factor-trading/internal/logger"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"github.com/stretchr/testify/suite"
)

// SchedulerTestSuite is a test suite for the rebalance state machine
type SchedulerTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

// TestSchedulerSuite runs the test suite
func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func (suite *SchedulerTestSuite) SetupSuite() {
	log, err := logger.NewLogger()
	suite.Require().NoError(err)
	suite.logger = log
}

func schedDay(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

// countingCompute returns fixed weights and counts invocations.
func countingCompute(weights map[string]float64) (ComputeWeightsFunc, *int) {
	count := 0

	return func() (map[string]float64, error) {
		count++

		return weights, nil
	}, &count
}

func (suite *SchedulerTestSuite) newScheduler(periodDays int) (*Scheduler, *MemoryStore) {
	store := NewMemoryStore()

	scheduler, err := NewScheduler(store, periodDays, suite.logger)
	suite.Require().NoError(err)

	return scheduler, store
}

func (suite *SchedulerTestSuite) TestNewSchedulerRejectsNonPositivePeriod() {
	_, err := NewScheduler(NewMemoryStore(), 0, suite.logger)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidRebalancePeriod))
}

func (suite *SchedulerTestSuite) TestFirstEvaluationRebalances() {
	scheduler, store := suite.newScheduler(7)
	compute, count := countingCompute(map[string]float64{"A": 100})

	decision, err := scheduler.Evaluate("strat", schedDay(1), false, compute)
	suite.Require().NoError(err)

	suite.Assert().Equal(StateRebalancing, decision.State)
	suite.Assert().True(decision.Rebalanced)
	suite.Assert().Equal(map[string]float64{"A": 100}, decision.Weights)
	suite.Assert().Equal(1, *count)

	persisted, err := store.Load("strat")
	suite.Require().NoError(err)
	suite.Require().True(persisted.IsSome())
	suite.Assert().Equal(schedDay(1), persisted.Unwrap().LastRebalanceDate)
	suite.Assert().Equal(schedDay(8), persisted.Unwrap().NextRebalanceDate)
	suite.Require().Len(persisted.Unwrap().History, 1)
}

func (suite *SchedulerTestSuite) TestHoldingIsIdempotent() {
	scheduler, store := suite.newScheduler(7)
	compute, count := countingCompute(map[string]float64{"A": 100})

	_, err := scheduler.Evaluate("strat", schedDay(1), false, compute)
	suite.Require().NoError(err)

	before, err := store.Load("strat")
	suite.Require().NoError(err)

	// Repeated evaluations inside the period never recompute and never
	// mutate persisted state.
	for i := 0; i < 3; i++ {
		decision, err := scheduler.Evaluate("strat", schedDay(4), false, compute)
		suite.Require().NoError(err)

		suite.Assert().Equal(StateHolding, decision.State)
		suite.Assert().False(decision.Rebalanced)
		suite.Assert().Equal(map[string]float64{"A": 100}, decision.Weights)
	}

	suite.Assert().Equal(1, *count)

	after, err := store.Load("strat")
	suite.Require().NoError(err)
	suite.Assert().Equal(before.Unwrap(), after.Unwrap())
}

func (suite *SchedulerTestSuite) TestRebalanceCadence() {
	// Period 7 starting day 1: rebalances land on days 1, 8, and 15.
	scheduler, _ := suite.newScheduler(7)
	compute, count := countingCompute(map[string]float64{"A": 100})

	rebalanceDays := []int{}

	for d := 1; d <= 20; d++ {
		decision, err := scheduler.Evaluate("strat", schedDay(d), false, compute)
		suite.Require().NoError(err)

		if decision.Rebalanced {
			rebalanceDays = append(rebalanceDays, d)
		}
	}

	suite.Assert().Equal([]int{1, 8, 15}, rebalanceDays)
	suite.Assert().Equal(3, *count)
}

func (suite *SchedulerTestSuite) TestForceRebalances() {
	scheduler, _ := suite.newScheduler(7)
	compute, count := countingCompute(map[string]float64{"A": 100})

	_, err := scheduler.Evaluate("strat", schedDay(1), false, compute)
	suite.Require().NoError(err)

	decision, err := scheduler.Evaluate("strat", schedDay(2), true, compute)
	suite.Require().NoError(err)

	suite.Assert().True(decision.Rebalanced)
	suite.Assert().Equal(2, *count)
}

func (suite *SchedulerTestSuite) TestComputeErrorLeavesStateUntouched() {
	scheduler, store := suite.newScheduler(7)
	compute, _ := countingCompute(map[string]float64{"A": 100})

	_, err := scheduler.Evaluate("strat", schedDay(1), false, compute)
	suite.Require().NoError(err)

	failing := func() (map[string]float64, error) {
		return nil, errors.New(errors.ErrCodeScoreComputation, "boom")
	}

	_, err = scheduler.Evaluate("strat", schedDay(9), false, failing)
	suite.Require().Error(err)

	persisted, err := store.Load("strat")
	suite.Require().NoError(err)
	suite.Assert().Equal(schedDay(1), persisted.Unwrap().LastRebalanceDate)
}

func (suite *SchedulerTestSuite) TestHistoryIsBounded() {
	scheduler, store := suite.newScheduler(1)
	compute, _ := countingCompute(map[string]float64{"A": 100})

	for d := 0; d < HistoryLimit+10; d++ {
		_, err := scheduler.Evaluate("strat", schedDay(1).AddDate(0, 0, d), false, compute)
		suite.Require().NoError(err)
	}

	persisted, err := store.Load("strat")
	suite.Require().NoError(err)
	suite.Require().Len(persisted.Unwrap().History, HistoryLimit)

	// The oldest snapshots are the ones evicted.
	oldest := persisted.Unwrap().History[0]
	suite.Assert().Equal(schedDay(1).AddDate(0, 0, 10), oldest.Date)
}

func (suite *SchedulerTestSuite) TestReturnedWeightsAreDetached() {
	scheduler, store := suite.newScheduler(7)
	compute, _ := countingCompute(map[string]float64{"A": 100})

	decision, err := scheduler.Evaluate("strat", schedDay(1), false, compute)
	suite.Require().NoError(err)

	decision.Weights["A"] = -1

	persisted, err := store.Load("strat")
	suite.Require().NoError(err)
	suite.Assert().Equal(100.0, persisted.Unwrap().CurrentWeights["A"])
}

// corruptingStore reports corruption until Reset is called.
type corruptingStore struct {
	*MemoryStore
	recovered bool
	resets    int
}

func (s *corruptingStore) Load(strategyID string) (optional.Option[State], error) {
	if !s.recovered {
		return optional.None[State](), errors.New(errors.ErrCodeStateCorruption, "persisted record failed to parse")
	}

	return s.MemoryStore.Load(strategyID)
}

func (s *corruptingStore) Reset(strategyID string) error {
	s.resets++
	s.recovered = true

	return s.MemoryStore.Reset(strategyID)
}

func (suite *SchedulerTestSuite) TestCorruptionForcesFreshRebalance() {
	store := &corruptingStore{MemoryStore: NewMemoryStore()}

	scheduler, err := NewScheduler(store, 7, suite.logger)
	suite.Require().NoError(err)

	compute, count := countingCompute(map[string]float64{"A": 100})

	decision, err := scheduler.Evaluate("strat", schedDay(3), false, compute)
	suite.Require().NoError(err)

	suite.Assert().True(decision.Rebalanced)
	suite.Assert().True(decision.RecoveredFromCorruption)
	suite.Assert().Equal(1, store.resets)
	suite.Assert().Equal(1, *count)

	// The recovered record is a normal one from here on.
	decision, err = scheduler.Evaluate("strat", schedDay(4), false, compute)
	suite.Require().NoError(err)
	suite.Assert().Equal(StateHolding, decision.State)
	suite.Assert().False(decision.RecoveredFromCorruption)
}

func (suite *SchedulerTestSuite) TestDrift() {
	current := map[string]float64{"A": 600, "B": 300}
	target := map[string]float64{"A": 500, "C": 100}

	drift := Drift(current, target, 1000)

	suite.Assert().InDelta(0.1, drift["A"], 1e-12)
	suite.Assert().InDelta(0.3, drift["B"], 1e-12)
	suite.Assert().InDelta(-0.1, drift["C"], 1e-12)

	suite.Assert().Empty(Drift(current, target, 0))
}

func (suite *SchedulerTestSuite) TestStateValidate() {
	err := State{}.Validate()
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeStateCorruption))

	err = State{
		StrategyID:        "strat",
		LastRebalanceDate: schedDay(8),
		NextRebalanceDate: schedDay(1),
	}.Validate()
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeStateCorruption))

	suite.Assert().NoError(State{
		StrategyID:        "strat",
		LastRebalanceDate: schedDay(1),
		NextRebalanceDate: schedDay(8),
	}.Validate())
}
