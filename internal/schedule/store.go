package schedule

import (
	"database/sql"
	"sync"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/quantatlas-lab/factor-trading/internal/logger"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Store persists schedule state keyed by strategy id with idempotent
// read-or-create semantics. Save must be atomic: a crash mid-persist must
// never leave a partially written record visible to a later Load.
type Store interface {
	// Load returns the state for the strategy, or None when no record
	// exists yet. A record that fails to parse or fails its consistency
	// check returns a StateCorruption error.
	Load(strategyID string) (optional.Option[State], error)
	// Save atomically replaces the record for the state's strategy.
	Save(state State) error
	// Reset removes the record for the strategy. Used for testing and for
	// recovery from corruption; never called implicitly.
	Reset(strategyID string) error
	// Close releases store resources.
	Close() error
}

// DuckDBStore is the durable store used when multiple runner invocations
// share schedule state. Atomicity comes from replacing all rows of a
// strategy inside one transaction.
type DuckDBStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBStore opens (or creates) the schedule database at the given
// path and ensures the schema exists.
func NewDuckDBStore(path string, logger *logger.Logger) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStatePersistence, "failed to open schedule database", err)
	}

	store := &DuckDBStore{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := store.initialize(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *DuckDBStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schedule_state (
			strategy_id TEXT PRIMARY KEY,
			last_rebalance_date TIMESTAMP,
			next_rebalance_date TIMESTAMP,
			current_weights TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStatePersistence, "failed to create schedule_state table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schedule_history (
			snapshot_id TEXT,
			strategy_id TEXT,
			rebalance_date TIMESTAMP,
			weights TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStatePersistence, "failed to create schedule_history table", err)
	}

	return nil
}

// Load implements Store.
func (s *DuckDBStore) Load(strategyID string) (optional.Option[State], error) {
	stateQuery := s.sq.
		Select("strategy_id", "last_rebalance_date", "next_rebalance_date", "current_weights").
		From("schedule_state").
		Where(squirrel.Eq{"strategy_id": strategyID}).
		RunWith(s.db)

	var (
		state       State
		weightsBlob string
	)

	err := stateQuery.QueryRow().Scan(&state.StrategyID, &state.LastRebalanceDate, &state.NextRebalanceDate, &weightsBlob)
	if err == sql.ErrNoRows {
		return optional.None[State](), nil
	}

	if err != nil {
		return optional.None[State](), errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to query schedule state", err)
	}

	if err := yaml.Unmarshal([]byte(weightsBlob), &state.CurrentWeights); err != nil {
		return optional.None[State](), errors.Wrapf(errors.ErrCodeStateCorruption, err,
			"persisted weights for strategy %s failed to parse", strategyID)
	}

	historyQuery := s.sq.
		Select("snapshot_id", "rebalance_date", "weights").
		From("schedule_history").
		Where(squirrel.Eq{"strategy_id": strategyID}).
		OrderBy("rebalance_date ASC").
		RunWith(s.db)

	rows, err := historyQuery.Query()
	if err != nil {
		return optional.None[State](), errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to query schedule history", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			snapshot     Snapshot
			snapshotBlob string
		)

		if err := rows.Scan(&snapshot.ID, &snapshot.Date, &snapshotBlob); err != nil {
			return optional.None[State](), errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to scan history row", err)
		}

		if err := yaml.Unmarshal([]byte(snapshotBlob), &snapshot.Weights); err != nil {
			return optional.None[State](), errors.Wrapf(errors.ErrCodeStateCorruption, err,
				"persisted snapshot %s for strategy %s failed to parse", snapshot.ID, strategyID)
		}

		state.History = append(state.History, snapshot)
	}

	if err := rows.Err(); err != nil {
		return optional.None[State](), errors.Wrap(errors.ErrCodeStateLoadFailed, "error iterating history rows", err)
	}

	if err := state.Validate(); err != nil {
		return optional.None[State](), err
	}

	return optional.Some(state), nil
}

// Save implements Store. The strategy's rows in both tables are replaced
// within a single transaction so a crash mid-persist cannot corrupt
// current_weights.
func (s *DuckDBStore) Save(state State) error {
	if err := state.Validate(); err != nil {
		return err
	}

	weightsBlob, err := yaml.Marshal(state.CurrentWeights)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStatePersistence, "failed to marshal weights", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStatePersistence, "failed to begin transaction", err)
	}

	deleteState := s.sq.Delete("schedule_state").Where(squirrel.Eq{"strategy_id": state.StrategyID}).RunWith(tx)
	if _, err := deleteState.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStatePersistence, "failed to delete previous state", err)
	}

	deleteHistory := s.sq.Delete("schedule_history").Where(squirrel.Eq{"strategy_id": state.StrategyID}).RunWith(tx)
	if _, err := deleteHistory.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStatePersistence, "failed to delete previous history", err)
	}

	insertState := s.sq.
		Insert("schedule_state").
		Columns("strategy_id", "last_rebalance_date", "next_rebalance_date", "current_weights").
		Values(state.StrategyID, state.LastRebalanceDate, state.NextRebalanceDate, string(weightsBlob)).
		RunWith(tx)

	if _, err := insertState.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStatePersistence, "failed to insert state", err)
	}

	for _, snapshot := range state.History {
		snapshotBlob, err := yaml.Marshal(snapshot.Weights)
		if err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeStatePersistence, "failed to marshal snapshot weights", err)
		}

		insertSnapshot := s.sq.
			Insert("schedule_history").
			Columns("snapshot_id", "strategy_id", "rebalance_date", "weights").
			Values(snapshot.ID, state.StrategyID, snapshot.Date, string(snapshotBlob)).
			RunWith(tx)

		if _, err := insertSnapshot.Exec(); err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeStatePersistence, "failed to insert snapshot", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStatePersistence, "failed to commit schedule state", err)
	}

	return nil
}

// Reset implements Store.
func (s *DuckDBStore) Reset(strategyID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStateResetFailed, "failed to begin transaction", err)
	}

	deleteState := s.sq.Delete("schedule_state").Where(squirrel.Eq{"strategy_id": strategyID}).RunWith(tx)
	if _, err := deleteState.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStateResetFailed, "failed to delete state", err)
	}

	deleteHistory := s.sq.Delete("schedule_history").Where(squirrel.Eq{"strategy_id": strategyID}).RunWith(tx)
	if _, err := deleteHistory.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStateResetFailed, "failed to delete history", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStateResetFailed, "failed to commit reset", err)
	}

	return nil
}

// Close implements Store.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

// MemoryStore keeps schedule state in memory. Used for dry-run mode and
// tests; semantics match the durable store, including deep copies on both
// Load and Save.
type MemoryStore struct {
	states map[string]State
	mu     sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]State),
	}
}

// Load implements Store.
func (s *MemoryStore) Load(strategyID string) (optional.Option[State], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[strategyID]
	if !ok {
		return optional.None[State](), nil
	}

	if err := state.Validate(); err != nil {
		return optional.None[State](), err
	}

	return optional.Some(state.clone()), nil
}

// Save implements Store.
func (s *MemoryStore) Save(state State) error {
	if err := state.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.StrategyID] = state.clone()

	return nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(strategyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, strategyID)

	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
