package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/quantatlas-lab/factor-trading/internal/logger"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"go.uber.org/zap"
)

// BacktestState accumulates the trade log and daily performance series of
// one run in an in-memory DuckDB instance, so results can be queried with
// SQL during the run and exported to Parquet afterwards.
type BacktestState struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

func NewBacktestState(logger *logger.Logger) (*BacktestState, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBacktestInitFailed, "failed to open state database", err)
	}

	return &BacktestState{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Initialize creates the result tables, dropping any rows from a previous
// run.
func (b *BacktestState) Initialize() error {
	_, err := b.db.Exec(`
		DROP TABLE IF EXISTS trades;
		DROP TABLE IF EXISTS performance;

		CREATE TABLE trades (
			trade_id TEXT,
			time TIMESTAMP,
			asset TEXT,
			delta_notional DOUBLE,
			reason TEXT,
			cost DOUBLE
		);

		CREATE TABLE performance (
			time TIMESTAMP,
			portfolio_value DOUBLE,
			daily_return DOUBLE
		);
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBacktestInitFailed, "failed to create result tables", err)
	}

	return nil
}

// RecordTrades appends emitted trades within a single transaction.
func (b *BacktestState) RecordTrades(trades []types.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := b.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeBacktestWriteFailed, "failed to begin transaction", err)
	}

	for _, trade := range trades {
		insert := b.sq.
			Insert("trades").
			Columns("trade_id", "time", "asset", "delta_notional", "reason", "cost").
			Values(trade.TradeID, trade.Time, trade.Asset, trade.DeltaNotional, string(trade.Reason), trade.Cost).
			RunWith(tx)

		if _, err := insert.Exec(); err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeBacktestWriteFailed, "failed to insert trade", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestWriteFailed, "failed to commit trades", err)
	}

	return nil
}

// RecordPerformance appends one daily performance record.
func (b *BacktestState) RecordPerformance(record types.PerformanceRecord) error {
	insert := b.sq.
		Insert("performance").
		Columns("time", "portfolio_value", "daily_return").
		Values(record.Time, record.PortfolioValue, record.DailyReturn).
		RunWith(b.db)

	if _, err := insert.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestWriteFailed, "failed to insert performance record", err)
	}

	return nil
}

// GetAllTrades returns the trade log ordered by time.
func (b *BacktestState) GetAllTrades() ([]types.Trade, error) {
	query := b.sq.
		Select("trade_id", "time", "asset", "delta_notional", "reason", "cost").
		From("trades").
		OrderBy("time", "asset").
		RunWith(b.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.Trade

	for rows.Next() {
		var (
			trade  types.Trade
			reason string
		)

		if err := rows.Scan(&trade.TradeID, &trade.Time, &trade.Asset, &trade.DeltaNotional, &reason, &trade.Cost); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan trade", err)
		}

		trade.Time = trade.Time.UTC()
		trade.Reason = types.TradeReason(reason)
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating trades", err)
	}

	return trades, nil
}

// GetPerformance returns the daily performance series ordered by time.
func (b *BacktestState) GetPerformance() ([]types.PerformanceRecord, error) {
	query := b.sq.
		Select("time", "portfolio_value", "daily_return").
		From("performance").
		OrderBy("time").
		RunWith(b.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query performance", err)
	}
	defer rows.Close()

	var records []types.PerformanceRecord

	for rows.Next() {
		var record types.PerformanceRecord

		if err := rows.Scan(&record.Time, &record.PortfolioValue, &record.DailyReturn); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan performance record", err)
		}

		record.Time = record.Time.UTC()
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating performance records", err)
	}

	return records, nil
}

// Write exports the run's tables to Parquet files under the given path and
// returns the trades and performance file paths.
func (b *BacktestState) Write(path string) (string, string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", "", errors.Wrap(errors.ErrCodeBacktestWriteFailed, "failed to create results directory", err)
	}

	// Export to Parquet - using raw SQL as Squirrel doesn't support COPY
	tradesPath := filepath.Join(path, "trades.parquet")

	_, err := b.db.Exec(fmt.Sprintf(`COPY trades TO '%s' (FORMAT PARQUET)`, tradesPath))
	if err != nil {
		return "", "", errors.Wrap(errors.ErrCodeBacktestWriteFailed, "failed to export trades to Parquet", err)
	}

	performancePath := filepath.Join(path, "performance.parquet")

	_, err = b.db.Exec(fmt.Sprintf(`COPY performance TO '%s' (FORMAT PARQUET)`, performancePath))
	if err != nil {
		return "", "", errors.Wrap(errors.ErrCodeBacktestWriteFailed, "failed to export performance to Parquet", err)
	}

	b.logger.Info("Exported backtest results to Parquet files",
		zap.String("trades", tradesPath),
		zap.String("performance", performancePath),
	)

	return tradesPath, performancePath, nil
}

// Cleanup drops and recreates the result tables.
func (b *BacktestState) Cleanup() error {
	return b.Initialize()
}

func (b *BacktestState) Close() error {
	return b.db.Close()
}
