package panel

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/quantatlas-lab/factor-trading/internal/logger"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
	"go.uber.org/zap"
)

// Loader ingests a price panel from CSV or Parquet files through DuckDB.
// The date column may be named either `time` or `date`; `market_cap` is
// optional and surfaces as None when the column is absent.
type Loader struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewLoader creates a loader backed by an in-memory DuckDB instance.
func NewLoader(logger *logger.Logger) (*Loader, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}

	return &Loader{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Load reads all bars from the given file and builds a validated Panel.
func (l *Loader) Load(path string) (*Panel, error) {
	l.logger.Debug("Loading price panel", zap.String("path", path))

	readFn := "read_csv_auto"
	if filepath.Ext(path) == ".parquet" {
		readFn = "read_parquet"
	}

	// Drop the view if a previous Load created it.
	if _, err := l.db.Exec(`DROP VIEW IF EXISTS price_panel;`); err != nil {
		return nil, errors.Wrap(errors.ErrCodePanelLoadFailed, "failed to drop existing view", err)
	}

	query := fmt.Sprintf(`CREATE VIEW price_panel AS SELECT * FROM %s('%s');`, readFn, path)
	if _, err := l.db.Exec(query); err != nil {
		return nil, errors.Wrapf(errors.ErrCodePanelLoadFailed, err, "failed to read panel file %s", path)
	}

	columns, err := l.columnNames()
	if err != nil {
		return nil, err
	}

	dateColumn := "time"
	if !columns["time"] && columns["date"] {
		dateColumn = "date"
	}

	hasMarketCap := columns["market_cap"]

	selectColumns := []string{
		fmt.Sprintf("%s AS time", dateColumn),
		"asset", "open", "high", "low", "close", "volume",
	}
	if hasMarketCap {
		selectColumns = append(selectColumns, "market_cap")
	}

	selectQuery := l.sq.
		Select(selectColumns...).
		From("price_panel").
		OrderBy("asset", "time").
		RunWith(l.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query price panel", err)
	}
	defer rows.Close()

	var bars []types.PriceBar

	for rows.Next() {
		var (
			bar       types.PriceBar
			barTime   time.Time
			marketCap sql.NullFloat64
		)

		dest := []any{&barTime, &bar.Asset, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
		if hasMarketCap {
			dest = append(dest, &marketCap)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan price bar", err)
		}

		bar.Time = barTime.UTC()
		if marketCap.Valid {
			bar.MarketCap = optional.Some(marketCap.Float64)
		}

		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating price bars", err)
	}

	p, err := NewPanel(bars)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Price panel loaded",
		zap.String("path", path),
		zap.Int("assets", len(p.Assets())),
		zap.Int("dates", len(p.Dates())),
	)

	return p, nil
}

func (l *Loader) columnNames() (map[string]bool, error) {
	rows, err := l.db.Query(`SELECT column_name FROM information_schema.columns WHERE table_name = 'price_panel'`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to describe panel columns", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan column name", err)
		}

		columns[strings.ToLower(name)] = true
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating columns", err)
	}

	return columns, nil
}

// Close releases the underlying DuckDB connection.
func (l *Loader) Close() error {
	return l.db.Close()
}
