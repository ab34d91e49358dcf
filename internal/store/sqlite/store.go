// Package sqlite persists bars, backtest runs and classifier state to a
// single SQLite database in WAL mode.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store owns the database handle. Writes are serialized.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With().Str("component", "sqlite").Logger()
	log.Info().Str("path", path).Msg("opened database")
	return &Store{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL    NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS backtest_runs (
			id               TEXT    PRIMARY KEY,
			symbol           TEXT    NOT NULL,
			strategy         TEXT    NOT NULL,
			bars             INTEGER NOT NULL,
			initial_capital  REAL    NOT NULL,
			final_capital    REAL    NOT NULL,
			total_return     REAL    NOT NULL,
			total_trades     INTEGER NOT NULL,
			winning_trades   INTEGER NOT NULL,
			losing_trades    INTEGER NOT NULL,
			win_rate         REAL    NOT NULL,
			max_drawdown     REAL    NOT NULL,
			sharpe_ratio     REAL    NOT NULL,
			profit_factor    REAL    NOT NULL,
			avg_trade_return REAL    NOT NULL,
			created_at       INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON backtest_runs(created_at);

		CREATE TABLE IF NOT EXISTS backtest_trades (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id   TEXT    NOT NULL REFERENCES backtest_runs(id),
			seq      INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			side     TEXT    NOT NULL,
			price    REAL    NOT NULL,
			qty      INTEGER NOT NULL,
			pnl      REAL    NOT NULL,
			reason   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id, seq);

		CREATE TABLE IF NOT EXISTS model_states (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
