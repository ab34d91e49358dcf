package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradelab/internal/model"
)

// NewRunID returns a fresh backtest run identifier.
func NewRunID() string { return uuid.NewString() }

// SaveRun persists a backtest run and its trade log. A run without an ID is
// assigned one. Implements model.RunJournal.
func (s *Store) SaveRun(ctx context.Context, run model.RunRecord) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	r := run.Result

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (
			id, symbol, strategy, bars, initial_capital, final_capital,
			total_return, total_trades, winning_trades, losing_trades, win_rate,
			max_drawdown, sharpe_ratio, profit_factor, avg_trade_return, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, run.Strategy, run.Bars, r.InitialCapital, r.FinalCapital,
		r.TotalReturn, r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate,
		r.MaxDrawdown, r.SharpeRatio, r.ProfitFactor, r.AvgTradeReturn, run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades (run_id, seq, ts, side, price, qty, pnl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare trades: %w", err)
	}
	defer stmt.Close()

	for i, t := range r.Trades {
		if _, err := stmt.ExecContext(ctx, run.ID, i, t.Timestamp.UnixMilli(), string(t.Side), t.Price, t.Quantity, t.PnL, t.Reason); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert trade: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit run: %w", err)
	}

	s.log.Info().
		Str("run_id", run.ID).
		Str("symbol", run.Symbol).
		Str("strategy", run.Strategy).
		Int("trades", len(r.Trades)).
		Msg("journaled backtest run")
	return nil
}

// ListRuns returns the newest runs first, without their trade logs.
// Implements model.RunJournal.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, strategy, bars, initial_capital, final_capital,
			total_return, total_trades, winning_trades, losing_trades, win_rate,
			max_drawdown, sharpe_ratio, profit_factor, avg_trade_return, created_at
		FROM backtest_runs
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var run model.RunRecord
		var created int64
		r := &run.Result
		if err := rows.Scan(&run.ID, &run.Symbol, &run.Strategy, &run.Bars, &r.InitialCapital, &r.FinalCapital,
			&r.TotalReturn, &r.TotalTrades, &r.WinningTrades, &r.LosingTrades, &r.WinRate,
			&r.MaxDrawdown, &r.SharpeRatio, &r.ProfitFactor, &r.AvgTradeReturn, &created); err != nil {
			return nil, fmt.Errorf("sqlite scan run: %w", err)
		}
		run.CreatedAt = time.UnixMilli(created).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ErrRunNotFound is returned by Run for an unknown ID.
var ErrRunNotFound = model.ErrRunNotFound

// Run loads one run including its trade log.
func (s *Store) Run(ctx context.Context, id string) (model.RunRecord, error) {
	var run model.RunRecord
	var created int64
	r := &run.Result
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, strategy, bars, initial_capital, final_capital,
			total_return, total_trades, winning_trades, losing_trades, win_rate,
			max_drawdown, sharpe_ratio, profit_factor, avg_trade_return, created_at
		FROM backtest_runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Symbol, &run.Strategy, &run.Bars, &r.InitialCapital, &r.FinalCapital,
			&r.TotalReturn, &r.TotalTrades, &r.WinningTrades, &r.LosingTrades, &r.WinRate,
			&r.MaxDrawdown, &r.SharpeRatio, &r.ProfitFactor, &r.AvgTradeReturn, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return run, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return run, fmt.Errorf("sqlite query run: %w", err)
	}
	run.CreatedAt = time.UnixMilli(created).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, side, price, qty, pnl, reason
		FROM backtest_trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return run, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	r.Trades = []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var ms int64
		var side string
		var reason sql.NullString
		if err := rows.Scan(&ms, &side, &t.Price, &t.Quantity, &t.PnL, &reason); err != nil {
			return run, fmt.Errorf("sqlite scan trade: %w", err)
		}
		t.Timestamp = time.UnixMilli(ms).UTC()
		t.Side = model.Action(side)
		t.Reason = reason.String
		r.Trades = append(r.Trades, t)
	}
	return run, rows.Err()
}

// SaveModelState stores a classifier state snapshot, keeping the last 10.
func (s *Store) SaveModelState(ctx context.Context, st model.ModelState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal model state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `INSERT INTO model_states (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("sqlite insert model state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM model_states WHERE id NOT IN (SELECT id FROM model_states ORDER BY id DESC LIMIT 10)`)
	if err != nil {
		s.log.Warn().Err(err).Msg("prune model states")
	}
	return nil
}

// LoadModelState returns the newest stored state; ok is false if none exist.
func (s *Store) LoadModelState(ctx context.Context) (model.ModelState, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM model_states ORDER BY id DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ModelState{}, false, nil
	}
	if err != nil {
		return model.ModelState{}, false, fmt.Errorf("sqlite query model state: %w", err)
	}
	var st model.ModelState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return model.ModelState{}, false, fmt.Errorf("decode model state: %w", err)
	}
	return st, true, nil
}
