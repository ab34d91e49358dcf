package sqlite

import (
	"context"
	"fmt"
	"time"

	"tradelab/internal/model"
)

// WriteBars upserts bars for symbol in one transaction and returns how many
// rows were written. Implements model.BarWriter.
func (s *Store) WriteBars(ctx context.Context, symbol string, bars []model.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite prepare bars: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.Timestamp.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlite insert bar: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit bars: %w", err)
	}

	s.log.Debug().
		Str("symbol", symbol).
		Int("bars", len(bars)).
		Dur("elapsed", time.Since(start)).
		Msg("committed bars")
	return len(bars), nil
}

// Fetch returns the stored bars for symbol inside the range window, ascending.
// Implements model.BarSource.
func (s *Store) Fetch(ctx context.Context, symbol string, rng model.RangeSpec) ([]model.Bar, error) {
	from, to := rng.Window(time.Now())
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var ms int64
		if err := rows.Scan(&ms, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bar: %w", err)
		}
		b.Timestamp = time.UnixMilli(ms).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LastTimestamp returns the newest stored bar time for symbol, or the zero
// time if none exist.
func (s *Store) LastTimestamp(ctx context.Context, symbol string) (time.Time, error) {
	var ms *int64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM bars WHERE symbol = ?`, symbol).Scan(&ms); err != nil {
		return time.Time{}, fmt.Errorf("sqlite max ts: %w", err)
	}
	if ms == nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(*ms).UTC(), nil
}

// Symbols lists the symbols with stored bars.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
