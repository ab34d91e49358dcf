package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These decouple the analysis pipeline from concrete suppliers and stores
// (Binance, SQLite, Redis).

// RangeSpec selects a window of history.
type RangeSpec struct {
	Days     int       // look-back window in days
	End      time.Time // zero = now
	Interval string    // kline interval, e.g. "1h"
}

// Window resolves the range into [start, end].
func (r RangeSpec) Window(now time.Time) (time.Time, time.Time) {
	end := r.End
	if end.IsZero() {
		end = now
	}
	days := r.Days
	if days <= 0 {
		days = 30
	}
	return end.Add(-time.Duration(days) * 24 * time.Hour), end
}

// BarSource supplies historical bars for a symbol, ascending by time.
// An empty slice is a valid answer.
type BarSource interface {
	Fetch(ctx context.Context, symbol string, rng RangeSpec) ([]Bar, error)
}

// SeriesCache is an opaque key→series store.
type SeriesCache interface {
	// Get returns (bars, true, nil) on a hit and (nil, false, nil) on a miss.
	Get(ctx context.Context, key string) ([]Bar, bool, error)

	// Set stores bars under key for ttl (0 = store default).
	Set(ctx context.Context, key string, bars []Bar, ttl time.Duration) error
}

// BarWriter persists bars, e.g. for offline backtests.
type BarWriter interface {
	WriteBars(ctx context.Context, symbol string, bars []Bar) (int, error)
}

// RunRecord describes a journaled backtest run.
type RunRecord struct {
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol"`
	Strategy  string         `json:"strategy"`
	Bars      int            `json:"bars"`
	Result    BacktestResult `json:"result"`
	CreatedAt time.Time      `json:"created_at"`
}

// RunJournal persists backtest runs for later comparison.
type RunJournal interface {
	SaveRun(ctx context.Context, run RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
