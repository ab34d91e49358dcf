// Package backtest replays a strategy over historical bars with a single
// long-or-flat position and reports the resulting trade log and statistics.
//
// The simulator takes raw bars and computes indicators itself, one prefix at
// a time, so neither labels nor future prices can reach a decision.
package backtest

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"tradelab/internal/indicator"
	"tradelab/internal/logger"
	"tradelab/internal/model"
	"tradelab/internal/performance"
	"tradelab/internal/strategy"
)

// DefaultPositionFraction is the share of capital committed on entry; the
// remainder is kept as a buffer.
const DefaultPositionFraction = 0.95

// EndOfBacktest is the reason recorded on the forced final close.
const EndOfBacktest = "end of backtest"

// Options tune a Simulator.
type Options struct {
	Indicators       indicator.Options
	PositionFraction float64 // 0 = DefaultPositionFraction
}

// Simulator runs one strategy. A Simulator holds no per-run state and may be
// reused, but a single Run is sequential.
type Simulator struct {
	strategy strategy.Strategy
	opts     Options
	log      zerolog.Logger
}

// New creates a simulator for s.
func New(s strategy.Strategy, opts Options, log zerolog.Logger) *Simulator {
	if opts.PositionFraction <= 0 || opts.PositionFraction > 1 {
		opts.PositionFraction = DefaultPositionFraction
	}
	return &Simulator{
		strategy: s,
		opts:     opts,
		log:      log.With().Str("component", "backtest").Str("strategy", s.Name()).Logger(),
	}
}

// run is the mutable state of one replay.
type run struct {
	capital  float64
	position model.Position
	trades   []model.Trade
	drawdown *performance.DrawdownTracker
	equity   []model.EquityPoint
}

// Run replays bars with initialCapital. An empty series yields a zero result
// and an error wrapping model.ErrDataUnavailable. Cancelling ctx aborts the
// replay and returns ctx.Err().
func (s *Simulator) Run(ctx context.Context, bars []model.Bar, initialCapital float64) (model.BacktestResult, error) {
	log := logger.FromContext(ctx, s.log)

	if len(bars) == 0 {
		log.Warn().Msg("no bars to replay")
		return performance.Summarize(nil, initialCapital, initialCapital, 0),
			fmt.Errorf("backtest: empty series: %w", model.ErrDataUnavailable)
	}

	enriched := indicator.Enrich(model.NormalizeBars(bars), s.opts.Indicators)

	r := &run{
		capital:  initialCapital,
		trades:   make([]model.Trade, 0, 64),
		drawdown: performance.NewDrawdownTracker(initialCapital),
		equity:   make([]model.EquityPoint, 0, len(enriched)),
	}
	r.equity = append(r.equity, model.EquityPoint{Timestamp: enriched[0].Timestamp, Capital: r.capital})

	for i := 1; i < len(enriched); i++ {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("bar", i).Msg("backtest cancelled")
			return model.BacktestResult{}, err
		}

		cur := enriched[i]
		d := s.strategy.Decide(cur, enriched[i-1])
		switch d.Action {
		case model.ActionBuy:
			s.open(r, cur.Bar, d)
		case model.ActionSell:
			s.close(r, cur.Bar, d.Reason)
		}

		dd := r.drawdown.Update(r.capital)
		r.equity = append(r.equity, model.EquityPoint{Timestamp: cur.Timestamp, Capital: r.capital, Drawdown: dd})
	}

	if r.position.Open {
		s.close(r, enriched[len(enriched)-1].Bar, EndOfBacktest)
	}

	res := performance.Summarize(r.trades, initialCapital, r.capital, r.drawdown.Max())
	res.EquityCurve = r.equity

	log.Info().
		Int("bars", len(enriched)).
		Int("trades", res.TotalTrades).
		Float64("total_return", res.TotalReturn).
		Float64("max_drawdown", res.MaxDrawdown).
		Msg("backtest complete")
	return res, nil
}

// open enters a long position at the bar's close. No-op while already long,
// or when the position would be less than one unit.
func (s *Simulator) open(r *run, b model.Bar, d strategy.Decision) {
	if r.position.Open || b.Close <= 0 {
		return
	}
	qty := int64(math.Floor(s.opts.PositionFraction * r.capital / b.Close))
	if qty < 1 {
		s.log.Debug().Float64("capital", r.capital).Float64("price", b.Close).Msg("buy skipped: insufficient capital")
		return
	}

	r.position = model.Position{Open: true, EntryPrice: b.Close, EntryTimestamp: b.Timestamp, Quantity: qty}
	r.trades = append(r.trades, model.Trade{
		Timestamp: b.Timestamp,
		Side:      model.ActionBuy,
		Price:     b.Close,
		Quantity:  qty,
		Reason:    "open long: " + d.Reason,
	})
}

// close exits the open position at the bar's close and realizes PnL.
// No-op while flat.
func (s *Simulator) close(r *run, b model.Bar, reason string) {
	if !r.position.Open {
		return
	}
	pnl := r.position.UnrealizedPnL(b.Close)
	r.trades = append(r.trades, model.Trade{
		Timestamp: b.Timestamp,
		Side:      model.ActionSell,
		Price:     b.Close,
		Quantity:  r.position.Quantity,
		PnL:       pnl,
		Reason:    fmt.Sprintf("close long (entry %.2f): %s", r.position.EntryPrice, reason),
	})
	r.capital += pnl
	r.position = model.Position{}
}
