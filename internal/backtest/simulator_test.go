package backtest

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/classifier"
	"tradelab/internal/model"
	"tradelab/internal/strategy"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var start = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func makeBars(closes ...float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = model.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c, Low: c, Close: c, Volume: 100,
		}
	}
	return out
}

// scripted returns preset actions keyed by bar index.
type scripted struct {
	actions    map[int]model.Action
	sawLabeled bool
	calls      int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Decide(cur, prev model.LabeledBar) strategy.Decision {
	s.calls++
	if cur.Labeled || prev.Labeled {
		s.sawLabeled = true
	}
	i := int(cur.Timestamp.Sub(start) / time.Hour)
	if a, ok := s.actions[i]; ok {
		return strategy.Decision{Action: a, Reason: "script"}
	}
	return strategy.Hold("script")
}

func newSim(s strategy.Strategy) *Simulator {
	return New(s, Options{}, zerolog.Nop())
}

func countSides(trades []model.Trade) (buys, sells int) {
	for _, t := range trades {
		if t.Side == model.ActionBuy {
			buys++
		} else {
			sells++
		}
	}
	return
}

// ────────────────────────────────────────────────────────────
// Scenarios
// ────────────────────────────────────────────────────────────

func TestRun_BuyThenSell(t *testing.T) {
	s := &scripted{actions: map[int]model.Action{1: model.ActionBuy, 2: model.ActionSell}}
	res, err := newSim(s).Run(context.Background(), makeBars(100, 100, 110), 10000)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, int64(95), res.Trades[0].Quantity)
	assert.Zero(t, res.Trades[0].PnL)
	assert.Equal(t, 950.0, res.Trades[1].PnL)
	assert.InDelta(t, 0.095, res.TotalReturn, 1e-12)
	assert.Equal(t, 10950.0, res.FinalCapital)
	assert.Equal(t, 1, res.WinningTrades)
	assert.Equal(t, 2, res.TotalTrades)
	assert.Zero(t, res.MaxDrawdown)
	assert.Equal(t, 2, s.calls, "the first bar has no predecessor and is never decided")
}

func TestRun_ForceCloseAtEnd(t *testing.T) {
	s := &scripted{actions: map[int]model.Action{1: model.ActionBuy}}
	res, err := newSim(s).Run(context.Background(), makeBars(100, 100, 90, 120), 10000)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	last := res.Trades[1]
	assert.Equal(t, model.ActionSell, last.Side)
	assert.Equal(t, 120.0, last.Price)
	assert.Equal(t, 1900.0, last.PnL)
	assert.Contains(t, last.Reason, EndOfBacktest)
	assert.Equal(t, start.Add(3*time.Hour), last.Timestamp)
}

func TestRun_DrawdownOnRealizedCapital(t *testing.T) {
	s := &scripted{actions: map[int]model.Action{1: model.ActionBuy, 2: model.ActionSell, 3: model.ActionBuy, 4: model.ActionSell}}
	res, err := newSim(s).Run(context.Background(), makeBars(100, 100, 90, 100, 100), 10000)
	require.NoError(t, err)

	// loss of 95×10 on the first round trip
	assert.InDelta(t, 0.095, res.MaxDrawdown, 1e-12)
	require.Len(t, res.EquityCurve, 5)
	assert.Equal(t, 10000.0, res.EquityCurve[0].Capital)
	assert.Equal(t, 9050.0, res.EquityCurve[2].Capital)
	assert.InDelta(t, 0.095, res.EquityCurve[2].Drawdown, 1e-12)
	assert.Equal(t, 1, res.LosingTrades)
}

func TestRun_EmptySeries(t *testing.T) {
	res, err := newSim(&scripted{}).Run(context.Background(), nil, 10000)
	require.ErrorIs(t, err, model.ErrDataUnavailable)
	assert.Zero(t, res.TotalTrades)
	assert.Zero(t, res.TotalReturn)
	assert.Empty(t, res.Trades)
}

func TestRun_SingleBar(t *testing.T) {
	s := &scripted{actions: map[int]model.Action{0: model.ActionBuy}}
	res, err := newSim(s).Run(context.Background(), makeBars(100), 10000)
	require.NoError(t, err)
	assert.Zero(t, res.TotalTrades)
	assert.Zero(t, s.calls)
}

func TestRun_MatchingStateSignalsAreNoOps(t *testing.T) {
	s := &scripted{actions: map[int]model.Action{
		1: model.ActionSell, // flat: ignored
		2: model.ActionBuy,
		3: model.ActionBuy, // already long: ignored
		4: model.ActionSell,
		5: model.ActionSell, // flat again: ignored
	}}
	res, err := newSim(s).Run(context.Background(), makeBars(100, 100, 100, 50, 120, 130), 10000)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, 100.0, res.Trades[0].Price)
	assert.Equal(t, 120.0, res.Trades[1].Price)
}

func TestRun_InsufficientCapitalSkipsBuy(t *testing.T) {
	s := &scripted{actions: map[int]model.Action{1: model.ActionBuy}}
	res, err := newSim(s).Run(context.Background(), makeBars(100, 100, 100), 50)
	require.NoError(t, err)
	assert.Zero(t, res.TotalTrades)
	assert.Equal(t, 50.0, res.FinalCapital)
}

func TestRun_UnsortedInputIsNormalized(t *testing.T) {
	bars := makeBars(100, 100, 110)
	bars[0], bars[2] = bars[2], bars[0]
	s := &scripted{actions: map[int]model.Action{1: model.ActionBuy, 2: model.ActionSell}}

	res, err := newSim(s).Run(context.Background(), bars, 10000)
	require.NoError(t, err)
	assert.Equal(t, 950.0, res.Trades[1].PnL)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSim(&scripted{}).Run(ctx, makeBars(1, 2, 3), 1000)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_StrategyNeverSeesLabels(t *testing.T) {
	s := &scripted{}
	_, err := newSim(s).Run(context.Background(), makeBars(100, 101, 102, 103, 104, 105, 106), 1000)
	require.NoError(t, err)
	assert.False(t, s.sawLabeled)
	assert.Equal(t, 6, s.calls)
}

// ────────────────────────────────────────────────────────────
// Properties
// ────────────────────────────────────────────────────────────

func randomWalk(rng *rand.Rand, n int) []model.Bar {
	closes := make([]float64, n)
	p := 100.0
	for i := range closes {
		p *= 1 + (rng.Float64()-0.5)*0.06
		closes[i] = p
	}
	return makeBars(closes...)
}

func TestRun_BuysNeverExceedSellsPlusOne(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	actions := []model.Action{model.ActionBuy, model.ActionSell, model.ActionHold}

	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(120)
		script := map[int]model.Action{}
		for i := 0; i < n; i++ {
			script[i] = actions[rng.Intn(3)]
		}
		res, err := newSim(&scripted{actions: script}).Run(context.Background(), randomWalk(rng, n), 10000)
		require.NoError(t, err)

		buys, sells := countSides(res.Trades)
		assert.LessOrEqual(t, buys, sells+1)
		assert.Equal(t, buys, sells, "every run ends flat")
		for _, tr := range res.Trades {
			if tr.Side == model.ActionBuy {
				assert.Zero(t, tr.PnL)
				assert.Greater(t, tr.Quantity, int64(0))
			}
		}
		assert.GreaterOrEqual(t, res.MaxDrawdown, 0.0)
		assert.LessOrEqual(t, res.MaxDrawdown, 1.0)
	}
}

func TestRun_DeterministicWithFrozenClassifier(t *testing.T) {
	w := make([]float64, classifier.FeatureCount)
	w[classifier.FeatPriceVsSMA20] = 4
	w[classifier.FeatRSI] = -0.01

	run := func() model.BacktestResult {
		clf := classifier.New(classifier.Config{Seed: 1}, nil, zerolog.Nop())
		require.NoError(t, clf.Restore(model.ModelState{Weights: w, Bias: 0.2, Trained: true}))

		reg := strategy.DefaultRegistry(clf)
		hybrid, err := reg.Get(strategy.NameHybrid)
		require.NoError(t, err)

		bars := randomWalk(rand.New(rand.NewSource(11)), 300)
		res, err := New(hybrid, Options{}, zerolog.Nop()).Run(context.Background(), bars, 25000)
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, run(), run())
}
