// Package labeler assigns retrospective BUY/SELL/HOLD labels to enriched bars
// by looking a fixed number of bars ahead.
//
// Labels look into the future. They exist for training and evaluating the
// classifier only and must never reach a backtest or live decision.
package labeler

import (
	"math"

	"tradelab/internal/model"
)

// Policy controls labeling.
type Policy struct {
	Lookahead int     // bars ahead to compare against
	Threshold float64 // fractional move required for BUY/SELL
}

// DefaultPolicy is 4 bars ahead with a ±2% threshold.
var DefaultPolicy = Policy{Lookahead: 4, Threshold: 0.02}

func (p Policy) normalized() Policy {
	if p.Lookahead <= 0 {
		p.Lookahead = DefaultPolicy.Lookahead
	}
	if p.Threshold <= 0 {
		p.Threshold = DefaultPolicy.Threshold
	}
	return p
}

// Classify labels a single price move from now to future.
func (p Policy) Classify(now, future float64) (label model.Action, change, profitability float64) {
	p = p.normalized()
	if now == 0 {
		return model.ActionHold, 0, 0
	}
	change = (future - now) / now
	switch {
	case change > p.Threshold:
		return model.ActionBuy, change, change
	case change < -p.Threshold:
		return model.ActionSell, change, math.Abs(change)
	default:
		return model.ActionHold, change, 0
	}
}

// Label returns a labeled copy of bars. The final Lookahead bars have no
// future to compare against and are labeled HOLD with zero return.
func Label(bars []model.LabeledBar, p Policy) []model.LabeledBar {
	p = p.normalized()
	out := make([]model.LabeledBar, len(bars))
	for i, b := range bars {
		b.Labeled = true
		if j := i + p.Lookahead; j < len(bars) {
			b.Label, b.FutureReturn, b.Profitability = p.Classify(b.Close, bars[j].Close)
		} else {
			b.Label, b.FutureReturn, b.Profitability = model.ActionHold, 0, 0
		}
		out[i] = b
	}
	return out
}

// Counts tallies labels by action.
func Counts(bars []model.LabeledBar) map[model.Action]int {
	counts := map[model.Action]int{model.ActionBuy: 0, model.ActionSell: 0, model.ActionHold: 0}
	for _, b := range bars {
		if b.Labeled {
			counts[b.Label]++
		}
	}
	return counts
}
