// Package performance turns trade logs into backtest statistics and
// prediction outcomes into classification metrics. Every ratio resolves
// zero denominators to a fixed sentinel so results never carry NaN or Inf.
package performance

import (
	"math"

	"tradelab/internal/model"
)

// Profit factor sentinels.
const (
	// ProfitFactorNoLosses is reported when there is profit but no loss.
	ProfitFactorNoLosses = 10.0
	// ProfitFactorFlat is reported when there is neither profit nor loss.
	ProfitFactorFlat = 1.0
)

// Summarize computes the backtest statistics for a trade log.
// Only SELL trades count as completed; TotalTrades counts every entry.
func Summarize(trades []model.Trade, initialCapital, finalCapital, maxDrawdown float64) model.BacktestResult {
	res := model.BacktestResult{
		TotalTrades:    len(trades),
		MaxDrawdown:    safe(maxDrawdown),
		Trades:         trades,
		InitialCapital: initialCapital,
		FinalCapital:   finalCapital,
		ProfitFactor:   ProfitFactorFlat,
	}
	if initialCapital > 0 {
		res.TotalReturn = safe((finalCapital - initialCapital) / initialCapital)
	}

	var grossProfit, grossLoss float64
	returns := make([]float64, 0, len(trades)/2+1)
	for _, t := range trades {
		if t.Side != model.ActionSell {
			continue
		}
		switch {
		case t.PnL > 0:
			res.WinningTrades++
			grossProfit += t.PnL
		case t.PnL < 0:
			res.LosingTrades++
			grossLoss -= t.PnL
		}
		if initialCapital > 0 {
			returns = append(returns, t.PnL/initialCapital)
		} else {
			returns = append(returns, 0)
		}
	}

	if n := len(returns); n > 0 {
		res.WinRate = float64(res.WinningTrades) / float64(n)
	}
	res.ProfitFactor = ProfitFactor(grossProfit, grossLoss)

	mean, std := meanStd(returns)
	res.AvgTradeReturn = safe(mean)
	if std == 0 {
		std = 1
	}
	res.SharpeRatio = safe(mean / std)
	return res
}

// ProfitFactor is grossProfit/grossLoss with the documented sentinels.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	switch {
	case grossLoss > 0:
		return safe(grossProfit / grossLoss)
	case grossProfit > 0:
		return ProfitFactorNoLosses
	default:
		return ProfitFactorFlat
	}
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// ratio divides, returning 0 on a zero denominator.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return safe(num / den)
}

func safe(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
