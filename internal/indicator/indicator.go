// Package indicator computes the technical indicators used by every strategy:
// SMA, EMA, RSI, MACD and a fixed-width band around SMA20.
//
// All functions are pure and deterministic. A snapshot for bar i is always
// computed from closes[0..i], so no value can depend on a later bar.
package indicator

import "tradelab/internal/model"

// Standard periods.
const (
	RSIPeriod    = 14
	ShortSMA     = 20
	LongSMA      = 50
	MACDFast     = 12
	MACDSlow     = 26
	MACDSignalN  = 9
	BandWidthPct = 0.02
)

// Options tune snapshot computation.
type Options struct {
	// TrueMACDSignal selects the 9-period EMA over the per-bar MACD series as
	// the signal line. When false the signal line is the EMA of a single MACD
	// value, which equals MACD itself and leaves the histogram at zero.
	TrueMACDSignal bool
}

// Snapshot computes the indicator snapshot for the last element of closes.
// closes must be the full prefix ending at the bar of interest.
func Snapshot(closes []float64, opts Options) model.IndicatorSnapshot {
	sma20 := SMA(closes, ShortSMA)

	var m MACDValue
	if opts.TrueMACDSignal {
		series := MACDSeries(closes)
		if len(series) > 0 {
			m = series[len(series)-1]
		}
	} else {
		m = MACD(closes)
	}

	upper, middle, lower := Bollinger(sma20)
	return model.IndicatorSnapshot{
		RSI:             RSI(closes, RSIPeriod),
		SMA20:           sma20,
		SMA50:           SMA(closes, LongSMA),
		MACD:            m.MACD,
		MACDSignal:      m.Signal,
		MACDHistogram:   m.Histogram,
		BollingerUpper:  upper,
		BollingerMiddle: middle,
		BollingerLower:  lower,
	}
}

// Enrich attaches a snapshot to every bar. The result carries no labels.
func Enrich(bars []model.Bar, opts Options) []model.LabeledBar {
	if len(bars) == 0 {
		return nil
	}
	closes := model.Closes(bars)

	// EMA of a prefix equals the running EMA at that index, so MACD for every
	// prefix comes from one pass.
	var macd []MACDValue
	if opts.TrueMACDSignal {
		macd = MACDSeries(closes)
	} else {
		fast := EMASeries(closes, MACDFast)
		slow := EMASeries(closes, MACDSlow)
		macd = make([]MACDValue, len(closes))
		for i := range closes {
			v := fast[i] - slow[i]
			macd[i] = MACDValue{MACD: v, Signal: v}
		}
	}

	out := make([]model.LabeledBar, len(bars))
	for i, b := range bars {
		prefix := closes[:i+1]
		sma20 := SMA(prefix, ShortSMA)
		upper, middle, lower := Bollinger(sma20)
		out[i] = model.LabeledBar{
			Bar: b,
			Indicators: model.IndicatorSnapshot{
				RSI:             RSI(prefix, RSIPeriod),
				SMA20:           sma20,
				SMA50:           SMA(prefix, LongSMA),
				MACD:            macd[i].MACD,
				MACDSignal:      macd[i].Signal,
				MACDHistogram:   macd[i].Histogram,
				BollingerUpper:  upper,
				BollingerMiddle: middle,
				BollingerLower:  lower,
			},
		}
	}
	return out
}
