package model

import (
	"math"
	"sort"
	"time"
)

// Bar is one OHLCV price bar. Bars are produced by a data supplier and never
// mutated afterwards.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// BarEvent is a closed bar for one symbol on a live feed.
type BarEvent struct {
	Symbol string `json:"symbol"`
	Bar    Bar    `json:"bar"`
}

// IndicatorSnapshot holds the indicators computed from the prefix of bars
// ending at (and including) one bar.
type IndicatorSnapshot struct {
	RSI             float64 `json:"rsi"`
	SMA20           float64 `json:"sma20"`
	SMA50           float64 `json:"sma50"`
	MACD            float64 `json:"macd"`
	MACDSignal      float64 `json:"macd_signal"`
	MACDHistogram   float64 `json:"macd_histogram"`
	BollingerUpper  float64 `json:"bollinger_upper"`
	BollingerMiddle float64 `json:"bollinger_middle"`
	BollingerLower  float64 `json:"bollinger_lower"`
}

// LabeledBar is a Bar enriched with its indicator snapshot and, for training
// data only, a retrospective label.
type LabeledBar struct {
	Bar
	Indicators IndicatorSnapshot `json:"indicators"`

	Labeled       bool    `json:"labeled"`
	Label         Action  `json:"label,omitempty"`
	FutureReturn  float64 `json:"future_return"`
	Profitability float64 `json:"profitability"`
}

// Unlabeled returns a copy with the label fields cleared.
func (lb LabeledBar) Unlabeled() LabeledBar {
	lb.Labeled = false
	lb.Label = ""
	lb.FutureReturn = 0
	lb.Profitability = 0
	return lb
}

// NormalizeBars sorts bars ascending by timestamp and drops duplicates,
// keeping the last bar seen for a timestamp. Bars whose close is not a
// positive finite number are dropped. The input slice is not modified.
func NormalizeBars(bars []Bar) []Bar {
	if len(bars) == 0 {
		return nil
	}
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 && !math.IsInf(b.Close, 0) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	n := 0
	for i := range out {
		if n > 0 && out[n-1].Timestamp.Equal(out[i].Timestamp) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// Closes extracts the closing prices.
func Closes(bars []Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
