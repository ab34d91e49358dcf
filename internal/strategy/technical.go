package strategy

import "tradelab/internal/model"

// Technical RSI thresholds.
const (
	Oversold   = 30.0
	Overbought = 70.0
)

// Technical is the rule-based strategy. Rules are checked in priority order
// and the first match wins:
//
//  1. RSI oversold and close crosses above SMA20 → BUY
//  2. RSI overbought and close crosses below SMA20 → SELL
//  3. golden cross (SMA20 crosses above SMA50) → BUY
//  4. death cross (SMA20 crosses below SMA50) → SELL
type Technical struct{}

// NewTechnical creates the technical strategy.
func NewTechnical() *Technical { return &Technical{} }

func (t *Technical) Name() string { return NameTechnical }

// Decide implements Strategy.
func (t *Technical) Decide(cur, prev model.LabeledBar) Decision {
	rsi := cur.Indicators.RSI
	if rsi == 0 {
		rsi = 50
	}
	price := cur.Close
	sma20, sma50 := cur.Indicators.SMA20, cur.Indicators.SMA50
	prevSMA20, prevSMA50 := prev.Indicators.SMA20, prev.Indicators.SMA50

	switch {
	case rsi < Oversold && price > sma20 && prev.Close <= prevSMA20:
		return Decision{Action: model.ActionBuy, Reason: "RSI oversold, price crossed above SMA20"}
	case rsi > Overbought && price < sma20 && prev.Close >= prevSMA20:
		return Decision{Action: model.ActionSell, Reason: "RSI overbought, price crossed below SMA20"}
	case sma20 > sma50 && prevSMA20 <= prevSMA50:
		return Decision{Action: model.ActionBuy, Reason: "golden cross (SMA20 > SMA50)"}
	case sma20 < sma50 && prevSMA20 >= prevSMA50:
		return Decision{Action: model.ActionSell, Reason: "death cross (SMA20 < SMA50)"}
	}
	return Hold("no technical setup")
}
