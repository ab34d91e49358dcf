package strategy

import (
	"math"

	"tradelab/internal/model"
)

// Signal strengths.
const (
	StrengthStrong   = "STRONG"
	StrengthModerate = "MODERATE"
	StrengthWeak     = "WEAK"
)

// Blending weights for the live path.
const (
	agreeTechWeight  = 0.4
	agreeModelWeight = 0.6
	dominantModel    = 80.0
	weakModel        = 60.0
	techDiscount     = 0.8
	soloDiscount     = 0.7
	holdConfidence   = 50.0
)

// LiveTechnical is the single-bar technical signal used on the live path.
// Unlike Technical it does not need the previous bar and always reports a
// confidence.
func LiveTechnical(price float64, ind model.IndicatorSnapshot) Decision {
	rsi := ind.RSI
	switch {
	case rsi < Oversold && price > ind.SMA20:
		return Decision{
			Action:     model.ActionBuy,
			Confidence: math.Min(90, 60+(Oversold-rsi)),
			Reason:     "RSI oversold with price above SMA20",
		}
	case rsi > Overbought && price < ind.SMA20:
		return Decision{
			Action:     model.ActionSell,
			Confidence: math.Min(90, 60+(rsi-Overbought)),
			Reason:     "RSI overbought with price below SMA20",
		}
	case ind.SMA20 > ind.SMA50 && price > ind.SMA20:
		return Decision{Action: model.ActionBuy, Confidence: 70, Reason: "uptrend (SMA20 > SMA50)"}
	case ind.SMA20 < ind.SMA50 && price < ind.SMA20:
		return Decision{Action: model.ActionSell, Confidence: 70, Reason: "downtrend (SMA20 < SMA50)"}
	}
	return Decision{Action: model.ActionHold, Confidence: holdConfidence, Reason: "no technical setup"}
}

// Blend merges the live technical decision with an optional model prediction.
// Rules, first match wins:
//
//  1. both non-HOLD and equal → 0.4·tech + 0.6·model
//  2. model non-HOLD at ≥80 → model
//  3. model absent or below 60, technical non-HOLD → technical at 0.8
//  4. exactly one side non-HOLD → that side at 0.7
//  5. HOLD at 50
func Blend(tech Decision, ml *model.Prediction) Decision {
	techActs := tech.Action != model.ActionHold
	mlActs := ml != nil && ml.Action != model.ActionHold

	switch {
	case techActs && mlActs && tech.Action == ml.Action:
		return Decision{
			Action:     tech.Action,
			Confidence: agreeTechWeight*tech.Confidence + agreeModelWeight*ml.Confidence,
			Reason:     "technical and model agree",
		}
	case mlActs && ml.Confidence >= dominantModel:
		return Decision{Action: ml.Action, Confidence: ml.Confidence, Reason: "high-confidence model"}
	case (ml == nil || ml.Confidence < weakModel) && techActs:
		return Decision{Action: tech.Action, Confidence: techDiscount * tech.Confidence, Reason: "technical, model weak"}
	case techActs && !mlActs:
		return Decision{Action: tech.Action, Confidence: soloDiscount * tech.Confidence, Reason: "technical only"}
	case mlActs && !techActs:
		return Decision{Action: ml.Action, Confidence: soloDiscount * ml.Confidence, Reason: "model only"}
	}
	return Decision{Action: model.ActionHold, Confidence: holdConfidence, Reason: "no consensus"}
}

// Strength buckets a confidence value.
func Strength(confidence float64) string {
	switch {
	case confidence >= 80:
		return StrengthStrong
	case confidence >= 60:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}
