package classifier

import "tradelab/internal/model"

// FeatureCount is the length of every feature vector.
const FeatureCount = 10

// Feature vector layout.
const (
	FeatRSI = iota
	FeatSMA20
	FeatSMA50
	FeatMACD
	FeatMACDSignal
	FeatMACDHistogram
	FeatVolume
	FeatPriceVsSMA20
	FeatSMA20VsSMA50
	FeatProfitability
)

// Extract builds a feature vector from an indicator snapshot and the bar's
// close and volume. Zero-valued inputs fall back: RSI to 50, the SMAs to the
// close, and ratio terms to 0 when their denominator is 0.
func Extract(ind model.IndicatorSnapshot, close, volume, profitability float64) []float64 {
	rsi := ind.RSI
	if rsi == 0 {
		rsi = 50
	}
	sma20 := ind.SMA20
	if sma20 == 0 {
		sma20 = close
	}
	sma50 := ind.SMA50
	if sma50 == 0 {
		sma50 = close
	}

	f := make([]float64, FeatureCount)
	f[FeatRSI] = rsi
	f[FeatSMA20] = sma20
	f[FeatSMA50] = sma50
	f[FeatMACD] = ind.MACD
	f[FeatMACDSignal] = ind.MACDSignal
	f[FeatMACDHistogram] = ind.MACDHistogram
	f[FeatVolume] = volume
	// Ratios use the raw snapshot values, as a zero SMA means "not available".
	if ind.SMA20 != 0 {
		f[FeatPriceVsSMA20] = (close - ind.SMA20) / ind.SMA20
	}
	if ind.SMA50 != 0 {
		f[FeatSMA20VsSMA50] = (ind.SMA20 - ind.SMA50) / ind.SMA50
	}
	f[FeatProfitability] = profitability
	return f
}

// DecisionFeatures is the vector used when deciding on a bar. Profitability
// is derived from future prices and is therefore always 0 here.
func DecisionFeatures(lb model.LabeledBar) []float64 {
	return Extract(lb.Indicators, lb.Close, lb.Volume, 0)
}

// TrainingFeatures is the vector used for training and incremental updates.
// It includes the label's profitability.
func TrainingFeatures(lb model.LabeledBar) []float64 {
	return Extract(lb.Indicators, lb.Close, lb.Volume, lb.Profitability)
}

// dataset converts labeled samples into X and targets y (BUY=1, SELL=-1,
// HOLD=0). Unlabeled samples are skipped.
func dataset(samples []model.LabeledBar) ([][]float64, []float64) {
	X := make([][]float64, 0, len(samples))
	y := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !s.Labeled {
			continue
		}
		X = append(X, TrainingFeatures(s))
		y = append(y, s.Label.Target())
	}
	return X, y
}
