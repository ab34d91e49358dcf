package indicator

// Bollinger returns a fixed ±2% band around sma20. It is not a
// standard-deviation band.
func Bollinger(sma20 float64) (upper, middle, lower float64) {
	return sma20 * (1 + BandWidthPct), sma20, sma20 * (1 - BandWidthPct)
}
