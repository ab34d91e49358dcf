package indicator

// EMA returns the exponential moving average of prices, seeded with the first
// price and smoothed with α = 2/(period+1). Empty input yields 0.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	alpha := 2.0 / float64(period+1)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = p*alpha + ema*(1-alpha)
	}
	return ema
}

// EMASeries returns the running EMA after each price, i.e.
// EMASeries(p, n)[i] == EMA(p[:i+1], n).
func EMASeries(prices []float64, period int) []float64 {
	if len(prices) == 0 {
		return nil
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(prices))
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = prices[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}
