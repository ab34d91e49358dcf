package indicator

// RSI computes the Relative Strength Index from simple averages of the gains
// and losses over the trailing period deltas.
//
// Returns 50 when fewer than period+1 prices are available and 100 when the
// window contains no losses.
func RSI(prices []float64, period int) float64 {
	n := len(prices)
	if period <= 0 || n < period+1 {
		return 50
	}

	var gains, losses float64
	for i := n - period; i < n; i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
