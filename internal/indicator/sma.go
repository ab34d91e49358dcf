package indicator

// SMA returns the mean of the last period prices. With fewer than period
// prices it returns the last price; an empty series yields 0.
func SMA(prices []float64, period int) float64 {
	n := len(prices)
	if n == 0 {
		return 0
	}
	if period <= 0 || n < period {
		return prices[n-1]
	}

	sum := 0.0
	for _, p := range prices[n-period:] {
		sum += p
	}
	return sum / float64(period)
}
