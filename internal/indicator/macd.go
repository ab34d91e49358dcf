package indicator

// MACDValue is one MACD reading.
type MACDValue struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD returns EMA12 − EMA26 of prices. The signal line is the 9-period EMA
// of the single current MACD value, so Signal == MACD and Histogram == 0.
// Use MACDSeries for a signal line smoothed across bars.
func MACD(prices []float64) MACDValue {
	macd := EMA(prices, MACDFast) - EMA(prices, MACDSlow)
	signal := EMA([]float64{macd}, MACDSignalN)
	return MACDValue{MACD: macd, Signal: signal, Histogram: macd - signal}
}

// MACDSeries returns the MACD reading for every prefix of prices with the
// signal line computed as the 9-period EMA over the MACD series.
func MACDSeries(prices []float64) []MACDValue {
	if len(prices) == 0 {
		return nil
	}
	fast := EMASeries(prices, MACDFast)
	slow := EMASeries(prices, MACDSlow)

	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = fast[i] - slow[i]
	}
	signal := EMASeries(line, MACDSignalN)

	out := make([]MACDValue, len(prices))
	for i := range line {
		out[i] = MACDValue{MACD: line[i], Signal: signal[i], Histogram: line[i] - signal[i]}
	}
	return out
}
