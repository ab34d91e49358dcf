package performance

// DrawdownTracker follows realized equity and records the worst
// peak-to-trough decline as a fraction of the peak.
type DrawdownTracker struct {
	peak float64
	max  float64
}

// NewDrawdownTracker starts tracking from the initial equity.
func NewDrawdownTracker(initial float64) *DrawdownTracker {
	return &DrawdownTracker{peak: initial}
}

// Update records the current equity and returns its drawdown from the peak.
func (d *DrawdownTracker) Update(equity float64) float64 {
	if equity > d.peak {
		d.peak = equity
	}
	dd := 0.0
	if d.peak > 0 {
		dd = safe((d.peak - equity) / d.peak)
	}
	if dd > d.max {
		d.max = dd
	}
	return dd
}

// Peak returns the highest equity seen.
func (d *DrawdownTracker) Peak() float64 { return d.peak }

// Max returns the maximum drawdown seen.
func (d *DrawdownTracker) Max() float64 { return d.max }
