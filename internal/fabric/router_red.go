package fabric

// REDParams holds the Random Early Detection thresholds applied against a
// cell's exponentially-weighted moving average occupancy on every arrival.
type REDParams struct {
	Weight float64 // EWMA smoothing factor w in avg = (1-w)*avg + w*current
	MinTh  float64 // below this average, never drop
	MaxTh  float64 // at or above this average, always drop
	MaxP   float64 // drop probability at the MaxTh boundary (linear ramp from MinTh)
}

// DefaultREDParams returns commonly-used RED tuning (w=0.002, a gentle ramp
// between occupancy 5 and 15 packets, 10% max drop probability).
func DefaultREDParams() REDParams {
	return REDParams{
		Weight: 0.002,
		MinTh:  5,
		MaxTh:  15,
		MaxP:   0.1,
	}
}
