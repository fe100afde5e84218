package grading

import "math"

// Normalize applies the learning curve: scores at or above the threshold are untouched,
// lower scores move a fixed share of the way towards it.
func Normalize(raw float64, policy Policy) float64 {
	raw = clamp(raw, 0, 100)
	if raw >= policy.CurveThreshold {
		return raw
	}
	return raw + (policy.CurveThreshold-raw)*policy.BoostFactor
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
