package stats

import "math"

// WilsonInterval calculates the Wilson score confidence interval for a
// binomial proportion. Better behaved than the normal approximation when a
// variant has seen only a handful of users.
func WilsonInterval(successes, trials int, confidence float64) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	z := zForConfidence(confidence)
	p := float64(successes) / float64(trials)
	n := float64(trials)

	denom := 1 + z*z/n
	center := (p + z*z/(2*n)) / denom
	spread := (z / denom) * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))

	lower = math.Max(0, center-spread)
	upper = math.Min(1, center+spread)
	return lower, upper
}

// zForConfidence maps a two-sided confidence level to its critical value.
func zForConfidence(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.576
	case confidence >= 0.95:
		return 1.96
	case confidence >= 0.90:
		return 1.645
	default:
		return 1.28
	}
}
