package stats

import (
	"math"

	"github.com/adsplit/adsplit/internal/eventlog"
)

// Metric names supported by the significance engine. Any other name yields
// a zero-valued proportion rather than an error.
const (
	MetricCompletionRate = "completion_rate"
	MetricShareRate      = "share_rate"
)

// VariantSample is one side of a two-proportion comparison.
type VariantSample struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
	N     int     `json:"n"`
}

// TestResult holds the z-test outcome.
type TestResult struct {
	ZScore      float64 `json:"zScore"`
	PValue      float64 `json:"pValue"`
	Significant bool    `json:"significant"`
	Confidence  *int    `json:"confidence"` // 95 when significant, null otherwise
	Winner      string  `json:"winner"`
	Lift        float64 `json:"lift"`
}

type Comparison struct {
	TestID          string        `json:"testId"`
	MetricName      string        `json:"metricName"`
	VariantA        VariantSample `json:"variantA"`
	VariantB        VariantSample `json:"variantB"`
	StatisticalTest TestResult    `json:"statisticalTest"`
}

// Compare runs a two-proportion z-test between two variants of a test over
// the given events. Sample sizes are distinct user counts; proportions are
// event-count ratios per the metric definition.
func Compare(events []eventlog.Event, testID, metricName, variantA, variantB string) *Comparison {
	events = eventlog.FilterTest(events, testID)

	a := sample(events, variantA, metricName)
	b := sample(events, variantB, metricName)

	z := zScore(a, b)
	pValue := 2 * (1 - NormalCDF(math.Abs(z)))

	significant := pValue < 0.05
	var confidence *int
	if significant {
		c := 95
		confidence = &c
	}

	winner := variantB
	if a.Value >= b.Value {
		winner = variantA
	}

	var lift float64
	if b.Value > 0 {
		lift = (a.Value - b.Value) / b.Value * 100
	}

	return &Comparison{
		TestID:     testID,
		MetricName: metricName,
		VariantA:   a,
		VariantB:   b,
		StatisticalTest: TestResult{
			ZScore:      round(z, 4),
			PValue:      round(pValue, 4),
			Significant: significant,
			Confidence:  confidence,
			Winner:      winner,
			Lift:        round(lift, 2),
		},
	}
}

func sample(events []eventlog.Event, variantID, metricName string) VariantSample {
	users := make(map[string]struct{})
	var assigned, completed, shared int

	for _, ev := range events {
		if ev.TestData == nil || ev.TestData.VariantID != variantID {
			continue
		}
		users[ev.UserID] = struct{}{}
		switch ev.EventName {
		case eventlog.EventTestAssigned:
			assigned++
		case eventlog.EventTestComplete:
			completed++
		case eventlog.EventShare:
			shared++
		}
	}

	s := VariantSample{ID: variantID, N: len(users)}
	if assigned == 0 {
		return s
	}

	switch metricName {
	case MetricCompletionRate:
		s.Value = float64(completed) / float64(assigned)
	case MetricShareRate:
		s.Value = float64(shared) / float64(assigned)
	}

	return s
}

// zScore computes the pooled two-proportion z statistic. It returns 0 when
// either sample is empty or the standard error collapses to 0, so callers
// never divide by zero.
func zScore(a, b VariantSample) float64 {
	if a.N == 0 || b.N == 0 {
		return 0
	}

	nA := float64(a.N)
	nB := float64(b.N)
	pooled := (a.Value*nA + b.Value*nB) / (nA + nB)

	se := math.Sqrt(pooled * (1 - pooled) * (1/nA + 1/nB))
	if se == 0 {
		return 0
	}

	return (a.Value - b.Value) / se
}

// NormalCDF approximates the standard normal cumulative distribution
// function using Abramowitz and Stegun, Handbook of Mathematical Functions,
// formula 7.1.26.
func NormalCDF(x float64) float64 {
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
