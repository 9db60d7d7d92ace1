package metrics

import (
	"math"
	"time"

	"github.com/adsplit/adsplit/internal/eventlog"
)

// unknownVariant labels events whose testData carries no variant id.
const unknownVariant = "unknown"

type EventCounts struct {
	TestAssigned int `json:"testAssigned"`
	AdShown      int `json:"adShown"`
	TestComplete int `json:"testComplete"`
	Share        int `json:"share"`
	SessionEnd   int `json:"sessionEnd"`
}

type VariantMetrics struct {
	TotalUsers           int         `json:"totalUsers"`
	CompletionRate       float64     `json:"completionRate"`
	ShareRate            float64     `json:"shareRate"`
	ChurnRate            float64     `json:"churnRate"`
	AvgSessionTime       float64     `json:"avgSessionTime"`
	AdImpressionsPerUser float64     `json:"adImpressionsPerUser"`
	ECPM                 float64     `json:"ecpm"`
	TotalAdRevenue       float64     `json:"totalAdRevenue"`
	EventCounts          EventCounts `json:"eventCounts"`
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Summary struct {
	// TotalUsers sums per-variant distinct-user counts. A user seen under
	// two variants is counted twice; kept as-is for report compatibility.
	TotalUsers  int       `json:"totalUsers"`
	TotalEvents int       `json:"totalEvents"`
	DateRange   DateRange `json:"dateRange"`
}

type Report struct {
	TestID  string                    `json:"testId,omitempty"`
	Metrics map[string]VariantMetrics `json:"metrics"`
	Summary Summary                   `json:"summary"`
}

// accum collects raw per-variant tallies before rates are derived.
type accum struct {
	users          map[string]struct{}
	counts         EventCounts
	sessionTimeMS  float64
	totalAdRevenue float64
}

// Compute aggregates the event slice into per-variant metrics, filtered by
// test id and inclusive [start, end] when given. It holds no state between
// calls: identical inputs always yield an identical report.
func Compute(events []eventlog.Event, testID string, start, end time.Time) *Report {
	filtered := eventlog.FilterRange(eventlog.FilterTest(events, testID), start, end)

	groups := make(map[string]*accum)
	for _, ev := range filtered {
		variantID := unknownVariant
		if ev.TestData != nil && ev.TestData.VariantID != "" {
			variantID = ev.TestData.VariantID
		}

		g := groups[variantID]
		if g == nil {
			g = &accum{users: make(map[string]struct{})}
			groups[variantID] = g
		}

		g.users[ev.UserID] = struct{}{}

		switch ev.EventName {
		case eventlog.EventTestAssigned:
			g.counts.TestAssigned++
		case eventlog.EventAdShown:
			g.counts.AdShown++
		case eventlog.EventTestComplete:
			g.counts.TestComplete++
		case eventlog.EventShare:
			g.counts.Share++
		case eventlog.EventSessionEnd:
			g.counts.SessionEnd++
			g.sessionTimeMS += payloadNumber(ev.Data, "duration")
		}

		g.totalAdRevenue += payloadNumber(ev.Data, "adRevenue")
	}

	report := &Report{
		TestID:  testID,
		Metrics: make(map[string]VariantMetrics, len(groups)),
		Summary: Summary{
			TotalEvents: len(filtered),
			DateRange:   rangeLabels(start, end),
		},
	}

	for variantID, g := range groups {
		report.Metrics[variantID] = derive(g)
		report.Summary.TotalUsers += len(g.users)
	}

	return report
}

func derive(g *accum) VariantMetrics {
	m := VariantMetrics{
		TotalUsers:     len(g.users),
		TotalAdRevenue: g.totalAdRevenue,
		EventCounts:    g.counts,
	}

	if assigned := g.counts.TestAssigned; assigned > 0 {
		m.CompletionRate = round2(float64(g.counts.TestComplete) / float64(assigned) * 100)
		m.ShareRate = round2(float64(g.counts.Share) / float64(assigned) * 100)
		m.ChurnRate = round2(float64(assigned-g.counts.TestComplete) / float64(assigned) * 100)
	}

	if g.counts.SessionEnd > 0 {
		m.AvgSessionTime = round2(g.sessionTimeMS / float64(g.counts.SessionEnd) / 1000)
	}

	if m.TotalUsers > 0 {
		m.AdImpressionsPerUser = round2(float64(g.counts.AdShown) / float64(m.TotalUsers))
	}

	if g.totalAdRevenue > 0 && g.counts.AdShown > 0 {
		m.ECPM = round2(g.totalAdRevenue / float64(g.counts.AdShown) * 1000)
	}

	return m
}

// payloadNumber digs a numeric field out of an opaque event payload. JSON
// numbers decode as float64; anything else counts as zero.
func payloadNumber(data map[string]any, key string) float64 {
	if data == nil {
		return 0
	}
	if v, ok := data[key].(float64); ok {
		return v
	}
	return 0
}

func rangeLabels(start, end time.Time) DateRange {
	r := DateRange{Start: "all", End: "now"}
	if !start.IsZero() {
		r.Start = start.Format(time.RFC3339)
	}
	if !end.IsZero() {
		r.End = end.Format(time.RFC3339)
	}
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
