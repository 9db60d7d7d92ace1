package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adsplit/adsplit/internal/abconfig"
	"github.com/adsplit/adsplit/internal/eventlog"
	"github.com/adsplit/adsplit/internal/metrics"
	"github.com/adsplit/adsplit/internal/stats"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newResultsCmd())
}

func newResultsCmd() *cobra.Command {
	var startDate, endDate string

	cmd := &cobra.Command{
		Use:   "results <test-id>",
		Short: "Show aggregated metrics for a test",
		Long: `Show per-variant metrics: completion, share and churn rates, session
time, ad impressions and eCPM, with Wilson 95% intervals on completion.

Example:
  adsplit results ad-placement-v1
  adsplit results ad-placement-v1 --start 2024-01-01 --end 2024-01-31`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID := args[0]

			start, err := eventlog.ParseTime(startDate)
			if err != nil {
				return err
			}
			end, err := eventlog.ParseTime(endDate)
			if err != nil {
				return err
			}

			return withConfig(func(cfg *abconfig.Config) error {
				test := cfg.Test(testID)
				if test == nil {
					return fmt.Errorf("test '%s' not found", testID)
				}

				events, err := readEvents()
				if err != nil {
					return err
				}

				report := metrics.Compute(events, testID, start, end)
				printReport(test, report)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&startDate, "start", "", "start date (inclusive)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (inclusive)")

	return cmd
}

func printReport(test *abconfig.Test, report *metrics.Report) {
	fmt.Printf("TEST: %s (%s)\n", test.Name, test.ID)
	fmt.Printf("STATUS: %s\n", test.Status)
	fmt.Printf("RANGE: %s to %s\n", report.Summary.DateRange.Start, report.Summary.DateRange.End)
	fmt.Println()

	if len(report.Metrics) == 0 {
		fmt.Println("No events recorded yet.")
		return
	}

	fmt.Println("VARIANT       USERS   COMPLETE%  SHARE%   CHURN%   SESSION  ADS/USER  eCPM     95% CI")
	fmt.Println(strings.Repeat("─", 92))

	for _, variantID := range sortedVariants(report) {
		m := report.Metrics[variantID]

		ciStr := "N/A"
		if m.EventCounts.TestAssigned > 0 {
			lower, upper := stats.WilsonInterval(
				m.EventCounts.TestComplete, m.EventCounts.TestAssigned, 0.95)
			ciStr = fmt.Sprintf("[%.1f%%, %.1f%%]", lower*100, upper*100)
		}

		name := variantID
		if v := test.Variant(variantID); v != nil && v.Name != "" {
			name = v.Name
		}
		name = truncateName(name, 12)

		fmt.Printf("%-12s  %-6d  %-9.2f  %-7.2f  %-7.2f  %-7s  %-8.2f  %-7.2f  %s\n",
			name,
			m.TotalUsers,
			m.CompletionRate,
			m.ShareRate,
			m.ChurnRate,
			formatSeconds(m.AvgSessionTime),
			m.AdImpressionsPerUser,
			m.ECPM,
			ciStr,
		)
	}

	fmt.Println()
	fmt.Printf("%d events, %d user-variant pairs\n",
		report.Summary.TotalEvents, report.Summary.TotalUsers)
}

func sortedVariants(report *metrics.Report) []string {
	ids := make([]string, 0, len(report.Metrics))
	for id := range report.Metrics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// truncateName shortens display names to max runes, never splitting a
// multi-byte character.
func truncateName(name string, max int) string {
	r := []rune(name)
	if len(r) <= max {
		return name
	}
	return string(r[:max-3]) + "..."
}

func formatSeconds(s float64) string {
	if s == 0 {
		return "0s"
	}
	return time.Duration(s * float64(time.Second)).Round(time.Second).String()
}
