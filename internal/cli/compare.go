package cli

import (
	"fmt"

	"github.com/adsplit/adsplit/internal/abconfig"
	"github.com/adsplit/adsplit/internal/stats"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCompareCmd())
}

func newCompareCmd() *cobra.Command {
	var (
		metricName string
		variantA   string
		variantB   string
	)

	cmd := &cobra.Command{
		Use:   "compare <test-id>",
		Short: "Run a statistical significance test between two variants",
		Long: `Run a two-proportion z-test between two variants of a test.

Supported metrics: completion_rate, share_rate.

Example:
  adsplit compare ad-placement-v1 -a control -b aggressive --metric completion_rate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID := args[0]

			return withConfig(func(cfg *abconfig.Config) error {
				test := cfg.Test(testID)
				if test == nil {
					return fmt.Errorf("test '%s' not found", testID)
				}
				for _, id := range []string{variantA, variantB} {
					if test.Variant(id) == nil {
						return fmt.Errorf("variant '%s' not part of test '%s'", id, testID)
					}
				}

				events, err := readEvents()
				if err != nil {
					return err
				}

				c := stats.Compare(events, testID, metricName, variantA, variantB)
				printComparison(c)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variantA, "variant-a", "a", "", "first variant id (required)")
	cmd.Flags().StringVarP(&variantB, "variant-b", "b", "", "second variant id (required)")
	cmd.Flags().StringVar(&metricName, "metric", stats.MetricCompletionRate, "metric to compare")
	cmd.MarkFlagRequired("variant-a")
	cmd.MarkFlagRequired("variant-b")

	return cmd
}

func printComparison(c *stats.Comparison) {
	fmt.Printf("TEST: %s\n", c.TestID)
	fmt.Printf("METRIC: %s\n", c.MetricName)
	fmt.Println()

	fmt.Printf("  %-12s  %.4f  (n=%d)\n", c.VariantA.ID, c.VariantA.Value, c.VariantA.N)
	fmt.Printf("  %-12s  %.4f  (n=%d)\n", c.VariantB.ID, c.VariantB.Value, c.VariantB.N)
	fmt.Println()

	st := c.StatisticalTest
	fmt.Printf("z-score: %.4f   p-value: %.4f\n", st.ZScore, st.PValue)

	if st.Significant {
		fmt.Printf("Significant at 95%% confidence: \"%s\" wins with %.2f%% lift\n",
			st.Winner, st.Lift)
	} else {
		fmt.Println("Not statistically significant. Keep collecting data.")
	}
}
