package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adsplit/adsplit/internal/abconfig"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var adTypes = []string{"banner", "interstitial", "rewarded"}

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		name     string
		variants string
		weights  string
		metrics  string
		activate bool
	)

	cmd := &cobra.Command{
		Use:   "create <test-id>",
		Short: "Create a new A/B test in the config file",
		Long: `Create a new A/B test with the given id and variants. Each variant's ad
placement (ad type, fixed positions, show interval) is prompted for
interactively.

Examples:
  adsplit create ad-placement-v1 --variants "control,aggressive"
  adsplit create ad-density --variants "low,mid,high" --weights "25,50,25"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID := args[0]

			variantIDs := splitList(variants)
			if len(variantIDs) < 2 {
				return fmt.Errorf("need at least 2 variants. Example: --variants \"control,aggressive\"")
			}

			weightList, err := parseWeights(weights, len(variantIDs))
			if err != nil {
				return err
			}

			cfg, err := abconfig.Load(configPath)
			if err == abconfig.ErrNotFound {
				cfg = &abconfig.Config{GlobalSettings: abconfig.DefaultGlobalSettings()}
			} else if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if cfg.Test(testID) != nil {
				return fmt.Errorf("test '%s' already exists", testID)
			}

			test := abconfig.Test{
				ID:      testID,
				Name:    name,
				Status:  abconfig.StatusInactive,
				Metrics: splitList(metrics),
			}
			if test.Name == "" {
				test.Name = testID
			}

			for i, id := range variantIDs {
				adConfig, err := promptAdConfig(id)
				if err != nil {
					return err
				}
				test.Variants = append(test.Variants, abconfig.Variant{
					ID:     id,
					Name:   id,
					Weight: weightList[i],
					Config: adConfig,
				})
			}

			_, hasActive := activeTest(cfg)
			if activate || !hasActive {
				for i := range cfg.ActiveTests {
					cfg.ActiveTests[i].Status = abconfig.StatusInactive
				}
				test.Status = abconfig.StatusActive
			}

			cfg.ActiveTests = append(cfg.ActiveTests, test)
			if err := cfg.Save(configPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("Created test '%s' (%s) with %d variants:\n", test.ID, test.Status, len(test.Variants))
			for _, v := range test.Variants {
				fmt.Printf("  %s (weight %g): %s", v.ID, v.Weight, v.Config.AdType)
				if len(v.Config.Positions) > 0 {
					fmt.Printf(" at %v", v.Config.Positions)
				}
				if v.Config.ShowInterval > 0 {
					fmt.Printf(" every %d questions", v.Config.ShowInterval)
				}
				fmt.Println()
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "human-readable test name")
	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant ids (required)")
	cmd.Flags().StringVarP(&weights, "weights", "w", "", "comma-separated weights, defaults to an even split")
	cmd.Flags().StringVarP(&metrics, "metrics", "m", "completion_rate,share_rate", "metrics to track")
	cmd.Flags().BoolVar(&activate, "activate", false, "make this the active test, deactivating others")
	cmd.MarkFlagRequired("variants")

	return cmd
}

func promptAdConfig(variantID string) (abconfig.AdConfig, error) {
	var cfg abconfig.AdConfig

	sel := promptui.Select{
		Label: fmt.Sprintf("Ad type for variant '%s'", variantID),
		Items: adTypes,
	}
	_, adType, err := sel.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			return cfg, fmt.Errorf("cancelled")
		}
		return cfg, err
	}
	cfg.AdType = adType

	positions := promptui.Prompt{
		Label:    fmt.Sprintf("Fixed ad positions for '%s' (comma-separated, empty for none)", variantID),
		Validate: validatePositions,
	}
	posStr, err := positions.Run()
	if err != nil {
		return cfg, err
	}
	cfg.Positions, _ = parsePositions(posStr)

	interval := promptui.Prompt{
		Label:   fmt.Sprintf("Show interval for '%s' (0 to disable)", variantID),
		Default: "0",
		Validate: func(s string) error {
			_, err := strconv.Atoi(s)
			return err
		},
	}
	intStr, err := interval.Run()
	if err != nil {
		return cfg, err
	}
	cfg.ShowInterval, _ = strconv.Atoi(intStr)

	return cfg, nil
}

func activeTest(cfg *abconfig.Config) (*abconfig.Test, bool) {
	t, err := cfg.ActiveTest()
	return t, err == nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseWeights parses comma-separated weights, defaulting to an even split.
func parseWeights(s string, n int) ([]float64, error) {
	if s == "" {
		out := make([]float64, n)
		for i := range out {
			out[i] = 100.0 / float64(n)
		}
		return out, nil
	}

	parts := splitList(s)
	if len(parts) != n {
		return nil, fmt.Errorf("got %d weights for %d variants", len(parts), n)
	}

	out := make([]float64, n)
	for i, p := range parts {
		w, err := strconv.ParseFloat(p, 64)
		if err != nil || w <= 0 {
			return nil, fmt.Errorf("invalid weight %q: weights must be positive numbers", p)
		}
		out[i] = w
	}
	return out, nil
}

func parsePositions(s string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		pos, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid position %q", p)
		}
		out = append(out, pos)
	}
	return out, nil
}

func validatePositions(s string) error {
	_, err := parsePositions(s)
	return err
}
