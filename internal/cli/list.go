package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/adsplit/adsplit/internal/abconfig"
	"github.com/adsplit/adsplit/internal/eventlog"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tests",
	Long:  `List all configured A/B tests with their status and event totals.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withConfig(func(cfg *abconfig.Config) error {
		if len(cfg.ActiveTests) == 0 {
			fmt.Println("No tests yet.")
			fmt.Println()
			fmt.Println("Create one with:")
			fmt.Println("  adsplit create ad-placement-v1 --variants \"control,aggressive\"")
			return nil
		}

		events, err := readEvents()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tVARIANTS\tEVENTS\tUSERS")

		for _, test := range cfg.ActiveTests {
			testEvents := eventlog.FilterTest(events, test.ID)

			users := make(map[string]struct{})
			for _, ev := range testEvents {
				users[ev.UserID] = struct{}{}
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
				test.ID,
				test.Name,
				strings.ToUpper(string(test.Status)),
				len(test.Variants),
				len(testEvents),
				len(users),
			)
		}

		return w.Flush()
	})
}
