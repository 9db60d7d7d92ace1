package cli

import (
	"encoding/json"
	"fmt"

	"github.com/adsplit/adsplit/internal/abconfig"
	"github.com/adsplit/adsplit/internal/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newTrackCmd())
}

func newTrackCmd() *cobra.Command {
	var (
		endpoint string
		dataJSON string
	)

	cmd := &cobra.Command{
		Use:   "track <event-name>",
		Short: "Send one tracking event through the client agent",
		Long: `Resolve this machine's variant assignment and send a single tracking
event, exactly as the embedded tracking agent would. Useful for smoke
testing a running server.

Example:
  adsplit track test_assigned --endpoint http://localhost:8080/api/ab-track
  adsplit track session_end --data '{"duration":90000}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventName := args[0]

			var data map[string]any
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
					return fmt.Errorf("invalid --data payload: %w", err)
				}
			}

			return withConfig(func(cfg *abconfig.Config) error {
				var opts []client.Option
				if endpoint != "" {
					opts = append(opts, client.WithEndpoint(endpoint))
				}

				agent := client.New(cfg, statePath, opts...)

				tc := agent.TestConfig()
				if tc == nil {
					return fmt.Errorf("no active test, nothing to track")
				}

				fmt.Printf("user: %s\n", agent.UserID())
				fmt.Printf("assignment: %s / %s (%s)\n", tc.TestID, tc.VariantID, tc.VariantName)

				agent.Track(eventName, data)
				agent.Close()

				fmt.Printf("sent '%s'\n", eventName)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "tracking endpoint URL (defaults to the config's trackingEndpoint)")
	cmd.Flags().StringVar(&dataJSON, "data", "", "event payload as JSON")

	return cmd
}
