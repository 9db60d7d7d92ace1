package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	eventsPath string
	statePath  string
)

var rootCmd = &cobra.Command{
	Use:   "adsplit",
	Short: "adsplit - a self-hosted A/B testing harness for ad placement",
	Long: `adsplit runs ad-placement experiments for quiz-style web apps:
deterministic variant assignment, an append-only tracking-event log, and
on-demand metrics and significance reports. Single Go binary, one JSONL
event file, no external services.

Running without a subcommand starts the server (same as 'adsplit serve').`,
	RunE: runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Optional .env alongside the binary; real env vars win.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		getEnvOrDefault("ADSPLIT_CONFIG", "./ab-test-config.json"), "experiment config path")
	rootCmd.PersistentFlags().StringVar(&eventsPath, "events",
		getEnvOrDefault("ADSPLIT_EVENTS", "./ab-test-data/events.jsonl"), "event log path")
	rootCmd.PersistentFlags().StringVar(&statePath, "state",
		getEnvOrDefault("ADSPLIT_STATE", "./.adsplit-state.json"), "client state path (track command)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
