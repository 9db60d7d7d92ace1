package cli

import (
	"os"
	"strconv"

	"github.com/adsplit/adsplit/internal/eventlog"
	"github.com/adsplit/adsplit/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the adsplit HTTP server.

The server provides:
  - Tracking endpoint for A/B test events
  - Metrics and statistical-test query endpoints
  - Config read/write endpoints
  - Health check and Prometheus metrics

Example:
  adsplit serve --port 8080`,
	RunE: runServe,
}

func init() {
	defaultPort := 8080
	if p := os.Getenv("ADSPLIT_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			defaultPort = parsed
		}
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	events := eventlog.New(eventsPath)

	srv := server.New(events, configPath, port, logger)
	return srv.Start()
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if lvl, err := logrus.ParseLevel(os.Getenv("ADSPLIT_LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}
