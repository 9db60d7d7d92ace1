package cli

import (
	"fmt"

	"github.com/adsplit/adsplit/internal/abconfig"
	"github.com/adsplit/adsplit/internal/eventlog"
)

// withConfig loads the experiment config and hands it to fn.
func withConfig(fn func(*abconfig.Config) error) error {
	cfg, err := abconfig.Load(configPath)
	if err == abconfig.ErrNotFound {
		return fmt.Errorf("no config at %s (create one with 'adsplit create')", configPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return fn(cfg)
}

// readEvents scans the whole event log.
func readEvents() ([]eventlog.Event, error) {
	events, err := eventlog.New(eventsPath).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}
