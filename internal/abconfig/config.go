package abconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrNotFound     = errors.New("config not found")
	ErrNoActiveTest = errors.New("no active test")
)

type TestStatus string

const (
	StatusActive   TestStatus = "active"
	StatusInactive TestStatus = "inactive"
)

// AdConfig describes how a variant places ads during the quiz flow.
type AdConfig struct {
	AdType       string `json:"adType,omitempty"`
	Positions    []int  `json:"positions,omitempty"`
	ShowInterval int    `json:"showInterval,omitempty"`
	Reward       any    `json:"reward,omitempty"`
}

type Variant struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Weight float64  `json:"weight"`
	Config AdConfig `json:"config"`
}

type Test struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   TestStatus `json:"status"`
	Variants []Variant  `json:"variants"`
	Metrics  []string   `json:"metrics,omitempty"`
}

// Variant returns the variant with the given id, or nil.
func (t *Test) Variant(id string) *Variant {
	for i := range t.Variants {
		if t.Variants[i].ID == id {
			return &t.Variants[i]
		}
	}
	return nil
}

type AnalyticsSettings struct {
	Enabled bool `json:"enabled"`
}

type GlobalSettings struct {
	UserIDCookie         string            `json:"userIdCookie"`
	VariantCookie        string            `json:"variantCookie"`
	CookieExpirationDays int               `json:"cookieExpirationDays"`
	TrackingEndpoint     string            `json:"trackingEndpoint"`
	Analytics            AnalyticsSettings `json:"analytics"`
}

// Config is the experiment configuration file. The HTTP config endpoints
// treat it as an opaque blob; the typed form is used by the CLI and the
// tracking agent.
type Config struct {
	ActiveTests    []Test         `json:"activeTests"`
	GlobalSettings GlobalSettings `json:"globalSettings"`
}

// DefaultGlobalSettings returns the settings a fresh config file starts with.
func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		UserIDCookie:         "ab_user_id",
		VariantCookie:        "ab_variant",
		CookieExpirationDays: 30,
		TrackingEndpoint:     "/api/ab-track",
		Analytics:            AnalyticsSettings{Enabled: true},
	}
}

// ActiveTest resolves the single test eligible for assignment: the first
// test with status "active". Running more than one active test concurrently
// is not supported.
func (c *Config) ActiveTest() (*Test, error) {
	for i := range c.ActiveTests {
		if c.ActiveTests[i].Status == StatusActive {
			return &c.ActiveTests[i], nil
		}
	}
	return nil, ErrNoActiveTest
}

// Test returns the test with the given id regardless of status, or nil.
func (c *Config) Test(id string) *Test {
	for i := range c.ActiveTests {
		if c.ActiveTests[i].ID == id {
			return &c.ActiveTests[i]
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Save(path string) error {
	blob, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return SaveRaw(path, blob)
}

// LoadRaw reads the config file without interpreting it.
func LoadRaw(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return raw, nil
}

// SaveRaw writes an opaque JSON blob to the config file, pretty-printed.
// The blob must be valid JSON; its shape is not checked.
func SaveRaw(path string, blob []byte) error {
	var pretty json.RawMessage
	if err := json.Unmarshal(blob, &pretty); err != nil {
		return fmt.Errorf("config is not valid JSON: %w", err)
	}

	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, append(out, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
