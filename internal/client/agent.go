// Package client is the tracking agent embedded in the quiz application: it
// owns the user identifier, caches the variant assignment, and emits
// tracking events to the analytics endpoint. An Agent is constructed
// explicitly and passed by reference; there is no package-level instance.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/adsplit/adsplit/internal/abconfig"
	"github.com/adsplit/adsplit/internal/assign"
	"github.com/adsplit/adsplit/internal/eventlog"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TestConfig is the resolved experiment view handed to the host application.
type TestConfig struct {
	TestID      string            `json:"testId"`
	TestName    string            `json:"testName"`
	VariantID   string            `json:"variantId"`
	VariantName string            `json:"variantName"`
	Config      abconfig.AdConfig `json:"config"`
	Metrics     []string          `json:"metrics,omitempty"`
}

type Agent struct {
	cfg      *abconfig.Config
	active   *abconfig.Test // nil when no test is active
	state    *stateStore
	http     *http.Client
	logger   *logrus.Logger
	endpoint string

	mu     sync.Mutex
	userID string

	sends sync.WaitGroup
}

type Option func(*Agent)

// WithLogger replaces the agent's logger.
func WithLogger(l *logrus.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithHTTPClient replaces the HTTP client used for event sends.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) { a.http = c }
}

// WithEndpoint overrides the tracking endpoint from globalSettings, e.g. to
// point a relative path at a concrete host.
func WithEndpoint(url string) Option {
	return func(a *Agent) { a.endpoint = url }
}

// New builds an agent for the given configuration. State is persisted at
// statePath across sessions. The active test is resolved once here; a
// configuration change requires a new agent.
func New(cfg *abconfig.Config, statePath string, opts ...Option) *Agent {
	a := &Agent{
		cfg:      cfg,
		state:    newStateStore(statePath),
		http:     &http.Client{Timeout: 5 * time.Second},
		logger:   logrus.New(),
		endpoint: cfg.GlobalSettings.TrackingEndpoint,
	}

	if active, err := cfg.ActiveTest(); err == nil {
		a.active = active
	}

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// UserID returns the persisted user identifier, generating and storing a
// fresh one when none is valid.
func (a *Agent) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userIDLocked()
}

func (a *Agent) userIDLocked() string {
	if a.userID != "" {
		return a.userID
	}

	if id, ok := a.state.Get(a.cfg.GlobalSettings.UserIDCookie); ok {
		a.userID = id
		return id
	}

	id := fmt.Sprintf("user_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	if err := a.state.Set(a.cfg.GlobalSettings.UserIDCookie, id, a.cookieTTL()); err != nil {
		a.logger.WithError(err).Warn("failed to persist user id")
	}
	a.userID = id
	return id
}

// Variant resolves this user's variant for the active test. A persisted
// assignment wins; a persisted id that no longer matches any variant of the
// active test is treated as a cache miss and reassigned. Returns
// abconfig.ErrNoActiveTest when nothing is active.
func (a *Agent) Variant() (*abconfig.Variant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.variantLocked()
}

func (a *Agent) variantLocked() (*abconfig.Variant, error) {
	if a.active == nil {
		return nil, abconfig.ErrNoActiveTest
	}

	if id, ok := a.state.Get(a.cfg.GlobalSettings.VariantCookie); ok {
		if v := a.active.Variant(id); v != nil {
			return v, nil
		}
		// Stale assignment from a previous test; fall through and reassign.
	}

	hash := assign.Hash(a.userIDLocked())
	v, err := assign.Select(hash, a.active.Variants)
	if err != nil {
		return nil, err
	}

	if err := a.state.Set(a.cfg.GlobalSettings.VariantCookie, v.ID, a.cookieTTL()); err != nil {
		a.logger.WithError(err).Warn("failed to persist variant assignment")
	}
	return v, nil
}

// TestConfig returns the resolved test configuration, or nil when no test
// is active.
func (a *Agent) TestConfig() *TestConfig {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil {
		return nil
	}

	v, err := a.variantLocked()
	if err != nil {
		return nil
	}

	return &TestConfig{
		TestID:      a.active.ID,
		TestName:    a.active.Name,
		VariantID:   v.ID,
		VariantName: v.Name,
		Config:      v.Config,
		Metrics:     a.active.Metrics,
	}
}

// ShouldShowAd reports whether an ad belongs at the given quiz position:
// either the position is configured explicitly or it is a multiple of the
// variant's show interval.
func (a *Agent) ShouldShowAd(position int) bool {
	tc := a.TestConfig()
	if tc == nil {
		return false
	}

	for _, p := range tc.Config.Positions {
		if p == position {
			return true
		}
	}

	if interval := tc.Config.ShowInterval; interval > 0 && position%interval == 0 {
		return true
	}
	return false
}

// AdType returns the variant's ad type, defaulting to "banner".
func (a *Agent) AdType() string {
	if tc := a.TestConfig(); tc != nil && tc.Config.AdType != "" {
		return tc.Config.AdType
	}
	return "banner"
}

// Reward returns the variant's reward payload, nil when unset.
func (a *Agent) Reward() any {
	if tc := a.TestConfig(); tc != nil {
		return tc.Config.Reward
	}
	return nil
}

// Track emits a tracking event. It never blocks and never returns an
// error: tracking must not break the host application. With no active test
// it is a no-op; send failures are logged and dropped.
func (a *Agent) Track(eventName string, data map[string]any) {
	tc := a.TestConfig()
	if tc == nil {
		a.logger.WithField("event", eventName).Debug("no active test, event dropped")
		return
	}

	if !a.cfg.GlobalSettings.Analytics.Enabled {
		return
	}

	ev := eventlog.Event{
		Timestamp: time.Now().UnixMilli(),
		UserID:    a.UserID(),
		EventName: eventName,
		TestData: &eventlog.TestData{
			TestID:      tc.TestID,
			VariantID:   tc.VariantID,
			VariantName: tc.VariantName,
		},
		Data: data,
	}

	a.sends.Add(1)
	go func() {
		defer a.sends.Done()
		if err := a.send(ev); err != nil {
			a.logger.WithError(err).WithField("event", eventName).
				Warn("failed to send tracking event")
		}
	}()
}

func (a *Agent) send(ev eventlog.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	resp, err := a.http.Post(a.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("tracking endpoint returned %s", resp.Status)
	}
	return nil
}

// Close waits for in-flight event sends to finish.
func (a *Agent) Close() {
	a.sends.Wait()
}

func (a *Agent) cookieTTL() time.Duration {
	days := a.cfg.GlobalSettings.CookieExpirationDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}
