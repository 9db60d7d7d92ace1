package client

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/adsplit/adsplit/internal/abconfig"
	"github.com/adsplit/adsplit/internal/eventlog"
	"github.com/sirupsen/logrus"
)

func testConfig() *abconfig.Config {
	return &abconfig.Config{
		ActiveTests: []abconfig.Test{
			{
				ID:     "ad-placement-v1",
				Name:   "Ad Placement",
				Status: abconfig.StatusActive,
				Variants: []abconfig.Variant{
					{ID: "control", Name: "Control", Weight: 50,
						Config: abconfig.AdConfig{AdType: "banner", Positions: []int{3, 7}, ShowInterval: 5}},
					{ID: "aggressive", Name: "Aggressive", Weight: 50,
						Config: abconfig.AdConfig{AdType: "interstitial", ShowInterval: 2}},
				},
				Metrics: []string{"completion_rate", "share_rate"},
			},
		},
		GlobalSettings: abconfig.GlobalSettings{
			UserIDCookie:         "ab_user_id",
			VariantCookie:        "ab_variant",
			CookieExpirationDays: 30,
			TrackingEndpoint:     "/api/ab-track",
			Analytics:            abconfig.AnalyticsSettings{Enabled: true},
		},
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestAgent(t *testing.T, cfg *abconfig.Config, opts ...Option) *Agent {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "state.json")
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(cfg, statePath, opts...)
}

func TestUserID_PersistedAcrossAgents(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	cfg := testConfig()

	first := New(cfg, statePath, WithLogger(quietLogger()))
	id := first.UserID()
	if id == "" {
		t.Fatal("empty user id")
	}

	second := New(cfg, statePath, WithLogger(quietLogger()))
	if got := second.UserID(); got != id {
		t.Errorf("user id changed across sessions: %q then %q", id, got)
	}
}

func TestVariant_StableAcrossCalls(t *testing.T) {
	a := newTestAgent(t, testConfig())

	first, err := a.Variant()
	if err != nil {
		t.Fatalf("Variant returned error: %v", err)
	}
	for i := 0; i < 20; i++ {
		v, err := a.Variant()
		if err != nil {
			t.Fatalf("Variant returned error: %v", err)
		}
		if v.ID != first.ID {
			t.Fatalf("assignment flapped from %s to %s", first.ID, v.ID)
		}
	}
}

func TestVariant_StaleAssignmentReassigned(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	cfg := testConfig()

	// Persist an id that no variant of the active test carries.
	store := newStateStore(statePath)
	if err := store.Set(cfg.GlobalSettings.VariantCookie, "retired-variant", time.Hour); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}

	a := New(cfg, statePath, WithLogger(quietLogger()))
	v, err := a.Variant()
	if err != nil {
		t.Fatalf("Variant returned error: %v", err)
	}
	if v.ID != "control" && v.ID != "aggressive" {
		t.Errorf("stale assignment resolved to %q", v.ID)
	}

	// The fresh assignment must have replaced the stale cookie value.
	if stored, ok := store.Get(cfg.GlobalSettings.VariantCookie); !ok || stored != v.ID {
		t.Errorf("state still holds %q, want %q", stored, v.ID)
	}
}

func TestVariant_NoActiveTest(t *testing.T) {
	cfg := testConfig()
	cfg.ActiveTests[0].Status = abconfig.StatusInactive

	a := newTestAgent(t, cfg)
	if _, err := a.Variant(); err != abconfig.ErrNoActiveTest {
		t.Errorf("expected ErrNoActiveTest, got %v", err)
	}
	if tc := a.TestConfig(); tc != nil {
		t.Errorf("expected nil test config, got %+v", tc)
	}
}

func TestShouldShowAd(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	cfg := testConfig()

	// Pin the assignment so the positions under test are known.
	store := newStateStore(statePath)
	store.Set(cfg.GlobalSettings.VariantCookie, "control", time.Hour)

	a := New(cfg, statePath, WithLogger(quietLogger()))

	cases := []struct {
		position int
		want     bool
	}{
		{3, true},  // explicit position
		{7, true},  // explicit position
		{5, true},  // interval multiple
		{10, true}, // interval multiple
		{4, false},
		{1, false},
	}
	for _, c := range cases {
		if got := a.ShouldShowAd(c.position); got != c.want {
			t.Errorf("ShouldShowAd(%d) = %v, want %v", c.position, got, c.want)
		}
	}
}

func TestShouldShowAd_ZeroInterval(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	cfg := testConfig()
	cfg.ActiveTests[0].Variants[0].Config = abconfig.AdConfig{AdType: "banner"}

	store := newStateStore(statePath)
	store.Set(cfg.GlobalSettings.VariantCookie, "control", time.Hour)

	a := New(cfg, statePath, WithLogger(quietLogger()))
	for _, pos := range []int{0, 1, 5} {
		if a.ShouldShowAd(pos) {
			t.Errorf("ShouldShowAd(%d) = true with no positions and no interval", pos)
		}
	}
}

func TestTrack_SendsEvent(t *testing.T) {
	var (
		mu       sync.Mutex
		received []eventlog.Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev eventlog.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("bad event payload: %v", err)
		}
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	a := newTestAgent(t, testConfig(), WithEndpoint(srv.URL))

	a.Track(eventlog.EventShare, map[string]any{"platform": "kakao"})
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}

	ev := received[0]
	if ev.EventName != eventlog.EventShare {
		t.Errorf("eventName = %q", ev.EventName)
	}
	if ev.UserID != a.UserID() {
		t.Errorf("userId = %q, want %q", ev.UserID, a.UserID())
	}
	if ev.TestData == nil || ev.TestData.TestID != "ad-placement-v1" {
		t.Errorf("testData = %+v", ev.TestData)
	}
	if ev.Timestamp == 0 {
		t.Error("timestamp not set")
	}
	if ev.Data["platform"] != "kakao" {
		t.Errorf("data = %+v", ev.Data)
	}
}

func TestTrack_FailureNeverSurfaces(t *testing.T) {
	// Endpoint that always fails; Track must still return immediately and
	// Close must not hang.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	srv.Close() // already closed: connection refused

	a := newTestAgent(t, testConfig(), WithEndpoint(srv.URL))
	a.Track(eventlog.EventTestComplete, nil)
	a.Close()
}

func TestTrack_AnalyticsDisabled(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.GlobalSettings.Analytics.Enabled = false

	a := newTestAgent(t, cfg, WithEndpoint(srv.URL))
	a.Track(eventlog.EventShare, nil)
	a.Close()

	if hit {
		t.Error("event sent despite analytics being disabled")
	}
}

func TestAdTypeAndReward(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	cfg := testConfig()
	cfg.ActiveTests[0].Variants[0].Config.Reward = map[string]any{"coins": float64(10)}

	store := newStateStore(statePath)
	store.Set(cfg.GlobalSettings.VariantCookie, "control", time.Hour)

	a := New(cfg, statePath, WithLogger(quietLogger()))
	if got := a.AdType(); got != "banner" {
		t.Errorf("AdType = %q, want banner", got)
	}
	if a.Reward() == nil {
		t.Error("expected reward payload")
	}
}
