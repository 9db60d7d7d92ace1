package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adsplit/adsplit/internal/eventlog"
	"github.com/adsplit/adsplit/internal/server"
	"github.com/sirupsen/logrus"
)

type fixture struct {
	srv        *server.Server
	events     *eventlog.Log
	configPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	events := eventlog.New(filepath.Join(dir, "ab-test-data", "events.jsonl"))
	configPath := filepath.Join(dir, "ab-test-config.json")

	return &fixture{
		srv:        server.New(events, configPath, 0, logger),
		events:     events,
		configPath: configPath,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestTrack_AppendsEvent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/ab-track",
		`{"userId":"u1","eventName":"test_assigned","testData":{"testId":"t1","variantId":"A","variantName":"control"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
	}
	decode(t, rec, &resp)
	if !resp.Success {
		t.Errorf("success = false: %s", rec.Body.String())
	}

	events, err := f.events.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	if events[0].UserID != "u1" || events[0].TestData.VariantID != "A" {
		t.Errorf("stored event = %+v", events[0])
	}
	if events[0].Timestamp == 0 {
		t.Error("server did not assign a timestamp")
	}
}

func TestTrack_PreservesClientTimestamp(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/ab-track",
		`{"userId":"u1","timestamp":1700000000123,"eventName":"share","testData":{"testId":"t1","variantId":"A"}}`)

	events, _ := f.events.ReadAll()
	if len(events) != 1 || events[0].Timestamp != 1700000000123 {
		t.Errorf("client timestamp not preserved: %+v", events)
	}
}

func TestTrack_MissingTestData(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/ab-track",
		`{"userId":"u1","eventName":"test_assigned"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp struct {
		Error string `json:"error"`
	}
	decode(t, rec, &resp)
	if !strings.Contains(resp.Error, "testData") {
		t.Errorf("error %q does not name the missing field", resp.Error)
	}

	// Nothing may be written on a rejected request.
	if _, err := os.Stat(f.events.Path()); !os.IsNotExist(err) {
		t.Error("log file exists after rejected ingestion")
	}
}

func TestTrack_InvalidJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/ab-track", `{"userId": truncated`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTrack_CORSPreflight(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodOptions, "/api/ab-track", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}

func TestMetrics_CompletionScenario(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`{"userId":"u1","eventName":"test_assigned","testData":{"testId":"t1","variantId":"A"}}`,
		`{"userId":"u1","eventName":"test_complete","testData":{"testId":"t1","variantId":"A"}}`,
	} {
		if rec := f.do(t, http.MethodPost, "/api/ab-track", body); rec.Code != http.StatusOK {
			t.Fatalf("ingest failed: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec := f.do(t, http.MethodGet, "/api/ab-metrics?testId=t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var report struct {
		TestID  string `json:"testId"`
		Metrics map[string]struct {
			CompletionRate float64 `json:"completionRate"`
			TotalUsers     int     `json:"totalUsers"`
		} `json:"metrics"`
		Summary struct {
			TotalEvents int `json:"totalEvents"`
		} `json:"summary"`
	}
	decode(t, rec, &report)

	if report.TestID != "t1" {
		t.Errorf("testId = %q", report.TestID)
	}
	if m := report.Metrics["A"]; m.CompletionRate != 100.00 || m.TotalUsers != 1 {
		t.Errorf("variant A metrics = %+v", m)
	}
	if report.Summary.TotalEvents != 2 {
		t.Errorf("totalEvents = %d, want 2", report.Summary.TotalEvents)
	}
}

func TestMetrics_EmptyLog(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/ab-metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var report struct {
		Summary struct {
			TotalEvents int `json:"totalEvents"`
			TotalUsers  int `json:"totalUsers"`
		} `json:"summary"`
	}
	decode(t, rec, &report)
	if report.Summary.TotalEvents != 0 || report.Summary.TotalUsers != 0 {
		t.Errorf("summary = %+v, want zeros", report.Summary)
	}
}

func TestMetrics_BadDate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/ab-metrics?startDate=not-a-date", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStatisticalTest_Endpoint(t *testing.T) {
	f := newFixture(t)

	// 2/2 completion on A, 0/2 on B.
	ingest := func(user, name, variant string) {
		body := `{"userId":"` + user + `","eventName":"` + name +
			`","testData":{"testId":"t1","variantId":"` + variant + `"}}`
		if rec := f.do(t, http.MethodPost, "/api/ab-track", body); rec.Code != http.StatusOK {
			t.Fatalf("ingest failed: %s", rec.Body.String())
		}
	}
	for _, u := range []string{"a1", "a2"} {
		ingest(u, "test_assigned", "A")
		ingest(u, "test_complete", "A")
	}
	for _, u := range []string{"b1", "b2"} {
		ingest(u, "test_assigned", "B")
	}

	rec := f.do(t, http.MethodGet,
		"/api/ab-statistical-test?testId=t1&metricName=completion_rate&variantA=A&variantB=B", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result struct {
		VariantA struct {
			Value float64 `json:"value"`
			N     int     `json:"n"`
		} `json:"variantA"`
		StatisticalTest struct {
			Winner string `json:"winner"`
		} `json:"statisticalTest"`
	}
	decode(t, rec, &result)
	if result.VariantA.Value != 1.0 || result.VariantA.N != 2 {
		t.Errorf("variantA = %+v", result.VariantA)
	}
	if result.StatisticalTest.Winner != "A" {
		t.Errorf("winner = %q, want A", result.StatisticalTest.Winner)
	}
}

func TestStatisticalTest_MissingParams(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/ab-statistical-test?testId=t1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConfig_RoundTrip(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, http.MethodGet, "/api/ab-config", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET before write: status = %d, want 404", rec.Code)
	}

	blob := `{"activeTests":[{"id":"t1","status":"active","variants":[{"id":"A","weight":1}]}],"globalSettings":{"cookieExpirationDays":30}}`
	rec := f.do(t, http.MethodPost, "/api/ab-config", blob)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/ab-config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}

	var got map[string]any
	decode(t, rec, &got)
	if _, ok := got["activeTests"]; !ok {
		t.Errorf("config blob lost on round trip: %s", rec.Body.String())
	}
}

func TestConfig_RejectsInvalidJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/ab-config", `{"broken`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Status string `json:"status"`
	}
	decode(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}
