package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adsplit/adsplit/internal/abconfig"
	"github.com/adsplit/adsplit/internal/eventlog"
	"github.com/adsplit/adsplit/internal/metrics"
	"github.com/adsplit/adsplit/internal/stats"
	"github.com/sirupsen/logrus"
)

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// setCORS allows the browser tracker to post from any quiz origin.
func setCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// handleTrack ingests one tracking event: validate, stamp, append.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var ev eventlog.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		eventsRejected.WithLabelValues("bad_json").Inc()
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var missing []string
	if ev.UserID == "" {
		missing = append(missing, "userId")
	}
	if ev.EventName == "" {
		missing = append(missing, "eventName")
	}
	if ev.TestData == nil {
		missing = append(missing, "testData")
	}
	if len(missing) > 0 {
		eventsRejected.WithLabelValues("validation").Inc()
		s.writeError(w, http.StatusBadRequest,
			"missing required fields: "+strings.Join(missing, ", "))
		return
	}

	if err := s.events.Append(ev); err != nil {
		eventsRejected.WithLabelValues("storage").Inc()
		s.logger.WithError(err).Error("failed to append event")
		s.writeError(w, http.StatusInternalServerError, "failed to store event")
		return
	}

	eventsIngested.Inc()
	s.logger.WithFields(logrus.Fields{
		"event":  ev.EventName,
		"userId": ev.UserID,
		"testId": ev.TestData.TestID,
	}).Debug("event ingested")

	s.writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleMetrics serves the aggregated per-variant report. The whole log is
// re-read and re-aggregated on every call.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()

	start, err := eventlog.ParseTime(q.Get("startDate"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid startDate")
		return
	}
	end, err := eventlog.ParseTime(q.Get("endDate"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid endDate")
		return
	}

	events, err := s.events.ReadAll()
	if err != nil {
		s.logger.WithError(err).Error("failed to read event log")
		s.writeError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}

	report := metrics.Compute(events, q.Get("testId"), start, end)
	s.writeJSON(w, http.StatusOK, report)
}

// handleStatisticalTest runs a two-proportion z-test between two variants.
func (s *Server) handleStatisticalTest(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	testID := q.Get("testId")
	variantA := q.Get("variantA")
	variantB := q.Get("variantB")
	if testID == "" || variantA == "" || variantB == "" {
		s.writeError(w, http.StatusBadRequest, "testId, variantA and variantB are required")
		return
	}

	events, err := s.events.ReadAll()
	if err != nil {
		s.logger.WithError(err).Error("failed to read event log")
		s.writeError(w, http.StatusInternalServerError, "failed to run statistical test")
		return
	}

	result := stats.Compare(events, testID, q.Get("metricName"), variantA, variantB)
	s.writeJSON(w, http.StatusOK, result)
}

// handleConfig reads or replaces the experiment configuration blob. The
// server does not interpret it beyond checking that it is JSON.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET, POST")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		raw, err := abconfig.LoadRaw(s.configPath)
		if err == abconfig.ErrNotFound {
			s.writeError(w, http.StatusNotFound, "config not found")
			return
		}
		if err != nil {
			s.logger.WithError(err).Error("failed to read config")
			s.writeError(w, http.StatusInternalServerError, "failed to read config")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if !json.Valid(body) {
			s.writeError(w, http.StatusBadRequest, "config is not valid JSON")
			return
		}
		if err := abconfig.SaveRaw(s.configPath, body); err != nil {
			s.logger.WithError(err).Error("failed to write config")
			s.writeError(w, http.StatusInternalServerError, "failed to update config")
			return
		}
		s.writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "config updated"})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	TestsCount    int    `json:"tests_count"`
	LogSizeBytes  int64  `json:"log_size_bytes"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	testsCount := 0
	if cfg, err := abconfig.Load(s.configPath); err == nil {
		testsCount = len(cfg.ActiveTests)
	}

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		TestsCount:    testsCount,
		LogSizeBytes:  s.events.Size(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}
