package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/adsplit/adsplit/internal/eventlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	events     *eventlog.Log
	configPath string
	port       int
	logger     *logrus.Logger
	router     *http.ServeMux
	startTime  time.Time
}

func New(events *eventlog.Log, configPath string, port int, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	srv := &Server{
		events:     events,
		configPath: configPath,
		port:       port,
		logger:     logger,
		router:     http.NewServeMux(),
		startTime:  time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/api/ab-track", s.handleTrack)
	s.router.HandleFunc("/api/ab-metrics", s.handleMetrics)
	s.router.HandleFunc("/api/ab-statistical-test", s.handleStatisticalTest)
	s.router.HandleFunc("/api/ab-config", s.handleConfig)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.WithFields(logrus.Fields{
		"addr":   addr,
		"events": s.events.Path(),
		"config": s.configPath,
	}).Info("adsplit server listening")

	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}
