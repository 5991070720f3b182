// Package api serves the session operations over HTTP.
package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/p-arndt/sessionbox/internal/config"
	"github.com/p-arndt/sessionbox/internal/metrics"
)

type Server struct {
	apiKey  string
	manager SessionService
	metrics *metrics.Metrics
	logger  *zap.Logger
	mux     *http.ServeMux
}

// NewServer builds the HTTP API. m may be nil, in which case /metrics is not served.
func NewServer(cfg *config.Config, mgr SessionService, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		apiKey:  cfg.APIKey,
		manager: mgr,
		metrics: m,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.accessLogMiddleware(s.authMiddleware(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/sessions/{id}/run", s.handleRun)
	s.mux.HandleFunc("POST /v1/sessions/{id}/install", s.handleInstall)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleRelease)
	s.mux.HandleFunc("GET /v1/sessions", s.handleListSessions)

	// No auth
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}
