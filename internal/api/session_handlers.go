package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/p-arndt/sessionbox/internal/session"
)

type runRequest struct {
	Content   string `json:"content"`
	FileName  string `json:"file_name"`
	SourceDir string `json:"source_dir"`
}

type installRequest struct {
	PackageName string `json:"package_name"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	var req runRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateRunRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("run",
		zap.String("session_id", id),
		zap.String("file_name", req.FileName),
		zap.Int("content_bytes", len(req.Content)),
		zap.String("request_id", RequestID(r.Context())))
	result, err := s.manager.Execute(r.Context(), session.ExecuteRequest{
		SessionID: id,
		Content:   req.Content,
		FileName:  req.FileName,
		SourceDir: req.SourceDir,
	})
	if err != nil {
		s.logger.Error("run", zap.String("session_id", id), zap.Error(err))
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	var req installRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateInstallRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("install", zap.String("session_id", id), zap.String("package", req.PackageName))
	result, err := s.manager.Install(r.Context(), id, req.PackageName)
	if err != nil {
		s.logger.Error("install", zap.String("session_id", id), zap.Error(err))
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	s.logger.Debug("release session", zap.String("session_id", id))
	s.manager.Release(r.Context(), id)

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned up"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.List()
	s.logger.Debug("list sessions", zap.Int("count", len(sessions)))
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	strategy := s.manager.Strategy()
	if strategy == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "strategy": strategy})
}
