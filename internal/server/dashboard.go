package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vango-dev/devpack/internal/compiler"
	"github.com/vango-dev/devpack/internal/errors"
)

func (s *Server) handlePlatforms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platforms": s.compiler.Platforms()})
}

func (s *Server) handleServerLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.reporter.Recent()})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	writeJSON(w, http.StatusOK, map[string]any{"assets": s.compiler.Assets(platform)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	writeJSON(w, http.StatusOK, map[string]any{"stats": s.compiler.Stats(platform)})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	if !s.cfg.AllowsPlatform(platform) {
		writeError(w, r, s.logger, errors.New("E203").WithDetailf("unknown platform %q", platform))
		return
	}
	if err := s.compiler.Restart(r.Context(), platform); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	port, running := s.compiler.Port(platform)
	writeJSON(w, http.StatusOK, compiler.PlatformInfo{ID: platform, Port: port, Running: running})
}
