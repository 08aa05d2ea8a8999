package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/vango-dev/devpack/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError responds with the status mapped from err and its JSON form.
// Errors caused by the client going away are not answered.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if stderrors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return
	}
	e := errors.FromError(err, "E206")
	status := errors.HTTPStatus(e)
	if status >= 500 {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, map[string]any{"error": e})
}
