package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roach88/audittrail/internal/engine"
	"github.com/roach88/audittrail/internal/store"
	"github.com/roach88/audittrail/internal/tasks"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps an engine error to a response. Validation errors carry their
// message to the client; anything else is logged and reported generically.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, tasks.ErrShutdown):
		s.logger.Warn("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
