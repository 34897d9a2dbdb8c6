package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/taskd/internal/engine"
	"github.com/nextlevelbuilder/taskd/internal/store"
)

var timeNow = func() time.Time { return time.Now().UTC() }

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		errorJSON(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound):
		errorJSON(w, http.StatusNotFound, "not found")
	case errors.Is(err, engine.ErrAlreadyRunning):
		errorJSON(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrDependenciesNotMet):
		errorJSON(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("api error", "error", err)
		errorJSON(w, http.StatusInternalServerError, "internal server error")
	}
}

// pathID parses a numeric path segment; a non-integer id is a 400, matching
// the contract that malformed ids are a client error rather than a miss.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid id "+strconv.Quote(raw))
		return 0, false
	}
	return id, true
}

// decodeJSON reads a request body. An empty body decodes as the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		errorJSON(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
