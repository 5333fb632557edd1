package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/poiesic/kbase/core"
)

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrExpiredSession):
		return http.StatusGone
	case errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, core.ErrExternalDependency), errors.Is(err, core.ErrDeletionPartialFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Status: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
