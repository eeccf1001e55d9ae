// Package api provides HTTP handlers for the Neon Run API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/neonrun/internal/game"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Fixed user-facing error messages. Internal detail is only logged.
const (
	msgInvalidInput     = "Invalid input"
	msgSessionNotFound  = "Session not found"
	msgSessionEnded     = "This run is over. Start a new session."
	msgGenerationFailed = "The narrator lost the signal. Try that again."
	msgInternal         = "Internal server error"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Message string `json:"message"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Message: message})
}

// StatusFor maps a game error to an HTTP status and a user-facing message.
func StatusFor(err error) (int, string) {
	var verr *game.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, msgInvalidInput + ": " + verr.Reason
	case errors.Is(err, game.ErrSessionNotFound):
		return http.StatusNotFound, msgSessionNotFound
	case errors.Is(err, game.ErrSessionTerminated):
		return http.StatusConflict, msgSessionEnded
	case errors.Is(err, game.ErrGenerationFailed):
		return http.StatusInternalServerError, msgGenerationFailed
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// writeErr logs err with its request context and writes the mapped response.
func writeErr(w http.ResponseWriter, r *http.Request, err error, attrs ...any) {
	status, msg := StatusFor(err)
	attrs = append(attrs, "error", err, "status", status, "path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", attrs...)
	} else {
		slog.Info("Request rejected", attrs...)
	}
	Error(w, status, msg)
}
