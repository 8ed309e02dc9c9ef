// Package httpapi exposes the platform's REST surface: agent CRUD, chat
// sessions, platform webhooks, and WebSocket token minting.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nimbusworks/aviary/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("httpapi.encode_failed", "error", err)
	}
}

// writeError maps the error kind to a status code and renders the message.
// Internal errors hide their details from the client.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("httpapi.internal_error", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
