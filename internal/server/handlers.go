package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashita-ai/warren/internal/auth"
	"github.com/ashita-ai/warren/internal/authproxy"
)

type handlers struct {
	store     AgentStore
	validator SessionValidator
	logger    *slog.Logger
	version   string
}

// HandleValidateSession resolves the caller's session token. The token comes
// from the session cookie, falling back to a bearer token. Unauthenticated
// callers get 200 {valid:false} rather than 401 so newts can tell
// "validated as unauthenticated" apart from transport failure; only internal
// errors produce a 500.
func (h *handlers) HandleValidateSession(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(authproxy.CookieName); err == nil {
		token = c.Value
	}
	if token == "" {
		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = parts[1]
			}
		}
	}

	result, err := h.validator.Validate(r.Context(), token)
	if err != nil {
		h.logger.Error("session validation failed",
			"error", err, "request_id", RequestIDFromContext(r.Context()))
		writeJSON(w, http.StatusInternalServerError, auth.ValidationResult{})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleHealth reports process liveness and database reachability.
func (h *handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health check db ping failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
