package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/keyhub/keyhub/internal/service"
)

// AuthHandler serves the federated login endpoints. fed is nil when no
// identity provider is configured.
type AuthHandler struct {
	fed      *service.FederationService
	sessions *service.SessionAuthenticator
	log      *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(fed *service.FederationService, sessions *service.SessionAuthenticator, log *slog.Logger) *AuthHandler {
	return &AuthHandler{fed: fed, sessions: sessions, log: log}
}

// Login redirects to the identity provider.
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.fed == nil {
		writeError(w, http.StatusServiceUnavailable, "Federated login is not configured")
		return
	}
	target, err := h.fed.Begin(w)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback completes a login and redirects home. A callback without a code
// is a declined login and goes home without a session.
// GET /auth/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.fed == nil {
		writeError(w, http.StatusServiceUnavailable, "Federated login is not configured")
		return
	}
	u, err := h.fed.Complete(w, r)
	switch {
	case errors.Is(err, service.ErrLoginAborted):
		http.Redirect(w, r, "/", http.StatusFound)
		return
	case err != nil:
		// Every other failure is reported the same way on purpose.
		h.log.ErrorContext(r.Context(), "login callback failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.log.InfoContext(r.Context(), "user signed in", "user_id", u.ID)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout clears the session and redirects home.
// GET|POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.fed == nil {
		h.sessions.Clear(w)
	} else if err := h.fed.Logout(w, r); err != nil {
		// The cookies are gone either way.
		h.log.ErrorContext(r.Context(), "logout token invalidation failed", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}
