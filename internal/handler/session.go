package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/keyhub/keyhub/internal/model"
	"github.com/keyhub/keyhub/internal/server/middleware"
	"github.com/keyhub/keyhub/internal/service"
)

// UserLookup resolves a signed-in user id to its record.
type UserLookup interface {
	GetUser(ctx context.Context, id model.UserID) (*model.User, error)
}

// SessionHandler describes the caller's session.
type SessionHandler struct {
	users   UserLookup
	clients *service.ClientService
	keys    *service.KeyService
	log     *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(users UserLookup, clients *service.ClientService, keys *service.KeyService, log *slog.Logger) *SessionHandler {
	return &SessionHandler{users: users, clients: clients, keys: keys, log: log}
}

type sessionResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *model.User `json:"user,omitempty"`
}

type overviewResponse struct {
	User    *model.User    `json:"user"`
	Clients []model.Client `json:"clients"`
	Keys    []model.Key    `json:"keys"`
}

// Session reports who is signed in, if anyone.
// GET /api/v1/session
func (h *SessionHandler) Session(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: u})
}

// Overview lists everything the signed-in operator manages.
// GET /
func (h *SessionHandler) Overview(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.UserID(r.Context())
	if !ok {
		http.Redirect(w, r, middleware.LoginPath, http.StatusFound)
		return
	}
	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	clients, err := h.clients.ListClients(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if clients == nil {
		clients = []model.Client{}
	}
	if keys == nil {
		keys = []model.Key{}
	}
	writeJSON(w, http.StatusOK, overviewResponse{User: u, Clients: clients, Keys: keys})
}
