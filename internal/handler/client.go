package handler

import (
	"log/slog"
	"net/http"

	"github.com/keyhub/keyhub/internal/model"
	"github.com/keyhub/keyhub/internal/service"
)

// ClientHandler serves clients and their key associations.
type ClientHandler struct {
	clients *service.ClientService
	log     *slog.Logger
}

// NewClientHandler creates a ClientHandler.
func NewClientHandler(clients *service.ClientService, log *slog.Logger) *ClientHandler {
	return &ClientHandler{clients: clients, log: log}
}

type clientInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListClients returns every client.
// GET /api/v1/client
func (h *ClientHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.clients.ListClients(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(clients))
}

// CreateClient registers a new client.
// POST /api/v1/client
func (h *ClientHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req clientInfo
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	c, err := h.clients.CreateClient(r.Context(), req.Name, req.Description)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetClient returns one client.
// GET /api/v1/client/{clientId}
func (h *ClientHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	c, err := h.clients.GetClient(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateClient replaces a client's name and description.
// PUT /api/v1/client/{clientId}
func (h *ClientHandler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	var req clientInfo
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	c, err := h.clients.UpdateClientInfo(r.Context(), id, req.Name, req.Description)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteClient removes a client and its associations.
// DELETE /api/v1/client/{clientId}
func (h *ClientHandler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	if err := h.clients.DeleteClient(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListClientKeys returns the client's associations with key names.
// GET /api/v1/client/{clientId}/key
func (h *ClientHandler) ListClientKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	views, err := h.clients.ListAssociations(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(views))
}

// Associate grants the client access to a key under a fresh secret.
// POST /api/v1/client/{clientId}/key/{keyId}
func (h *ClientHandler) Associate(w http.ResponseWriter, r *http.Request) {
	clientID, keyID, ok := h.pair(w, r)
	if !ok {
		return
	}
	a, err := h.clients.Associate(r.Context(), clientID, keyID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAssociation returns the association, including its secret.
// GET /api/v1/client/{clientId}/key/{keyId}
func (h *ClientHandler) GetAssociation(w http.ResponseWriter, r *http.Request) {
	clientID, keyID, ok := h.pair(w, r)
	if !ok {
		return
	}
	a, err := h.clients.Association(r.Context(), clientID, keyID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RotateSecret replaces the association's secret.
// PUT /api/v1/client/{clientId}/key/{keyId}/secret
func (h *ClientHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	clientID, keyID, ok := h.pair(w, r)
	if !ok {
		return
	}
	a, err := h.clients.RotateSecret(r.Context(), clientID, keyID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Dissociate removes the client's access to a key.
// DELETE /api/v1/client/{clientId}/key/{keyId}
func (h *ClientHandler) Dissociate(w http.ResponseWriter, r *http.Request) {
	clientID, keyID, ok := h.pair(w, r)
	if !ok {
		return
	}
	if err := h.clients.Dissociate(r.Context(), clientID, keyID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ClientHandler) clientID(w http.ResponseWriter, r *http.Request) (model.ClientID, bool) {
	id, err := pathID[model.ClientID](r, "clientId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return id, true
}

func (h *ClientHandler) pair(w http.ResponseWriter, r *http.Request) (model.ClientID, model.KeyID, bool) {
	clientID, ok := h.clientID(w, r)
	if !ok {
		return 0, 0, false
	}
	keyID, err := pathID[model.KeyID](r, "keyId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return clientID, keyID, true
}
