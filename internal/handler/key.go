package handler

import (
	"log/slog"
	"net/http"

	"github.com/keyhub/keyhub/internal/model"
	"github.com/keyhub/keyhub/internal/service"
)

// KeyHandler serves keys and their secret material.
type KeyHandler struct {
	keys *service.KeyService
	log  *slog.Logger
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(keys *service.KeyService, log *slog.Logger) *KeyHandler {
	return &KeyHandler{keys: keys, log: log}
}

type newKeyRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Secret      *string     `json:"secret"`
	RotateAt    *model.Date `json:"rotate_at"`
	RotateWith  *string     `json:"rotate_with"`
}

type keyInfoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// keySecrets is the secret view of a key. Absent values encode as null.
type keySecrets struct {
	Secret     *string     `json:"secret"`
	RotateAt   *model.Date `json:"rotate_at"`
	RotateWith *string     `json:"rotate_with"`
}

func secretsOf(k *model.Key) keySecrets {
	return keySecrets{Secret: k.Secret, RotateAt: k.RotateAt, RotateWith: k.RotateWith}
}

// ListKeys returns every key without secrets.
// GET /api/v1/key
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(keys))
}

// CreateKey validates and stores a new key.
// POST /api/v1/key
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req newKeyRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	k, err := h.keys.CreateKey(r.Context(), model.Key{
		Name:        req.Name,
		Description: req.Description,
		Secret:      req.Secret,
		RotateAt:    req.RotateAt,
		RotateWith:  req.RotateWith,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, k)
}

// GetKey returns a key's name, description and rotation date.
// GET /api/v1/key/{keyId}
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}
	k, err := h.keys.GetKey(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

// UpdateKey replaces a key's name and description.
// PUT /api/v1/key/{keyId}
func (h *KeyHandler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}
	var req keyInfoRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	k, err := h.keys.UpdateKeyInfo(r.Context(), id, req.Name, req.Description)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

// DeleteKey removes a key and every association to it.
// DELETE /api/v1/key/{keyId}
func (h *KeyHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}
	if err := h.keys.DeleteKey(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSecrets returns a key's active secret and staged rotation.
// GET /api/v1/key/{keyId}/secret
func (h *KeyHandler) GetSecrets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}
	k, err := h.keys.GetKey(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, secretsOf(k))
}

// UpdateSecrets applies a partial update: omitted members are kept, null
// members are cleared.
// PUT /api/v1/key/{keyId}/secret
func (h *KeyHandler) UpdateSecrets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}
	var patch model.KeySecretsPatch
	if err := readJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	k, err := h.keys.UpdateKeySecrets(r.Context(), id, patch)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, secretsOf(k))
}

// Rotate promotes the staged secret.
// PUT /api/v1/key/{keyId}/rotate
func (h *KeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}
	k, err := h.keys.Rotate(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, secretsOf(k))
}

func (h *KeyHandler) keyID(w http.ResponseWriter, r *http.Request) (model.KeyID, bool) {
	id, err := pathID[model.KeyID](r, "keyId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return id, true
}
