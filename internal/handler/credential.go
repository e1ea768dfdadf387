package handler

import (
	"log/slog"
	"net/http"

	"github.com/keyhub/keyhub/internal/service"
)

// ClientSecretHeader carries the secret a client presents.
const ClientSecretHeader = "X-Client-Secret"

// CredentialHandler hands clients the key their secret unlocks.
type CredentialHandler struct {
	creds *service.CredentialService
	log   *slog.Logger
}

// NewCredentialHandler creates a CredentialHandler.
func NewCredentialHandler(creds *service.CredentialService, log *slog.Logger) *CredentialHandler {
	return &CredentialHandler{creds: creds, log: log}
}

// Get returns the credential behind the presented client secret.
// GET /api/v1/credential
func (h *CredentialHandler) Get(w http.ResponseWriter, r *http.Request) {
	cred, err := h.creds.Verify(r.Context(), r.Header.Get(ClientSecretHeader))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, cred)
}
