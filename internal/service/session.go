package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/keyhub/keyhub/internal/cookie"
	"github.com/keyhub/keyhub/internal/metrics"
	"github.com/keyhub/keyhub/internal/model"
)

// SessionCookie is the name of the cookie carrying the sealed session token.
const SessionCookie = "session"

// IdentityStore is the part of the store sessions need.
type IdentityStore interface {
	GetUserIDByToken(ctx context.Context, token string) (model.UserID, error)
	ReissueUserToken(ctx context.Context, id model.UserID) (string, error)
}

// SessionAuthenticator turns the session cookie of a request into a user.
type SessionAuthenticator struct {
	store   IdentityStore
	codec   *cookie.Codec
	maxAge  time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewSessionAuthenticator creates a SessionAuthenticator. A zero maxAge
// issues browser-session cookies. m may be nil.
func NewSessionAuthenticator(store IdentityStore, codec *cookie.Codec, maxAge time.Duration, m *metrics.Metrics, log *slog.Logger) *SessionAuthenticator {
	if log == nil {
		log = slog.Default()
	}
	return &SessionAuthenticator{store: store, codec: codec, maxAge: maxAge, metrics: m, log: log}
}

// Authenticate resolves the session cookie on r.
//
// A missing, tampered or unknown cookie yields ErrUnauthenticated, and a
// cookie that was sent is cleared on w. A store failure yields any other
// error and leaves the cookie alone, so a transient outage does not sign
// the user out.
func (a *SessionAuthenticator) Authenticate(w http.ResponseWriter, r *http.Request) (model.UserID, error) {
	token, err := a.codec.Read(r, SessionCookie)
	if err != nil {
		if _, present := r.Cookie(SessionCookie); present == nil {
			a.codec.Clear(w, SessionCookie)
		}
		a.metrics.SessionAuth(metrics.AuthRejected)
		return 0, ErrUnauthenticated
	}

	id, err := a.store.GetUserIDByToken(r.Context(), token)
	switch {
	case errors.Is(err, ErrNotFound):
		a.codec.Clear(w, SessionCookie)
		a.metrics.SessionAuth(metrics.AuthRejected)
		return 0, ErrUnauthenticated
	case err != nil:
		a.metrics.SessionAuth(metrics.AuthError)
		return 0, fmt.Errorf("resolve session token: %w", err)
	}

	a.metrics.SessionAuth(metrics.AuthAuthenticated)
	return id, nil
}

// Issue writes a session cookie carrying token.
func (a *SessionAuthenticator) Issue(w http.ResponseWriter, token string) error {
	return a.codec.Write(w, SessionCookie, token, a.maxAge)
}

// Clear removes the session cookie.
func (a *SessionAuthenticator) Clear(w http.ResponseWriter) {
	a.codec.Clear(w, SessionCookie)
}

// Revoke reissues the token of the user the request's cookie belongs to, so
// that every copy of the old cookie stops working. A request without a
// valid session is not an error.
func (a *SessionAuthenticator) Revoke(r *http.Request) error {
	token, err := a.codec.Read(r, SessionCookie)
	if err != nil {
		return nil
	}
	id, err := a.store.GetUserIDByToken(r.Context(), token)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve session token: %w", err)
	}
	if _, err := a.store.ReissueUserToken(r.Context(), id); err != nil {
		return fmt.Errorf("reissue token for user %d: %w", id, err)
	}
	a.log.Info("session token reissued", "user_id", id)
	return nil
}
