package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/keyhub/keyhub/internal/model"
	"github.com/keyhub/keyhub/internal/service"
)

type userContextKey struct{}

// LoginPath is where RedirectSession sends visitors without a session.
const LoginPath = "/auth/login"

// Authenticator resolves the session of a request. It is satisfied by
// *service.SessionAuthenticator.
type Authenticator interface {
	Authenticate(w http.ResponseWriter, r *http.Request) (model.UserID, error)
}

// RequireSession rejects requests without a valid session with a 401 JSON
// error. Store failures are logged and answered with a generic 500.
func RequireSession(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(w, r)
			switch {
			case errors.Is(err, service.ErrUnauthenticated):
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				return
			case err != nil:
				logSessionError(r, logger, err)
				writeAuthError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// OptionalSession attaches the user when the request carries a valid
// session and passes anonymous requests through unchanged.
func OptionalSession(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(w, r)
			switch {
			case errors.Is(err, service.ErrUnauthenticated):
				next.ServeHTTP(w, r)
				return
			case err != nil:
				logSessionError(r, logger, err)
				writeAuthError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// RedirectSession sends every request that does not end up authenticated to
// the login page, including ones that failed on a store error.
func RedirectSession(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(w, r)
			if err != nil {
				if !errors.Is(err, service.ErrUnauthenticated) {
					logSessionError(r, logger, err)
				}
				http.Redirect(w, r, LoginPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// WithUserID returns a copy of ctx carrying the signed-in user.
func WithUserID(ctx context.Context, id model.UserID) context.Context {
	return context.WithValue(ctx, userContextKey{}, id)
}

// UserID returns the signed-in user from ctx, if any.
func UserID(ctx context.Context) (model.UserID, bool) {
	id, ok := ctx.Value(userContextKey{}).(model.UserID)
	return id, ok
}

func logSessionError(r *http.Request, logger *slog.Logger, err error) {
	logger.ErrorContext(r.Context(), "session lookup failed",
		"error", err,
		"request_id", GetRequestID(r.Context()),
	)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Built by hand; importing handler would be a cycle.
	w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"` + message + `"}}`))
}
