package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/keyhub/keyhub/internal/cookie"
	"github.com/keyhub/keyhub/internal/store"
)

const testCookieSecret = "0123456789abcdef0123456789abcdef"

func newTestCodec(t *testing.T) *cookie.Codec {
	t.Helper()
	c, err := cookie.New([]byte(testCookieSecret), cookie.Options{})
	if err != nil {
		t.Fatalf("cookie.New: %v", err)
	}
	return c
}

// requestWithSession builds a request carrying a sealed session cookie.
func requestWithSession(t *testing.T, codec *cookie.Codec, token string) *http.Request {
	t.Helper()
	sealed, err := codec.Seal(SessionCookie, token)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: sealed})
	return r
}

func sessionCleared(rec *httptest.ResponseRecorder) bool {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestAuthenticateValidToken(t *testing.T) {
	st := newTestStore(t)
	codec := newTestCodec(t)
	auth := NewSessionAuthenticator(st, codec, 0, nil, discardLogger())

	id, token, err := st.CreateUser(context.Background(), "ops@example.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	rec := httptest.NewRecorder()
	got, err := auth.Authenticate(rec, requestWithSession(t, codec, token))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got != id {
		t.Errorf("got user %d, want %d", got, id)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("a valid session must not touch cookies")
	}
}

func TestAuthenticateUnknownTokenClearsCookie(t *testing.T) {
	codec := newTestCodec(t)
	auth := NewSessionAuthenticator(newTestStore(t), codec, 0, nil, discardLogger())

	rec := httptest.NewRecorder()
	_, err := auth.Authenticate(rec, requestWithSession(t, codec, "0000000000000000000000000000000000000000000000000000000000000000"))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("got %v, want ErrUnauthenticated", err)
	}
	if !sessionCleared(rec) {
		t.Error("stale session cookie was not cleared")
	}
}

func TestAuthenticateTamperedCookie(t *testing.T) {
	st := newTestStore(t)
	codec := newTestCodec(t)
	auth := NewSessionAuthenticator(st, codec, 0, nil, discardLogger())

	_, token, _ := st.CreateUser(context.Background(), "ops@example.com")

	// The raw token without sealing is indistinguishable from garbage.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})

	rec := httptest.NewRecorder()
	if _, err := auth.Authenticate(rec, r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("got %v, want ErrUnauthenticated", err)
	}
	if !sessionCleared(rec) {
		t.Error("tampered cookie was not cleared")
	}
}

func TestAuthenticateMissingCookie(t *testing.T) {
	auth := NewSessionAuthenticator(newTestStore(t), newTestCodec(t), 0, nil, discardLogger())

	rec := httptest.NewRecorder()
	if _, err := auth.Authenticate(rec, httptest.NewRequest(http.MethodGet, "/", nil)); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("got %v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticateStoreOutageKeepsCookie(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := store.NewFromDB(sqlx.NewDb(db, "sqlmock"), store.SQLite)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE token = ?")).
		WillReturnError(errors.New("dial tcp: connection refused"))

	codec := newTestCodec(t)
	auth := NewSessionAuthenticator(st, codec, 0, nil, discardLogger())

	rec := httptest.NewRecorder()
	_, err = auth.Authenticate(rec, requestWithSession(t, codec, "tok"))
	if err == nil {
		t.Fatal("expected an error during a store outage")
	}
	if errors.Is(err, ErrUnauthenticated) {
		t.Error("a store outage must not be reported as unauthenticated")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("cookie must be left untouched on a store outage")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRevokeReissuesToken(t *testing.T) {
	st := newTestStore(t)
	codec := newTestCodec(t)
	auth := NewSessionAuthenticator(st, codec, 0, nil, discardLogger())

	_, token, _ := st.CreateUser(context.Background(), "ops@example.com")
	if err := auth.Revoke(requestWithSession(t, codec, token)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	rec := httptest.NewRecorder()
	if _, err := auth.Authenticate(rec, requestWithSession(t, codec, token)); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("old token still authenticates: %v", err)
	}

	if err := auth.Revoke(httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Errorf("Revoke without a session: %v", err)
	}
}
