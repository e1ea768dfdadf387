package service

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/keyhub/keyhub/internal/store"
)

// fakeProvider is a minimal OAuth2 provider with a userinfo endpoint.
type fakeProvider struct {
	srv      *httptest.Server
	email    string
	verifier string
}

func newFakeProvider(t *testing.T, email string) *fakeProvider {
	t.Helper()
	p := &fakeProvider{email: email}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		p.verifier = r.Form.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		claims := map[string]string{"name": "Ops"}
		if p.email != "" {
			claims["email"] = p.email
		}
		json.NewEncoder(w).Encode(claims)
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func newTestFederation(t *testing.T, p *fakeProvider, st *store.Store) *FederationService {
	t.Helper()
	codec := newTestCodec(t)
	sessions := NewSessionAuthenticator(st, codec, time.Hour, nil, discardLogger())
	f, err := NewFederationService(FederationConfig{
		OAuth2: &oauth2.Config{
			ClientID:     "keyhub",
			ClientSecret: "provider-secret",
			RedirectURL:  "http://keyhub.test/auth/callback",
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   p.srv.URL + "/authorize",
				TokenURL:  p.srv.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		UserInfoURL:        p.srv.URL + "/userinfo",
		StateKey:           []byte(testCookieSecret),
		InvalidateOnLogout: true,
		HTTPClient:         p.srv.Client(),
	}, st, sessions, codec, nil, discardLogger())
	if err != nil {
		t.Fatalf("NewFederationService: %v", err)
	}
	return f
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// beginLogin starts a login and returns the provider URL and the login
// state cookie the browser would hold.
func beginLogin(t *testing.T, f *FederationService) (*url.URL, *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	raw, err := f.Begin(rec)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := cookieNamed(rec, LoginStateCookie)
	if state == nil {
		t.Fatal("Begin did not set the login state cookie")
	}
	return u, state
}

func callback(query string, state *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query, nil)
	if state != nil {
		r.AddCookie(state)
	}
	return r
}

func TestFederatedLogin(t *testing.T) {
	p := newFakeProvider(t, "ops@example.com")
	st := newTestStore(t)
	f := newTestFederation(t, p, st)

	authURL, state := beginLogin(t, f)
	q := authURL.Query()
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q, want S256", q.Get("code_challenge_method"))
	}
	scopes := q.Get("scope")
	for _, want := range []string{"email", "profile"} {
		if !strings.Contains(scopes, want) {
			t.Errorf("scope %q missing from %q", want, scopes)
		}
	}

	rec := httptest.NewRecorder()
	u, err := f.Complete(rec, callback("code=good-code&state="+url.QueryEscape(q.Get("state")), state))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if u.Name != "ops@example.com" {
		t.Errorf("user name = %q", u.Name)
	}

	sum := sha256.Sum256([]byte(p.verifier))
	if got := base64.RawURLEncoding.EncodeToString(sum[:]); got != q.Get("code_challenge") {
		t.Error("verifier sent to the token endpoint does not match the challenge")
	}

	if cookieNamed(rec, SessionCookie) == nil {
		t.Error("session cookie not issued")
	}
	if c := cookieNamed(rec, LoginStateCookie); c == nil || c.MaxAge >= 0 {
		t.Error("login state cookie not consumed")
	}

	// A second login maps to the same user.
	authURL, state = beginLogin(t, f)
	again, err := f.Complete(httptest.NewRecorder(), callback("code=good-code&state="+url.QueryEscape(authURL.Query().Get("state")), state))
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("second login created user %d, want %d", again.ID, u.ID)
	}
}

func TestCallbackWithoutCodeAborts(t *testing.T) {
	p := newFakeProvider(t, "ops@example.com")
	f := newTestFederation(t, p, newTestStore(t))

	_, state := beginLogin(t, f)
	_, err := f.Complete(httptest.NewRecorder(), callback("error=access_denied", state))
	if !errors.Is(err, ErrLoginAborted) {
		t.Errorf("got %v, want ErrLoginAborted", err)
	}
}

func TestCallbackFailures(t *testing.T) {
	expired := func(t *testing.T, f *FederationService) *http.Cookie {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, loginClaims{
			Verifier: "v",
			Nonce:    "n",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})
		signed, err := tok.SignedString(f.cfg.StateKey)
		if err != nil {
			t.Fatal(err)
		}
		sealed, _ := f.codec.Seal(LoginStateCookie, signed)
		return &http.Cookie{Name: LoginStateCookie, Value: sealed}
	}

	tests := []struct {
		name  string
		email string
		req   func(t *testing.T, f *FederationService) *http.Request
	}{
		{"state mismatch", "ops@example.com", func(t *testing.T, f *FederationService) *http.Request {
			_, state := beginLogin(t, f)
			return callback("code=good-code&state=forged", state)
		}},
		{"no state cookie", "ops@example.com", func(t *testing.T, f *FederationService) *http.Request {
			u, _ := beginLogin(t, f)
			return callback("code=good-code&state="+url.QueryEscape(u.Query().Get("state")), nil)
		}},
		{"expired state", "ops@example.com", func(t *testing.T, f *FederationService) *http.Request {
			return callback("code=good-code&state=n", expired(t, f))
		}},
		{"bad code", "ops@example.com", func(t *testing.T, f *FederationService) *http.Request {
			u, state := beginLogin(t, f)
			return callback("code=bad-code&state="+url.QueryEscape(u.Query().Get("state")), state)
		}},
		{"no email claim", "", func(t *testing.T, f *FederationService) *http.Request {
			u, state := beginLogin(t, f)
			return callback("code=good-code&state="+url.QueryEscape(u.Query().Get("state")), state)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(t, tt.email)
			st := newTestStore(t)
			f := newTestFederation(t, p, st)

			rec := httptest.NewRecorder()
			_, err := f.Complete(rec, tt.req(t, f))
			if err == nil || errors.Is(err, ErrLoginAborted) {
				t.Fatalf("got %v, want a hard failure", err)
			}
			if cookieNamed(rec, SessionCookie) != nil {
				t.Error("session cookie issued on a failed login")
			}
			users, _ := st.ListUsers(t.Context())
			if len(users) != 0 {
				t.Errorf("failed login created %d users", len(users))
			}
		})
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	p := newFakeProvider(t, "ops@example.com")
	st := newTestStore(t)
	f := newTestFederation(t, p, st)

	authURL, state := beginLogin(t, f)
	rec := httptest.NewRecorder()
	u, err := f.Complete(rec, callback("code=good-code&state="+url.QueryEscape(authURL.Query().Get("state")), state))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	session := cookieNamed(rec, SessionCookie)

	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.AddCookie(session)
	out := httptest.NewRecorder()
	if err := f.Logout(out, r); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if c := cookieNamed(out, SessionCookie); c == nil || c.MaxAge >= 0 {
		t.Error("session cookie not cleared on logout")
	}

	if _, err := st.GetUserIDByToken(t.Context(), u.Token); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old token still valid after logout: %v", err)
	}
	if _, err := st.GetUser(t.Context(), u.ID); err != nil {
		t.Errorf("user row must survive logout: %v", err)
	}
}
