package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/keyhub/keyhub/internal/config"
	"github.com/keyhub/keyhub/internal/cookie"
	"github.com/keyhub/keyhub/internal/metrics"
	"github.com/keyhub/keyhub/internal/service"
	"github.com/keyhub/keyhub/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testCookieSecret = "test-cookie-secret-for-integration-tests"

type testEnv struct {
	server *Server
	store  *store.Store
	codec  *cookie.Codec
}

// newTestEnv wires a Server over an in-memory store. With withFederation
// the login endpoints point at an identity provider that is never called.
func newTestEnv(t *testing.T, withFederation bool) *testEnv {
	t.Helper()

	st, err := store.New(store.Config{Driver: store.SQLite}) // in-memory SQLite
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	codec, err := cookie.New([]byte(testCookieSecret), cookie.Options{})
	if err != nil {
		t.Fatalf("cookie.New: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	sessions := service.NewSessionAuthenticator(st, codec, 0, m, logger)

	deps := Deps{
		Store:       st,
		Clients:     service.NewClientService(st, m, logger),
		Keys:        service.NewKeyService(st, m, logger),
		Credentials: service.NewCredentialService(st, m, logger),
		Sessions:    sessions,
		Metrics:     m,
	}
	if withFederation {
		fed, err := service.NewFederationService(service.FederationConfig{
			OAuth2: &oauth2.Config{
				ClientID:    "keyhub",
				Endpoint:    oauth2.Endpoint{AuthURL: "https://idp.example/authorize", TokenURL: "https://idp.example/token"},
				RedirectURL: "https://keyhub.example/auth/callback",
				Scopes:      []string{"openid", "email", "profile"},
			},
			UserInfoURL:        "https://idp.example/userinfo",
			StateKey:           []byte(testCookieSecret),
			InvalidateOnLogout: true,
		}, st, sessions, codec, m, logger)
		if err != nil {
			t.Fatalf("NewFederationService: %v", err)
		}
		deps.Federation = fed
	}

	cfg := config.Default().Server
	cfg.RateLimit.Requests = 1000
	return &testEnv{server: New(cfg, deps, logger), store: st, codec: codec}
}

// signIn creates a user and returns a sealed session cookie for it.
func (e *testEnv) signIn(t *testing.T, name string) *http.Cookie {
	t.Helper()
	_, token, err := e.store.CreateUser(context.Background(), name)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	sealed, err := e.codec.Seal(service.SessionCookie, token)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return &http.Cookie{Name: service.SessionCookie, Value: sealed}
}

// do sends a request through the full router.
func (e *testEnv) do(t *testing.T, method, path string, body any, session *http.Cookie, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		req.AddCookie(session)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

func clearedCookie(rr *httptest.ResponseRecorder, name string) bool {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Probes and metrics
// ---------------------------------------------------------------------------

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	rr = env.do(t, "GET", "/readyz", nil, nil)
	expectStatus(t, rr, http.StatusOK)

	env.store.Close()
	rr = env.do(t, "GET", "/readyz", nil, nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, "GET", "/api/v1/client", nil, nil)

	rr := env.do(t, "GET", "/metrics", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	for _, name := range []string{"keyhub_session_auth_total", "keyhub_http_requests_total"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestMetricsEndpointDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	env.server.cfg.Metrics = false
	env.server.setupRouter()

	rr := env.do(t, "GET", "/metrics", nil, nil)
	expectStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestAPIRequiresSession(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(t, "GET", "/api/v1/key", nil, nil)
	expectStatus(t, rr, http.StatusUnauthorized)

	forged := &http.Cookie{Name: service.SessionCookie, Value: "not-a-sealed-token"}
	rr = env.do(t, "GET", "/api/v1/key", nil, forged)
	expectStatus(t, rr, http.StatusUnauthorized)
	if !clearedCookie(rr, service.SessionCookie) {
		t.Error("forged session cookie was not cleared")
	}
}

func TestOverviewRedirectsAnonymous(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(t, "GET", "/", nil, nil)
	expectStatus(t, rr, http.StatusFound)
	if loc := rr.Header().Get("Location"); loc != "/auth/login" {
		t.Errorf("Location = %q, want /auth/login", loc)
	}

	session := env.signIn(t, "ops@example.com")
	rr = env.do(t, "GET", "/", nil, session)
	expectStatus(t, rr, http.StatusOK)
	got := decode[struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
		Clients []any `json:"clients"`
		Keys    []any `json:"keys"`
	}](t, rr)
	if got.User.Name != "ops@example.com" || got.Clients == nil || got.Keys == nil {
		t.Errorf("overview = %+v", got)
	}
	if strings.Contains(rr.Body.String(), "token") {
		t.Error("overview exposes the session token")
	}
}

func TestSessionEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(t, "GET", "/api/v1/session", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != `{"authenticated":false}` {
		t.Errorf("anonymous session = %s", rr.Body.String())
	}

	rr = env.do(t, "GET", "/api/v1/session", nil, env.signIn(t, "ops@example.com"))
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"name":"ops@example.com"`) {
		t.Errorf("authenticated session = %s", rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Login endpoints
// ---------------------------------------------------------------------------

func TestLoginWithoutProvider(t *testing.T) {
	env := newTestEnv(t, false)
	rr := env.do(t, "GET", "/auth/login", nil, nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
}

func TestLoginRedirectsWithPKCE(t *testing.T) {
	env := newTestEnv(t, true)
	rr := env.do(t, "GET", "/auth/login", nil, nil)
	expectStatus(t, rr, http.StatusFound)

	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Host != "idp.example" {
		t.Errorf("redirected to %s", loc)
	}
	q := loc.Query()
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" || q.Get("state") == "" {
		t.Errorf("authorization URL lacks PKCE or state: %s", loc)
	}
	var haveState bool
	for _, c := range rr.Result().Cookies() {
		if c.Name == service.LoginStateCookie && c.HttpOnly {
			haveState = true
		}
	}
	if !haveState {
		t.Error("login state cookie not set")
	}
}

func TestCallbackWithoutCodeGoesHome(t *testing.T) {
	env := newTestEnv(t, true)
	rr := env.do(t, "GET", "/auth/callback?error=access_denied", nil, nil)
	expectStatus(t, rr, http.StatusFound)
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestCallbackStateMismatchIsGeneric500(t *testing.T) {
	env := newTestEnv(t, true)
	rr := env.do(t, "GET", "/auth/callback?code=abc&state=forged", nil, nil)
	expectStatus(t, rr, http.StatusInternalServerError)
	if strings.Contains(strings.ToLower(rr.Body.String()), "state") {
		t.Errorf("callback failure leaks detail: %s", rr.Body.String())
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	env := newTestEnv(t, true)
	session := env.signIn(t, "ops@example.com")

	rr := env.do(t, "POST", "/auth/logout", nil, session)
	expectStatus(t, rr, http.StatusFound)
	if !clearedCookie(rr, service.SessionCookie) {
		t.Error("logout did not clear the session cookie")
	}

	// A copy of the old cookie no longer works.
	rr = env.do(t, "GET", "/api/v1/key", nil, session)
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestLogoutWithoutProviderClearsCookie(t *testing.T) {
	env := newTestEnv(t, false)
	rr := env.do(t, "GET", "/auth/logout", nil, env.signIn(t, "ops@example.com"))
	expectStatus(t, rr, http.StatusFound)
	if !clearedCookie(rr, service.SessionCookie) {
		t.Error("logout did not clear the session cookie")
	}
}

// ---------------------------------------------------------------------------
// Credential lifecycle
// ---------------------------------------------------------------------------

type idResponse struct {
	ID int64 `json:"id"`
}

type assocResponse struct {
	ID       int64   `json:"id"`
	Secret   string  `json:"secret"`
	LastUsed *string `json:"last_used"`
}

func TestCredentialLifecycle(t *testing.T) {
	env := newTestEnv(t, false)
	s := env.signIn(t, "ops@example.com")

	// Key validation happens before anything is stored.
	rr := env.do(t, "POST", "/api/v1/key", map[string]any{"name": "bad name", "description": ""}, s)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "POST", "/api/v1/key", map[string]any{
		"name": "billing", "description": "billing api", "secret": "A", "rotate_with": "B",
	}, s)
	expectStatus(t, rr, http.StatusCreated)
	if strings.Contains(rr.Body.String(), `"A"`) {
		t.Error("key response exposes the secret")
	}
	key := decode[idResponse](t, rr)

	rr = env.do(t, "POST", "/api/v1/client", map[string]any{"name": "acme", "description": "partner"}, s)
	expectStatus(t, rr, http.StatusCreated)
	client := decode[idResponse](t, rr)

	clientKeyPath := "/api/v1/client/" + itoa(client.ID) + "/key/" + itoa(key.ID)

	rr = env.do(t, "POST", clientKeyPath, nil, s)
	expectStatus(t, rr, http.StatusCreated)
	assoc := decode[assocResponse](t, rr)
	if len(assoc.Secret) != 64 {
		t.Fatalf("association secret = %q", assoc.Secret)
	}

	rr = env.do(t, "POST", clientKeyPath, nil, s)
	expectStatus(t, rr, http.StatusConflict)

	rr = env.do(t, "POST", "/api/v1/client/"+itoa(client.ID)+"/key/9999", nil, s)
	expectStatus(t, rr, http.StatusNotFound)

	// The client fetches the key with its secret, no session needed.
	rr = env.do(t, "GET", "/api/v1/credential", nil, nil, "X-Client-Secret", assoc.Secret)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"secret":"A"`) {
		t.Errorf("credential = %s", rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Error("credential response is cacheable")
	}

	rr = env.do(t, "GET", clientKeyPath, nil, s)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[assocResponse](t, rr); got.LastUsed == nil {
		t.Error("last_used not stamped by credential fetch")
	}

	// Rotating the client secret kills the old one.
	rr = env.do(t, "PUT", clientKeyPath+"/secret", nil, s)
	expectStatus(t, rr, http.StatusOK)
	rotated := decode[assocResponse](t, rr)
	if rotated.Secret == assoc.Secret {
		t.Error("secret unchanged after rotation")
	}
	rr = env.do(t, "GET", "/api/v1/credential", nil, nil, "X-Client-Secret", assoc.Secret)
	expectStatus(t, rr, http.StatusUnauthorized)

	// Rotating the key promotes the staged secret.
	keyPath := "/api/v1/key/" + itoa(key.ID)
	rr = env.do(t, "PUT", keyPath+"/rotate", nil, s)
	expectStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != `{"secret":"B","rotate_at":null,"rotate_with":null}` {
		t.Errorf("after rotate: %s", rr.Body.String())
	}
	rr = env.do(t, "GET", "/api/v1/credential", nil, nil, "X-Client-Secret", rotated.Secret)
	if !strings.Contains(rr.Body.String(), `"secret":"B"`) {
		t.Errorf("credential after rotate = %s", rr.Body.String())
	}

	rr = env.do(t, "GET", "/api/v1/client/"+itoa(client.ID)+"/key", nil, s)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"key_name":"billing"`) {
		t.Errorf("client key list = %s", rr.Body.String())
	}

	// Deleting the key cascades to the association.
	rr = env.do(t, "DELETE", keyPath, nil, s)
	expectStatus(t, rr, http.StatusNoContent)
	rr = env.do(t, "GET", clientKeyPath, nil, s)
	expectStatus(t, rr, http.StatusNotFound)
	rr = env.do(t, "GET", "/api/v1/credential", nil, nil, "X-Client-Secret", rotated.Secret)
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestKeySecretPatch(t *testing.T) {
	env := newTestEnv(t, false)
	s := env.signIn(t, "ops@example.com")

	rr := env.do(t, "POST", "/api/v1/key", map[string]any{"name": "search", "secret": "S0"}, s)
	expectStatus(t, rr, http.StatusCreated)
	path := "/api/v1/key/" + itoa(decode[idResponse](t, rr).ID) + "/secret"

	tests := []struct {
		body string
		want string
	}{
		{`{"rotate_with":"S1","rotate_at":"2030-01-02"}`, `{"secret":"S0","rotate_at":"2030-01-02","rotate_with":"S1"}`},
		{`{}`, `{"secret":"S0","rotate_at":"2030-01-02","rotate_with":"S1"}`},
		{`{"rotate_at":null}`, `{"secret":"S0","rotate_at":null,"rotate_with":"S1"}`},
		{`{"secret":null,"rotate_with":null}`, `{"secret":null,"rotate_at":null,"rotate_with":null}`},
	}
	for _, tt := range tests {
		rr := env.do(t, "PUT", path, tt.body, s)
		expectStatus(t, rr, http.StatusOK)
		if got := strings.TrimSpace(rr.Body.String()); got != tt.want {
			t.Errorf("PUT %s: got %s, want %s", tt.body, got, tt.want)
		}
	}

	rr = env.do(t, "PUT", path, `{"rotate_at":"not-a-date"}`, s)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "PUT", "/api/v1/key/424242/secret", `{"secret":"x"}`, s)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestClientCRUD(t *testing.T) {
	env := newTestEnv(t, false)
	s := env.signIn(t, "ops@example.com")

	rr := env.do(t, "POST", "/api/v1/client", map[string]any{"name": "acme"}, s)
	expectStatus(t, rr, http.StatusCreated)
	path := "/api/v1/client/" + itoa(decode[idResponse](t, rr).ID)

	rr = env.do(t, "PUT", path, map[string]any{"name": "acme corp", "description": "renamed"}, s)
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, "GET", path, nil, s)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"name":"acme corp"`) {
		t.Errorf("client = %s", rr.Body.String())
	}

	rr = env.do(t, "GET", "/api/v1/client", nil, s)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"count":1`) {
		t.Errorf("list = %s", rr.Body.String())
	}

	expectStatus(t, env.do(t, "DELETE", path, nil, s), http.StatusNoContent)
	expectStatus(t, env.do(t, "DELETE", path, nil, s), http.StatusNotFound)
	expectStatus(t, env.do(t, "GET", "/api/v1/client/abc", nil, s), http.StatusBadRequest)
}

func TestCredentialRateLimit(t *testing.T) {
	env := newTestEnv(t, false)
	env.server.cfg.RateLimit.Requests = 2
	env.server.setupRouter()

	for _, guess := range []string{"guess-1", "guess-2"} {
		rr := env.do(t, "GET", "/api/v1/credential", nil, nil, "X-Client-Secret", guess)
		expectStatus(t, rr, http.StatusUnauthorized)
	}
	rr := env.do(t, "GET", "/api/v1/credential", nil, nil, "X-Client-Secret", "guess-3")
	expectStatus(t, rr, http.StatusTooManyRequests)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestCORSOnlyForListedOrigins(t *testing.T) {
	env := newTestEnv(t, false)

	preflight := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("OPTIONS", "/api/v1/key", nil)
		req.Header.Set("Origin", "https://console.example")
		req.Header.Set("Access-Control-Request-Method", "GET")
		rr := httptest.NewRecorder()
		env.server.ServeHTTP(rr, req)
		return rr
	}

	if got := preflight().Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("CORS enabled without configured origins: %q", got)
	}

	env.server.cfg.CORS.Origins = []string{"https://console.example"}
	env.server.setupRouter()
	if got := preflight().Header().Get("Access-Control-Allow-Origin"); got != "https://console.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
