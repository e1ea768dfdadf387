package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/keyhub/keyhub/internal/cookie"
	"github.com/keyhub/keyhub/internal/metrics"
	"github.com/keyhub/keyhub/internal/model"
	"github.com/keyhub/keyhub/internal/secret"
)

// LoginStateCookie carries the PKCE verifier and CSRF nonce between the
// start of a login and the provider's callback.
const LoginStateCookie = "login_state"

// DefaultLoginStateTTL bounds how long a login may take.
const DefaultLoginStateTTL = 10 * time.Minute

// ErrLoginAborted is returned when the provider redirects back without an
// authorization code, e.g. because the user declined.
var ErrLoginAborted = errors.New("login aborted")

// UserStore is the part of the store federated login needs.
type UserStore interface {
	GetUserByName(ctx context.Context, name string) (*model.User, error)
	CreateUser(ctx context.Context, name string) (model.UserID, string, error)
}

// FederationConfig configures the identity provider exchange.
type FederationConfig struct {
	OAuth2      *oauth2.Config
	UserInfoURL string
	StateKey    []byte
	StateTTL    time.Duration

	// InvalidateOnLogout reissues the user's token on logout.
	InvalidateOnLogout bool

	// HTTPClient is used for the token exchange and the userinfo request.
	// Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// FederationService signs operators in through an OAuth2 provider using the
// authorization code flow with PKCE. Nothing is kept in memory between the
// start of a login and its callback; all correlation state travels in the
// login state cookie.
type FederationService struct {
	cfg      FederationConfig
	users    UserStore
	sessions *SessionAuthenticator
	codec    *cookie.Codec
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewFederationService creates a FederationService. m may be nil.
func NewFederationService(cfg FederationConfig, users UserStore, sessions *SessionAuthenticator, codec *cookie.Codec, m *metrics.Metrics, log *slog.Logger) (*FederationService, error) {
	if cfg.OAuth2 == nil {
		return nil, errors.New("federation: oauth2 config is required")
	}
	if cfg.UserInfoURL == "" {
		return nil, errors.New("federation: userinfo url is required")
	}
	if len(cfg.StateKey) == 0 {
		return nil, errors.New("federation: state key is required")
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultLoginStateTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &FederationService{cfg: cfg, users: users, sessions: sessions, codec: codec, metrics: m, log: log}, nil
}

type loginClaims struct {
	Verifier string `json:"pkce"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// Begin starts a login. It writes the login state cookie and returns the
// provider URL to redirect the user agent to.
func (f *FederationService) Begin(w http.ResponseWriter) (string, error) {
	verifier := oauth2.GenerateVerifier()
	nonce, err := secret.Generate()
	if err != nil {
		return "", fmt.Errorf("generate login nonce: %w", err)
	}

	now := time.Now()
	state := jwt.NewWithClaims(jwt.SigningMethodHS256, loginClaims{
		Verifier: verifier,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(f.cfg.StateTTL)),
			Issuer:    "keyhub",
		},
	})
	signed, err := state.SignedString(f.cfg.StateKey)
	if err != nil {
		return "", fmt.Errorf("sign login state: %w", err)
	}
	if err := f.codec.Write(w, LoginStateCookie, signed, f.cfg.StateTTL); err != nil {
		return "", fmt.Errorf("write login state: %w", err)
	}

	return f.cfg.OAuth2.AuthCodeURL(nonce, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier)), nil
}

// Complete handles the provider's callback. On success the session cookie
// is set and the signed-in user returned. A callback without a code yields
// ErrLoginAborted. The login state cookie is consumed either way.
func (f *FederationService) Complete(w http.ResponseWriter, r *http.Request) (*model.User, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		f.codec.Clear(w, LoginStateCookie)
		return nil, ErrLoginAborted
	}

	u, err := f.complete(w, r, code)
	f.metrics.Login(err == nil)
	return u, err
}

func (f *FederationService) complete(w http.ResponseWriter, r *http.Request, code string) (*model.User, error) {
	claims, err := f.readState(r)
	f.codec.Clear(w, LoginStateCookie)
	if err != nil {
		return nil, err
	}

	got := r.URL.Query().Get("state")
	if subtle.ConstantTimeCompare([]byte(got), []byte(claims.Nonce)) != 1 {
		return nil, errors.New("login state does not match callback")
	}

	ctx := r.Context()
	if f.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.cfg.HTTPClient)
	}

	tok, err := f.cfg.OAuth2.Exchange(ctx, code, oauth2.VerifierOption(claims.Verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	email, err := f.fetchEmail(ctx, tok)
	if err != nil {
		return nil, err
	}

	u, err := f.findOrCreate(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := f.sessions.Issue(w, u.Token); err != nil {
		return nil, fmt.Errorf("issue session cookie: %w", err)
	}

	f.log.Info("user signed in", "user_id", u.ID, "name", u.Name)
	return u, nil
}

func (f *FederationService) readState(r *http.Request) (*loginClaims, error) {
	raw, err := f.codec.Read(r, LoginStateCookie)
	if err != nil {
		return nil, errors.New("login state cookie missing or invalid")
	}

	claims := &loginClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return f.cfg.StateKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("login state: %w", err)
	}
	if claims.Verifier == "" || claims.Nonce == "" {
		return nil, errors.New("login state is incomplete")
	}
	return claims, nil
}

func (f *FederationService) fetchEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.UserInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("build userinfo request: %w", err)
	}

	resp, err := f.cfg.OAuth2.Client(ctx, tok).Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("fetch userinfo: status %d: %s", resp.StatusCode, body)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("userinfo has no email claim")
	}
	return info.Email, nil
}

// findOrCreate maps an email to a user, creating it on first login. Two
// concurrent first logins race on the unique name; the loser reads the
// winner's row.
func (f *FederationService) findOrCreate(ctx context.Context, email string) (*model.User, error) {
	u, err := f.users.GetUserByName(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	id, token, err := f.users.CreateUser(ctx, email)
	if errors.Is(err, ErrConflict) {
		u, err := f.users.GetUserByName(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("look up user after create conflict: %w", err)
		}
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	f.log.Info("user created", "user_id", id, "name", email)
	return &model.User{ID: id, Name: email, Token: token}, nil
}

// Logout clears the session and login state cookies. With
// InvalidateOnLogout the user's token is reissued first.
func (f *FederationService) Logout(w http.ResponseWriter, r *http.Request) error {
	var err error
	if f.cfg.InvalidateOnLogout {
		err = f.sessions.Revoke(r)
	}
	f.sessions.Clear(w)
	f.codec.Clear(w, LoginStateCookie)
	return err
}
