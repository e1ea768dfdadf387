package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keyhub/keyhub/internal/config"
	"github.com/keyhub/keyhub/internal/handler"
	"github.com/keyhub/keyhub/internal/metrics"
	"github.com/keyhub/keyhub/internal/rotation"
	"github.com/keyhub/keyhub/internal/server/middleware"
	"github.com/keyhub/keyhub/internal/service"
	"github.com/keyhub/keyhub/internal/store"
)

// Deps are the services the server routes to.
type Deps struct {
	Store       *store.Store
	Clients     *service.ClientService
	Keys        *service.KeyService
	Credentials *service.CredentialService
	Sessions    *service.SessionAuthenticator

	// Federation is nil when no identity provider is configured.
	Federation *service.FederationService

	// Metrics and Scheduler may be nil.
	Metrics   *metrics.Metrics
	Scheduler *rotation.Scheduler
}

// Server is the keyhub HTTP server.
type Server struct {
	cfg        config.ServerConfig
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with every route mounted. Call ListenAndServe to
// start accepting connections.
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics(s.deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	// Session cookies ride along on cross-origin requests, so CORS stays off
	// unless origins are listed explicitly.
	if len(s.cfg.CORS.Origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORS.Origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", handler.ClientSecretHeader, middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(chimw.Compress(5))

	sys := handler.NewSystemHandler(s.deps.Store, s.logger)
	authH := handler.NewAuthHandler(s.deps.Federation, s.deps.Sessions, s.logger)
	sessionH := handler.NewSessionHandler(s.deps.Store, s.deps.Clients, s.deps.Keys, s.logger)
	clientH := handler.NewClientHandler(s.deps.Clients, s.logger)
	keyH := handler.NewKeyHandler(s.deps.Keys, s.logger)
	credH := handler.NewCredentialHandler(s.deps.Credentials, s.logger)

	// Probes and metrics need no session.
	r.Get("/healthz", sys.Healthz)
	r.Get("/readyz", sys.Readyz)
	if s.cfg.Metrics {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authH.Login)
		r.Get("/callback", authH.Callback)
		r.Get("/logout", authH.Logout)
		r.Post("/logout", authH.Logout)
	})

	r.With(middleware.RedirectSession(s.deps.Sessions, s.logger)).Get("/", sessionH.Overview)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.OptionalSession(s.deps.Sessions, s.logger)).Get("/session", sessionH.Session)

		// Clients authenticate with their association secret, not a session.
		r.With(s.credentialLimit()).Get("/credential", credH.Get)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(s.deps.Sessions, s.logger))

			r.Get("/client", clientH.ListClients)
			r.Post("/client", clientH.CreateClient)
			r.Get("/client/{clientId}", clientH.GetClient)
			r.Put("/client/{clientId}", clientH.UpdateClient)
			r.Delete("/client/{clientId}", clientH.DeleteClient)

			r.Get("/client/{clientId}/key", clientH.ListClientKeys)
			r.Post("/client/{clientId}/key/{keyId}", clientH.Associate)
			r.Get("/client/{clientId}/key/{keyId}", clientH.GetAssociation)
			r.Delete("/client/{clientId}/key/{keyId}", clientH.Dissociate)
			r.Put("/client/{clientId}/key/{keyId}/secret", clientH.RotateSecret)

			r.Get("/key", keyH.ListKeys)
			r.Post("/key", keyH.CreateKey)
			r.Get("/key/{keyId}", keyH.GetKey)
			r.Put("/key/{keyId}", keyH.UpdateKey)
			r.Delete("/key/{keyId}", keyH.DeleteKey)
			r.Get("/key/{keyId}/secret", keyH.GetSecrets)
			r.Put("/key/{keyId}/secret", keyH.UpdateSecrets)
			r.Put("/key/{keyId}/rotate", keyH.Rotate)
		})
	})

	s.router = r
}

// ListenAndServe starts the rotation scheduler and the HTTP server, and
// blocks until SIGINT or SIGTERM. In-flight requests are drained before the
// store is closed.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           http.MaxBytesHandler(s.router, s.maxBodySize()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.deps.Scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.deps.Scheduler.Shutdown()
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.deps.Scheduler.Shutdown()
	if cerr := s.deps.Store.Close(); cerr != nil {
		s.logger.Error("close store", "error", cerr)
	}
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// credentialLimit bounds credential lookups per client IP. A non-positive
// request count disables it.
func (s *Server) credentialLimit() func(http.Handler) http.Handler {
	rl := s.cfg.RateLimit
	if rl.Requests <= 0 || rl.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimitByIP(rl.Requests, rl.Window)
}

func (s *Server) maxBodySize() int64 {
	if s.cfg.MaxBodySize > 0 {
		return s.cfg.MaxBodySize
	}
	return 1 << 20
}

// Router returns the underlying chi router.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
