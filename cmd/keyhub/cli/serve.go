package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/keyhub/keyhub/internal/config"
	"github.com/keyhub/keyhub/internal/cookie"
	"github.com/keyhub/keyhub/internal/metrics"
	"github.com/keyhub/keyhub/internal/rotation"
	"github.com/keyhub/keyhub/internal/server"
	"github.com/keyhub/keyhub/internal/service"
	"github.com/keyhub/keyhub/internal/store"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keyhub HTTP server",
		Long:  "Start the HTTP API, the federated login endpoints and the scheduled rotation loop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().Duration("rotation-interval", 0, "how often scheduled rotations run; 0 disables them")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("rotation.interval", cmd.Flags().Lookup("rotation-interval"))

	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	logger := cfg.Logging.NewLogger(os.Stderr)

	st, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened", "driver", st.Dialect())

	codec, err := cookie.New([]byte(cfg.Auth.CookieSecret), cookie.Options{Secure: cfg.Auth.SecureCookies})
	if err != nil {
		st.Close()
		return fmt.Errorf("init cookie codec: %w", err)
	}

	m := metrics.New()
	keys := service.NewKeyService(st, m, logger)
	sessions := service.NewSessionAuthenticator(st, codec, cfg.Auth.SessionMaxAge, m, logger)

	deps := server.Deps{
		Store:       st,
		Clients:     service.NewClientService(st, m, logger),
		Keys:        keys,
		Credentials: service.NewCredentialService(st, m, logger),
		Sessions:    sessions,
		Metrics:     m,
		Scheduler:   rotation.New(keys, cfg.Rotation.Interval, logger),
	}

	if cfg.OAuth.Enabled() {
		fed, err := service.NewFederationService(federationConfig(cfg), st, sessions, codec, m, logger)
		if err != nil {
			st.Close()
			return err
		}
		deps.Federation = fed
	} else {
		logger.Warn("no identity provider configured; operators cannot sign in through the browser")
	}

	srv := server.New(cfg.Server, deps, logger)

	fmt.Printf("→ keyhub listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Metrics: http://%s:%d/metrics\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Rotation.Interval > 0 {
		fmt.Printf("→ Scheduled rotation every %s\n", cfg.Rotation.Interval)
	}
	fmt.Println()

	return srv.ListenAndServe()
}

func federationConfig(cfg *config.Config) service.FederationConfig {
	scopes := slices.Clone(cfg.OAuth.Scopes)
	for _, want := range []string{"email", "profile"} {
		if !containsFold(scopes, want) {
			scopes = append(scopes, want)
		}
	}
	return service.FederationConfig{
		OAuth2: &oauth2.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuth.AuthURL,
				TokenURL: cfg.OAuth.TokenURL,
			},
			RedirectURL: cfg.OAuth.RedirectURL,
			Scopes:      scopes,
		},
		UserInfoURL:        cfg.OAuth.UserInfoURL,
		StateKey:           []byte(cfg.Auth.CookieSecret),
		StateTTL:           cfg.Auth.LoginStateTTL,
		InvalidateOnLogout: cfg.Auth.InvalidateOnLogout,
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
