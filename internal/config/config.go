// Package config loads keyhub's configuration from file, environment and
// flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/keyhub/keyhub/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. KEYHUB_SERVER_PORT.
const EnvPrefix = "KEYHUB"

// MinCookieSecretLength is the shortest accepted cookie secret.
const MinCookieSecretLength = 32

// Config is the top-level keyhub configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Store    store.Config   `yaml:"store" mapstructure:"store"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	OAuth    OAuthConfig    `yaml:"oauth" mapstructure:"oauth"`
	Rotation RotationConfig `yaml:"rotation" mapstructure:"rotation"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host            string          `yaml:"host" mapstructure:"host"`
	Port            int             `yaml:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodySize     int64           `yaml:"max_body_size" mapstructure:"max_body_size"`
	CORS            CORSConfig      `yaml:"cors" mapstructure:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	// Metrics mounts the unauthenticated /metrics endpoint.
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`
}

// CORSConfig controls cross-origin resource sharing.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
}

// RateLimitConfig bounds credential checks per client IP.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" mapstructure:"requests"`
	Window   time.Duration `yaml:"window" mapstructure:"window"`
}

// AuthConfig controls operator sessions.
type AuthConfig struct {
	CookieSecret       string        `yaml:"cookie_secret" mapstructure:"cookie_secret"`
	SessionMaxAge      time.Duration `yaml:"session_max_age" mapstructure:"session_max_age"`
	LoginStateTTL      time.Duration `yaml:"login_state_ttl" mapstructure:"login_state_ttl"`
	SecureCookies      bool          `yaml:"secure_cookies" mapstructure:"secure_cookies"`
	InvalidateOnLogout bool          `yaml:"invalidate_on_logout" mapstructure:"invalidate_on_logout"`
}

// OAuthConfig describes the identity provider.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"`
	AuthURL      string   `yaml:"auth_url" mapstructure:"auth_url"`
	TokenURL     string   `yaml:"token_url" mapstructure:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url" mapstructure:"userinfo_url"`
	RedirectURL  string   `yaml:"redirect_url" mapstructure:"redirect_url"`
	Scopes       []string `yaml:"scopes" mapstructure:"scopes"`
}

// Enabled reports whether federated login is configured at all.
func (o OAuthConfig) Enabled() bool { return o.ClientID != "" }

// RotationConfig controls the scheduled rotation loop. A zero interval
// disables it.
type RotationConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// NewLogger builds the process logger described by l.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Default returns a Config pre-filled with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     1 << 20,
			CORS:            CORSConfig{Origins: []string{}},
			RateLimit:       RateLimitConfig{Requests: 60, Window: time.Minute},
			Metrics:         true,
		},
		Store: store.Config{
			Driver:       store.SQLite,
			DSN:          defaultDataDir(),
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Auth: AuthConfig{
			SessionMaxAge:      7 * 24 * time.Hour,
			LoginStateTTL:      10 * time.Minute,
			SecureCookies:      true,
			InvalidateOnLogout: true,
		},
		OAuth: OAuthConfig{
			Scopes: []string{"openid", "email", "profile"},
		},
		Rotation: RotationConfig{Interval: time.Hour},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keyhub"
	}
	return home + "/.keyhub"
}

// SetDefaults registers every key with v so that environment variables
// override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.cors.origins", d.Server.CORS.Origins)
	v.SetDefault("server.rate_limit.requests", d.Server.RateLimit.Requests)
	v.SetDefault("server.rate_limit.window", d.Server.RateLimit.Window)
	v.SetDefault("server.metrics", d.Server.Metrics)

	v.SetDefault("store.driver", string(d.Store.Driver))
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)

	v.SetDefault("auth.cookie_secret", d.Auth.CookieSecret)
	v.SetDefault("auth.session_max_age", d.Auth.SessionMaxAge)
	v.SetDefault("auth.login_state_ttl", d.Auth.LoginStateTTL)
	v.SetDefault("auth.secure_cookies", d.Auth.SecureCookies)
	v.SetDefault("auth.invalidate_on_logout", d.Auth.InvalidateOnLogout)

	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.auth_url", "")
	v.SetDefault("oauth.token_url", "")
	v.SetDefault("oauth.userinfo_url", "")
	v.SetDefault("oauth.redirect_url", "")
	v.SetDefault("oauth.scopes", d.OAuth.Scopes)

	v.SetDefault("rotation.interval", d.Rotation.Interval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// BindEnv makes v read KEYHUB_SECTION_KEY variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the merged file, environment and flag values held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if !c.Store.Driver.Valid() {
		return fmt.Errorf("store.driver: unknown driver %q (want one of %v)", c.Store.Driver, store.Dialects)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: must be text or json, got %q", c.Logging.Format)
	}
	if c.Rotation.Interval < 0 {
		return errors.New("rotation.interval: must not be negative")
	}
	return nil
}

// ValidateServe checks the settings the HTTP server additionally needs.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Auth.CookieSecret) < MinCookieSecretLength {
		return fmt.Errorf("auth.cookie_secret: must be at least %d characters (set %s_AUTH_COOKIE_SECRET)", MinCookieSecretLength, EnvPrefix)
	}
	if c.OAuth.Enabled() {
		var missing []string
		for name, val := range map[string]string{
			"oauth.auth_url":     c.OAuth.AuthURL,
			"oauth.token_url":    c.OAuth.TokenURL,
			"oauth.userinfo_url": c.OAuth.UserInfoURL,
			"oauth.redirect_url": c.OAuth.RedirectURL,
		} {
			if val == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("oauth: missing %s", strings.Join(missing, ", "))
		}
	}
	return nil
}

// WriteDefault writes the default configuration to path as YAML.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Redacted returns a copy of c with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Auth.CookieSecret != "" {
		out.Auth.CookieSecret = "********"
	}
	if out.OAuth.ClientSecret != "" {
		out.OAuth.ClientSecret = "********"
	}
	out.Store.DSN = redactDSN(out.Store.DSN)
	return &out
}

// redactDSN masks the password in user:password@host style DSNs.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	userinfo := dsn[:at]
	colon := strings.LastIndex(userinfo, ":")
	if colon < 0 || strings.HasSuffix(userinfo[:colon+1], "://") {
		return dsn
	}
	return userinfo[:colon+1] + "********" + dsn[at:]
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
