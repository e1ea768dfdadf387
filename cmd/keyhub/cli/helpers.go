package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/keyhub/keyhub/internal/config"
	"github.com/keyhub/keyhub/internal/store"
)

// loadConfig decodes the merged file, environment and flag settings.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// env is what every management command works with.
type env struct {
	cfg   *config.Config
	store *store.Store
	log   *slog.Logger
}

// openEnv loads the configuration and opens the store. Logs go to stderr
// so that command output stays parseable.
func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &env{cfg: cfg, store: st, log: cfg.Logging.NewLogger(os.Stderr)}, nil
}

func (e *env) Close() error { return e.store.Close() }

// parseID parses a positive integer argument into one of the ID types.
func parseID[T ~int64](what, raw string) (T, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return T(n), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readSecret reads a secret without echo when stdin is a terminal, and a
// single line otherwise so that secrets can be piped in.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty secret on stdin")
	}
	return line, nil
}

// cmdCtx returns the context management commands run under.
func cmdCtx() context.Context {
	return context.Background()
}
