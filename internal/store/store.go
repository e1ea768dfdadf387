// Package store persists users, clients, keys and client↔key associations in
// a relational database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/keyhub/keyhub/internal/model"
	"github.com/keyhub/keyhub/internal/secret"
)

// Config selects the database and sizes its connection pool. For SQLite, DSN
// is a directory holding keyhub.db; an empty DSN opens a private in-memory
// database.
type Config struct {
	Driver          Dialect       `yaml:"driver" mapstructure:"driver"`
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// Store is the identity and credential store. It is safe for concurrent use;
// callers block when the connection pool is exhausted.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	gen     secret.Generator
	today   func() model.Date
}

// Option customizes a Store.
type Option func(*Store)

// WithGenerator replaces the secret generator used for client secrets and
// user tokens.
func WithGenerator(g secret.Generator) Option {
	return func(s *Store) { s.gen = g }
}

// WithClock replaces the source of the current date used for last_used.
func WithClock(today func() model.Date) Option {
	return func(s *Store) { s.today = today }
}

// New opens the configured database, sizes its pool and runs migrations.
func New(cfg Config, opts ...Option) (*Store, error) {
	d := cfg.Driver
	if d == "" {
		d = SQLite
	}
	if !d.Valid() {
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	dsn, err := d.dsn(cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}

	if d == SQLite {
		// One writer at a time; an in-memory database also lives and dies
		// with its only connection.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	s := NewFromDB(db, d, opts...)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s database: %w", d, err)
	}
	return s, nil
}

// NewFromDB wraps an already opened database. No migrations are run.
func NewFromDB(db *sqlx.DB, d Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: d,
		gen:     secret.Generate,
		today:   model.Today,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dialect reports which database the store talks to.
func (s *Store) Dialect() Dialect { return s.dialect }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// q rebinds a query written with ? placeholders for the active driver.
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// insert runs an INSERT and returns the new row id.
func (s *Store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if s.dialect == Postgres {
		var id int64
		if err := s.db.QueryRowxContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	result, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// affectedOne interprets the result of a statement addressed by primary key.
// More than one matching row means the schema is broken, which is not
// something a caller can recover from.
func affectedOne(result sql.Result, what string) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n > 1 {
		panic(fmt.Sprintf("store: %s matched %d rows by primary key", what, n))
	}
	return n == 1, nil
}

// text projects an optional string onto a driver argument.
func text(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// date projects an optional date onto a driver argument. Postgres gets a
// time.Time for its DATE columns; the others store the ISO form.
func (s *Store) date(d *model.Date) any {
	if d == nil {
		return nil
	}
	if s.dialect == Postgres {
		return d.Time()
	}
	return d.String()
}

func sqliteDSN(dir string) (string, error) {
	const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dir == "" {
		return ":memory:?" + pragmas, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(dir, "keyhub.db") + "?" + pragmas + "&_pragma=journal_mode(WAL)", nil
}

// mysqlDSN makes UPDATE report matched rather than changed rows, so that
// touching last_used twice on the same day still reports a hit.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}
