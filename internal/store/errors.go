package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")

	// ErrAssociationExists is returned when a client is already associated
	// with a key. It matches ErrConflict under errors.Is.
	ErrAssociationExists = fmt.Errorf("association already exists: %w", ErrConflict)
)

type violation int

const (
	noViolation violation = iota
	uniqueViolation
	foreignKeyViolation
)

// classify inspects a driver error for constraint violations.
func classify(err error) violation {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return uniqueViolation
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return foreignKeyViolation
		}
		// Without extended result codes only SQLITE_CONSTRAINT comes back.
		if liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			msg := liteErr.Error()
			switch {
			case strings.Contains(msg, "UNIQUE constraint failed"):
				return uniqueViolation
			case strings.Contains(msg, "FOREIGN KEY constraint failed"):
				return foreignKeyViolation
			}
		}
		return noViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return uniqueViolation
		case "23503":
			return foreignKeyViolation
		}
		return noViolation
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return uniqueViolation
		case 1452:
			return foreignKeyViolation
		}
	}
	return noViolation
}

// wrap annotates err, folding constraint violations into the store's
// sentinel errors while keeping the driver error in the chain for logging.
func wrap(op string, err error) error {
	switch classify(err) {
	case uniqueViolation:
		return fmt.Errorf("%s: %w (%w)", op, ErrConflict, err)
	case foreignKeyViolation:
		return fmt.Errorf("%s: %w (%w)", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
