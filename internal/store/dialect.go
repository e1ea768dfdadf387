package store

import "fmt"

// Dialect names a supported database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// Dialects lists every supported database.
var Dialects = []Dialect{SQLite, Postgres, MySQL}

// Valid reports whether d is a supported database.
func (d Dialect) Valid() bool {
	switch d {
	case SQLite, Postgres, MySQL:
		return true
	}
	return false
}

func (d Dialect) driverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case MySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

func (d Dialect) dsn(raw string) (string, error) {
	switch d {
	case SQLite:
		return sqliteDSN(raw)
	case MySQL:
		return mysqlDSN(raw)
	case Postgres:
		if raw == "" {
			return "", fmt.Errorf("postgres requires a dsn")
		}
		return raw, nil
	}
	return "", fmt.Errorf("unknown store driver %q", d)
}
