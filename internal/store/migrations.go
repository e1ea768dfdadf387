package store

import "fmt"

var migrations = map[Dialect][]string{
	SQLite: {
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			token TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			api_key TEXT,
			rotate_at TEXT,
			rotate_with TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS clients_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id INTEGER NOT NULL REFERENCES clients(id),
			key_id INTEGER NOT NULL REFERENCES api_keys(id),
			secret TEXT NOT NULL UNIQUE,
			last_used TEXT,
			UNIQUE(client_id, key_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clients_keys_key_id ON clients_keys(key_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_rotate_at ON api_keys(rotate_at)`,
	},

	Postgres: {
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			token TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS clients (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			api_key TEXT,
			rotate_at DATE,
			rotate_with TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS clients_keys (
			id BIGSERIAL PRIMARY KEY,
			client_id BIGINT NOT NULL REFERENCES clients(id),
			key_id BIGINT NOT NULL REFERENCES api_keys(id),
			secret TEXT NOT NULL UNIQUE,
			last_used DATE,
			UNIQUE(client_id, key_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clients_keys_key_id ON clients_keys(key_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_rotate_at ON api_keys(rotate_at)`,
	},

	// InnoDB indexes foreign keys on its own, and MySQL has no
	// CREATE INDEX IF NOT EXISTS.
	MySQL: {
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(320) NOT NULL UNIQUE,
			token VARCHAR(128) NOT NULL UNIQUE
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS clients (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			api_key TEXT,
			rotate_at DATE,
			rotate_with TEXT,
			INDEX idx_api_keys_rotate_at (rotate_at)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS clients_keys (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			client_id BIGINT NOT NULL,
			key_id BIGINT NOT NULL,
			secret VARCHAR(128) NOT NULL UNIQUE,
			last_used DATE,
			UNIQUE KEY uq_clients_keys_pair (client_id, key_id),
			FOREIGN KEY (client_id) REFERENCES clients(id),
			FOREIGN KEY (key_id) REFERENCES api_keys(id)
		) ENGINE=InnoDB`,
	},
}

func (s *Store) migrate() error {
	for _, m := range migrations[s.dialect] {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
