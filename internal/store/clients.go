package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keyhub/keyhub/internal/model"
)

// CreateClient inserts a client and returns its ID.
func (s *Store) CreateClient(ctx context.Context, name, description string) (model.ClientID, error) {
	id, err := s.insert(ctx, "INSERT INTO clients (name, description) VALUES (?, ?)", name, description)
	if err != nil {
		return 0, fmt.Errorf("insert client: %w", err)
	}
	return model.ClientID(id), nil
}

// GetClient returns a client by ID.
func (s *Store) GetClient(ctx context.Context, id model.ClientID) (*model.Client, error) {
	var c model.Client
	if err := s.db.GetContext(ctx, &c, s.q("SELECT id, name, description FROM clients WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}

// ListClients returns every client ordered by ID.
func (s *Store) ListClients(ctx context.Context) ([]model.Client, error) {
	var clients []model.Client
	if err := s.db.SelectContext(ctx, &clients, "SELECT id, name, description FROM clients ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}

// UpdateClientInfo overwrites a client's name and description.
func (s *Store) UpdateClientInfo(ctx context.Context, c *model.Client) error {
	result, err := s.db.NamedExecContext(ctx,
		"UPDATE clients SET name = :name, description = :description WHERE id = :id", c)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	ok, err := affectedOne(result, "update client")
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// DeleteClient removes a client together with all of its key associations
// in one transaction, and reports whether the client existed.
func (s *Store) DeleteClient(ctx context.Context, id model.ClientID) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM clients_keys WHERE client_id = ?"), id); err != nil {
		return false, fmt.Errorf("delete client associations: %w", err)
	}

	result, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM clients WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("delete client: %w", err)
	}
	ok, err := affectedOne(result, "delete client")
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete client: %w", err)
	}
	return ok, nil
}
