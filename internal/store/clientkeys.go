package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keyhub/keyhub/internal/model"
)

const clientKeyColumns = "id, client_id, key_id, secret, last_used"

// CreateClientKey associates a client with a key under a fresh secret. An
// existing association for the pair yields ErrAssociationExists and leaves
// that association untouched; a missing client or key yields ErrNotFound.
func (s *Store) CreateClientKey(ctx context.Context, clientID model.ClientID, keyID model.KeyID) (model.ClientKeyID, string, error) {
	sec, err := s.gen()
	if err != nil {
		return 0, "", fmt.Errorf("generate client secret: %w", err)
	}

	id, err := s.insert(ctx,
		"INSERT INTO clients_keys (client_id, key_id, secret) VALUES (?, ?, ?)",
		clientID, keyID, sec)
	if err == nil {
		return model.ClientKeyID(id), sec, nil
	}

	if classify(err) == uniqueViolation {
		if _, lookupErr := s.GetClientKeyFor(ctx, clientID, keyID); lookupErr == nil {
			return 0, "", ErrAssociationExists
		}
	}
	return 0, "", wrap("insert client key", err)
}

// GetClientKey returns an association by ID.
func (s *Store) GetClientKey(ctx context.Context, id model.ClientKeyID) (*model.ClientKey, error) {
	return s.getClientKey(ctx, "get client key", "id = ?", id)
}

// GetClientKeyFor returns the association between a client and a key.
func (s *Store) GetClientKeyFor(ctx context.Context, clientID model.ClientID, keyID model.KeyID) (*model.ClientKey, error) {
	return s.getClientKey(ctx, "get client key for pair", "client_id = ? AND key_id = ?", clientID, keyID)
}

// GetClientKeyBySecret returns the association whose secret is exactly the
// given value.
func (s *Store) GetClientKeyBySecret(ctx context.Context, secret string) (*model.ClientKey, error) {
	return s.getClientKey(ctx, "get client key by secret", "secret = ?", secret)
}

func (s *Store) getClientKey(ctx context.Context, op, where string, args ...any) (*model.ClientKey, error) {
	var ck model.ClientKey
	query := "SELECT " + clientKeyColumns + " FROM clients_keys WHERE " + where
	if err := s.db.GetContext(ctx, &ck, s.q(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &ck, nil
}

// ListClientKeysForClient returns a client's associations joined with the
// name and description of each key.
func (s *Store) ListClientKeysForClient(ctx context.Context, clientID model.ClientID) ([]model.ClientKeyView, error) {
	const query = `SELECT ck.id, ck.client_id, ck.key_id, ck.secret, ck.last_used,
			k.name AS key_name, k.description AS key_description
		FROM clients_keys ck
		INNER JOIN api_keys k ON k.id = ck.key_id
		WHERE ck.client_id = ?
		ORDER BY ck.id`

	var views []model.ClientKeyView
	if err := s.db.SelectContext(ctx, &views, s.q(query), clientID); err != nil {
		return nil, fmt.Errorf("list client keys: %w", err)
	}
	return views, nil
}

// UpdateClientKeyLastUsed stamps an association with today's date and
// reports whether it existed.
func (s *Store) UpdateClientKeyLastUsed(ctx context.Context, id model.ClientKeyID) (bool, error) {
	today := s.today()
	result, err := s.db.ExecContext(ctx, s.q("UPDATE clients_keys SET last_used = ? WHERE id = ?"), s.date(&today), id)
	if err != nil {
		return false, fmt.Errorf("update client key last used: %w", err)
	}
	return affectedOne(result, "update client key last used")
}

// RotateClientKeySecret replaces an association's secret with a fresh one
// and returns it. The previous secret stops resolving immediately.
func (s *Store) RotateClientKeySecret(ctx context.Context, id model.ClientKeyID) (string, error) {
	sec, err := s.gen()
	if err != nil {
		return "", fmt.Errorf("generate client secret: %w", err)
	}

	result, err := s.db.ExecContext(ctx, s.q("UPDATE clients_keys SET secret = ? WHERE id = ?"), sec, id)
	if err != nil {
		return "", wrap("rotate client key secret", err)
	}
	ok, err := affectedOne(result, "rotate client key secret")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return sec, nil
}

// DeleteClientKey removes one association and reports whether it existed.
func (s *Store) DeleteClientKey(ctx context.Context, id model.ClientKeyID) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q("DELETE FROM clients_keys WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("delete client key: %w", err)
	}
	return affectedOne(result, "delete client key")
}

// DeleteClientKeysForKey removes every association of a key and returns how
// many were removed.
func (s *Store) DeleteClientKeysForKey(ctx context.Context, keyID model.KeyID) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.q("DELETE FROM clients_keys WHERE key_id = ?"), keyID)
	if err != nil {
		return 0, fmt.Errorf("delete client keys for key: %w", err)
	}
	return result.RowsAffected()
}

// DeleteClientKeysForClient removes every association of a client and
// returns how many were removed.
func (s *Store) DeleteClientKeysForClient(ctx context.Context, clientID model.ClientID) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.q("DELETE FROM clients_keys WHERE client_id = ?"), clientID)
	if err != nil {
		return 0, fmt.Errorf("delete client keys for client: %w", err)
	}
	return result.RowsAffected()
}
