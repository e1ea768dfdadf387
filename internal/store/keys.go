package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/keyhub/keyhub/internal/model"
)

const keyColumns = "id, name, description, api_key, rotate_at, rotate_with"

// CreateKey inserts a key. Secret material may be nil.
func (s *Store) CreateKey(ctx context.Context, k *model.Key) (model.KeyID, error) {
	id, err := s.insert(ctx,
		"INSERT INTO api_keys (name, description, api_key, rotate_at, rotate_with) VALUES (?, ?, ?, ?, ?)",
		k.Name, k.Description, text(k.Secret), s.date(k.RotateAt), text(k.RotateWith))
	if err != nil {
		return 0, fmt.Errorf("insert key: %w", err)
	}
	k.ID = model.KeyID(id)
	return k.ID, nil
}

// GetKey returns a key by ID.
func (s *Store) GetKey(ctx context.Context, id model.KeyID) (*model.Key, error) {
	var k model.Key
	if err := s.db.GetContext(ctx, &k, s.q("SELECT "+keyColumns+" FROM api_keys WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get key: %w", err)
	}
	return &k, nil
}

// ListKeys returns every key ordered by ID.
func (s *Store) ListKeys(ctx context.Context) ([]model.Key, error) {
	var keys []model.Key
	if err := s.db.SelectContext(ctx, &keys, "SELECT "+keyColumns+" FROM api_keys ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// ListKeysForClient returns the keys a client is associated with.
func (s *Store) ListKeysForClient(ctx context.Context, clientID model.ClientID) ([]model.Key, error) {
	const query = `SELECT k.id, k.name, k.description, k.api_key, k.rotate_at, k.rotate_with
		FROM api_keys k
		INNER JOIN clients_keys ck ON ck.key_id = k.id
		WHERE ck.client_id = ?
		ORDER BY k.id`

	var keys []model.Key
	if err := s.db.SelectContext(ctx, &keys, s.q(query), clientID); err != nil {
		return nil, fmt.Errorf("list keys for client: %w", err)
	}
	return keys, nil
}

// ListKeysDueForRotation returns keys whose rotation date is on or before
// the given day.
func (s *Store) ListKeysDueForRotation(ctx context.Context, today model.Date) ([]model.Key, error) {
	var keys []model.Key
	query := "SELECT " + keyColumns + " FROM api_keys WHERE rotate_at IS NOT NULL AND rotate_at <= ? ORDER BY id"
	if err := s.db.SelectContext(ctx, &keys, s.q(query), s.date(&today)); err != nil {
		return nil, fmt.Errorf("list keys due for rotation: %w", err)
	}
	return keys, nil
}

// UpdateKeyInfo overwrites a key's name and description. Secret material is
// left alone.
func (s *Store) UpdateKeyInfo(ctx context.Context, k *model.Key) error {
	result, err := s.db.NamedExecContext(ctx,
		"UPDATE api_keys SET name = :name, description = :description WHERE id = :id", k)
	if err != nil {
		return fmt.Errorf("update key: %w", err)
	}
	ok, err := affectedOne(result, "update key")
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// UpdateKeySecrets applies a tri-state patch in a single statement. Absent
// fields are not mentioned in the statement at all.
func (s *Store) UpdateKeySecrets(ctx context.Context, id model.KeyID, p model.KeySecretsPatch) error {
	var (
		sets []string
		args []any
	)
	if p.Secret.Present() {
		sets = append(sets, "api_key = ?")
		args = append(args, text(p.Secret.Ptr()))
	}
	if p.RotateAt.Present() {
		sets = append(sets, "rotate_at = ?")
		args = append(args, s.date(p.RotateAt.Ptr()))
	}
	if p.RotateWith.Present() {
		sets = append(sets, "rotate_with = ?")
		args = append(args, text(p.RotateWith.Ptr()))
	}

	if len(sets) == 0 {
		_, err := s.GetKey(ctx, id)
		return err
	}

	query := "UPDATE api_keys SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	result, err := s.db.ExecContext(ctx, s.q(query), append(args, id)...)
	if err != nil {
		return fmt.Errorf("update key secrets: %w", err)
	}
	ok, err := affectedOne(result, "update key secrets")
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// RotateKey promotes the staged secret to the active one and clears both
// staging fields. A key with nothing staged ends up without a secret.
func (s *Store) RotateKey(ctx context.Context, id model.KeyID) error {
	const query = "UPDATE api_keys SET api_key = rotate_with, rotate_at = NULL, rotate_with = NULL WHERE id = ?"
	result, err := s.db.ExecContext(ctx, s.q(query), id)
	if err != nil {
		return fmt.Errorf("rotate key: %w", err)
	}
	ok, err := affectedOne(result, "rotate key")
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// DeleteKey removes a key together with all of its client associations in
// one transaction, and reports whether the key existed.
func (s *Store) DeleteKey(ctx context.Context, id model.KeyID) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM clients_keys WHERE key_id = ?"), id); err != nil {
		return false, fmt.Errorf("delete key associations: %w", err)
	}

	result, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM api_keys WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("delete key: %w", err)
	}
	ok, err := affectedOne(result, "delete key")
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete key: %w", err)
	}
	return ok, nil
}
