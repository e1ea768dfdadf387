package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keyhub/keyhub/internal/model"
)

// CreateUser inserts a user with a freshly generated session token. A name
// that is already taken yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, name string) (model.UserID, string, error) {
	token, err := s.gen()
	if err != nil {
		return 0, "", fmt.Errorf("generate user token: %w", err)
	}

	id, err := s.insert(ctx, "INSERT INTO users (name, token) VALUES (?, ?)", name, token)
	if err != nil {
		return 0, "", wrap("insert user", err)
	}
	return model.UserID(id), token, nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, s.q("SELECT id, name, token FROM users WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByName returns the user whose name matches exactly.
func (s *Store) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, s.q("SELECT id, name, token FROM users WHERE name = ?"), name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by name: %w", err)
	}
	return &u, nil
}

// GetUserIDByToken resolves a session token to its user.
func (s *Store) GetUserIDByToken(ctx context.Context, token string) (model.UserID, error) {
	var id model.UserID
	if err := s.db.GetContext(ctx, &id, s.q("SELECT id FROM users WHERE token = ?"), token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get user by token: %w", err)
	}
	return id, nil
}

// ListUsers returns every user ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT id, name, token FROM users ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ReissueUserToken replaces a user's session token, invalidating every
// cookie that carries the old one.
func (s *Store) ReissueUserToken(ctx context.Context, id model.UserID) (string, error) {
	token, err := s.gen()
	if err != nil {
		return "", fmt.Errorf("generate user token: %w", err)
	}

	result, err := s.db.ExecContext(ctx, s.q("UPDATE users SET token = ? WHERE id = ?"), token, id)
	if err != nil {
		return "", wrap("reissue user token", err)
	}
	ok, err := affectedOne(result, "reissue user token")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return token, nil
}

// DeleteUser removes a user and reports whether a row was deleted.
func (s *Store) DeleteUser(ctx context.Context, id model.UserID) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q("DELETE FROM users WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return affectedOne(result, "delete user")
}
