package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/keyhub/keyhub/internal/metrics"
	"github.com/keyhub/keyhub/internal/model"
)

// MaxDescriptionLength bounds key descriptions, counted in characters.
const MaxDescriptionLength = 1024

// KeyStore is the part of the store the key service needs.
type KeyStore interface {
	CreateKey(ctx context.Context, k *model.Key) (model.KeyID, error)
	GetKey(ctx context.Context, id model.KeyID) (*model.Key, error)
	ListKeys(ctx context.Context) ([]model.Key, error)
	UpdateKeyInfo(ctx context.Context, k *model.Key) error
	UpdateKeySecrets(ctx context.Context, id model.KeyID, p model.KeySecretsPatch) error
	RotateKey(ctx context.Context, id model.KeyID) error
	ListKeysDueForRotation(ctx context.Context, today model.Date) ([]model.Key, error)
	DeleteKey(ctx context.Context, id model.KeyID) (bool, error)
}

// KeyService manages key definitions and their secret material.
type KeyService struct {
	store   KeyStore
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewKeyService creates a KeyService. m may be nil.
func NewKeyService(store KeyStore, m *metrics.Metrics, log *slog.Logger) *KeyService {
	if log == nil {
		log = slog.Default()
	}
	return &KeyService{store: store, metrics: m, log: log}
}

// ValidateKeyName accepts names made only of ASCII letters, digits,
// underscores and hyphens. The empty name is allowed.
func ValidateKeyName(name string) error {
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return &ValidationError{Field: "name", Message: "must contain only ASCII letters, digits, '_' or '-'"}
		}
	}
	return nil
}

// ValidateDescription accepts up to MaxDescriptionLength characters.
func ValidateDescription(desc string) error {
	if n := utf8.RuneCountInString(desc); n > MaxDescriptionLength {
		return &ValidationError{
			Field:   "description",
			Message: fmt.Sprintf("must be at most %d characters, got %d", MaxDescriptionLength, n),
		}
	}
	return nil
}

func validateKeyInfo(name, desc string) error {
	if err := ValidateKeyName(name); err != nil {
		return err
	}
	return ValidateDescription(desc)
}

// CreateKey validates and inserts a key. Any secret material on k is stored
// as given.
func (s *KeyService) CreateKey(ctx context.Context, k model.Key) (*model.Key, error) {
	if err := validateKeyInfo(k.Name, k.Description); err != nil {
		return nil, err
	}
	if _, err := s.store.CreateKey(ctx, &k); err != nil {
		return nil, err
	}
	s.log.Info("key created", "key_id", k.ID, "name", k.Name)
	return &k, nil
}

func (s *KeyService) GetKey(ctx context.Context, id model.KeyID) (*model.Key, error) {
	return s.store.GetKey(ctx, id)
}

func (s *KeyService) ListKeys(ctx context.Context) ([]model.Key, error) {
	return s.store.ListKeys(ctx)
}

// UpdateKeyInfo validates and overwrites a key's name and description.
func (s *KeyService) UpdateKeyInfo(ctx context.Context, id model.KeyID, name, desc string) (*model.Key, error) {
	if err := validateKeyInfo(name, desc); err != nil {
		return nil, err
	}
	if err := s.store.UpdateKeyInfo(ctx, &model.Key{ID: id, Name: name, Description: desc}); err != nil {
		return nil, err
	}
	return s.store.GetKey(ctx, id)
}

// UpdateKeySecrets applies a tri-state patch to a key's secret material and
// returns the key as stored afterwards.
func (s *KeyService) UpdateKeySecrets(ctx context.Context, id model.KeyID, p model.KeySecretsPatch) (*model.Key, error) {
	if err := s.store.UpdateKeySecrets(ctx, id, p); err != nil {
		return nil, err
	}
	return s.store.GetKey(ctx, id)
}

// Rotate promotes the staged secret of a key and clears the staging fields.
// Rotating a key with nothing staged leaves it without an active secret.
func (s *KeyService) Rotate(ctx context.Context, id model.KeyID) (*model.Key, error) {
	k, err := s.rotate(ctx, id)
	s.metrics.KeyRotation("manual", err == nil)
	return k, err
}

func (s *KeyService) rotate(ctx context.Context, id model.KeyID) (*model.Key, error) {
	k, err := s.store.GetKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if !k.HasRotateWith() {
		s.log.Warn("rotating key without staged secret; key will have no active secret", "key_id", id)
	}
	if err := s.store.RotateKey(ctx, id); err != nil {
		return nil, err
	}
	s.log.Info("key rotated", "key_id", id)
	return s.store.GetKey(ctx, id)
}

// RotateDue rotates every key whose rotation date is on or before today and
// returns how many were rotated. A failure on one key does not stop the
// others; all failures are returned together.
func (s *KeyService) RotateDue(ctx context.Context, today model.Date) (int, error) {
	due, err := s.store.ListKeysDueForRotation(ctx, today)
	if err != nil {
		return 0, err
	}

	var (
		rotated int
		errs    []error
	)
	for _, k := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !k.HasRotateWith() {
			s.log.Warn("scheduled rotation without staged secret; key will have no active secret", "key_id", k.ID)
		}
		err := s.store.RotateKey(ctx, k.ID)
		s.metrics.KeyRotation("scheduled", err == nil)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Deleted since it was listed.
				continue
			}
			errs = append(errs, fmt.Errorf("rotate key %d: %w", k.ID, err))
			continue
		}
		s.log.Info("scheduled key rotation", "key_id", k.ID, "rotate_at", k.RotateAt)
		rotated++
	}
	return rotated, errors.Join(errs...)
}

// DeleteKey removes a key and all of its client associations.
func (s *KeyService) DeleteKey(ctx context.Context, id model.KeyID) error {
	ok, err := s.store.DeleteKey(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.log.Info("key deleted", "key_id", id)
	return nil
}
