package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/keyhub/keyhub/internal/metrics"
	"github.com/keyhub/keyhub/internal/model"
)

// CredentialStore is the part of the store credential checks need.
type CredentialStore interface {
	GetClientKeyBySecret(ctx context.Context, secret string) (*model.ClientKey, error)
	GetKey(ctx context.Context, id model.KeyID) (*model.Key, error)
	UpdateClientKeyLastUsed(ctx context.Context, id model.ClientKeyID) (bool, error)
}

// Credential is what a client receives for presenting a valid secret.
type Credential struct {
	ClientID model.ClientID `json:"client_id"`
	KeyID    model.KeyID    `json:"key_id"`
	KeyName  string         `json:"key_name"`
	Secret   *string        `json:"secret"`
}

// CredentialService verifies the secrets clients present.
type CredentialService struct {
	store   CredentialStore
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewCredentialService creates a CredentialService. m may be nil.
func NewCredentialService(store CredentialStore, m *metrics.Metrics, log *slog.Logger) *CredentialService {
	if log == nil {
		log = slog.Default()
	}
	return &CredentialService{store: store, metrics: m, log: log}
}

// Verify resolves a client secret to the key it unlocks and stamps the
// association as used today. Unknown secrets, and associations whose key is
// gone, yield ErrUnauthenticated.
func (s *CredentialService) Verify(ctx context.Context, secret string) (*Credential, error) {
	if secret == "" {
		s.metrics.CredentialCheck("unknown")
		return nil, ErrUnauthenticated
	}

	ck, err := s.store.GetClientKeyBySecret(ctx, secret)
	if err != nil {
		return nil, s.fail(err)
	}

	k, err := s.store.GetKey(ctx, ck.KeyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("client key references a missing key", "client_key_id", ck.ID, "key_id", ck.KeyID)
		}
		return nil, s.fail(err)
	}

	ok, err := s.store.UpdateClientKeyLastUsed(ctx, ck.ID)
	if err != nil {
		return nil, s.fail(err)
	}
	if !ok {
		// Deleted between lookup and stamp.
		return nil, s.fail(ErrNotFound)
	}

	s.metrics.CredentialCheck("valid")
	return &Credential{
		ClientID: ck.ClientID,
		KeyID:    k.ID,
		KeyName:  k.Name,
		Secret:   k.Secret,
	}, nil
}

func (s *CredentialService) fail(err error) error {
	if errors.Is(err, ErrNotFound) {
		s.metrics.CredentialCheck("unknown")
		return ErrUnauthenticated
	}
	s.metrics.CredentialCheck("error")
	return err
}
