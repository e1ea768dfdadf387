package service

import (
	"context"
	"log/slog"

	"github.com/keyhub/keyhub/internal/metrics"
	"github.com/keyhub/keyhub/internal/model"
)

// ClientStore is the part of the store the client service needs.
type ClientStore interface {
	CreateClient(ctx context.Context, name, description string) (model.ClientID, error)
	GetClient(ctx context.Context, id model.ClientID) (*model.Client, error)
	ListClients(ctx context.Context) ([]model.Client, error)
	UpdateClientInfo(ctx context.Context, c *model.Client) error
	DeleteClient(ctx context.Context, id model.ClientID) (bool, error)

	GetKey(ctx context.Context, id model.KeyID) (*model.Key, error)
	ListKeysForClient(ctx context.Context, clientID model.ClientID) ([]model.Key, error)

	CreateClientKey(ctx context.Context, clientID model.ClientID, keyID model.KeyID) (model.ClientKeyID, string, error)
	GetClientKeyFor(ctx context.Context, clientID model.ClientID, keyID model.KeyID) (*model.ClientKey, error)
	ListClientKeysForClient(ctx context.Context, clientID model.ClientID) ([]model.ClientKeyView, error)
	RotateClientKeySecret(ctx context.Context, id model.ClientKeyID) (string, error)
	DeleteClientKey(ctx context.Context, id model.ClientKeyID) (bool, error)
}

// ClientService manages clients and their key associations.
type ClientService struct {
	store   ClientStore
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewClientService creates a ClientService. m may be nil.
func NewClientService(store ClientStore, m *metrics.Metrics, log *slog.Logger) *ClientService {
	if log == nil {
		log = slog.Default()
	}
	return &ClientService{store: store, metrics: m, log: log}
}

// Association is a client's view of one key: the association, its secret
// and the key's identity.
type Association struct {
	ID       model.ClientKeyID `json:"id"`
	ClientID model.ClientID    `json:"client_id"`
	KeyID    model.KeyID       `json:"key_id"`
	Secret   string            `json:"secret"`
	LastUsed *model.Date       `json:"last_used,omitempty"`
}

func newAssociation(ck *model.ClientKey) *Association {
	return &Association{
		ID:       ck.ID,
		ClientID: ck.ClientID,
		KeyID:    ck.KeyID,
		Secret:   ck.Secret,
		LastUsed: ck.LastUsed,
	}
}

func (s *ClientService) CreateClient(ctx context.Context, name, desc string) (*model.Client, error) {
	id, err := s.store.CreateClient(ctx, name, desc)
	if err != nil {
		return nil, err
	}
	s.log.Info("client created", "client_id", id, "name", name)
	return &model.Client{ID: id, Name: name, Description: desc}, nil
}

func (s *ClientService) GetClient(ctx context.Context, id model.ClientID) (*model.Client, error) {
	return s.store.GetClient(ctx, id)
}

func (s *ClientService) ListClients(ctx context.Context) ([]model.Client, error) {
	return s.store.ListClients(ctx)
}

func (s *ClientService) UpdateClientInfo(ctx context.Context, id model.ClientID, name, desc string) (*model.Client, error) {
	c := &model.Client{ID: id, Name: name, Description: desc}
	if err := s.store.UpdateClientInfo(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteClient removes a client and all of its key associations.
func (s *ClientService) DeleteClient(ctx context.Context, id model.ClientID) error {
	ok, err := s.store.DeleteClient(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.log.Info("client deleted", "client_id", id)
	return nil
}

// ListKeys returns the keys a client holds.
func (s *ClientService) ListKeys(ctx context.Context, id model.ClientID) ([]model.Key, error) {
	if _, err := s.store.GetClient(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListKeysForClient(ctx, id)
}

// ListAssociations returns a client's associations with key names.
func (s *ClientService) ListAssociations(ctx context.Context, id model.ClientID) ([]model.ClientKeyView, error) {
	if _, err := s.store.GetClient(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListClientKeysForClient(ctx, id)
}

// Associate gives a client access to a key under a fresh secret. Both must
// exist; an existing association yields ErrAssociationExists.
func (s *ClientService) Associate(ctx context.Context, clientID model.ClientID, keyID model.KeyID) (*Association, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetKey(ctx, keyID); err != nil {
		return nil, err
	}

	id, sec, err := s.store.CreateClientKey(ctx, clientID, keyID)
	if err != nil {
		return nil, err
	}
	s.log.Info("client key associated", "client_id", clientID, "key_id", keyID, "client_key_id", id)
	return &Association{ID: id, ClientID: clientID, KeyID: keyID, Secret: sec}, nil
}

// Association returns the association between a client and a key.
func (s *ClientService) Association(ctx context.Context, clientID model.ClientID, keyID model.KeyID) (*Association, error) {
	ck, err := s.store.GetClientKeyFor(ctx, clientID, keyID)
	if err != nil {
		return nil, err
	}
	return newAssociation(ck), nil
}

// RotateSecret replaces the secret of a client's association with a key.
// The old secret stops working immediately.
func (s *ClientService) RotateSecret(ctx context.Context, clientID model.ClientID, keyID model.KeyID) (*Association, error) {
	ck, err := s.store.GetClientKeyFor(ctx, clientID, keyID)
	if err != nil {
		return nil, err
	}
	sec, err := s.store.RotateClientKeySecret(ctx, ck.ID)
	if err != nil {
		return nil, err
	}
	s.metrics.ClientSecretRotation()
	s.log.Info("client secret rotated", "client_id", clientID, "key_id", keyID, "client_key_id", ck.ID)

	ck.Secret = sec
	return newAssociation(ck), nil
}

// Dissociate removes a client's association with a key.
func (s *ClientService) Dissociate(ctx context.Context, clientID model.ClientID, keyID model.KeyID) error {
	ck, err := s.store.GetClientKeyFor(ctx, clientID, keyID)
	if err != nil {
		return err
	}
	ok, err := s.store.DeleteClientKey(ctx, ck.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.log.Info("client key dissociated", "client_id", clientID, "key_id", keyID)
	return nil
}
