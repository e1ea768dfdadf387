package service

import (
	"context"
	"errors"
	"testing"

	"github.com/keyhub/keyhub/internal/model"
)

type fakeCredentialStore struct {
	clientKey *model.ClientKey
	key       *model.Key
	lookupErr error
	stamped   int
}

func (f *fakeCredentialStore) GetClientKeyBySecret(ctx context.Context, secret string) (*model.ClientKey, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.clientKey == nil || f.clientKey.Secret != secret {
		return nil, ErrNotFound
	}
	return f.clientKey, nil
}

func (f *fakeCredentialStore) GetKey(ctx context.Context, id model.KeyID) (*model.Key, error) {
	if f.key == nil || f.key.ID != id {
		return nil, ErrNotFound
	}
	return f.key, nil
}

func (f *fakeCredentialStore) UpdateClientKeyLastUsed(ctx context.Context, id model.ClientKeyID) (bool, error) {
	f.stamped++
	return true, nil
}

func TestVerifyDanglingAssociation(t *testing.T) {
	st := &fakeCredentialStore{
		clientKey: &model.ClientKey{ID: 1, ClientID: 2, KeyID: 3, Secret: "s"},
	}
	svc := NewCredentialService(st, nil, discardLogger())

	if _, err := svc.Verify(context.Background(), "s"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("got %v, want ErrUnauthenticated", err)
	}
	if st.stamped != 0 {
		t.Error("last_used stamped for a dangling association")
	}
}

func TestVerifyStoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	svc := NewCredentialService(&fakeCredentialStore{lookupErr: boom}, nil, discardLogger())

	_, err := svc.Verify(context.Background(), "s")
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want the store error", err)
	}
	if errors.Is(err, ErrUnauthenticated) {
		t.Error("a store failure must not look like a bad credential")
	}
}

func TestVerifyEmptySecret(t *testing.T) {
	svc := NewCredentialService(&fakeCredentialStore{}, nil, discardLogger())
	if _, err := svc.Verify(context.Background(), ""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("got %v, want ErrUnauthenticated", err)
	}
}
