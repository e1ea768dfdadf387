package service

import (
	"errors"

	"github.com/keyhub/keyhub/internal/store"
)

var (
	// ErrNotFound reports a missing user, client, key or association.
	ErrNotFound = store.ErrNotFound

	// ErrConflict reports a duplicate association or a secret collision.
	ErrConflict = store.ErrConflict

	// ErrAssociationExists reports that a client already holds the key.
	ErrAssociationExists = store.ErrAssociationExists

	// ErrUnauthenticated reports a missing, invalid or unknown credential.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ValidationError describes input rejected before it reached the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
