package model

// KeyID identifies a credential definition.
type KeyID int64

// Key is a named credential definition. Secret is the active value handed to
// clients; RotateWith is staged material that replaces Secret once the key is
// rotated, and RotateAt is the date that rotation is scheduled for.
//
// Secrets are stored in plaintext.
type Key struct {
	ID          KeyID   `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	Description string  `json:"description" db:"description"`
	Secret      *string `json:"-" db:"api_key"`
	RotateAt    *Date   `json:"rotate_at,omitempty" db:"rotate_at"`
	RotateWith  *string `json:"-" db:"rotate_with"`
}

// HasSecret reports whether the key has an active secret.
func (k *Key) HasSecret() bool { return k.Secret != nil }

// HasRotateWith reports whether replacement material is staged.
func (k *Key) HasRotateWith() bool { return k.RotateWith != nil }

// KeySecretsPatch is a partial update of a key's secret material. Each field
// is applied independently: Absent leaves the column alone, Null clears it
// and a value overwrites it.
type KeySecretsPatch struct {
	Secret     Tri[string] `json:"secret,omitzero"`
	RotateAt   Tri[Date]   `json:"rotate_at,omitzero"`
	RotateWith Tri[string] `json:"rotate_with,omitzero"`
}

// Empty reports whether the patch carries no field at all.
func (p KeySecretsPatch) Empty() bool {
	return p.Secret.IsAbsent() && p.RotateAt.IsAbsent() && p.RotateWith.IsAbsent()
}

