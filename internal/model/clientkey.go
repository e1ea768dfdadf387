package model

// ClientKeyID identifies a client↔key association.
type ClientKeyID int64

// ClientKey binds one Client to one Key through a shared secret. There is at
// most one association per (ClientID, KeyID) pair and Secret is unique across
// all associations.
type ClientKey struct {
	ID       ClientKeyID `json:"id" db:"id"`
	ClientID ClientID    `json:"client_id" db:"client_id"`
	KeyID    KeyID       `json:"key_id" db:"key_id"`
	Secret   string      `json:"-" db:"secret"`
	LastUsed *Date       `json:"last_used,omitempty" db:"last_used"`
}

// ClientKeyView is an association joined with the name and description of
// its key, as listed on a client's page.
type ClientKeyView struct {
	ClientKey
	KeyName        string `json:"key_name" db:"key_name"`
	KeyDescription string `json:"key_description" db:"key_description"`
}
