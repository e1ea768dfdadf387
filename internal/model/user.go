package model

// UserID identifies a human operator. It is never interchangeable with the
// other entity IDs.
type UserID int64

// User is an operator who signs in through the identity provider. Name is the
// email claim returned by the provider; Token is the current session secret.
type User struct {
	ID    UserID `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Token string `json:"-" db:"token"` // session secret, never expose
}
