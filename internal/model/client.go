package model

// ClientID identifies an integration partner.
type ClientID int64

// Client is an external integration partner entitled to hold credentials.
type Client struct {
	ID          ClientID `json:"id" db:"id"`
	Name        string   `json:"name" db:"name"`
	Description string   `json:"description" db:"description"`
}
