package domain

import "time"

// User represents an end user that can sign in through the login UI.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
