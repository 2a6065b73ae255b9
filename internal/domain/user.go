package domain

import "time"

// User is an operator account. Referenced by Project.OwnerID, never embedded.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	IsAdmin      bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID  string
	IsAdmin bool
}
