package domain

import (
	"context"
	"time"
)

// User is a chat participant. Usernames are unique.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"-"`
}

// UserStore defines the contract for user storage. It lives in the domain
// because it is a requirement of the domain, not of a database.
type UserStore interface {
	// CreateUser stores a new user and returns it with its assigned id.
	// It fails with ErrConflict when the username is taken.
	CreateUser(ctx context.Context, username string) (*User, error)
	// GetUser returns ErrNotFound when id is unknown.
	GetUser(ctx context.Context, id string) (*User, error)
	// FindUserByUsername returns ErrNotFound when nobody has that name.
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
}
