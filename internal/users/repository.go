package users

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when the username or email is already taken.
	ErrDuplicate = errors.New("username or email already exists")
	// ErrInvalidRole is returned when a user is created with an unknown role.
	ErrInvalidRole = errors.New("unknown role")
)

// Repository is the credential store contract. Implementations must enforce
// uniqueness of UserName and Email.
type Repository interface {
	Create(ctx context.Context, user *User) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
}
