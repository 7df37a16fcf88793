package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrAccountNotFound indicates no account exists for the lookup key
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateUsername indicates the username is already taken
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrDuplicateEmail indicates the email is already registered
	ErrDuplicateEmail = errors.New("email already exists")

	// ErrAttributeNotFound indicates the account has no such attribute
	ErrAttributeNotFound = errors.New("account attribute not found")
)

// Repository defines the persistence interface for accounts. Create must
// enforce username uniqueness (and email uniqueness for non-empty emails)
// atomically, so concurrent registrations cannot both succeed.
type Repository interface {
	Create(ctx context.Context, acct *Account, passwordHash string) error
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)

	// SetAttribute stores or replaces a named attribute on the account
	SetAttribute(ctx context.Context, accountID uuid.UUID, name, value string) error

	// GetAttribute returns the attribute value or ErrAttributeNotFound
	GetAttribute(ctx context.Context, accountID uuid.UUID, name string) (string, error)
}
