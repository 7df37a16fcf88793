package linkage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrLinkageNotFound indicates no record exists for the lookup key
	ErrLinkageNotFound = errors.New("linkage record not found")

	// ErrDuplicateLinkage indicates a record already exists for the
	// (provider, external id) pair. Concurrent flows for the same external
	// identity race between lookup and insert; the uniqueness constraint
	// makes the second writer fail here instead of producing two records.
	ErrDuplicateLinkage = errors.New("linkage record already exists for provider and external id")
)

// Repository defines the persistence interface for linkage records
type Repository interface {
	// FindByProviderAndExternalID returns the record for the pair, or
	// ErrLinkageNotFound
	FindByProviderAndExternalID(ctx context.Context, provider, externalID string) (*Record, error)

	// Insert stores a new record. Returns ErrDuplicateLinkage when a record
	// for the same (provider, external id) pair already exists.
	Insert(ctx context.Context, record *Record) error

	// DeleteByAccountID removes all records for an account. Used on
	// provider uninstall and account removal, never by the login flow.
	DeleteByAccountID(ctx context.Context, accountID uuid.UUID) error

	// CountByProvider returns the number of records for a provider
	CountByProvider(ctx context.Context, provider string) (int64, error)
}
