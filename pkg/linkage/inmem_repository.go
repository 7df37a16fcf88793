package linkage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Repository using in-memory storage.
// Uniqueness on (provider, external id) is enforced under the mutex, so it
// fails a losing concurrent insert the same way the Postgres constraint does.
type InMemoryRepository struct {
	records map[string]*Record
	mutex   sync.RWMutex
}

// NewInMemoryRepository creates an empty in-memory linkage repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
	}
}

func linkageKey(provider, externalID string) string {
	return provider + "\x00" + externalID
}

// FindByProviderAndExternalID returns the record for the pair
func (r *InMemoryRepository) FindByProviderAndExternalID(ctx context.Context, provider, externalID string) (*Record, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	record, exists := r.records[linkageKey(provider, externalID)]
	if !exists {
		return nil, ErrLinkageNotFound
	}

	// Return a copy to prevent external modifications
	recordCopy := *record
	return &recordCopy, nil
}

// Insert stores a new record, failing on a duplicate pair
func (r *InMemoryRepository) Insert(ctx context.Context, record *Record) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := linkageKey(record.Provider, record.ExternalID)
	if _, exists := r.records[key]; exists {
		return ErrDuplicateLinkage
	}

	recordCopy := *record
	if recordCopy.ID == uuid.Nil {
		recordCopy.ID = uuid.New()
	}
	if recordCopy.CreatedAt.IsZero() {
		recordCopy.CreatedAt = time.Now().UTC()
	}
	r.records[key] = &recordCopy

	return nil
}

// DeleteByAccountID removes all records bound to the account
func (r *InMemoryRepository) DeleteByAccountID(ctx context.Context, accountID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for key, record := range r.records {
		if record.AccountID == accountID {
			delete(r.records, key)
		}
	}

	return nil
}

// CountByProvider returns the number of records for a provider
func (r *InMemoryRepository) CountByProvider(ctx context.Context, provider string) (int64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var count int64
	for _, record := range r.records {
		if record.Provider == provider {
			count++
		}
	}

	return count, nil
}
