package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	accounts   map[uuid.UUID]*Account
	byUsername map[string]uuid.UUID
	byEmail    map[string]uuid.UUID
	hashes     map[uuid.UUID]string
	attributes map[uuid.UUID]map[string]string
	mutex      sync.RWMutex
}

// NewInMemoryRepository creates an empty in-memory account repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		accounts:   make(map[uuid.UUID]*Account),
		byUsername: make(map[string]uuid.UUID),
		byEmail:    make(map[string]uuid.UUID),
		hashes:     make(map[uuid.UUID]string),
		attributes: make(map[uuid.UUID]map[string]string),
	}
}

// Create stores a new account; uniqueness checks run under the write lock
func (r *InMemoryRepository) Create(ctx context.Context, acct *Account, passwordHash string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	username := strings.ToLower(acct.Username)
	if _, exists := r.byUsername[username]; exists {
		return ErrDuplicateUsername
	}
	email := strings.ToLower(acct.Email)
	if email != "" {
		if _, exists := r.byEmail[email]; exists {
			return ErrDuplicateEmail
		}
	}

	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}

	accountCopy := *acct
	r.accounts[acct.ID] = &accountCopy
	r.byUsername[username] = acct.ID
	if email != "" {
		r.byEmail[email] = acct.ID
	}
	r.hashes[acct.ID] = passwordHash

	return nil
}

// FindByID returns the account with the given id
func (r *InMemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	acct, exists := r.accounts[id]
	if !exists {
		return nil, ErrAccountNotFound
	}

	accountCopy := *acct
	return &accountCopy, nil
}

// FindByUsername returns the account with the given username
func (r *InMemoryRepository) FindByUsername(ctx context.Context, username string) (*Account, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, exists := r.byUsername[strings.ToLower(username)]
	if !exists {
		return nil, ErrAccountNotFound
	}

	accountCopy := *r.accounts[id]
	return &accountCopy, nil
}

// SetAttribute stores or replaces a named attribute
func (r *InMemoryRepository) SetAttribute(ctx context.Context, accountID uuid.UUID, name, value string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.accounts[accountID]; !exists {
		return ErrAccountNotFound
	}

	attrs, exists := r.attributes[accountID]
	if !exists {
		attrs = make(map[string]string)
		r.attributes[accountID] = attrs
	}
	attrs[name] = value

	return nil
}

// GetAttribute returns the attribute value
func (r *InMemoryRepository) GetAttribute(ctx context.Context, accountID uuid.UUID, name string) (string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	attrs, exists := r.attributes[accountID]
	if !exists {
		return "", ErrAttributeNotFound
	}
	value, exists := attrs[name]
	if !exists {
		return "", ErrAttributeNotFound
	}

	return value, nil
}
