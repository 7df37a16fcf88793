package account

import (
	"time"

	"github.com/google/uuid"
)

// Attribute names stored alongside accounts
const (
	// AttrDisplayName is the user-facing display name attribute; the
	// external login flow fills it from the provider nickname claim
	AttrDisplayName = "display_name"
)

// Account is a local account in the registry
type Account struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Active       bool      `json:"active"`
	AutoApproved bool      `json:"auto_approved"`
	Roles        []string  `json:"roles,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegistrationRequest carries the fields a caller supplies to register a
// new account. Password arrives in clear form and is hashed before storage.
type RegistrationRequest struct {
	Username     string
	Email        string
	Password     string
	AutoApproved bool
}

// RegistrationResult is the outcome of a registration attempt. Validation
// failures produce Success=false with an ordered list of human-readable
// messages; they are not error returns.
type RegistrationResult struct {
	Success bool
	Errors  []string
	Account *Account
}

// AddError appends a validation message to the result
func (r *RegistrationResult) AddError(message string) {
	r.Success = false
	r.Errors = append(r.Errors, message)
}
