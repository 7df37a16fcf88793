package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service implements the host account registry operations the external
// authorization flow consumes.
type Service struct {
	repository  Repository
	defaultRole string
}

// ServiceOption is a functional option for configuring the Service
type ServiceOption func(*Service)

// WithDefaultRole sets the role assigned to newly registered accounts
func WithDefaultRole(role string) ServiceOption {
	return func(s *Service) {
		s.defaultRole = role
	}
}

// NewService creates a new account registry service
func NewService(repository Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repository:  repository,
		defaultRole: "customer",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RegisterAccount registers a new local account. Validation and uniqueness
// failures come back as an unsuccessful result with ordered messages, never
// as an error; errors are reserved for infrastructure failures.
func (s *Service) RegisterAccount(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	result := &RegistrationResult{Success: true}

	if req.Username == "" {
		result.AddError("Username is required")
	}
	if req.Password == "" {
		result.AddError("Password is required")
	}
	if !result.Success {
		return result, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	acct := &Account{
		ID:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		Active:       req.AutoApproved,
		AutoApproved: req.AutoApproved,
		Roles:        []string{s.defaultRole},
	}

	// The repository enforces uniqueness atomically; a pre-check here would
	// still race with a concurrent registration.
	if err := s.repository.Create(ctx, acct, string(hash)); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateUsername):
			result.AddError("The username is already in use")
			return result, nil
		case errors.Is(err, ErrDuplicateEmail):
			result.AddError("The email is already in use")
			return result, nil
		default:
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
	}

	slog.Info("Account registered", "account_id", acct.ID, "username", acct.Username, "auto_approved", acct.AutoApproved)

	result.Account = acct
	return result, nil
}

// SetDisplayAttribute stores the display-name attribute on the account
func (s *Service) SetDisplayAttribute(ctx context.Context, accountID uuid.UUID, value string) error {
	return s.repository.SetAttribute(ctx, accountID, AttrDisplayName, value)
}

// GetDisplayAttribute returns the display-name attribute, or "" when unset
func (s *Service) GetDisplayAttribute(ctx context.Context, accountID uuid.UUID) (string, error) {
	value, err := s.repository.GetAttribute(ctx, accountID, AttrDisplayName)
	if err != nil {
		if errors.Is(err, ErrAttributeNotFound) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// FindByID returns the account with the given id
func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repository.FindByID(ctx, id)
}

// GenerateRandomDigitCode returns a cryptographically random string of n
// decimal digits. The external provider is the true authenticator, so the
// generated placeholder credential is never used for login.
func GenerateRandomDigitCode(n int) string {
	const digits = "0123456789"

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = digits[int(b)%len(digits)]
	}

	return string(buf)
}
