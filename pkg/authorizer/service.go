package authorizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/oldrev/weixin-auth/pkg/account"
	"github.com/oldrev/weixin-auth/pkg/linkage"
	"github.com/oldrev/weixin-auth/pkg/weixin"
)

// DefaultProviderName keys linkage records created by this flow
const DefaultProviderName = "external_auth.weixin"

// placeholderCredentialLength matches the host registry's random digit
// code for externally authenticated accounts
const placeholderCredentialLength = 20

// ProviderClient is the capability the orchestrator needs from the
// identity provider client.
type ProviderClient interface {
	BuildAuthorizationURL(callbackURL string) (string, error)
	ExchangeCodeForToken(ctx context.Context, callbackURL, code string) (*weixin.AccessToken, error)
	FetchProfile(ctx context.Context, token *weixin.AccessToken) (*weixin.Profile, error)
}

// AccountRegistrar is the host account registry capability
type AccountRegistrar interface {
	RegisterAccount(ctx context.Context, req account.RegistrationRequest) (*account.RegistrationResult, error)
	SetDisplayAttribute(ctx context.Context, accountID uuid.UUID, value string) error
}

// SessionManager is the caller-session capability, bound to the current
// request by the flow controller.
type SessionManager interface {
	SignIn(ctx context.Context, accountID uuid.UUID, persistent bool) error
	CurrentAccountID(ctx context.Context) (uuid.UUID, bool)
}

// Notifier receives best-effort notices about flow side effects
type Notifier interface {
	AccountRegistered(ctx context.Context, acct *account.Account, displayName string) error
}

// Service is the authorization orchestrator: it drives the provider
// client, the linkage store and the account registry through the two legs
// of the external login flow.
type Service struct {
	provider     ProviderClient
	config       weixin.Config
	linkages     linkage.Repository
	registrar    AccountRegistrar
	providerName string
	autoRegister bool
	notifier     Notifier
}

// ServiceOption is a functional option for configuring the Service
type ServiceOption func(*Service)

// WithProviderName overrides the provider key on linkage records
func WithProviderName(name string) ServiceOption {
	return func(s *Service) {
		s.providerName = name
	}
}

// WithAutoRegistration toggles automatic account creation for unknown
// external identities. When disabled, unknown identities end in
// StatusAssociateOnLogon instead of registration.
func WithAutoRegistration(enabled bool) ServiceOption {
	return func(s *Service) {
		s.autoRegister = enabled
	}
}

// WithNotifier sets the best-effort notifier for new registrations
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		s.notifier = n
	}
}

// NewService creates an authorization orchestrator
func NewService(provider ProviderClient, cfg weixin.Config, linkages linkage.Repository, registrar AccountRegistrar, opts ...ServiceOption) *Service {
	s := &Service{
		provider:     provider,
		config:       cfg,
		linkages:     linkages,
		registrar:    registrar,
		providerName: DefaultProviderName,
		autoRegister: true,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// BeginAuthorization handles the request leg: it produces the redirect to
// the provider's authorize endpoint. Deterministic, touches no persistence
// and performs no network call; calling it twice with the same callback
// URL yields the same URL byte for byte.
func (s *Service) BeginAuthorization(ctx context.Context, callbackURL string) (*Outcome, error) {
	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("weixin authentication cannot be used: %w", err)
	}

	authURL, err := s.provider.BuildAuthorizationURL(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization URL: %w", err)
	}

	return &Outcome{Status: StatusRequiresRedirect, RedirectURL: authURL}, nil
}

// CompleteRequest carries the verify-leg inputs
type CompleteRequest struct {
	// CallbackURL is the local callback the provider redirected back to
	CallbackURL string
	// Code is the single-use authorization code from the provider
	Code string
	// Session is the caller's session, bound to the current request
	Session SessionManager
}

// CompleteAuthorization handles the verify leg. Recoverable failures
// (rejected code, registration validation) come back as a StatusError
// outcome with ordered messages and a nil error; fatal conditions (profile
// fetch failure, missing external id, misconfiguration) are returned as a
// non-nil error with no outcome, because no safe fallback exists.
func (s *Service) CompleteAuthorization(ctx context.Context, req CompleteRequest) (*Outcome, error) {
	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("weixin authentication cannot be used: %w", err)
	}
	if req.Session == nil {
		return nil, errors.New("complete authorization requires a session manager")
	}

	token, err := s.provider.ExchangeCodeForToken(ctx, req.CallbackURL, req.Code)
	if err != nil {
		// A rejected or expired code is recoverable; the code is single-use
		// so there is nothing to retry.
		slog.Warn("Weixin token exchange failed", "error", err)
		outcome := &Outcome{Status: StatusError}
		outcome.AddError(err.Error())
		return outcome, nil
	}

	profile, err := s.provider.FetchProfile(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch weixin profile: %w", err)
	}

	claims, err := weixin.ExtractClaims(profile)
	if err != nil {
		return nil, err
	}

	record, err := s.linkages.FindByProviderAndExternalID(ctx, s.providerName, claims.ExternalID)
	switch {
	case err == nil:
		return s.signInLinked(ctx, req.Session, record)
	case errors.Is(err, linkage.ErrLinkageNotFound):
		if !s.autoRegister {
			slog.Info("No linkage record and auto-registration disabled", "external_id", claims.ExternalID)
			return &Outcome{Status: StatusAssociateOnLogon}, nil
		}
		return s.registerAndLink(ctx, req.Session, claims, token)
	default:
		return nil, fmt.Errorf("failed to look up linkage record: %w", err)
	}
}

// signInLinked signs the caller in as the account the linkage record binds.
// The found account wins over any existing session identity: the external
// provider is treated as authoritative. A differing logged-in session is
// flagged for product review rather than merged.
func (s *Service) signInLinked(ctx context.Context, sess SessionManager, record *linkage.Record) (*Outcome, error) {
	if current, ok := sess.CurrentAccountID(ctx); ok && current != record.AccountID {
		slog.Warn("Discarding existing session in favor of linked account",
			"session_account_id", current,
			"linked_account_id", record.AccountID,
			"external_id", record.ExternalID)
	}

	if err := sess.SignIn(ctx, record.AccountID, false); err != nil {
		return nil, fmt.Errorf("failed to sign in linked account: %w", err)
	}

	slog.Info("Authenticated via linkage record", "account_id", record.AccountID, "external_id", record.ExternalID)
	return &Outcome{Status: StatusAuthenticated, AccountID: record.AccountID}, nil
}

// registerAndLink runs the registration sub-flow: register an auto-approved
// local account under the external alias, persist the display-name claim,
// create exactly one linkage record and sign the new account in.
func (s *Service) registerAndLink(ctx context.Context, sess SessionManager, claims weixin.Claims, token *weixin.AccessToken) (*Outcome, error) {
	result, err := s.registrar.RegisterAccount(ctx, account.RegistrationRequest{
		// The openid is the alias-style username; the local credential is a
		// random placeholder, the provider is the true authenticator.
		Username:     claims.ExternalID,
		Email:        "",
		Password:     account.GenerateRandomDigitCode(placeholderCredentialLength),
		AutoApproved: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register account: %w", err)
	}

	if !result.Success {
		// A concurrent flow may have registered and linked this identity
		// between our lookup and the registration attempt; resolve the
		// collision as a sign-in instead of surfacing its messages.
		if winner, lerr := s.linkages.FindByProviderAndExternalID(ctx, s.providerName, claims.ExternalID); lerr == nil {
			slog.Warn("Registration lost to a concurrent linkage; signing in as existing account",
				"external_id", claims.ExternalID, "account_id", winner.AccountID)
			return s.signInLinked(ctx, sess, winner)
		}

		slog.Info("External registration rejected", "external_id", claims.ExternalID, "errors", result.Errors)
		outcome := &Outcome{Status: StatusError, Errors: append([]string(nil), result.Errors...)}
		return outcome, nil
	}

	acct := result.Account

	if claims.DisplayName != "" {
		if err := s.registrar.SetDisplayAttribute(ctx, acct.ID, claims.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to store display name: %w", err)
		}
	}

	record := &linkage.Record{
		ID:                  uuid.New(),
		AccountID:           acct.ID,
		Provider:            s.providerName,
		ExternalID:          claims.ExternalID,
		ExternalDisplayName: claims.DisplayName,
		OAuthToken:          token.Token,
		OAuthAccessToken:    token.OpenID,
	}

	if err := s.linkages.Insert(ctx, record); err != nil {
		if errors.Is(err, linkage.ErrDuplicateLinkage) {
			// The losing writer of a concurrent registration resolves to the
			// winner's account. The freshly registered account is left behind
			// without a linkage record; flagged here rather than hidden.
			slog.Warn("Linkage insert lost to a concurrent flow; signing in as existing account",
				"external_id", claims.ExternalID, "orphaned_account_id", acct.ID)
			winner, lerr := s.linkages.FindByProviderAndExternalID(ctx, s.providerName, claims.ExternalID)
			if lerr != nil {
				return nil, fmt.Errorf("failed to resolve concurrent linkage: %w", lerr)
			}
			return s.signInLinked(ctx, sess, winner)
		}
		// Known gap: the account exists without a linkage record. Surfaced,
		// not hidden; no further action proceeds.
		return nil, fmt.Errorf("failed to insert linkage record for account %s: %w", acct.ID, err)
	}

	if s.notifier != nil {
		if nerr := s.notifier.AccountRegistered(ctx, acct, claims.DisplayName); nerr != nil {
			slog.Error("Failed to send registration notice", "account_id", acct.ID, "error", nerr)
		}
	}

	if err := sess.SignIn(ctx, acct.ID, false); err != nil {
		return nil, fmt.Errorf("failed to sign in new account: %w", err)
	}

	slog.Info("Registered and authenticated external account",
		"account_id", acct.ID, "external_id", claims.ExternalID, "display_name", claims.DisplayName)
	return &Outcome{Status: StatusAuthenticated, AccountID: acct.ID}, nil
}
