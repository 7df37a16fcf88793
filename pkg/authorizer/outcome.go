package authorizer

import "github.com/google/uuid"

// Status is the terminal state of one authorization invocation
type Status string

const (
	// StatusAuthenticated means the caller is signed in to a local account
	StatusAuthenticated Status = "authenticated"

	// StatusRequiresRedirect means the caller must be redirected to the
	// provider's authorize endpoint (request leg)
	StatusRequiresRedirect Status = "requires_redirect"

	// StatusError means the flow failed recoverably; Errors carries the
	// user-facing messages
	StatusError Status = "error"

	// StatusAssociateOnLogon means no linkage exists and auto-registration
	// is disabled; the caller should log on locally to associate
	StatusAssociateOnLogon Status = "associate_on_logon"

	// Auto-registration subvariants. This flow registers auto-approved
	// accounts and reports StatusAuthenticated; the variants exist for
	// hosts whose registration policy defers activation.
	StatusAutoRegisteredStandard        Status = "auto_registered_standard"
	StatusAutoRegisteredEmailValidation Status = "auto_registered_email_validation"
	StatusAutoRegisteredAdminApproval   Status = "auto_registered_admin_approval"
)

// Outcome is the result of one authorization invocation. Recoverable
// failures are expressed here as StatusError with messages; fatal
// conditions are returned as errors by the service instead and never
// produce an Outcome. Messages travel only in this value, there is no
// ambient per-request staging state.
type Outcome struct {
	Status      Status
	Errors      []string
	RedirectURL string
	AccountID   uuid.UUID
}

// AddError appends a user-facing message and forces StatusError
func (o *Outcome) AddError(message string) {
	o.Status = StatusError
	o.Errors = append(o.Errors, message)
}

// Success reports whether the invocation ended without recoverable errors
func (o *Outcome) Success() bool {
	return len(o.Errors) == 0
}
