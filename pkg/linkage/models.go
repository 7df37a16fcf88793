package linkage

import (
	"time"

	"github.com/google/uuid"
)

// Record is the persistent binding between one local account and one
// (provider, external id) pair. A record is created exactly once, at
// successful linkage, and never updated by the authorization flow.
type Record struct {
	ID                  uuid.UUID `json:"id"`
	AccountID           uuid.UUID `json:"account_id"`
	Provider            string    `json:"provider"`
	ExternalID          string    `json:"external_id"`
	ExternalDisplayName string    `json:"external_display_name,omitempty"`
	OAuthToken          string    `json:"oauth_token"`
	OAuthAccessToken    string    `json:"oauth_access_token"`
	CreatedAt           time.Time `json:"created_at"`
}
