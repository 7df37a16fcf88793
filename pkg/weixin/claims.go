package weixin

import "errors"

// ErrMissingExternalID indicates the provider profile carried no openid.
// Like a failed profile fetch this is unrecoverable: a flow must never
// proceed to registration for an unidentified identity.
var ErrMissingExternalID = errors.New("weixin profile contains no external identifier")

// Claims are the normalized identity attributes extracted from a Weixin
// profile. Only ExternalID is mandatory; the name fields may be empty.
type Claims struct {
	// ExternalID is the Weixin openid, unique per app
	ExternalID string
	// DisplayName is the user-facing name, taken from the nickname
	DisplayName string
	// PreferredUsername is the name hint for account creation, also from
	// the nickname; account registration falls back to the openid when a
	// unique handle is needed
	PreferredUsername string
}

// ExtractClaims normalizes a raw profile into Claims. The first non-empty
// nickname wins; absent optional fields are not an error.
func ExtractClaims(profile *Profile) (Claims, error) {
	if profile == nil || profile.OpenID == "" {
		return Claims{}, ErrMissingExternalID
	}

	claims := Claims{ExternalID: profile.OpenID}
	if profile.Nickname != "" {
		claims.DisplayName = profile.Nickname
		claims.PreferredUsername = profile.Nickname
	}

	return claims, nil
}
