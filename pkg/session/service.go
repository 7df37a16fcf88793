package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultCookieName is the cookie carrying the session token
const DefaultCookieName = "access_token"

// Service issues and verifies session tokens. Tokens are HS256 JWTs set in
// an HttpOnly cookie; verification goes through go-chi/jwtauth so routes
// can also mount its middleware.
type Service struct {
	secret           []byte
	issuer           string
	cookieName       string
	expiry           time.Duration
	persistentExpiry time.Duration
	cookieSecure     bool
	tokenAuth        *jwtauth.JWTAuth
}

// ServiceOption is a functional option for configuring the Service
type ServiceOption func(*Service)

// WithIssuer sets the JWT issuer claim
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		s.issuer = issuer
	}
}

// WithCookieName sets the session cookie name
func WithCookieName(name string) ServiceOption {
	return func(s *Service) {
		s.cookieName = name
	}
}

// WithExpiry sets the session duration for non-persistent sign-ins
func WithExpiry(expiry time.Duration) ServiceOption {
	return func(s *Service) {
		s.expiry = expiry
	}
}

// WithPersistentExpiry sets the session duration for persistent sign-ins
func WithPersistentExpiry(expiry time.Duration) ServiceOption {
	return func(s *Service) {
		s.persistentExpiry = expiry
	}
}

// WithCookieSecure marks the session cookie as Secure
func WithCookieSecure(secure bool) ServiceOption {
	return func(s *Service) {
		s.cookieSecure = secure
	}
}

// NewService creates a session service signing with the given secret
func NewService(secret string, opts ...ServiceOption) *Service {
	s := &Service{
		secret:           []byte(secret),
		issuer:           "weixin-auth",
		cookieName:       DefaultCookieName,
		expiry:           24 * time.Hour,
		persistentExpiry: 30 * 24 * time.Hour,
		cookieSecure:     true,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.tokenAuth = jwtauth.New("HS256", s.secret, nil)
	return s
}

// SignIn issues a session token for the account and sets the cookie
func (s *Service) SignIn(w http.ResponseWriter, accountID uuid.UUID, persistent bool) error {
	expiry := s.expiry
	if persistent {
		expiry = s.persistentExpiry
	}

	now := time.Now()
	expire := now.Add(expiry)
	claims := jwt.MapClaims{
		"sub": accountID.String(),
		"iss": s.issuer,
		"iat": now.Unix(),
		"exp": expire.Unix(),
		"jti": uuid.New().String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Path:     "/",
		Value:    signed,
		Expires:  expire,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("Account signed in", "account_id", accountID, "persistent", persistent)
	return nil
}

// SignOut clears the session cookie
func (s *Service) SignOut(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Path:     "/",
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
	})
}

// CurrentAccountID returns the account id of the caller's session, if any.
// An absent, expired or invalid token reads as anonymous, never an error.
func (s *Service) CurrentAccountID(r *http.Request) (uuid.UUID, bool) {
	token, err := jwtauth.VerifyRequest(s.tokenAuth, r, s.tokenFromCookie)
	if err != nil {
		return uuid.Nil, false
	}

	accountID, err := uuid.Parse(token.Subject())
	if err != nil {
		return uuid.Nil, false
	}

	return accountID, true
}

// Verifier returns middleware that populates the request context with the
// verified session token, for routes that require authentication.
func (s *Service) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verify(s.tokenAuth, s.tokenFromCookie)
}

func (s *Service) tokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// RequestSession binds the session service to one in-flight request so the
// authorization flow can sign callers in and read their current identity
// without touching HTTP types.
type RequestSession struct {
	service *Service
	w       http.ResponseWriter
	r       *http.Request
}

// ForRequest returns a request-scoped session handle
func (s *Service) ForRequest(w http.ResponseWriter, r *http.Request) *RequestSession {
	return &RequestSession{service: s, w: w, r: r}
}

// SignIn issues a session for the account on the bound response
func (rs *RequestSession) SignIn(ctx context.Context, accountID uuid.UUID, persistent bool) error {
	return rs.service.SignIn(rs.w, accountID, persistent)
}

// CurrentAccountID reads the caller's session identity from the bound request
func (rs *RequestSession) CurrentAccountID(ctx context.Context) (uuid.UUID, bool) {
	return rs.service.CurrentAccountID(rs.r)
}
