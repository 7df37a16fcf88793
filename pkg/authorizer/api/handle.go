package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jinzhu/copier"
	"github.com/oldrev/weixin-auth/pkg/account"
	"github.com/oldrev/weixin-auth/pkg/authorizer"
	"github.com/oldrev/weixin-auth/pkg/session"
)

// Handle translates HTTP requests into orchestrator invocations and
// orchestrator outcomes into redirect decisions.
type Handle struct {
	authService    *authorizer.Service
	sessionService *session.Service
	accountService *account.Service
	baseURL        string
	loginURL       string
}

// HandleOption is a functional option for configuring the Handle
type HandleOption func(*Handle)

// WithBaseURL sets the externally visible base URL used to build the
// provider callback
func WithBaseURL(baseURL string) HandleOption {
	return func(h *Handle) {
		h.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLoginURL sets the login page recoverable errors redirect to
func WithLoginURL(loginURL string) HandleOption {
	return func(h *Handle) {
		h.loginURL = loginURL
	}
}

// NewHandle creates the flow controller handler
func NewHandle(authService *authorizer.Service, sessionService *session.Service, accountService *account.Service, opts ...HandleOption) *Handle {
	h := &Handle{
		authService:    authService,
		sessionService: sessionService,
		accountService: accountService,
		baseURL:        "http://localhost:4000",
		loginURL:       "/login",
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Handler returns the chi router for the external auth endpoints
func Handler(h *Handle) http.Handler {
	r := chi.NewRouter()
	r.Get("/login", h.Login)
	r.Get("/login/callback", h.LoginCallback)
	r.Get("/logout", h.Logout)
	r.Get("/me", h.Me)
	return r
}

// ErrorResponse is the JSON body for fatal conditions
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// AccountInfo is the public view of the current account
type AccountInfo struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email,omitempty"`
	Active      bool     `json:"active"`
	Roles       []string `json:"roles,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
}

// Login handles the request leg: redirect the caller to Weixin
func (h *Handle) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	returnURL := sanitizeReturnURL(r.URL.Query().Get("return_url"))

	outcome, err := h.authService.BeginAuthorization(ctx, h.callbackURL(returnURL))
	if err != nil {
		slog.Error("Failed to begin authorization", "error", err)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, ErrorResponse{
			Error:            "authentication_unavailable",
			ErrorDescription: "Weixin authentication cannot be used",
		})
		return
	}

	http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
}

// LoginCallback handles the verify leg: exchange the code, run the
// authorization decision and turn the outcome into a redirect.
func (h *Handle) LoginCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	returnURL := sanitizeReturnURL(r.URL.Query().Get("return_url"))
	code := r.URL.Query().Get("code")

	slog.Info("Weixin login callback", "return_url", returnURL)

	if code == "" {
		h.redirectToLogin(w, r, returnURL, []string{"Missing authorization code"})
		return
	}

	outcome, err := h.authService.CompleteAuthorization(ctx, authorizer.CompleteRequest{
		CallbackURL: h.callbackURL(returnURL),
		Code:        code,
		Session:     h.sessionService.ForRequest(w, r),
	})
	if err != nil {
		// Fatal for this request: no recoverable outcome exists.
		slog.Error("Authorization aborted", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Error:            "authentication_failed",
			ErrorDescription: "Weixin authentication could not be completed",
		})
		return
	}

	switch outcome.Status {
	case authorizer.StatusAuthenticated,
		authorizer.StatusAutoRegisteredStandard,
		authorizer.StatusAutoRegisteredEmailValidation,
		authorizer.StatusAutoRegisteredAdminApproval:
		http.Redirect(w, r, returnURL, http.StatusFound)
	case authorizer.StatusAssociateOnLogon:
		h.redirectToLogin(w, r, returnURL, nil)
	default:
		h.redirectToLogin(w, r, returnURL, outcome.Errors)
	}
}

// Logout clears the caller's session
func (h *Handle) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessionService.SignOut(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Me returns the current account, or 401 for anonymous callers
func (h *Handle) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID, ok := h.sessionService.CurrentAccountID(r)
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{
			Error:            "unauthorized",
			ErrorDescription: "No active session",
		})
		return
	}

	acct, err := h.accountService.FindByID(ctx, accountID)
	if err != nil {
		slog.Error("Failed to load current account", "account_id", accountID, "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Error:            "internal_error",
			ErrorDescription: "Failed to load account",
		})
		return
	}

	var info AccountInfo
	if err := copier.Copy(&info, acct); err != nil {
		slog.Error("Failed to map account", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Error:            "internal_error",
			ErrorDescription: "Failed to map account",
		})
		return
	}
	info.ID = acct.ID.String()

	if displayName, err := h.accountService.GetDisplayAttribute(ctx, acct.ID); err == nil {
		info.DisplayName = displayName
	}

	render.JSON(w, r, info)
}

// callbackURL builds the local callback the provider redirects back to,
// carrying the return URL across the redirect boundary as a query value.
func (h *Handle) callbackURL(returnURL string) string {
	return fmt.Sprintf("%s/auth/weixin/login/callback?return_url=%s", h.baseURL, url.QueryEscape(returnURL))
}

// redirectToLogin sends the caller back to the login page, carrying the
// outcome's messages as query parameters. Messages only ever travel in the
// outcome and this redirect; there is no cross-request staging state.
func (h *Handle) redirectToLogin(w http.ResponseWriter, r *http.Request, returnURL string, messages []string) {
	target, err := url.Parse(h.loginURL)
	if err != nil {
		http.Redirect(w, r, h.loginURL, http.StatusFound)
		return
	}

	query := target.Query()
	if returnURL != "" && returnURL != "/" {
		query.Set("return_url", returnURL)
	}
	for _, message := range messages {
		query.Add("error", message)
	}
	target.RawQuery = query.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// sanitizeReturnURL keeps redirects on-site: only relative paths survive
func sanitizeReturnURL(returnURL string) string {
	if returnURL == "" {
		return "/"
	}
	if !strings.HasPrefix(returnURL, "/") || strings.HasPrefix(returnURL, "//") {
		return "/"
	}
	return returnURL
}
