package weixin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Weixin OAuth2 endpoints
const (
	AuthorizationEndpoint = "https://open.weixin.qq.com/connect/oauth2/authorize"
	TokenEndpoint         = "https://api.weixin.qq.com/sns/oauth2/access_token"
	UserInfoEndpoint      = "https://api.weixin.qq.com/sns/userinfo"
)

// authorizeState is the opaque state token the authorize endpoint expects.
// The provider contract uses a fixed value rather than a per-request nonce.
const authorizeState = "STATE"

var (
	// ErrNotConfigured indicates the app id or app secret is missing
	ErrNotConfigured = errors.New("weixin app id and app secret are not configured")

	// ErrDisabled indicates the Weixin authentication method is turned off
	ErrDisabled = errors.New("weixin authentication method is disabled")

	// ErrProfileFetch indicates the userinfo endpoint rejected the request.
	// A profile failure is unrecoverable for the current flow: without a
	// profile the caller cannot be identified.
	ErrProfileFetch = errors.New("weixin profile fetch failed")
)

// Config holds the Weixin app credentials and the enablement flag
type Config struct {
	AppID     string
	AppSecret string
	Enabled   bool
}

// Validate checks that the method is enabled and fully configured
func (c Config) Validate() error {
	if !c.Enabled {
		return ErrDisabled
	}
	if c.AppID == "" || c.AppSecret == "" {
		return ErrNotConfigured
	}
	return nil
}

// ProviderError is an error response from a Weixin endpoint, decoded once
// at the HTTP boundary from the errcode/errmsg fields.
type ProviderError struct {
	Code    int64
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("weixin error %d: %s", e.Code, e.Message)
}

// AccessToken is the short-lived token returned by the token endpoint,
// paired with the openid it was issued for. It only lives between the two
// calls of one verify leg and is never stored by the client.
type AccessToken struct {
	Token  string
	OpenID string
}

// Profile is the raw user profile returned by the userinfo endpoint
type Profile struct {
	OpenID     string `json:"openid"`
	Nickname   string `json:"nickname"`
	Sex        int    `json:"sex"`
	Language   string `json:"language"`
	City       string `json:"city"`
	Province   string `json:"province"`
	Country    string `json:"country"`
	HeadImgURL string `json:"headimgurl"`
}

// Client talks to the Weixin OAuth2 endpoints. It holds no per-flow state;
// the access token obtained on the verify leg is passed back explicitly.
type Client struct {
	appID        string
	appSecret    string
	httpClient   *http.Client
	authorizeURL string
	tokenURL     string
	userInfoURL  string
}

// Option is a function that configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for outbound provider calls
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithEndpoints overrides the provider endpoints, mainly for tests
func WithEndpoints(authorizeURL, tokenURL, userInfoURL string) Option {
	return func(c *Client) {
		c.authorizeURL = authorizeURL
		c.tokenURL = tokenURL
		c.userInfoURL = userInfoURL
	}
}

// NewClient creates a Weixin client for the given app credentials
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, ErrNotConfigured
	}

	client := &Client{
		appID:        cfg.AppID,
		appSecret:    cfg.AppSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		authorizeURL: AuthorizationEndpoint,
		tokenURL:     TokenEndpoint,
		userInfoURL:  UserInfoEndpoint,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// BuildAuthorizationURL builds the authorize endpoint URL for the request
// leg. The construction is deterministic and performs no network call.
// Weixin requires the query parameters in this exact shape: a URL-encoded
// redirect_uri, the snsapi_userinfo scope, the fixed state token and a
// literal #wechat_redirect fragment.
func (c *Client) BuildAuthorizationURL(callbackURL string) (string, error) {
	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return "", fmt.Errorf("invalid callback URL: %w", err)
	}
	if !parsed.IsAbs() {
		return "", fmt.Errorf("callback URL must be absolute: %s", callbackURL)
	}

	authURL := fmt.Sprintf("%s?appid=%s&redirect_uri=%s&response_type=code&scope=snsapi_userinfo&state=%s#wechat_redirect",
		c.authorizeURL, c.appID, url.QueryEscape(callbackURL), authorizeState)

	slog.Info("Built Weixin authorization URL", "auth_url", authURL)
	return authURL, nil
}

// tokenResponse covers both shapes the token endpoint can return:
// access_token+openid on success, errcode+errmsg on failure.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	OpenID      string `json:"openid"`
	Scope       string `json:"scope"`
	ErrCode     int64  `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
}

// ExchangeCodeForToken exchanges an authorization code for an access token.
// The token endpoint does not take the redirect URI; callbackURL is accepted
// for contract symmetry with the authorize leg and ignored on the wire.
// A provider-side error code is returned as a *ProviderError, which callers
// must treat as a recoverable failure: authorization codes are single-use,
// so a failed exchange is surfaced immediately and never retried.
func (c *Client) ExchangeCodeForToken(ctx context.Context, callbackURL, code string) (*AccessToken, error) {
	_ = callbackURL

	reqURL := fmt.Sprintf("%s?appid=%s&secret=%s&code=%s&grant_type=authorization_code",
		c.tokenURL, url.QueryEscape(c.appID), url.QueryEscape(c.appSecret), url.QueryEscape(code))

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if resp.ErrCode != 0 {
		slog.Warn("Weixin rejected authorization code", "errcode", resp.ErrCode, "errmsg", resp.ErrMsg)
		return nil, &ProviderError{Code: resp.ErrCode, Message: resp.ErrMsg}
	}

	if resp.AccessToken == "" || resp.OpenID == "" {
		return nil, &ProviderError{Code: -1, Message: "token response is missing access_token or openid"}
	}

	slog.Info("Weixin token exchange successful", "openid", resp.OpenID, "expires_in", resp.ExpiresIn)
	return &AccessToken{Token: resp.AccessToken, OpenID: resp.OpenID}, nil
}

// FetchProfile retrieves the user profile for the given access token.
// Any errcode in the response is a hard failure wrapped in ErrProfileFetch.
func (c *Client) FetchProfile(ctx context.Context, token *AccessToken) (*Profile, error) {
	if token == nil || token.Token == "" {
		return nil, fmt.Errorf("%w: no access token", ErrProfileFetch)
	}

	reqURL := fmt.Sprintf("%s?access_token=%s&openid=%s&lang=zh_CN",
		c.userInfoURL, url.QueryEscape(token.Token), url.QueryEscape(token.OpenID))

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}

	// Decide success vs provider error once, before binding the profile.
	var check struct {
		ErrCode int64  `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(body, &check); err != nil {
		return nil, fmt.Errorf("%w: failed to parse userinfo response: %v", ErrProfileFetch, err)
	}
	if check.ErrCode != 0 {
		slog.Error("Weixin userinfo returned error", "errcode", check.ErrCode, "errmsg", check.ErrMsg)
		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, &ProviderError{Code: check.ErrCode, Message: check.ErrMsg})
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("%w: failed to parse userinfo response: %v", ErrProfileFetch, err)
	}

	slog.Info("Weixin profile retrieved", "openid", profile.OpenID, "nickname", profile.Nickname)
	return &profile, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
