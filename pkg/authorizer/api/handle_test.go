package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oldrev/weixin-auth/pkg/account"
	"github.com/oldrev/weixin-auth/pkg/authorizer"
	"github.com/oldrev/weixin-auth/pkg/linkage"
	"github.com/oldrev/weixin-auth/pkg/session"
	"github.com/oldrev/weixin-auth/pkg/weixin"
)

type testEnv struct {
	handler        http.Handler
	sessionService *session.Service
	accountService *account.Service
	linkages       *linkage.InMemoryRepository
	provider       *httptest.Server
}

// newTestEnv wires the full stack against a fake Weixin server
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "access_token"):
			code := r.URL.Query().Get("code")
			if code == "bad-code" {
				fmt.Fprint(w, `{"errcode":40029,"errmsg":"invalid code"}`)
				return
			}
			fmt.Fprint(w, `{"access_token":"token-123","expires_in":7200,"openid":"openid-abc","scope":"snsapi_userinfo"}`)
		case strings.Contains(r.URL.Path, "userinfo"):
			fmt.Fprint(w, `{"openid":"openid-abc","nickname":"小明"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(provider.Close)

	cfg := weixin.Config{AppID: "wx-app-id", AppSecret: "wx-secret", Enabled: true}
	client, err := weixin.NewClient(cfg, weixin.WithEndpoints(
		weixin.AuthorizationEndpoint,
		provider.URL+"/sns/oauth2/access_token",
		provider.URL+"/sns/userinfo",
	))
	require.NoError(t, err)

	accountService := account.NewService(account.NewInMemoryRepository())
	sessionService := session.NewService("test-secret", session.WithCookieSecure(false))
	linkages := linkage.NewInMemoryRepository()
	authService := authorizer.NewService(client, cfg, linkages, accountService)

	handle := NewHandle(authService, sessionService, accountService,
		WithBaseURL("http://shop.example.com"),
		WithLoginURL("/login"),
	)

	return &testEnv{
		handler:        Handler(handle),
		sessionService: sessionService,
		accountService: accountService,
		linkages:       linkages,
		provider:       provider,
	}
}

func TestLogin_RedirectsToProvider(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/login?return_url=%2Fcart", nil)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusFound, recorder.Code)
	location := recorder.Header().Get("Location")

	expectedCallback := "http://shop.example.com/auth/weixin/login/callback?return_url=" + url.QueryEscape("/cart")
	expected := weixin.AuthorizationEndpoint +
		"?appid=wx-app-id" +
		"&redirect_uri=" + url.QueryEscape(expectedCallback) +
		"&response_type=code&scope=snsapi_userinfo&state=STATE#wechat_redirect"
	assert.Equal(t, expected, location)
}

func TestLogin_DisabledMethodIsUnavailable(t *testing.T) {
	env := newTestEnv(t)

	cfg := weixin.Config{AppID: "wx-app-id", AppSecret: "wx-secret", Enabled: false}
	client, err := weixin.NewClient(cfg)
	require.NoError(t, err)
	authService := authorizer.NewService(client, cfg, env.linkages, env.accountService)
	handle := NewHandle(authService, env.sessionService, env.accountService)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	recorder := httptest.NewRecorder()
	Handler(handle).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "authentication_unavailable", body.Error)
}

func TestLoginCallback_RegistersAndRedirects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/login/callback?return_url=%2Fcart&code=auth-code", nil)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusFound, recorder.Code)
	assert.Equal(t, "/cart", recorder.Header().Get("Location"))

	// A session cookie was issued for the new account
	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.DefaultCookieName, cookies[0].Name)

	meReq := httptest.NewRequest(http.MethodGet, "/me", nil)
	meReq.AddCookie(cookies[0])
	accountID, ok := env.sessionService.CurrentAccountID(meReq)
	require.True(t, ok)

	acct, err := env.accountService.FindByID(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "openid-abc", acct.Username)

	count, err := env.linkages.CountByProvider(ctx, authorizer.DefaultProviderName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLoginCallback_MissingCode(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/login/callback?return_url=%2Fcart", nil)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusFound, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", location.Path)
	assert.Equal(t, "Missing authorization code", location.Query().Get("error"))
	assert.Equal(t, "/cart", location.Query().Get("return_url"))
}

func TestLoginCallback_RejectedCodeRedirectsWithMessages(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/login/callback?code=bad-code", nil)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusFound, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", location.Path)
	assert.NotEmpty(t, location.Query()["error"])

	// No session cookie on a failed flow
	assert.Empty(t, recorder.Result().Cookies())
}

func TestLoginCallback_AssociateOnLogonRedirectsWithoutMessages(t *testing.T) {
	env := newTestEnv(t)

	cfg := weixin.Config{AppID: "wx-app-id", AppSecret: "wx-secret", Enabled: true}
	client, err := weixin.NewClient(cfg, weixin.WithEndpoints(
		weixin.AuthorizationEndpoint,
		env.provider.URL+"/sns/oauth2/access_token",
		env.provider.URL+"/sns/userinfo",
	))
	require.NoError(t, err)
	authService := authorizer.NewService(client, cfg, env.linkages, env.accountService,
		authorizer.WithAutoRegistration(false))
	handle := NewHandle(authService, env.sessionService, env.accountService, WithLoginURL("/login"))

	req := httptest.NewRequest(http.MethodGet, "/login/callback?code=auth-code", nil)
	recorder := httptest.NewRecorder()
	Handler(handle).ServeHTTP(recorder, req)

	require.Equal(t, http.StatusFound, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", location.Path)
	assert.Empty(t, location.Query()["error"])
}

func TestLoginCallback_SecondVisitSignsInExistingAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := httptest.NewRecorder()
	env.handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/login/callback?code=auth-code", nil))
	require.Equal(t, http.StatusFound, first.Code)

	second := httptest.NewRecorder()
	env.handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/login/callback?code=auth-code", nil))
	require.Equal(t, http.StatusFound, second.Code)

	// Still one account and one linkage record
	count, err := env.linkages.CountByProvider(ctx, authorizer.DefaultProviderName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLogout_ClearsSessionAndRedirects(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/logout", nil))

	require.Equal(t, http.StatusFound, recorder.Code)
	assert.Equal(t, "/", recorder.Header().Get("Location"))

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestMe_Anonymous(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestMe_ReturnsCurrentAccount(t *testing.T) {
	env := newTestEnv(t)

	callback := httptest.NewRecorder()
	env.handler.ServeHTTP(callback, httptest.NewRequest(http.MethodGet, "/login/callback?code=auth-code", nil))
	require.Equal(t, http.StatusFound, callback.Code)
	cookies := callback.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookies[0])
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var info AccountInfo
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &info))
	assert.Equal(t, "openid-abc", info.Username)
	assert.Equal(t, "小明", info.DisplayName)
	assert.True(t, info.Active)
	assert.NotEmpty(t, info.ID)
	assert.Empty(t, info.Email)
}

func TestSanitizeReturnURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "/"},
		{"relative path", "/cart", "/cart"},
		{"nested path with query", "/checkout?step=2", "/checkout?step=2"},
		{"absolute url", "https://evil.example.com/", "/"},
		{"scheme relative", "//evil.example.com/", "/"},
		{"no leading slash", "cart", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeReturnURL(tt.input))
		})
	}
}
