package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-session-secret"

func signInAndCookie(t *testing.T, service *Service, accountID uuid.UUID, persistent bool) *http.Cookie {
	t.Helper()

	recorder := httptest.NewRecorder()
	require.NoError(t, service.SignIn(recorder, accountID, persistent))

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestSignIn_SetsCookie(t *testing.T) {
	service := NewService(testSecret)
	accountID := uuid.New()

	cookie := signInAndCookie(t, service, accountID, false)

	assert.Equal(t, DefaultCookieName, cookie.Name)
	assert.NotEmpty(t, cookie.Value)
	assert.Equal(t, "/", cookie.Path)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
}

func TestSignIn_PersistentExtendsExpiry(t *testing.T) {
	service := NewService(testSecret,
		WithExpiry(time.Hour),
		WithPersistentExpiry(30*24*time.Hour),
	)
	accountID := uuid.New()

	short := signInAndCookie(t, service, accountID, false)
	long := signInAndCookie(t, service, accountID, true)

	assert.True(t, long.Expires.After(short.Expires.Add(24*time.Hour)))
}

func TestCurrentAccountID_RoundTrip(t *testing.T) {
	service := NewService(testSecret)
	accountID := uuid.New()

	cookie := signInAndCookie(t, service, accountID, false)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)

	got, ok := service.CurrentAccountID(req)
	require.True(t, ok)
	assert.Equal(t, accountID, got)
}

func TestCurrentAccountID_Anonymous(t *testing.T) {
	service := NewService(testSecret)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	_, ok := service.CurrentAccountID(req)
	assert.False(t, ok)
}

func TestCurrentAccountID_InvalidToken(t *testing.T) {
	service := NewService(testSecret)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "not-a-jwt"})

	_, ok := service.CurrentAccountID(req)
	assert.False(t, ok)
}

func TestCurrentAccountID_WrongSecret(t *testing.T) {
	issuing := NewService(testSecret)
	verifying := NewService("a-different-secret")

	cookie := signInAndCookie(t, issuing, uuid.New(), false)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)

	_, ok := verifying.CurrentAccountID(req)
	assert.False(t, ok)
}

func TestCurrentAccountID_ExpiredToken(t *testing.T) {
	service := NewService(testSecret, WithExpiry(-time.Minute))

	cookie := signInAndCookie(t, service, uuid.New(), false)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)

	_, ok := service.CurrentAccountID(req)
	assert.False(t, ok)
}

func TestSignOut_ClearsCookie(t *testing.T) {
	service := NewService(testSecret)

	recorder := httptest.NewRecorder()
	service.SignOut(recorder)

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestRequestSession(t *testing.T) {
	service := NewService(testSecret, WithCookieName("session"))
	accountID := uuid.New()

	recorder := httptest.NewRecorder()
	signInReq := httptest.NewRequest(http.MethodGet, "/callback", nil)

	rs := service.ForRequest(recorder, signInReq)
	require.NoError(t, rs.SignIn(context.Background(), accountID, true))

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)

	nextReq := httptest.NewRequest(http.MethodGet, "/me", nil)
	nextReq.AddCookie(cookies[0])

	got, ok := service.ForRequest(httptest.NewRecorder(), nextReq).CurrentAccountID(context.Background())
	require.True(t, ok)
	assert.Equal(t, accountID, got)
}
