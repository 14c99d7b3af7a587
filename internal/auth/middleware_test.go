package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthenticator struct {
	identity    *Identity
	freshTokens *TokenPair
	err         error

	gotAccess  string
	gotRefresh string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, accessToken, refreshToken string) (*Identity, *TokenPair, error) {
	s.gotAccess = accessToken
	s.gotRefresh = refreshToken
	return s.identity, s.freshTokens, s.err
}

func runMiddleware(t *testing.T, stub *stubAuthenticator, cookies ...*http.Cookie) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()

	m := NewMiddleware(stub, false, 15*time.Minute, 7*24*time.Hour)

	var seen *Identity
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func cookieByName(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthenticateMiddlewarePassesCookieValues(t *testing.T) {
	t.Parallel()

	stub := &stubAuthenticator{}
	runMiddleware(t, stub,
		&http.Cookie{Name: AccessTokenCookie, Value: "access-value"},
		&http.Cookie{Name: RefreshTokenCookie, Value: "refresh-value"},
	)

	assert.Equal(t, "access-value", stub.gotAccess)
	assert.Equal(t, "refresh-value", stub.gotRefresh)
}

func TestAuthenticateMiddlewareAttachesIdentity(t *testing.T) {
	t.Parallel()

	identity := &Identity{UserID: uuid.New(), Email: "jane@example.com", SessionID: uuid.New()}
	rec, seen := runMiddleware(t, &stubAuthenticator{identity: identity})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, identity.UserID, seen.UserID)
	assert.Empty(t, rec.Result().Cookies(), "no cookie mutation without fresh tokens")
}

func TestAuthenticateMiddlewareSetsFreshCookies(t *testing.T) {
	t.Parallel()

	identity := &Identity{UserID: uuid.New(), SessionID: uuid.New()}
	fresh := &TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}
	rec, seen := runMiddleware(t, &stubAuthenticator{identity: identity, freshTokens: fresh})

	require.NotNil(t, seen)

	access := cookieByName(t, rec, AccessTokenCookie)
	require.NotNil(t, access)
	assert.Equal(t, "new-access", access.Value)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, int((15 * time.Minute).Seconds()), access.MaxAge)

	refresh := cookieByName(t, rec, RefreshTokenCookie)
	require.NotNil(t, refresh)
	assert.Equal(t, "new-refresh", refresh.Value)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), refresh.MaxAge)
}

func TestAuthenticateMiddlewareClearsCookiesOnRevokedSession(t *testing.T) {
	t.Parallel()

	rec, seen := runMiddleware(t, &stubAuthenticator{err: ErrSessionRevoked},
		&http.Cookie{Name: RefreshTokenCookie, Value: "stale"},
	)

	assert.Equal(t, http.StatusOK, rec.Code, "request continues as anonymous")
	assert.Nil(t, seen)

	access := cookieByName(t, rec, AccessTokenCookie)
	require.NotNil(t, access)
	assert.Empty(t, access.Value)
	assert.Negative(t, access.MaxAge)

	refresh := cookieByName(t, rec, RefreshTokenCookie)
	require.NotNil(t, refresh)
	assert.Empty(t, refresh.Value)
	assert.Negative(t, refresh.MaxAge)
}

func TestAuthenticateMiddlewareDegradesToAnonymousOnStoreError(t *testing.T) {
	t.Parallel()

	rec, seen := runMiddleware(t, &stubAuthenticator{err: errors.New("database down")})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, seen)
	assert.Empty(t, rec.Result().Cookies(), "store errors must not touch cookies")
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	m := NewMiddleware(&stubAuthenticator{}, false, time.Minute, time.Hour)
	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Anonymous request is rejected.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Authenticated request passes.
	identity := &Identity{UserID: uuid.New()}
	ctx := context.WithValue(context.Background(), IdentityContextKey, identity)
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
