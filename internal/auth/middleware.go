package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shortly/shortly/internal/httputil"
	"github.com/shortly/shortly/internal/logging"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const IdentityContextKey ContextKey = "identity"

// Authenticator resolves an identity from raw token cookie values.
// Implemented by *Service; an interface so the middleware is testable
// without stores.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken, refreshToken string) (*Identity, *TokenPair, error)
}

// Middleware performs cookie-based authentication for every request and
// guards protected routes.
type Middleware struct {
	authenticator   Authenticator
	isProduction    bool
	accessDuration  time.Duration
	refreshDuration time.Duration
}

func NewMiddleware(authenticator Authenticator, isProduction bool, accessDuration, refreshDuration time.Duration) *Middleware {
	return &Middleware{
		authenticator:   authenticator,
		isProduction:    isProduction,
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
	}
}

// Authenticate runs on every request, before any protected handler. It reads
// both token cookies, resolves the identity, and applies cookie mutations:
// fresh cookies after a silent refresh, cleared cookies after a revoked
// session. Every failure degrades to anonymous; the request pipeline never
// breaks here.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.GetLoggerFromContext(r.Context())

		accessToken, _ := GetAccessTokenFromCookie(r)
		refreshToken, _ := GetRefreshTokenFromCookie(r)

		identity, freshTokens, err := m.authenticator.Authenticate(r.Context(), accessToken, refreshToken)
		if err != nil {
			if errors.Is(err, ErrSessionRevoked) {
				logger.Warn("refresh rejected: session revoked")
				ClearAuthCookies(w)
			} else {
				logger.Error("authentication degraded to anonymous", "error", err.Error())
			}
			next.ServeHTTP(w, r)
			return
		}

		if freshTokens != nil {
			SetAuthCookies(w, freshTokens.AccessToken, freshTokens.RefreshToken, m.isProduction, m.accessDuration, m.refreshDuration)
		}

		if identity != nil {
			ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
			r = r.WithContext(ctx)
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests that carry no resolved identity.
// Must be mounted after Authenticate.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetIdentityFromContext(r.Context()); !ok {
			httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetIdentityFromContext extracts the resolved identity from the request
// context. The second return is false for anonymous requests.
func GetIdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(*Identity)
	return identity, ok
}
