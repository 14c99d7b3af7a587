package auth

import (
	"time"

	"github.com/google/uuid"
)

// Session anchors one login instance. Its existence is the root of trust for
// refresh: a refresh token is worthless once the row is gone or invalidated.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Valid     bool      `json:"valid"`
	UserAgent string    `json:"user_agent"`
	ClientIP  string    `json:"client_ip"`
	CreatedAt time.Time `json:"created_at"`
}

// VerificationToken is a single-use, time-boxed code proving control of an
// email address. At most one unexpired token exists per user.
type VerificationToken struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is a freshly issued access/refresh token couple.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
