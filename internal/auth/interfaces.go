package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shortly/shortly/internal/user"
)

// TokenCodec signs and verifies expiring, tamper-proof tokens.
// The production implementation is PasetoCodec (PASETO v4.local).
type TokenCodec interface {
	CreateAccessToken(identity Identity, duration time.Duration) (string, error)
	CreateRefreshToken(sessionID uuid.UUID, duration time.Duration) (string, error)
	VerifyAccessToken(tokenStr string) (*AccessClaims, error)
	VerifyRefreshToken(tokenStr string) (*RefreshClaims, error)
}

// UserStore is the user persistence consumed by the orchestrator.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error
}

// SessionStore persists login sessions. CreateUserWithSession exists so that
// registration can create the user and its first session atomically.
type SessionStore interface {
	CreateSession(ctx context.Context, userID uuid.UUID, ip, userAgent string) (*Session, error)
	FindSessionByID(ctx context.Context, id uuid.UUID) (*Session, error)
	// DeleteSession is idempotent: deleting an absent session is not an error.
	DeleteSession(ctx context.Context, id uuid.UUID) error
	InvalidateSession(ctx context.Context, id uuid.UUID) error
	CreateUserWithSession(ctx context.Context, name, email, passwordHash, ip, userAgent string) (*user.User, *Session, error)
}

// VerificationTokenStore persists single-use email verification codes.
type VerificationTokenStore interface {
	// PurgeExpired removes all expired tokens, process-wide.
	PurgeExpired(ctx context.Context) error
	PurgeForUser(ctx context.Context, userID uuid.UUID) error
	Insert(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	FindValid(ctx context.Context, userID uuid.UUID, token string) (*VerificationToken, error)
}

// MailSender delivers outbound mail.
type MailSender interface {
	SendVerificationEmail(ctx context.Context, toEmail, token, link string) error
}
