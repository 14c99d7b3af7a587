package auth

import (
	"errors"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Token kinds. An access token never verifies as a refresh token and
// vice versa.
const (
	tokenKindAccess  = "access"
	tokenKindRefresh = "refresh"
)

// Identity is the resolved caller identity carried by an access token and
// attached to the request context after authentication.
type Identity struct {
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	SessionID uuid.UUID `json:"session_id"`
}

// AccessClaims are the claims decoded from an access token.
type AccessClaims struct {
	Identity
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshClaims are the claims decoded from a refresh token. A refresh token
// carries only the session ID; everything else is re-read from the stores.
type RefreshClaims struct {
	SessionID uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PasetoCodec signs and verifies compact, expiring tokens.
// Uses PASETO v4.local (symmetric encryption with XChaCha20-Poly1305).
type PasetoCodec struct {
	symmetricKey paseto.V4SymmetricKey
}

func NewPasetoCodec(symmetricKey []byte) (*PasetoCodec, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &PasetoCodec{symmetricKey: key}, nil
}

// CreateAccessToken issues a short-lived token carrying the full identity.
func (c *PasetoCodec) CreateAccessToken(identity Identity, duration time.Duration) (string, error) {
	now := time.Now()

	token := paseto.NewToken()
	token.SetIssuedAt(now)
	token.SetExpiration(now.Add(duration))
	token.SetString("kind", tokenKindAccess)
	token.SetString("user_id", identity.UserID.String())
	token.SetString("name", identity.Name)
	token.SetString("email", identity.Email)
	token.SetString("session_id", identity.SessionID.String())

	return token.V4Encrypt(c.symmetricKey, nil), nil
}

// CreateRefreshToken issues a long-lived token carrying only the session ID.
func (c *PasetoCodec) CreateRefreshToken(sessionID uuid.UUID, duration time.Duration) (string, error) {
	now := time.Now()

	token := paseto.NewToken()
	token.SetIssuedAt(now)
	token.SetExpiration(now.Add(duration))
	token.SetString("kind", tokenKindRefresh)
	token.SetString("session_id", sessionID.String())

	return token.V4Encrypt(c.symmetricKey, nil), nil
}

// VerifyAccessToken validates an access token and returns its claims.
// Fails closed: any signature mismatch, wrong kind, or expiry rejects.
func (c *PasetoCodec) VerifyAccessToken(tokenStr string) (*AccessClaims, error) {
	token, issuedAt, expiresAt, err := c.parse(tokenStr, tokenKindAccess)
	if err != nil {
		return nil, err
	}

	userID, err := getUUIDClaim(token, "user_id")
	if err != nil {
		return nil, ErrInvalidToken
	}
	sessionID, err := getUUIDClaim(token, "session_id")
	if err != nil {
		return nil, ErrInvalidToken
	}
	name, err := token.GetString("name")
	if err != nil {
		return nil, ErrInvalidToken
	}
	email, err := token.GetString("email")
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &AccessClaims{
		Identity: Identity{
			UserID:    userID,
			Name:      name,
			Email:     email,
			SessionID: sessionID,
		},
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyRefreshToken validates a refresh token and returns its claims.
func (c *PasetoCodec) VerifyRefreshToken(tokenStr string) (*RefreshClaims, error) {
	token, issuedAt, expiresAt, err := c.parse(tokenStr, tokenKindRefresh)
	if err != nil {
		return nil, err
	}

	sessionID, err := getUUIDClaim(token, "session_id")
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &RefreshClaims{
		SessionID: sessionID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (c *PasetoCodec) parse(tokenStr, wantKind string) (*paseto.Token, time.Time, time.Time, error) {
	parser := paseto.NewParser()

	token, err := parser.ParseV4Local(c.symmetricKey, tokenStr, nil)
	if err != nil {
		// The parser checks expiration by default; distinguish expired from invalid
		if errors.Is(err, &paseto.RuleError{}) {
			return nil, time.Time{}, time.Time{}, ErrExpiredToken
		}
		return nil, time.Time{}, time.Time{}, ErrInvalidToken
	}

	kind, err := token.GetString("kind")
	if err != nil || kind != wantKind {
		return nil, time.Time{}, time.Time{}, ErrInvalidToken
	}

	issuedAt, err := token.GetIssuedAt()
	if err != nil {
		return nil, time.Time{}, time.Time{}, ErrInvalidToken
	}

	expiresAt, err := token.GetExpiration()
	if err != nil {
		return nil, time.Time{}, time.Time{}, ErrInvalidToken
	}

	return token, issuedAt, expiresAt, nil
}

func getUUIDClaim(token *paseto.Token, claim string) (uuid.UUID, error) {
	raw, err := token.GetString(claim)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}
