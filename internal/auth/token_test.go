package auth

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	return bytes.Repeat([]byte("k"), 32)
}

func testIdentity() Identity {
	return Identity{
		UserID:    uuid.New(),
		Name:      "Jane Doe",
		Email:     "jane@example.com",
		SessionID: uuid.New(),
	}
}

func TestNewPasetoCodecRejectsBadKeyLength(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, 16, 31, 33, 64} {
		if _, err := NewPasetoCodec(bytes.Repeat([]byte("k"), size)); err == nil {
			t.Errorf("expected error for key of %d bytes, got nil", size)
		}
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	t.Parallel()

	codec, err := NewPasetoCodec(testKey(t))
	if err != nil {
		t.Fatalf("NewPasetoCodec: %v", err)
	}

	identity := testIdentity()
	tokenStr, err := codec.CreateAccessToken(identity, 15*time.Minute)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}

	claims, err := codec.VerifyAccessToken(tokenStr)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}

	if claims.Identity != identity {
		t.Errorf("identity mismatch: got %+v, want %+v", claims.Identity, identity)
	}
	if !claims.ExpiresAt.After(claims.IssuedAt) {
		t.Errorf("expiry %v is not after issue time %v", claims.ExpiresAt, claims.IssuedAt)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	t.Parallel()

	codec, err := NewPasetoCodec(testKey(t))
	if err != nil {
		t.Fatalf("NewPasetoCodec: %v", err)
	}

	sessionID := uuid.New()
	tokenStr, err := codec.CreateRefreshToken(sessionID, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	claims, err := codec.VerifyRefreshToken(tokenStr)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	if claims.SessionID != sessionID {
		t.Errorf("session ID mismatch: got %s, want %s", claims.SessionID, sessionID)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	t.Parallel()

	codec, err := NewPasetoCodec(testKey(t))
	if err != nil {
		t.Fatalf("NewPasetoCodec: %v", err)
	}

	tokenStr, err := codec.CreateAccessToken(testIdentity(), -time.Minute)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}

	if _, err := codec.VerifyAccessToken(tokenStr); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTokenFromDifferentKeyRejected(t *testing.T) {
	t.Parallel()

	codec, err := NewPasetoCodec(testKey(t))
	if err != nil {
		t.Fatalf("NewPasetoCodec: %v", err)
	}
	otherCodec, err := NewPasetoCodec(bytes.Repeat([]byte("x"), 32))
	if err != nil {
		t.Fatalf("NewPasetoCodec: %v", err)
	}

	tokenStr, err := otherCodec.CreateAccessToken(testIdentity(), 15*time.Minute)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}

	if _, err := codec.VerifyAccessToken(tokenStr); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenKindsDoNotCross(t *testing.T) {
	t.Parallel()

	codec, err := NewPasetoCodec(testKey(t))
	if err != nil {
		t.Fatalf("NewPasetoCodec: %v", err)
	}

	accessStr, err := codec.CreateAccessToken(testIdentity(), 15*time.Minute)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	refreshStr, err := codec.CreateRefreshToken(uuid.New(), time.Hour)
	if err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	if _, err := codec.VerifyRefreshToken(accessStr); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("access token accepted as refresh token: %v", err)
	}
	if _, err := codec.VerifyAccessToken(refreshStr); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh token accepted as access token: %v", err)
	}
}

func TestMalformedTokenRejected(t *testing.T) {
	t.Parallel()

	codec, err := NewPasetoCodec(testKey(t))
	if err != nil {
		t.Fatalf("NewPasetoCodec: %v", err)
	}

	for _, tokenStr := range []string{"", "garbage", "v4.local.not-a-token"} {
		if _, err := codec.VerifyAccessToken(tokenStr); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("token %q: expected ErrInvalidToken, got %v", tokenStr, err)
		}
	}
}
