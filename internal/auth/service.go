package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortly/shortly/internal/logging"
	"github.com/shortly/shortly/internal/user"
)

var (
	ErrInvalidCredentials       = errors.New("invalid email or password")
	ErrSessionRevoked           = errors.New("session revoked")
	ErrAlreadyVerified          = errors.New("email already verified")
	ErrInvalidEmailAddress      = errors.New("invalid email address")
	ErrInvalidVerificationToken = errors.New("invalid or expired token")
	ErrMailDelivery             = errors.New("verification email could not be sent")

	ErrNameTooShort       = errors.New("name must be at least 3 characters long")
	ErrNameTooLong        = errors.New("name can't be more than 100 characters")
	ErrInvalidEmailFormat = errors.New("please enter a valid email address")
	ErrEmailTooLong       = errors.New("email can't be more than 400 characters")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters long")
	ErrPasswordTooLong    = errors.New("password can't be more than 100 characters")
	ErrPasswordNoSpecial  = errors.New("password must contain at least one special character (@, $, !, %, *, ?, &)")
)

const verificationTokenTTL = 24 * time.Hour

// Service is the authentication orchestrator. It ties the token codec, the
// session and verification token stores, and the mail sender together, and
// owns the per-request authentication state machine.
type Service struct {
	userStore         UserStore
	sessionStore      SessionStore
	verificationStore VerificationTokenStore
	codec             TokenCodec
	mailSender        MailSender
	logger            *logging.Logger

	accessTokenDuration  time.Duration
	refreshTokenDuration time.Duration
	frontendURL          string
}

func NewService(
	userStore UserStore,
	sessionStore SessionStore,
	verificationStore VerificationTokenStore,
	codec TokenCodec,
	mailSender MailSender,
	logger *logging.Logger,
	accessTokenDuration time.Duration,
	refreshTokenDuration time.Duration,
	frontendURL string,
) *Service {
	return &Service{
		userStore:            userStore,
		sessionStore:         sessionStore,
		verificationStore:    verificationStore,
		codec:                codec,
		mailSender:           mailSender,
		logger:               logger,
		accessTokenDuration:  accessTokenDuration,
		refreshTokenDuration: refreshTokenDuration,
		frontendURL:          frontendURL,
	}
}

// Register creates a new user account together with its first session and
// issues both tokens. User and session are created in one transaction so a
// partial failure leaves no orphaned user.
func (s *Service) Register(ctx context.Context, name, email, password, ip, userAgent string) (*user.User, *TokenPair, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if err := validateName(name); err != nil {
		return nil, nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, nil, err
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	newUser, session, err := s.sessionStore.CreateUserWithSession(ctx, name, email, passwordHash, ip, userAgent)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, nil, user.ErrDuplicateEmail
		}
		return nil, nil, fmt.Errorf("failed to register user: %w", err)
	}

	identity := Identity{
		UserID:    newUser.ID,
		Name:      newUser.Name,
		Email:     newUser.Email,
		SessionID: session.ID,
	}

	tokens, err := s.issueTokens(identity)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	return newUser, tokens, nil
}

// Login authenticates a user and starts a new session. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (*Identity, *TokenPair, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, nil, err
	}

	existingUser, err := s.userStore.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !VerifyPassword(existingUser.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	session, err := s.sessionStore.CreateSession(ctx, existingUser.ID, ip, userAgent)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	identity := Identity{
		UserID:    existingUser.ID,
		Name:      existingUser.Name,
		Email:     existingUser.Email,
		SessionID: session.ID,
	}

	tokens, err := s.issueTokens(identity)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	return &identity, tokens, nil
}

// Authenticate resolves the caller's identity from the token cookies. It is
// the per-request state machine:
//
//  1. Valid access token: identity from its claims, no cookie mutation.
//  2. Invalid or missing access token, refresh token present: verify it, look
//     up the session; a missing or invalidated session is an explicit
//     ErrSessionRevoked. Otherwise re-issue both tokens bound to the same
//     session and return them for the caller to set as cookies.
//  3. Neither: anonymous (nil identity, nil error).
//
// A present-but-invalid access token falls through to the refresh branch, so
// an expired access token with a live session silently re-authenticates.
func (s *Service) Authenticate(ctx context.Context, accessToken, refreshToken string) (*Identity, *TokenPair, error) {
	if accessToken != "" {
		claims, err := s.codec.VerifyAccessToken(accessToken)
		if err == nil {
			identity := claims.Identity
			return &identity, nil, nil
		}
		// fall through to the refresh branch
	}

	if refreshToken == "" {
		return nil, nil, nil
	}

	claims, err := s.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		// Invalid or expired refresh token degrades silently to anonymous.
		return nil, nil, nil
	}

	session, err := s.sessionStore.FindSessionByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil, ErrSessionRevoked
		}
		return nil, nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if !session.Valid {
		return nil, nil, ErrSessionRevoked
	}

	owner, err := s.userStore.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil, ErrSessionRevoked
		}
		return nil, nil, fmt.Errorf("failed to look up session owner: %w", err)
	}

	identity := Identity{
		UserID:    owner.ID,
		Name:      owner.Name,
		Email:     owner.Email,
		SessionID: session.ID,
	}

	tokens, err := s.issueTokens(identity)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	return &identity, tokens, nil
}

// Logout deletes the session backing the identity. Idempotent: logging out
// twice, or with a session that is already gone, is not an error.
func (s *Service) Logout(ctx context.Context, sessionID uuid.UUID) error {
	return s.sessionStore.DeleteSession(ctx, sessionID)
}

// RequestEmailVerification generates a fresh 8-digit code for the user,
// stores it with a 24 hour expiry, and mails the verification link. The link
// is returned even when delivery fails so the caller can still surface it;
// delivery failure is reported as ErrMailDelivery.
func (s *Service) RequestEmailVerification(ctx context.Context, userID uuid.UUID) (string, error) {
	existingUser, err := s.userStore.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	if existingUser.EmailVerified {
		return "", ErrAlreadyVerified
	}

	token, err := generateVerificationToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate verification token: %w", err)
	}

	// Keep the store tidy, then enforce at most one valid token per user.
	if err := s.verificationStore.PurgeExpired(ctx); err != nil {
		return "", fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	if err := s.verificationStore.PurgeForUser(ctx, existingUser.ID); err != nil {
		return "", fmt.Errorf("failed to purge user tokens: %w", err)
	}
	if err := s.verificationStore.Insert(ctx, existingUser.ID, token, time.Now().Add(verificationTokenTTL)); err != nil {
		return "", fmt.Errorf("failed to insert verification token: %w", err)
	}

	link := s.verificationLink(token, existingUser.Email)

	if err := s.mailSender.SendVerificationEmail(ctx, existingUser.Email, token, link); err != nil {
		s.logger.Warn("failed to send verification email", "email", existingUser.Email, "error", err)
		return link, fmt.Errorf("%w: %w", ErrMailDelivery, err)
	}

	return link, nil
}

// ConfirmEmail consumes a verification token and marks the user's email as
// verified. Tokens are single-use: success purges every outstanding token for
// the user, so a second attempt with the same token fails.
func (s *Service) ConfirmEmail(ctx context.Context, email, token string) error {
	existingUser, err := s.userStore.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrInvalidEmailAddress
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	if _, err := s.verificationStore.FindValid(ctx, existingUser.ID, token); err != nil {
		if errors.Is(err, ErrVerificationTokenNotFound) {
			return ErrInvalidVerificationToken
		}
		return fmt.Errorf("failed to look up verification token: %w", err)
	}

	if err := s.userStore.MarkEmailVerified(ctx, existingUser.ID); err != nil {
		return fmt.Errorf("failed to mark email as verified: %w", err)
	}

	if err := s.verificationStore.PurgeForUser(ctx, existingUser.ID); err != nil {
		// The email is verified at this point; a leftover token row only
		// lingers until the next purge.
		s.logger.Warn("failed to purge verification tokens after confirm", "user_id", existingUser.ID, "error", err)
	}

	return nil
}

// issueTokens creates a fresh access/refresh token pair for the identity.
func (s *Service) issueTokens(identity Identity) (*TokenPair, error) {
	accessToken, err := s.codec.CreateAccessToken(identity, s.accessTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	refreshToken, err := s.codec.CreateRefreshToken(identity.SessionID, s.refreshTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func (s *Service) verificationLink(token, email string) string {
	return fmt.Sprintf("%s/auth/verify-email?token=%s&email=%s", s.frontendURL, token, url.QueryEscape(email))
}

// generateVerificationToken returns an 8-digit numeric code from a
// cryptographically secure source.
func generateVerificationToken() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08d", n.Int64()), nil
}

func validateName(name string) error {
	if len(name) < 3 {
		return ErrNameTooShort
	}
	if len(name) > 100 {
		return ErrNameTooLong
	}
	return nil
}

func validateEmail(email string) error {
	if len(email) > 400 {
		return ErrEmailTooLong
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmailFormat
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 6 {
		return ErrPasswordTooShort
	}
	if len(password) > 100 {
		return ErrPasswordTooLong
	}
	if !strings.ContainsAny(password, "@$!%*?&") {
		return ErrPasswordNoSpecial
	}
	return nil
}
