package auth

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortly/shortly/internal/logging"
	"github.com/shortly/shortly/internal/user"
)

// fakeUserStore is an in-memory UserStore shared with fakeSessionStore so
// registration lands users where lookups can find them.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uuid.UUID]*user.User)}
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, user.ErrNotFound
}

func (s *fakeUserStore) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *fakeUserStore) MarkEmailVerified(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.EmailVerified = true
	return nil
}

func (s *fakeUserStore) add(name, email, passwordHash string) *user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	s.users[u.ID] = u
	return u
}

type fakeSessionStore struct {
	mu       sync.Mutex
	users    *fakeUserStore
	sessions map[uuid.UUID]*Session
}

func newFakeSessionStore(users *fakeUserStore) *fakeSessionStore {
	return &fakeSessionStore{users: users, sessions: make(map[uuid.UUID]*Session)}
}

func (s *fakeSessionStore) CreateSession(_ context.Context, userID uuid.UUID, ip, userAgent string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Valid:     true,
		UserAgent: userAgent,
		ClientIP:  ip,
		CreatedAt: time.Now(),
	}
	s.sessions[session.ID] = session
	return session, nil
}

func (s *fakeSessionStore) FindSessionByID(_ context.Context, id uuid.UUID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *fakeSessionStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *fakeSessionStore) InvalidateSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok {
		session.Valid = false
	}
	return nil
}

func (s *fakeSessionStore) CreateUserWithSession(ctx context.Context, name, email, passwordHash, ip, userAgent string) (*user.User, *Session, error) {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, nil, user.ErrDuplicateEmail
	}
	newUser := s.users.add(name, email, passwordHash)
	session, err := s.CreateSession(ctx, newUser.ID, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}
	return newUser, session, nil
}

type storedToken struct {
	userID    uuid.UUID
	token     string
	expiresAt time.Time
}

type fakeVerificationStore struct {
	mu     sync.Mutex
	tokens []storedToken
}

func (s *fakeVerificationStore) PurgeExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tokens[:0]
	for _, t := range s.tokens {
		if t.expiresAt.After(time.Now()) {
			kept = append(kept, t)
		}
	}
	s.tokens = kept
	return nil
}

func (s *fakeVerificationStore) PurgeForUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tokens[:0]
	for _, t := range s.tokens {
		if t.userID != userID {
			kept = append(kept, t)
		}
	}
	s.tokens = kept
	return nil
}

func (s *fakeVerificationStore) Insert(_ context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, storedToken{userID: userID, token: token, expiresAt: expiresAt})
	return nil
}

func (s *fakeVerificationStore) FindValid(_ context.Context, userID uuid.UUID, token string) (*VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.userID == userID && t.token == token && t.expiresAt.After(time.Now()) {
			return &VerificationToken{UserID: t.userID, Token: t.token, ExpiresAt: t.expiresAt}, nil
		}
	}
	return nil, ErrVerificationTokenNotFound
}

type fakeMailSender struct {
	mu        sync.Mutex
	sendErr   error
	sentTo    []string
	lastToken string
	lastLink  string
}

func (m *fakeMailSender) SendVerificationEmail(_ context.Context, toEmail, token, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sentTo = append(m.sentTo, toEmail)
	m.lastToken = token
	m.lastLink = link
	return nil
}

type fixture struct {
	service       *Service
	users         *fakeUserStore
	sessions      *fakeSessionStore
	verifications *fakeVerificationStore
	mail          *fakeMailSender
	codec         *PasetoCodec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	codec, err := NewPasetoCodec(bytes.Repeat([]byte("t"), 32))
	require.NoError(t, err)

	users := newFakeUserStore()
	sessions := newFakeSessionStore(users)
	verifications := &fakeVerificationStore{}
	mail := &fakeMailSender{}

	service := NewService(
		users,
		sessions,
		verifications,
		codec,
		mail,
		logging.NewLogger(true),
		15*time.Minute,
		7*24*time.Hour,
		"http://localhost:3000",
	)

	return &fixture{
		service:       service,
		users:         users,
		sessions:      sessions,
		verifications: verifications,
		mail:          mail,
		codec:         codec,
	}
}

func (f *fixture) register(t *testing.T, email string) (*user.User, *TokenPair) {
	t.Helper()
	u, tokens, err := f.service.Register(context.Background(), "Jane Doe", email, "secret@pass", "203.0.113.7", "test-agent")
	require.NoError(t, err)
	return u, tokens
}

func TestRegister(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	newUser, tokens, err := f.service.Register(context.Background(), "Jane Doe", "jane@example.com", "secret@pass", "203.0.113.7", "test-agent")
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", newUser.Name)
	assert.Equal(t, "jane@example.com", newUser.Email)
	assert.NotEqual(t, "secret@pass", newUser.PasswordHash, "password stored in plain text")
	assert.False(t, newUser.EmailVerified)

	claims, err := f.codec.VerifyAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, newUser.ID, claims.UserID)
	assert.Equal(t, newUser.Email, claims.Email)

	refreshClaims, err := f.codec.VerifyRefreshToken(tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, claims.SessionID, refreshClaims.SessionID, "access and refresh tokens bound to different sessions")

	session, err := f.sessions.FindSessionByID(context.Background(), claims.SessionID)
	require.NoError(t, err)
	assert.Equal(t, newUser.ID, session.UserID)
	assert.True(t, session.Valid)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.register(t, "jane@example.com")

	_, _, err := f.service.Register(context.Background(), "Other Jane", "jane@example.com", "another@pass", "", "")
	assert.ErrorIs(t, err, user.ErrDuplicateEmail)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cases := []struct {
		name     string
		userName string
		email    string
		password string
		wantErr  error
	}{
		{"short name", "Jo", "jo@example.com", "secret@pass", ErrNameTooShort},
		{"long name", strings.Repeat("a", 101), "jo@example.com", "secret@pass", ErrNameTooLong},
		{"bad email", "Jane Doe", "not-an-email", "secret@pass", ErrInvalidEmailFormat},
		{"long email", "Jane Doe", strings.Repeat("a", 395) + "@ex.com", "secret@pass", ErrEmailTooLong},
		{"short password", "Jane Doe", "jane@example.com", "a@b", ErrPasswordTooShort},
		{"long password", "Jane Doe", "jane@example.com", "@" + strings.Repeat("a", 100), ErrPasswordTooLong},
		{"no special char", "Jane Doe", "jane@example.com", "justletters", ErrPasswordNoSpecial},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.service.Register(context.Background(), tc.userName, tc.email, tc.password, "", "")
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.register(t, "jane@example.com")

	identity, tokens, err := f.service.Login(context.Background(), "jane@example.com", "secret@pass", "203.0.113.7", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", identity.Email)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.register(t, "jane@example.com")

	_, _, unknownErr := f.service.Login(context.Background(), "nobody@example.com", "secret@pass", "", "")
	_, _, wrongPassErr := f.service.Login(context.Background(), "jane@example.com", "wrong@pass", "", "")

	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, wrongPassErr, ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongPassErr.Error())
}

func TestAuthenticateWithValidAccessToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	newUser, tokens := f.register(t, "jane@example.com")

	identity, fresh, err := f.service.Authenticate(context.Background(), tokens.AccessToken, tokens.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, newUser.ID, identity.UserID)
	assert.Nil(t, fresh, "no token re-issue expected for a valid access token")
}

func TestAuthenticateAnonymous(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	identity, fresh, err := f.service.Authenticate(context.Background(), "", "")
	require.NoError(t, err)
	assert.Nil(t, identity)
	assert.Nil(t, fresh)
}

func TestAuthenticateSilentRefresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	newUser, tokens := f.register(t, "jane@example.com")

	// An expired access token with a live refresh token must silently
	// re-authenticate against the session.
	refreshClaims, err := f.codec.VerifyRefreshToken(tokens.RefreshToken)
	require.NoError(t, err)
	expiredAccess, err := f.codec.CreateAccessToken(Identity{
		UserID:    newUser.ID,
		Name:      newUser.Name,
		Email:     newUser.Email,
		SessionID: refreshClaims.SessionID,
	}, -time.Minute)
	require.NoError(t, err)

	identity, fresh, err := f.service.Authenticate(context.Background(), expiredAccess, tokens.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, newUser.ID, identity.UserID)
	assert.Equal(t, refreshClaims.SessionID, identity.SessionID)

	require.NotNil(t, fresh, "silent refresh must issue new tokens")
	newClaims, err := f.codec.VerifyAccessToken(fresh.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, refreshClaims.SessionID, newClaims.SessionID, "refresh must reuse the same session")
}

func TestAuthenticateGarbageRefreshTokenIsAnonymous(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	identity, fresh, err := f.service.Authenticate(context.Background(), "", "garbage")
	require.NoError(t, err)
	assert.Nil(t, identity)
	assert.Nil(t, fresh)
}

func TestAuthenticateAfterLogout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, tokens := f.register(t, "jane@example.com")

	refreshClaims, err := f.codec.VerifyRefreshToken(tokens.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, f.service.Logout(context.Background(), refreshClaims.SessionID))

	_, _, err = f.service.Authenticate(context.Background(), "", tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestAuthenticateInvalidatedSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, tokens := f.register(t, "jane@example.com")

	refreshClaims, err := f.codec.VerifyRefreshToken(tokens.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, f.sessions.InvalidateSession(context.Background(), refreshClaims.SessionID))

	_, _, err = f.service.Authenticate(context.Background(), "", tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, tokens := f.register(t, "jane@example.com")

	refreshClaims, err := f.codec.VerifyRefreshToken(tokens.RefreshToken)
	require.NoError(t, err)

	assert.NoError(t, f.service.Logout(context.Background(), refreshClaims.SessionID))
	assert.NoError(t, f.service.Logout(context.Background(), refreshClaims.SessionID))
	assert.NoError(t, f.service.Logout(context.Background(), uuid.New()))
}

func TestRequestEmailVerification(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	newUser, _ := f.register(t, "jane@example.com")

	link, err := f.service.RequestEmailVerification(context.Background(), newUser.ID)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^http://localhost:3000/auth/verify-email\?token=\d{8}&email=`), link)
	assert.Equal(t, []string{"jane@example.com"}, f.mail.sentTo)
	assert.Regexp(t, `^\d{8}$`, f.mail.lastToken)
	assert.Equal(t, link, f.mail.lastLink)
}

func TestRequestEmailVerificationAlreadyVerified(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	newUser, _ := f.register(t, "jane@example.com")
	require.NoError(t, f.users.MarkEmailVerified(context.Background(), newUser.ID))

	_, err := f.service.RequestEmailVerification(context.Background(), newUser.ID)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestRequestEmailVerificationReplacesOldToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	newUser, _ := f.register(t, "jane@example.com")

	_, err := f.service.RequestEmailVerification(context.Background(), newUser.ID)
	require.NoError(t, err)
	firstToken := f.mail.lastToken

	_, err = f.service.RequestEmailVerification(context.Background(), newUser.ID)
	require.NoError(t, err)

	// The first token must be dead once a second one is issued.
	err = f.service.ConfirmEmail(context.Background(), "jane@example.com", firstToken)
	if firstToken != f.mail.lastToken {
		assert.ErrorIs(t, err, ErrInvalidVerificationToken)
	}
}

func TestRequestEmailVerificationMailFailureStillReturnsLink(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	newUser, _ := f.register(t, "jane@example.com")
	f.mail.sendErr = errors.New("smtp connection refused")

	link, err := f.service.RequestEmailVerification(context.Background(), newUser.ID)
	assert.ErrorIs(t, err, ErrMailDelivery)
	assert.NotEmpty(t, link, "link must be returned so the caller can surface it")
}

func TestConfirmEmail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	newUser, _ := f.register(t, "jane@example.com")

	_, err := f.service.RequestEmailVerification(context.Background(), newUser.ID)
	require.NoError(t, err)
	token := f.mail.lastToken

	require.NoError(t, f.service.ConfirmEmail(context.Background(), "jane@example.com", token))

	verified, err := f.users.GetByID(context.Background(), newUser.ID)
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified)

	// Single use: the same token must not confirm twice.
	err = f.service.ConfirmEmail(context.Background(), "jane@example.com", token)
	assert.ErrorIs(t, err, ErrInvalidVerificationToken)
}

func TestConfirmEmailUnknownUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.service.ConfirmEmail(context.Background(), "nobody@example.com", "12345678")
	assert.ErrorIs(t, err, ErrInvalidEmailAddress)
}

func TestConfirmEmailWrongToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	newUser, _ := f.register(t, "jane@example.com")

	_, err := f.service.RequestEmailVerification(context.Background(), newUser.ID)
	require.NoError(t, err)

	err = f.service.ConfirmEmail(context.Background(), "jane@example.com", "00000000")
	if f.mail.lastToken != "00000000" {
		assert.ErrorIs(t, err, ErrInvalidVerificationToken)
	}
}

func TestConfirmEmailExpiredToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	newUser, _ := f.register(t, "jane@example.com")

	require.NoError(t, f.verifications.Insert(context.Background(), newUser.ID, "11112222", time.Now().Add(-time.Hour)))

	err := f.service.ConfirmEmail(context.Background(), "jane@example.com", "11112222")
	assert.ErrorIs(t, err, ErrInvalidVerificationToken)
}
