package shortener

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/shortly/shortly/internal/logging"
)

var (
	ErrNotOwner     = errors.New("link belongs to another user")
	ErrInvalidURL   = errors.New("please enter a valid url")
	ErrURLTooLong   = errors.New("url can't be longer than 1024 characters")
	ErrCodeTooShort = errors.New("short code must be at least 3 characters")
	ErrCodeTooLong  = errors.New("short code can't be more than 20 characters")
	ErrCodeInvalid  = errors.New("short code may only contain letters, digits, - and _")
)

const generatedCodeLength = 6

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// LinkStore is the persistence consumed by the service. Implemented by
// *Repository.
type LinkStore interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*ShortLink, error)
	GetByCode(ctx context.Context, shortCode string) (*ShortLink, error)
	GetByID(ctx context.Context, id int64) (*ShortLink, error)
	Create(ctx context.Context, userID uuid.UUID, shortCode, targetURL string) (*ShortLink, error)
	Update(ctx context.Context, id int64, shortCode, targetURL string) error
	Delete(ctx context.Context, id int64) error
}

// Service implements short link management and redirect resolution.
type Service struct {
	store  LinkStore
	cache  ResolveCache
	logger *logging.Logger
}

func NewService(store LinkStore, cache ResolveCache, logger *logging.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// List returns all links owned by the user.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*ShortLink, error) {
	return s.store.ListForUser(ctx, userID)
}

// Create stores a new short link. An empty shortCode gets a random 6
// character code.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, targetURL, shortCode string) (*ShortLink, error) {
	targetURL = strings.TrimSpace(targetURL)
	shortCode = strings.TrimSpace(shortCode)

	if err := validateTargetURL(targetURL); err != nil {
		return nil, err
	}

	if shortCode == "" {
		generated, err := generateCode(generatedCodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate short code: %w", err)
		}
		shortCode = generated
	}
	if err := validateShortCode(shortCode); err != nil {
		return nil, err
	}

	link, err := s.store.Create(ctx, userID, shortCode, targetURL)
	if err != nil {
		return nil, err
	}

	return link, nil
}

// Resolve maps a short code to its normalized target URL, consulting the
// cache before the database. Cache failures degrade to a database lookup.
func (s *Service) Resolve(ctx context.Context, shortCode string) (string, error) {
	if target, err := s.cache.Get(ctx, shortCode); err == nil {
		return target, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("redirect cache read failed", "short_code", shortCode, "error", err.Error())
	}

	link, err := s.store.GetByCode(ctx, shortCode)
	if err != nil {
		return "", err
	}

	target := normalizeTargetURL(link.TargetURL)

	if err := s.cache.Set(ctx, shortCode, target); err != nil {
		s.logger.Warn("redirect cache write failed", "short_code", shortCode, "error", err.Error())
	}

	return target, nil
}

// Get returns a single link, enforcing ownership.
func (s *Service) Get(ctx context.Context, id int64, userID uuid.UUID) (*ShortLink, error) {
	link, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if link.UserID != userID {
		return nil, ErrNotOwner
	}
	return link, nil
}

// Update rewrites a link's code and target URL, enforcing ownership and
// dropping stale cache entries for both the old and the new code.
func (s *Service) Update(ctx context.Context, id int64, userID uuid.UUID, targetURL, shortCode string) (*ShortLink, error) {
	targetURL = strings.TrimSpace(targetURL)
	shortCode = strings.TrimSpace(shortCode)

	if err := validateTargetURL(targetURL); err != nil {
		return nil, err
	}
	if err := validateShortCode(shortCode); err != nil {
		return nil, err
	}

	link, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if link.UserID != userID {
		return nil, ErrNotOwner
	}

	if err := s.store.Update(ctx, id, shortCode, targetURL); err != nil {
		return nil, err
	}

	s.dropFromCache(ctx, link.ShortCode)
	if shortCode != link.ShortCode {
		s.dropFromCache(ctx, shortCode)
	}

	return s.store.GetByID(ctx, id)
}

// Delete removes a link, enforcing ownership, and drops its cache entry.
func (s *Service) Delete(ctx context.Context, id int64, userID uuid.UUID) error {
	link, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if link.UserID != userID {
		return ErrNotOwner
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.dropFromCache(ctx, link.ShortCode)

	return nil
}

func (s *Service) dropFromCache(ctx context.Context, shortCode string) {
	if err := s.cache.Delete(ctx, shortCode); err != nil {
		s.logger.Warn("redirect cache invalidation failed", "short_code", shortCode, "error", err.Error())
	}
}

// normalizeTargetURL defaults schemeless URLs to http so redirects always
// leave the shortener's host.
func normalizeTargetURL(target string) string {
	if !strings.HasPrefix(strings.ToLower(target), "http://") && !strings.HasPrefix(strings.ToLower(target), "https://") {
		return "http://" + target
	}
	return target
}

// generateCode returns a random code over the [A-Za-z0-9] alphabet.
func generateCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}

func validateTargetURL(target string) error {
	if len(target) > 1024 {
		return ErrURLTooLong
	}
	candidate := normalizeTargetURL(target)
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

func validateShortCode(shortCode string) error {
	if len(shortCode) < 3 {
		return ErrCodeTooShort
	}
	if len(shortCode) > 20 {
		return ErrCodeTooLong
	}
	if !codePattern.MatchString(shortCode) {
		return ErrCodeInvalid
	}
	return nil
}
