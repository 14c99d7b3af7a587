package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/shortly/shortly/internal/database"
)

var ErrVerificationTokenNotFound = errors.New("verification token not found")

// VerificationTokenRepository handles email verification token persistence
type VerificationTokenRepository struct {
	db *bun.DB
}

func NewVerificationTokenRepository(db *bun.DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: db}
}

// PurgeExpired removes every expired token, regardless of owner. Run
// opportunistically before each insert.
func (r *VerificationTokenRepository) PurgeExpired(ctx context.Context) error {
	_, err := r.db.NewDelete().
		Model((*database.VerificationToken)(nil)).
		Where("expires_at < NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge expired verification tokens: %w", err)
	}

	return nil
}

// PurgeForUser removes all tokens belonging to a user. Called before each
// insert to keep at most one valid token per user, and after a successful
// verification to make tokens single-use.
func (r *VerificationTokenRepository) PurgeForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*database.VerificationToken)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge verification tokens for user: %w", err)
	}

	return nil
}

// Insert stores a new verification token with the given expiry
func (r *VerificationTokenRepository) Insert(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	dbToken := &database.VerificationToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
	}

	_, err := r.db.NewInsert().
		Model(dbToken).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert verification token: %w", err)
	}

	return nil
}

// FindValid retrieves an unexpired token matching the user and exact token
// string. Expired or mismatched tokens yield ErrVerificationTokenNotFound.
func (r *VerificationTokenRepository) FindValid(ctx context.Context, userID uuid.UUID, token string) (*VerificationToken, error) {
	dbToken := new(database.VerificationToken)
	err := r.db.NewSelect().
		Model(dbToken).
		Where("user_id = ?", userID).
		Where("token = ?", token).
		Where("expires_at > NOW()").
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVerificationTokenNotFound
		}
		return nil, fmt.Errorf("failed to get verification token: %w", err)
	}

	return &VerificationToken{
		ID:        dbToken.ID,
		UserID:    dbToken.UserID,
		Token:     dbToken.Token,
		ExpiresAt: dbToken.ExpiresAt,
		CreatedAt: dbToken.CreatedAt,
	}, nil
}
