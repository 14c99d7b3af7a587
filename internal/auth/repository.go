package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/shortly/shortly/internal/database"
	"github.com/shortly/shortly/internal/user"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository handles session persistence
type SessionRepository struct {
	db *bun.DB
}

func NewSessionRepository(db *bun.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession inserts a new session row for the given user
func (r *SessionRepository) CreateSession(ctx context.Context, userID uuid.UUID, ip, userAgent string) (*Session, error) {
	dbSession := &database.Session{
		UserID:    userID,
		Valid:     true,
		UserAgent: userAgent,
		ClientIP:  ip,
	}

	_, err := r.db.NewInsert().
		Model(dbSession).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return mapDBSessionToModel(dbSession), nil
}

// FindSessionByID retrieves a session by its ID
func (r *SessionRepository) FindSessionByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	dbSession := new(database.Session)
	err := r.db.NewSelect().
		Model(dbSession).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return mapDBSessionToModel(dbSession), nil
}

// DeleteSession removes a session row. Deleting an already absent session is
// not an error, which makes logout idempotent.
func (r *SessionRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// InvalidateSession flips valid to false without deleting the row. An invalid
// session refuses refresh just like a missing one.
func (r *SessionRepository) InvalidateSession(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.NewUpdate().
		Model((*database.Session)(nil)).
		Set("valid = ?", false).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// CreateUserWithSession creates a user and its first session in a single
// transaction, so a failure between the two inserts leaves no orphaned user.
func (r *SessionRepository) CreateUserWithSession(ctx context.Context, name, email, passwordHash, ip, userAgent string) (*user.User, *Session, error) {
	dbUser := &database.User{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
	}
	dbSession := &database.Session{
		Valid:     true,
		UserAgent: userAgent,
		ClientIP:  ip,
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(dbUser).
			Returning("*").
			Exec(ctx)
		if err != nil {
			if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
				return user.ErrDuplicateEmail
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		dbSession.UserID = dbUser.ID
		_, err = tx.NewInsert().
			Model(dbSession).
			Returning("*").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return user.MapDBUserToModel(dbUser), mapDBSessionToModel(dbSession), nil
}

// mapDBSessionToModel converts database model to domain model
func mapDBSessionToModel(dbs *database.Session) *Session {
	return &Session{
		ID:        dbs.ID,
		UserID:    dbs.UserID,
		Valid:     dbs.Valid,
		UserAgent: dbs.UserAgent,
		ClientIP:  dbs.ClientIP,
		CreatedAt: dbs.CreatedAt,
	}
}
