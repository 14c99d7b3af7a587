package shortener

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/shortly/shortly/internal/database"
)

var (
	ErrLinkNotFound  = errors.New("short link not found")
	ErrDuplicateCode = errors.New("short code already exists")
)

// Repository handles short link persistence
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// ListForUser returns all links owned by a user, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*ShortLink, error) {
	var dbLinks []*database.ShortLink
	err := r.db.NewSelect().
		Model(&dbLinks).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	links := make([]*ShortLink, 0, len(dbLinks))
	for _, dbLink := range dbLinks {
		links = append(links, mapDBLinkToModel(dbLink))
	}
	return links, nil
}

// CountForUser returns how many links a user owns.
func (r *Repository) CountForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := r.db.NewSelect().
		Model((*database.ShortLink)(nil)).
		Where("user_id = ?", userID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return count, nil
}

// GetByCode retrieves a link by its short code
func (r *Repository) GetByCode(ctx context.Context, shortCode string) (*ShortLink, error) {
	dbLink := new(database.ShortLink)
	err := r.db.NewSelect().
		Model(dbLink).
		Where("short_code = ?", shortCode).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link by code: %w", err)
	}

	return mapDBLinkToModel(dbLink), nil
}

// GetByID retrieves a link by its ID
func (r *Repository) GetByID(ctx context.Context, id int64) (*ShortLink, error) {
	dbLink := new(database.ShortLink)
	err := r.db.NewSelect().
		Model(dbLink).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link by id: %w", err)
	}

	return mapDBLinkToModel(dbLink), nil
}

// Create inserts a new short link
func (r *Repository) Create(ctx context.Context, userID uuid.UUID, shortCode, targetURL string) (*ShortLink, error) {
	dbLink := &database.ShortLink{
		ShortCode: shortCode,
		TargetURL: targetURL,
		UserID:    userID,
	}

	_, err := r.db.NewInsert().
		Model(dbLink).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, ErrDuplicateCode
		}
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	return mapDBLinkToModel(dbLink), nil
}

// Update rewrites a link's code and target URL
func (r *Repository) Update(ctx context.Context, id int64, shortCode, targetURL string) error {
	result, err := r.db.NewUpdate().
		Model((*database.ShortLink)(nil)).
		Set("short_code = ?", shortCode).
		Set("target_url = ?", targetURL).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to update link: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrLinkNotFound
	}

	return nil
}

// Delete removes a link row
func (r *Repository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.NewDelete().
		Model((*database.ShortLink)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	return nil
}

// mapDBLinkToModel converts database model to domain model
func mapDBLinkToModel(dbl *database.ShortLink) *ShortLink {
	return &ShortLink{
		ID:        dbl.ID,
		ShortCode: dbl.ShortCode,
		TargetURL: dbl.TargetURL,
		UserID:    dbl.UserID,
		CreatedAt: dbl.CreatedAt,
		UpdatedAt: dbl.UpdatedAt,
	}
}
