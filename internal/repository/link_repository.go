package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

type linkRepository struct {
	db    *PostgresDB
	clock clock.Clock
}

func NewLinkRepository(db *PostgresDB, clk clock.Clock) LinkRepository {
	return &linkRepository{db: db, clock: clk}
}

func (r *linkRepository) Create(ctx context.Context, link *models.GuestLink) error {
	link.Touch(r.clock.Now())

	query := `
		INSERT INTO guest_links (id, source_path, max_uses, used_count, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		link.ID,
		link.SourcePath,
		link.MaxUses,
		link.UsedCount,
		link.ExpiresAt,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrLinkExists
		}
		return fmt.Errorf("failed to create guest link: %w", err)
	}

	return nil
}

func (r *linkRepository) GetByID(ctx context.Context, id string) (*models.GuestLink, error) {
	query := `
		SELECT id, source_path, max_uses, used_count, expires_at, created_at, updated_at
		FROM guest_links
		WHERE id = $1
	`

	link := &models.GuestLink{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&link.ID,
		&link.SourcePath,
		&link.MaxUses,
		&link.UsedCount,
		&link.ExpiresAt,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get guest link: %w", err)
	}

	return link, nil
}

func (r *linkRepository) Save(ctx context.Context, link *models.GuestLink) error {
	loaded := link.UpdatedAt
	next := link.Clone()
	next.Touch(r.clock.Now())

	query := `
		UPDATE guest_links
		SET source_path = $2, max_uses = $3, used_count = $4, expires_at = $5, updated_at = $6
		WHERE id = $1 AND updated_at = $7
	`

	result, err := r.db.Pool.Exec(ctx, query,
		next.ID,
		next.SourcePath,
		next.MaxUses,
		next.UsedCount,
		next.ExpiresAt,
		next.UpdatedAt,
		loaded,
	)
	if err != nil {
		return fmt.Errorf("failed to save guest link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return r.missOrConflict(ctx, link.ID)
	}

	link.CreatedAt = next.CreatedAt
	link.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *linkRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM guest_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete guest link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}

	return nil
}

// missOrConflict tells a vanished row from a stale updated_at.
func (r *linkRepository) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM guest_links WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check guest link: %w", err)
	}
	if !exists {
		return ErrLinkNotFound
	}
	return ErrConflict
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
