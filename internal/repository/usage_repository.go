package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/models"
)

type usageRepository struct {
	db *PostgresDB
}

func NewUsageRepository(db *PostgresDB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) RecordUsage(ctx context.Context, usage *models.Usage) error {
	query := `
		INSERT INTO guest_link_usages (link_id, ip_address, user_agent, referer, used_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		usage.LinkID,
		usage.IPAddress,
		usage.UserAgent,
		usage.Referer,
		usage.UsedAt,
	).Scan(&usage.ID)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	return nil
}

func (r *usageRepository) GetStats(ctx context.Context, linkID string) (*models.UsageStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_uses,
			COUNT(DISTINCT ip_address) AS unique_visitors
		FROM guest_link_usages
		WHERE link_id = $1
	`

	stats := &models.UsageStats{LinkID: linkID}
	err := r.db.Pool.QueryRow(ctx, query, linkID).Scan(&stats.TotalUses, &stats.UniqueVisitors)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage stats: %w", err)
	}

	return stats, nil
}

func (r *usageRepository) GetDailyStats(ctx context.Context, linkID string, since time.Time) ([]models.DailyUsageStats, error) {
	query := `
		SELECT
			to_char(DATE(used_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD') AS day,
			COUNT(*) AS uses
		FROM guest_link_usages
		WHERE link_id = $1 AND used_at >= $2
		GROUP BY day
		ORDER BY day DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, linkID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily usage stats: %w", err)
	}
	defer rows.Close()

	stats := []models.DailyUsageStats{}
	for rows.Next() {
		var day models.DailyUsageStats
		if err := rows.Scan(&day.Date, &day.Uses); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage stat: %w", err)
		}
		stats = append(stats, day)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily usage stats: %w", err)
	}

	return stats, nil
}
