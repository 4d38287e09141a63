package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/config"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrLinkNotFound = errors.New("guest link not found")
	ErrLinkExists   = errors.New("guest link id already exists")
	// ErrConflict means the link changed in storage since it was loaded.
	ErrConflict     = errors.New("guest link was modified concurrently")
	ErrCacheMiss    = errors.New("cache miss")
)

// LinkRepository is the registry: the only owner of persisted guest link state.
type LinkRepository interface {
	// Create stamps and inserts link.
	Create(ctx context.Context, link *models.GuestLink) error
	GetByID(ctx context.Context, id string) (*models.GuestLink, error)
	// Save writes all fields and refreshes UpdatedAt. It fails with
	// ErrConflict when the stored UpdatedAt differs from link.UpdatedAt.
	Save(ctx context.Context, link *models.GuestLink) error
	Delete(ctx context.Context, id string) error
}

type UsageRepository interface {
	RecordUsage(ctx context.Context, usage *models.Usage) error
	GetStats(ctx context.Context, linkID string) (*models.UsageStats, error)
	GetDailyStats(ctx context.Context, linkID string, since time.Time) ([]models.DailyUsageStats, error)
}

type PostgresDB struct {
	Pool *pgxpool.Pool
}

func NewPostgresDB(cfg config.DBConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB config: %w", err)
	}

	// Настройка пула соединений
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS guest_links (
		id          VARCHAR(32) PRIMARY KEY,
		source_path TEXT        NOT NULL,
		max_uses    INTEGER     NOT NULL DEFAULT -1 CHECK (max_uses >= -1),
		used_count  INTEGER     NOT NULL DEFAULT 0 CHECK (used_count >= 0),
		expires_at  TIMESTAMPTZ NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		CHECK (created_at <= updated_at)
	)`,
	`CREATE TABLE IF NOT EXISTS guest_link_usages (
		id         BIGSERIAL   PRIMARY KEY,
		link_id    VARCHAR(32) NOT NULL REFERENCES guest_links(id) ON DELETE CASCADE,
		ip_address TEXT        NOT NULL DEFAULT '',
		user_agent TEXT        NOT NULL DEFAULT '',
		referer    TEXT        NOT NULL DEFAULT '',
		used_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guest_link_usages_link_id ON guest_link_usages (link_id, used_at)`,
}

// Migrate creates the tables if they do not exist yet.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}
