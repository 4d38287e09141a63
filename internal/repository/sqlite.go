package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteDB is the embedded registry backend. Timestamps are stored as unix
// microseconds so that optimistic-lock comparisons are exact.
type SQLiteDB struct {
	DB *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// один writer: SQLite сериализует запись сам, пул только плодит SQLITE_BUSY
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return &SQLiteDB{DB: db}, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS guest_links (
		id          TEXT    PRIMARY KEY,
		source_path TEXT    NOT NULL,
		max_uses    INTEGER NOT NULL DEFAULT -1 CHECK (max_uses >= -1),
		used_count  INTEGER NOT NULL DEFAULT 0 CHECK (used_count >= 0),
		expires_at  INTEGER NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		CHECK (created_at <= updated_at)
	)`,
	`CREATE TABLE IF NOT EXISTS guest_link_usages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		link_id    TEXT    NOT NULL REFERENCES guest_links(id) ON DELETE CASCADE,
		ip_address TEXT    NOT NULL DEFAULT '',
		user_agent TEXT    NOT NULL DEFAULT '',
		referer    TEXT    NOT NULL DEFAULT '',
		used_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guest_link_usages_link_id ON guest_link_usages (link_id, used_at)`,
}

func (db *SQLiteDB) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate sqlite: %w", err)
		}
	}
	return nil
}

func (db *SQLiteDB) Close() error {
	return db.DB.Close()
}

type sqliteLinkRepository struct {
	db    *SQLiteDB
	clock clock.Clock
}

func NewSQLiteLinkRepository(db *SQLiteDB, clk clock.Clock) LinkRepository {
	return &sqliteLinkRepository{db: db, clock: clk}
}

func (r *sqliteLinkRepository) Create(ctx context.Context, link *models.GuestLink) error {
	link.Touch(r.clock.Now())

	query := `
		INSERT INTO guest_links (id, source_path, max_uses, used_count, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.DB.ExecContext(ctx, query,
		link.ID,
		link.SourcePath,
		link.MaxUses,
		link.UsedCount,
		nullableMicros(link.ExpiresAt),
		link.CreatedAt.UnixMicro(),
		link.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrLinkExists
		}
		return fmt.Errorf("failed to create guest link: %w", err)
	}

	return nil
}

func (r *sqliteLinkRepository) GetByID(ctx context.Context, id string) (*models.GuestLink, error) {
	query := `
		SELECT id, source_path, max_uses, used_count, expires_at, created_at, updated_at
		FROM guest_links
		WHERE id = ?
	`

	var (
		link                 models.GuestLink
		expiresAt            sql.NullInt64
		createdAt, updatedAt int64
	)
	err := r.db.DB.QueryRowContext(ctx, query, id).Scan(
		&link.ID,
		&link.SourcePath,
		&link.MaxUses,
		&link.UsedCount,
		&expiresAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get guest link: %w", err)
	}

	if expiresAt.Valid {
		t := fromMicros(expiresAt.Int64)
		link.ExpiresAt = &t
	}
	link.CreatedAt = fromMicros(createdAt)
	link.UpdatedAt = fromMicros(updatedAt)

	return &link, nil
}

func (r *sqliteLinkRepository) Save(ctx context.Context, link *models.GuestLink) error {
	loaded := link.UpdatedAt
	next := link.Clone()
	next.Touch(r.clock.Now())

	query := `
		UPDATE guest_links
		SET source_path = ?, max_uses = ?, used_count = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?
	`

	result, err := r.db.DB.ExecContext(ctx, query,
		next.SourcePath,
		next.MaxUses,
		next.UsedCount,
		nullableMicros(next.ExpiresAt),
		next.UpdatedAt.UnixMicro(),
		next.ID,
		loaded.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to save guest link: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save guest link: %w", err)
	}
	if affected == 0 {
		var exists bool
		err := r.db.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM guest_links WHERE id = ?)`, link.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check guest link: %w", err)
		}
		if !exists {
			return ErrLinkNotFound
		}
		return ErrConflict
	}

	link.CreatedAt = next.CreatedAt
	link.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *sqliteLinkRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.DB.ExecContext(ctx, `DELETE FROM guest_links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete guest link: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete guest link: %w", err)
	}
	if affected == 0 {
		return ErrLinkNotFound
	}

	return nil
}

type sqliteUsageRepository struct {
	db *SQLiteDB
}

func NewSQLiteUsageRepository(db *SQLiteDB) UsageRepository {
	return &sqliteUsageRepository{db: db}
}

func (r *sqliteUsageRepository) RecordUsage(ctx context.Context, usage *models.Usage) error {
	query := `
		INSERT INTO guest_link_usages (link_id, ip_address, user_agent, referer, used_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.DB.ExecContext(ctx, query,
		usage.LinkID,
		usage.IPAddress,
		usage.UserAgent,
		usage.Referer,
		usage.UsedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	usage.ID = id

	return nil
}

func (r *sqliteUsageRepository) GetStats(ctx context.Context, linkID string) (*models.UsageStats, error) {
	query := `
		SELECT COUNT(*), COUNT(DISTINCT ip_address)
		FROM guest_link_usages
		WHERE link_id = ?
	`

	stats := &models.UsageStats{LinkID: linkID}
	if err := r.db.DB.QueryRowContext(ctx, query, linkID).Scan(&stats.TotalUses, &stats.UniqueVisitors); err != nil {
		return nil, fmt.Errorf("failed to get usage stats: %w", err)
	}

	return stats, nil
}

func (r *sqliteUsageRepository) GetDailyStats(ctx context.Context, linkID string, since time.Time) ([]models.DailyUsageStats, error) {
	query := `
		SELECT strftime('%Y-%m-%d', used_at / 1000000, 'unixepoch') AS day, COUNT(*)
		FROM guest_link_usages
		WHERE link_id = ? AND used_at >= ?
		GROUP BY day
		ORDER BY day DESC
	`

	rows, err := r.db.DB.QueryContext(ctx, query, linkID, since.UnixMicro())
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

func nullableMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
