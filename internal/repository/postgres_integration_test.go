package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/config"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/SergeiKhy/guest-urls/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres поднимает PostgreSQL в контейнере и накатывает схему
func setupPostgres(t *testing.T) *repository.PostgresDB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("guest_urls"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := repository.NewPostgresDB(config.DBConfig{
		Host:     host,
		Port:     port.Port(),
		User:     "user",
		Password: "password",
		Name:     "guest_urls",
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestIntegration_PostgresLinkRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	db := setupPostgres(t)
	clk := clock.NewMock(start)
	repo := repository.NewLinkRepository(db, clk)
	ctx := context.Background()

	expiresAt := start.Add(time.Hour)
	link := models.NewGuestLink("/a/b/c", 2, &expiresAt)

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, link))

		got, err := repo.GetByID(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, "/a/b/c", got.SourcePath)
		assert.Equal(t, 2, got.MaxUses)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, expiresAt.Equal(*got.ExpiresAt))
		assert.True(t, start.Equal(got.UpdatedAt))
	})

	t.Run("duplicate id", func(t *testing.T) {
		dup := models.NewGuestLink("/x", 1, nil)
		dup.ID = link.ID
		assert.ErrorIs(t, repo.Create(ctx, dup), repository.ErrLinkExists)
	})

	t.Run("save and conflict", func(t *testing.T) {
		first, err := repo.GetByID(ctx, link.ID)
		require.NoError(t, err)
		second, err := repo.GetByID(ctx, link.ID)
		require.NoError(t, err)

		first.UsedCount++
		require.NoError(t, repo.Save(ctx, first))

		second.UsedCount++
		assert.ErrorIs(t, repo.Save(ctx, second), repository.ErrConflict)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, link.ID))
		_, err := repo.GetByID(ctx, link.ID)
		assert.ErrorIs(t, err, repository.ErrLinkNotFound)
		assert.ErrorIs(t, repo.Save(ctx, link), repository.ErrLinkNotFound)
	})
}

func TestIntegration_PostgresConcurrentLastUse(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	db := setupPostgres(t)
	repo := repository.NewLinkRepository(db, clock.New(time.UTC))
	ctx := context.Background()

	link := models.NewGuestLink("/a", 1, nil)
	require.NoError(t, repo.Create(ctx, link))

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < racers; i++ {
		loaded, err := repo.GetByID(ctx, link.ID)
		require.NoError(t, err)

		wg.Add(1)
		go func(l *models.GuestLink) {
			defer wg.Done()
			l.UsedCount++
			if err := repo.Save(ctx, l); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(loaded)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestIntegration_PostgresUsageRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	db := setupPostgres(t)
	links := repository.NewLinkRepository(db, clock.NewMock(start))
	usages := repository.NewUsageRepository(db)
	ctx := context.Background()

	link := models.NewGuestLink("/a", models.UnlimitedUses, nil)
	require.NoError(t, links.Create(ctx, link))

	for i, ip := range []string{"10.0.0.1", "10.0.0.1", "10.0.0.2"} {
		u := &models.Usage{LinkID: link.ID, IPAddress: ip, UsedAt: start.Add(time.Duration(i) * 24 * time.Hour)}
		require.NoError(t, usages.RecordUsage(ctx, u))
		assert.NotZero(t, u.ID)
	}

	stats, err := usages.GetStats(ctx, link.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalUses)
	assert.EqualValues(t, 2, stats.UniqueVisitors)

	daily, err := usages.GetDailyStats(ctx, link.ID, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []models.DailyUsageStats{
		{Date: "2014-07-14", Uses: 1},
		{Date: "2014-07-13", Uses: 1},
	}, daily)
}

func TestIntegration_RedisCacheRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb, err := repository.NewRedisClient(ctx, config.RedisConfig{Host: host, Port: port.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	cache := repository.NewCacheRepository(rdb)

	_, err = cache.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	expiresAt := start.Add(time.Hour)
	link := models.NewGuestLink("/a/b/c", 1, &expiresAt)
	link.Touch(start)
	require.NoError(t, cache.Set(ctx, link, time.Minute))

	got, err := cache.Get(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, link.SourcePath, got.SourcePath)
	assert.True(t, link.UpdatedAt.Equal(got.UpdatedAt))
	assert.True(t, expiresAt.Equal(*got.ExpiresAt))

	// нулевой TTL не кэшируется
	other := models.NewGuestLink("/x", 1, nil)
	require.NoError(t, cache.Set(ctx, other, 0))
	_, err = cache.Get(ctx, other.ID)
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	require.NoError(t, cache.Delete(ctx, link.ID))
	_, err = cache.Get(ctx, link.ID)
	assert.ErrorIs(t, err, repository.ErrCacheMiss)
}
