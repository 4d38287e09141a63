package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/config"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/SergeiKhy/guest-urls/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	store, err := repository.Open(ctx, config.DBConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "store.db"),
	}, clock.NewMock(start))
	require.NoError(t, err)
	defer store.Close()

	link := models.NewGuestLink("/a", 1, nil)
	require.NoError(t, store.Links.Create(ctx, link))
	require.NoError(t, store.Usages.RecordUsage(ctx, &models.Usage{LinkID: link.ID, UsedAt: start}))

	stats, err := store.Usages.GetStats(ctx, link.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalUses)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := repository.Open(context.Background(), config.DBConfig{Driver: "mysql"}, clock.NewMock(start))
	assert.Error(t, err)
}
