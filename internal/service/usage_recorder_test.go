package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/SergeiKhy/guest-urls/internal/service"
	"github.com/SergeiKhy/guest-urls/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUsageRecorder_RecordsEvents(t *testing.T) {
	repo := mocks.NewMockUsageRepository()
	recorder := service.NewUsageRecorder(repo, clock.NewMock(now0), zap.NewNop())
	recorder.Start()

	ctx := context.Background()
	for _, ip := range []string{"10.0.0.1", "10.0.0.1", "10.0.0.2"} {
		require.NoError(t, recorder.Record(ctx, &models.UsageEvent{LinkID: "abc", IPAddress: ip, UserAgent: "test"}))
	}

	// Stop дописывает всё, что уже в буфере
	recorder.Stop()

	usages := repo.Usages("abc")
	require.Len(t, usages, 3)
	for _, u := range usages {
		assert.Equal(t, now0, u.UsedAt)
		assert.Equal(t, "test", u.UserAgent)
	}

	stats, err := recorder.GetStats(ctx, "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalUses)
	assert.EqualValues(t, 2, stats.UniqueVisitors)
}

func TestUsageRecorder_RetriesFailedWrites(t *testing.T) {
	repo := mocks.NewMockUsageRepository()
	repo.FailNext = 2

	recorder := service.NewUsageRecorder(repo, clock.NewMock(now0), nil)
	recorder.Start()
	require.NoError(t, recorder.Record(context.Background(), &models.UsageEvent{LinkID: "abc"}))
	recorder.Stop()

	assert.Equal(t, 3, repo.Attempts)
	assert.Len(t, repo.Usages("abc"), 1)
}

func TestUsageRecorder_GivesUpAfterMaxRetries(t *testing.T) {
	repo := mocks.NewMockUsageRepository()
	repo.FailNext = 10

	recorder := service.NewUsageRecorder(repo, clock.NewMock(now0), zap.NewNop())
	recorder.Start()
	require.NoError(t, recorder.Record(context.Background(), &models.UsageEvent{LinkID: "abc"}))
	recorder.Stop()

	assert.Equal(t, 3, repo.Attempts)
	assert.Empty(t, repo.Usages("abc"))
}

func TestUsageRecorder_KeepsExplicitTimestamp(t *testing.T) {
	repo := mocks.NewMockUsageRepository()
	recorder := service.NewUsageRecorder(repo, clock.NewMock(now0), zap.NewNop())
	recorder.Start()

	at := now0.Add(-time.Hour)
	require.NoError(t, recorder.Record(context.Background(), &models.UsageEvent{LinkID: "abc", UsedAt: at}))
	recorder.Stop()

	usages := repo.Usages("abc")
	require.Len(t, usages, 1)
	assert.Equal(t, at, usages[0].UsedAt)
}

func TestUsageRecorder_CanceledContext(t *testing.T) {
	recorder := service.NewUsageRecorder(mocks.NewMockUsageRepository(), clock.NewMock(now0), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// буфер пуст, поэтому select может выбрать и отправку; ошибка возможна только отменённая
	err := recorder.Record(ctx, &models.UsageEvent{LinkID: "abc"})
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestUsageRecorder_GetDailyStats(t *testing.T) {
	repo := mocks.NewMockUsageRepository()
	recorder := service.NewUsageRecorder(repo, clock.NewMock(now0), zap.NewNop())
	ctx := context.Background()

	for _, at := range []time.Time{
		now0,
		now0.Add(-2 * time.Hour),
		now0.Add(-24 * time.Hour),
		now0.Add(-6 * 24 * time.Hour),
		now0.Add(-7 * 24 * time.Hour),
	} {
		require.NoError(t, repo.RecordUsage(ctx, &models.Usage{LinkID: "abc", UsedAt: at}))
	}

	daily, err := recorder.GetDailyStats(ctx, "abc", 7)
	require.NoError(t, err)
	assert.Equal(t, []models.DailyUsageStats{
		{Date: "2014-07-10", Uses: 2},
		{Date: "2014-07-09", Uses: 1},
		{Date: "2014-07-04", Uses: 1},
	}, daily)

	today, err := recorder.GetDailyStats(ctx, "abc", 0)
	require.NoError(t, err)
	assert.Equal(t, []models.DailyUsageStats{{Date: "2014-07-10", Uses: 2}}, today)
}

func TestUsageRecorder_ChannelStats(t *testing.T) {
	recorder := service.NewUsageRecorder(mocks.NewMockUsageRepository(), clock.NewMock(now0), zap.NewNop())

	require.NoError(t, recorder.Record(context.Background(), &models.UsageEvent{LinkID: "abc"}))

	stats := recorder.ChannelStats()
	assert.Equal(t, 1000, stats.BufferSize)
	assert.Equal(t, 1, stats.BufferUsed)
	assert.Equal(t, 3, stats.WorkerCount)

	// Stop без Start ничего не делает
	recorder.Stop()
}
