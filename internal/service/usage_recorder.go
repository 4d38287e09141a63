package service

import (
	"context"
	"sync"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/metrics"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/SergeiKhy/guest-urls/internal/repository"
	"go.uber.org/zap"
)

// Константы worker pool
const (
	defaultWorkerCount   = 3    // Количество воркеров
	defaultChannelBuffer = 1000 // Размер буфера канала
	maxRetries           = 3    // Максимальное количество попыток записи
	writeTimeout         = 5 * time.Second
)

// UsageRecorder интерфейс для асинхронной записи использований гостевых ссылок
type UsageRecorder interface {
	Start()
	Stop()
	Record(ctx context.Context, event *models.UsageEvent) error
	GetStats(ctx context.Context, linkID string) (*models.UsageStats, error)
	GetDailyStats(ctx context.Context, linkID string, days int) ([]models.DailyUsageStats, error)
	ChannelStats() ChannelStats
}

// usageRecorder реализация на Worker Pool
type usageRecorder struct {
	usageRepo    repository.UsageRepository
	clock        clock.Clock
	logger       *zap.Logger
	usageChannel chan *models.UsageEvent // Канал для событий использования
	workerCount  int                     // Количество воркеров
	retryDelay   time.Duration
	wg           sync.WaitGroup // WaitGroup для ожидания завершения воркеров
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewUsageRecorder создаёт новый экземпляр процессора использований
func NewUsageRecorder(usageRepo repository.UsageRepository, clk clock.Clock, logger *zap.Logger) UsageRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &usageRecorder{
		usageRepo:    usageRepo,
		clock:        clk,
		logger:       logger,
		usageChannel: make(chan *models.UsageEvent, defaultChannelBuffer),
		workerCount:  defaultWorkerCount,
		retryDelay:   100 * time.Millisecond,
	}
}

// Start запускает worker pool
func (p *usageRecorder) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.logger.Info("Запуск воркеров записи использований", zap.Int("count", p.workerCount))

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop останавливает worker pool, дописав уже принятые события
func (p *usageRecorder) Stop() {
	if p.cancel == nil {
		return
	}
	p.logger.Info("Остановка записи использований...")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Запись использований остановлена")
}

// worker обрабатывает события из канала
func (p *usageRecorder) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Воркер использований запущен", zap.Int("id", id))

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			p.logger.Debug("Воркер использований остановлен", zap.Int("id", id))
			return

		case event := <-p.usageChannel:
			p.processUsage(p.ctx, event)
		}
	}
}

// drain дописывает оставшиеся в буфере события
func (p *usageRecorder) drain() {
	for {
		select {
		case event := <-p.usageChannel:
			p.processUsage(context.Background(), event)
		default:
			return
		}
	}
}

// processUsage записывает одно событие с retry логикой
func (p *usageRecorder) processUsage(parent context.Context, event *models.UsageEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), writeTimeout)
	defer cancel()

	u := &models.Usage{
		LinkID:    event.LinkID,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Referer:   event.Referer,
		UsedAt:    event.UsedAt,
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = p.usageRepo.RecordUsage(ctx, u); err == nil {
			return
		}
		if i < maxRetries-1 {
			p.logger.Debug("Повторная попытка записи использования",
				zap.String("link_id", event.LinkID),
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			time.Sleep(time.Duration(i+1) * p.retryDelay)
		}
	}

	metrics.RecordUsageDropped()
	p.logger.Error("Не удалось записать использование после всех попыток",
		zap.String("link_id", event.LinkID),
		zap.Error(err),
	)
}

// Record отправляет событие в worker pool (неблокирующая операция)
func (p *usageRecorder) Record(ctx context.Context, event *models.UsageEvent) error {
	if event.UsedAt.IsZero() {
		event.UsedAt = p.clock.Now()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.usageChannel <- event:
		return nil
	default:
		// Канал заполнен: статистика теряется, запрос не блокируется
		metrics.RecordUsageDropped()
		p.logger.Warn("Буфер канала использований заполнен, событие потеряно",
			zap.String("link_id", event.LinkID),
		)
		return nil
	}
}

// GetStats получает статистику использований ссылки
func (p *usageRecorder) GetStats(ctx context.Context, linkID string) (*models.UsageStats, error) {
	return p.usageRepo.GetStats(ctx, linkID)
}

// GetDailyStats получает статистику по дням за последние days календарных дней (UTC), включая сегодня
func (p *usageRecorder) GetDailyStats(ctx context.Context, linkID string, days int) ([]models.DailyUsageStats, error) {
	if days < 1 {
		days = 1
	}
	now := p.clock.Now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))
	return p.usageRepo.GetDailyStats(ctx, linkID, since)
}

// ChannelStats возвращает статистику канала для мониторинга
func (p *usageRecorder) ChannelStats() ChannelStats {
	return ChannelStats{
		BufferSize:  cap(p.usageChannel),
		BufferUsed:  len(p.usageChannel),
		WorkerCount: p.workerCount,
	}
}

// ChannelStats статистика канала worker pool
type ChannelStats struct {
	BufferSize  int `json:"buffer_size"`  // Общая ёмкость канала
	BufferUsed  int `json:"buffer_used"`  // Текущее использование
	WorkerCount int `json:"worker_count"` // Количество воркеров
}
