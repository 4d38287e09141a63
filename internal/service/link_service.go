package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/dispatch"
	"github.com/SergeiKhy/guest-urls/internal/metrics"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/SergeiKhy/guest-urls/internal/repository"
	"github.com/SergeiKhy/guest-urls/internal/usage"
	"go.uber.org/zap"
)

// Ошибки сервиса
var (
	ErrInvalidMethod     = errors.New("гостевая ссылка принимает только GET")
	ErrLinkExpired       = errors.New("срок действия гостевой ссылки истёк")
	ErrLinkExhausted     = errors.New("лимит использований гостевой ссылки исчерпан")
	ErrInvalidLinkID     = errors.New("невалидный идентификатор гостевой ссылки")
	ErrInvalidSourcePath = errors.New("исходный путь должен быть абсолютным")
	ErrInvalidLimits     = errors.New("недопустимые ограничения гостевой ссылки")
)

// Константы сервиса
const (
	defaultCacheTTL  = 24 * time.Hour
	maxCreateRetries = 3
)

// Dispatcher разрешает исходные пути в обработчики и строит пути гостевых ссылок
type Dispatcher interface {
	Resolve(path string) (*dispatch.Match, error)
	RouteFor(id string) (string, error)
}

// GuestLinkService интерфейс сервиса гостевых ссылок
type GuestLinkService interface {
	CreateLink(ctx context.Context, sourcePath string, limits usage.Limits) (*models.GuestLink, error)
	CreateFromSpec(ctx context.Context, sourcePath, spec string) (*models.GuestLink, error)
	GuestURL(ctx context.Context, sourcePath, spec string) (string, error)
	GetLink(ctx context.Context, id string) (*models.GuestLink, error)
	Dispatch(ctx context.Context, id string, r *http.Request) (*dispatch.Response, error)
	DispatchLink(ctx context.Context, link *models.GuestLink, r *http.Request) (*dispatch.Response, error)
	DeleteLink(ctx context.Context, id string) error
	RouteFor(id string) (string, error)
	Clock() clock.Clock
}

// guestLinkService реализация сервиса гостевых ссылок
type guestLinkService struct {
	linkRepo   repository.LinkRepository
	cacheRepo  repository.CacheRepository
	dispatcher Dispatcher
	clock      clock.Clock
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewGuestLinkService создаёт новый экземпляр сервиса. cacheTTL <= 0 означает TTL по умолчанию.
func NewGuestLinkService(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	dispatcher Dispatcher,
	clk clock.Clock,
	cacheTTL time.Duration,
	logger *zap.Logger,
) GuestLinkService {
	if cacheRepo == nil {
		cacheRepo = repository.NewNoopCache()
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &guestLinkService{
		linkRepo:   linkRepo,
		cacheRepo:  cacheRepo,
		dispatcher: dispatcher,
		clock:      clk,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// CreateLink создаёт и сразу сохраняет гостевую ссылку
func (s *guestLinkService) CreateLink(ctx context.Context, sourcePath string, limits usage.Limits) (*models.GuestLink, error) {
	if len(sourcePath) == 0 || sourcePath[0] != '/' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSourcePath, sourcePath)
	}

	var (
		link *models.GuestLink
		err  error
	)
	// При коллизии id пробуем ещё раз с новым
	for i := 0; i < maxCreateRetries; i++ {
		link = models.NewGuestLink(sourcePath, limits.MaxUses, limits.ExpiresAt)
		if err = link.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidLimits, err)
		}
		err = s.linkRepo.Create(ctx, link)
		if !errors.Is(err, repository.ErrLinkExists) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	s.cache(ctx, link)
	metrics.RecordLinkCreated(!link.IsUnlimited() || link.ExpiresAt != nil)

	s.logger.Info("Гостевая ссылка создана",
		zap.String("id", link.ID),
		zap.String("source_path", link.SourcePath),
		zap.Int("max_uses", link.MaxUses),
	)

	return link, nil
}

// CreateFromSpec разбирает спецификатор использования и создаёт ссылку.
// Ошибка разбора возвращается до любого обращения к хранилищу.
func (s *guestLinkService) CreateFromSpec(ctx context.Context, sourcePath, spec string) (*models.GuestLink, error) {
	limits, err := usage.Parse(spec, s.clock.Location())
	if err != nil {
		return nil, err
	}
	return s.CreateLink(ctx, sourcePath, limits)
}

// GuestURL создаёт ссылку и возвращает её путь вида /link/{id}/
func (s *guestLinkService) GuestURL(ctx context.Context, sourcePath, spec string) (string, error) {
	link, err := s.CreateFromSpec(ctx, sourcePath, spec)
	if err != nil {
		return "", err
	}
	return s.RouteFor(link.ID)
}

// GetLink получает ссылку по id (сначала из кэша, затем из БД)
func (s *guestLinkService) GetLink(ctx context.Context, id string) (*models.GuestLink, error) {
	if !models.LinkIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLinkID, id)
	}

	link, err := s.cacheRepo.Get(ctx, id)
	if err == nil {
		return link, nil
	}

	link, err = s.linkRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, link)
	return link, nil
}

// Dispatch загружает ссылку и выполняет её. Отказ по закэшированной копии
// окончателен: used_count только растёт, а expires_at не меняется.
// Разрешающее решение всегда принимается по данным из БД.
func (s *guestLinkService) Dispatch(ctx context.Context, id string, r *http.Request) (*dispatch.Response, error) {
	if !models.LinkIDPattern.MatchString(id) {
		metrics.RecordDispatch(metrics.OutcomeNotFound)
		return nil, fmt.Errorf("%w: %q", ErrInvalidLinkID, id)
	}

	if cached, err := s.cacheRepo.Get(ctx, id); err == nil && !cached.CanBeUsed(s.clock.Now()) {
		return s.DispatchLink(ctx, cached, r)
	}

	link, err := s.linkRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			metrics.RecordDispatch(metrics.OutcomeNotFound)
		} else {
			metrics.RecordDispatch(metrics.OutcomeError)
		}
		return nil, err
	}

	return s.DispatchLink(ctx, link, r)
}

// DispatchLink проверяет метод и ограничения ссылки, вызывает обработчик
// исходного пути и засчитывает использование. При любой ошибке link не меняется.
func (s *guestLinkService) DispatchLink(ctx context.Context, link *models.GuestLink, r *http.Request) (*dispatch.Response, error) {
	now := s.clock.Now()

	if !isRetrievalMethod(r.Method) {
		return nil, s.reject(link, metrics.OutcomeInvalidMethod, fmt.Errorf("%w: %s", ErrInvalidMethod, r.Method))
	}
	if link.HasExpired(now) {
		return nil, s.reject(link, metrics.OutcomeExpired, ErrLinkExpired)
	}
	if !link.IsWithinUsageLimit() {
		return nil, s.reject(link, metrics.OutcomeExhausted, ErrLinkExhausted)
	}

	match, err := s.dispatcher.Resolve(link.SourcePath)
	if err != nil {
		return nil, s.reject(link, metrics.OutcomeUnresolved, err)
	}

	resp, err := match.Handler.ServeGuest(r, match.Args, match.Kwargs)
	if err != nil {
		metrics.RecordDispatch(metrics.OutcomeError)
		s.logger.Error("Обработчик исходного пути вернул ошибку",
			zap.String("id", link.ID),
			zap.String("route", match.Route),
			zap.Error(err),
		)
		return nil, err
	}

	next := link.Clone()
	next.UsedCount++
	if err := s.linkRepo.Save(ctx, next); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Копия устарела, следующая попытка должна читать из БД
			s.evict(ctx, link.ID)
			metrics.RecordDispatch(metrics.OutcomeConflict)
			s.logger.Warn("Конкурентное использование гостевой ссылки", zap.String("id", link.ID))
			return nil, err
		}
		metrics.RecordDispatch(metrics.OutcomeError)
		s.logger.Error("Не удалось сохранить гостевую ссылку", zap.String("id", link.ID), zap.Error(err))
		return nil, err
	}

	*link = *next
	s.cache(ctx, link)
	metrics.RecordDispatch(metrics.OutcomeServed)

	s.logger.Info("Гостевая ссылка использована",
		zap.String("id", link.ID),
		zap.String("source_path", link.SourcePath),
		zap.Int("used_count", link.UsedCount),
	)

	return resp, nil
}

// DeleteLink удаляет ссылку по id
func (s *guestLinkService) DeleteLink(ctx context.Context, id string) error {
	if !models.LinkIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidLinkID, id)
	}

	// Удаляем кэш
	s.evict(ctx, id)

	// Удаляем из БД
	return s.linkRepo.Delete(ctx, id)
}

func (s *guestLinkService) RouteFor(id string) (string, error) {
	return s.dispatcher.RouteFor(id)
}

func (s *guestLinkService) Clock() clock.Clock {
	return s.clock
}

// reject фиксирует отказ без изменения ссылки
func (s *guestLinkService) reject(link *models.GuestLink, outcome string, err error) error {
	metrics.RecordDispatch(outcome)
	s.logger.Warn("Гостевая ссылка отклонена",
		zap.String("id", link.ID),
		zap.String("outcome", outcome),
		zap.Error(err),
	)
	return err
}

// cache кладёт ссылку в кэш не дольше, чем до её истечения
func (s *guestLinkService) cache(ctx context.Context, link *models.GuestLink) {
	ttl := s.cacheTTL
	if link.ExpiresAt != nil {
		if until := link.ExpiresAt.Sub(s.clock.Now()); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		s.evict(ctx, link.ID)
		return
	}
	if err := s.cacheRepo.Set(ctx, link, ttl); err != nil {
		s.logger.Debug("Не удалось закэшировать ссылку", zap.String("id", link.ID), zap.Error(err))
	}
}

func (s *guestLinkService) evict(ctx context.Context, id string) {
	if err := s.cacheRepo.Delete(ctx, id); err != nil {
		s.logger.Debug("Не удалось удалить ссылку из кэша", zap.String("id", id), zap.Error(err))
	}
}

// isRetrievalMethod: использование засчитывается только за GET, HEAD не получает тела ответа
func isRetrievalMethod(method string) bool {
	return method == http.MethodGet
}
