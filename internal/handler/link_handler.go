package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/dispatch"
	"github.com/SergeiKhy/guest-urls/internal/middleware"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/SergeiKhy/guest-urls/internal/repository"
	"github.com/SergeiKhy/guest-urls/internal/service"
	"github.com/SergeiKhy/guest-urls/internal/usage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 90
)

type LinkHandler struct {
	service  service.GuestLinkService
	recorder service.UsageRecorder
	baseURL  string
	logger   *zap.Logger
}

func NewLinkHandler(service service.GuestLinkService, recorder service.UsageRecorder, baseURL string, logger *zap.Logger) *LinkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkHandler{
		service:  service,
		recorder: recorder,
		baseURL:  baseURL,
		logger:   logger,
	}
}

type CreateLinkRequest struct {
	SourcePath string `json:"source_path" binding:"required"`
	// Usage спецификатор вида "1, 2014-07-12"
	Usage string `json:"usage,omitempty"`
}

type CreateLinkResponse struct {
	ID         string     `json:"id"`
	GuestPath  string     `json:"guest_path"`
	GuestURL   string     `json:"guest_url"`
	SourcePath string     `json:"source_path"`
	MaxUses    int        `json:"max_uses"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type LinkResponse struct {
	*models.GuestLink
	GuestPath     string           `json:"guest_path"`
	State         models.LinkState `json:"state"`
	CanBeUsed     bool             `json:"can_be_used"`
	RemainingUses int              `json:"remaining_uses"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateLink создаёт гостевую ссылку.
// POST /api/v1/links {"source_path": "/a/b/c", "usage": "1, 2014-07-12"}
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	link, err := h.service.CreateFromSpec(c.Request.Context(), req.SourcePath, req.Usage)
	if err != nil {
		h.logger.Warn("Failed to create guest link", zap.String("source_path", req.SourcePath), zap.Error(err))
		h.writeError(c, err)
		return
	}

	path, err := h.service.RouteFor(link.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Info("Guest link created via API",
		zap.String("id", link.ID),
		zap.String("api_key", middleware.APIKeyName(c)),
	)

	c.JSON(http.StatusCreated, CreateLinkResponse{
		ID:         link.ID,
		GuestPath:  path,
		GuestURL:   h.baseURL + path,
		SourcePath: link.SourcePath,
		MaxUses:    link.MaxUses,
		ExpiresAt:  link.ExpiresAt,
		CreatedAt:  link.CreatedAt,
	})
}

// GetLink возвращает ссылку с производным состоянием.
// GET /api/v1/links/:id
func (h *LinkHandler) GetLink(c *gin.Context) {
	link, err := h.service.GetLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	path, err := h.service.RouteFor(link.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	now := h.service.Clock().Now()
	c.JSON(http.StatusOK, LinkResponse{
		GuestLink:     link,
		GuestPath:     path,
		State:         link.State(now),
		CanBeUsed:     link.CanBeUsed(now),
		RemainingUses: link.RemainingUses(),
	})
}

// DeleteLink удаляет ссылку.
// DELETE /api/v1/links/:id
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	id := c.Param("id")

	if err := h.service.DeleteLink(c.Request.Context(), id); err != nil {
		h.logger.Warn("Failed to delete guest link", zap.String("id", id), zap.Error(err))
		h.writeError(c, err)
		return
	}

	h.logger.Info("Guest link deleted", zap.String("id", id), zap.String("api_key", middleware.APIKeyName(c)))
	c.JSON(http.StatusOK, gin.H{"message": "Guest link deleted successfully"})
}

// GetStats возвращает число использований и уникальных посетителей.
// GET /api/v1/links/:id/stats
func (h *LinkHandler) GetStats(c *gin.Context) {
	link, err := h.service.GetLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	stats, err := h.recorder.GetStats(c.Request.Context(), link.ID)
	if err != nil {
		h.logger.Error("Failed to get usage stats", zap.String("id", link.ID), zap.Error(err))
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetDailyStats возвращает использования по дням.
// GET /api/v1/links/:id/stats/daily?days=7
func (h *LinkHandler) GetDailyStats(c *gin.Context) {
	link, err := h.service.GetLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	days := defaultStatsDays
	if d := c.Query("days"); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n >= 1 && n <= maxStatsDays {
			days = n
		}
	}

	stats, err := h.recorder.GetDailyStats(c.Request.Context(), link.ID, days)
	if err != nil {
		h.logger.Error("Failed to get daily usage stats", zap.String("id", link.ID), zap.Error(err))
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Dispatch обслуживает путь гостевой ссылки /link/{id}/: проверяет ограничения,
// отдаёт ответ обработчика исходного пути и записывает использование.
func (h *LinkHandler) Dispatch(c *gin.Context) {
	id, err := dispatch.ParseRoute(c.Request.URL.Path)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp, err := h.service.Dispatch(c.Request.Context(), id, c.Request)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// Асинхронная запись статистики
	event := &models.UsageEvent{
		LinkID:    id,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
		UsedAt:    h.service.Clock().Now(),
	}
	if err := h.recorder.Record(c.Request.Context(), event); err != nil {
		h.logger.Debug("Failed to record usage (non-blocking)", zap.Error(err))
	}

	writeResponse(c, resp)
}

func writeResponse(c *gin.Context, resp *dispatch.Response) {
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}

	for key, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}

	c.Data(status, contentType, resp.Body)
}

// writeError переводит ошибки слоёв в HTTP ответ
func (h *LinkHandler) writeError(c *gin.Context, err error) {
	var argErr *usage.ArgumentError

	switch {
	case errors.Is(err, repository.ErrLinkNotFound),
		errors.Is(err, service.ErrInvalidLinkID),
		errors.Is(err, dispatch.ErrInvalidLinkID):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Guest link not found"})
	case errors.Is(err, dispatch.ErrUnresolvedPath):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unresolved_path", Message: "Source path does not resolve"})
	case errors.Is(err, service.ErrLinkExpired):
		c.JSON(http.StatusGone, ErrorResponse{Error: "link_expired", Message: "Guest link has expired"})
	case errors.Is(err, service.ErrLinkExhausted):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "link_exhausted", Message: "Guest link usage limit reached"})
	case errors.Is(err, service.ErrInvalidMethod):
		c.Header("Allow", http.MethodGet)
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Error: "invalid_method", Message: "Guest links accept GET only"})
	case errors.Is(err, usage.ErrTooManyArguments):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "too_many_arguments", Message: "Usage takes at most two comma-separated values"})
	case errors.As(err, &argErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unparseable_argument", Message: "Cannot parse usage value " + strconv.Quote(argErr.Token)})
	case errors.Is(err, service.ErrInvalidSourcePath):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_source_path", Message: "Source path must be absolute"})
	case errors.Is(err, service.ErrInvalidLimits):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_limits", Message: err.Error()})
	case errors.Is(err, dispatch.ErrUpstreamTooLarge):
		h.logger.Warn("Upstream response rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "upstream_error", Message: "Upstream response is too large"})
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: "Guest link was used concurrently, retry"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Internal server error"})
	}
}
