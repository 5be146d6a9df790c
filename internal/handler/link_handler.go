package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/SergeiKhy/shortener/internal/middleware"
	"github.com/SergeiKhy/shortener/internal/models"
	"github.com/SergeiKhy/shortener/internal/repository"
	"github.com/SergeiKhy/shortener/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LinkHandler struct {
	service service.LinkService
	manager *repository.Manager
	baseURL string
	logger  *zap.Logger
}

func NewLinkHandler(service service.LinkService, manager *repository.Manager, baseURL string, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		service: service,
		manager: manager,
		baseURL: baseURL,
		logger:  logger,
	}
}

type CreateLinkRequest struct {
	URL        string `json:"url" binding:"required"`
	CustomCode string `json:"custom_code,omitempty"`
	Title      string `json:"title,omitempty"`
}

type CreateLinkResponse struct {
	ID          string    `json:"id"`
	ShortCode   string    `json:"short_code"`
	ShortURL    string    `json:"short_url"`
	OriginalURL string    `json:"original_url"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type UpdateLinkRequest struct {
	Title       *string `json:"title,omitempty"`
	OriginalURL *string `json:"original_url,omitempty"`
	ShortCode   *string `json:"short_code,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateLink создаёт короткую ссылку. Аутентификация опциональна:
// анонимные ссылки остаются без владельца.
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

	input := &models.CreateLinkInput{OriginalURL: req.URL}
	if req.CustomCode != "" {
		input.CustomCode = &req.CustomCode
	}
	if req.Title != "" {
		input.Title = &req.Title
	}

	userID, _ := middleware.UserIDFromContext(c)

	link, err := h.service.CreateLink(c.Request.Context(), input, userID)
	if err != nil {
		h.respondError(c, "create link", err)
		return
	}

	c.JSON(http.StatusCreated, CreateLinkResponse{
		ID:          link.ID,
		ShortCode:   link.ShortCode,
		ShortURL:    h.baseURL + "/" + link.ShortCode,
		OriginalURL: link.OriginalURL,
		Title:       link.Title,
		CreatedAt:   link.CreatedAt,
	})
}

// Redirect переадресует на оригинальный URL по короткому коду.
func (h *LinkHandler) Redirect(c *gin.Context) {
	code := c.Param("code")

	originalURL, err := h.service.Resolve(c.Request.Context(), code)
	if err != nil {
		h.respondError(c, "resolve link", err)
		return
	}
	if originalURL == "" {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found",
		})
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, originalURL)
}

// ListLinks возвращает страницу всех ссылок.
func (h *LinkHandler) ListLinks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	links, err := h.service.ListLinks(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, "list links", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"links": links, "count": len(links)})
}

// GetStats возвращает статистику по коду без инкремента кликов.
func (h *LinkHandler) GetStats(c *gin.Context) {
	code := c.Param("code")

	link, err := h.service.Stats(c.Request.Context(), code)
	if err != nil {
		h.respondError(c, "get stats", err)
		return
	}
	if link == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found",
		})
		return
	}

	c.JSON(http.StatusOK, models.LinkStats{
		ShortCode:   link.ShortCode,
		OriginalURL: link.OriginalURL,
		ClickCount:  link.ClickCount,
		CreatedAt:   link.CreatedAt,
	})
}

// GetUserLinks возвращает ссылки аутентифицированного пользователя.
func (h *LinkHandler) GetUserLinks(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Authentication required",
		})
		return
	}

	links, err := h.service.UserLinks(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "get user links", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"links": links, "count": len(links)})
}

// UpdateLink частично обновляет ссылку пользователя.
func (h *LinkHandler) UpdateLink(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Authentication required",
		})
		return
	}

	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	link, err := h.service.UpdateLink(c.Request.Context(), userID, c.Param("id"), &models.LinkUpdate{
		Title:       req.Title,
		OriginalURL: req.OriginalURL,
		ShortCode:   req.ShortCode,
	})
	if err != nil {
		h.respondError(c, "update link", err)
		return
	}

	c.JSON(http.StatusOK, link)
}

// DeleteLink удаляет ссылку пользователя.
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Authentication required",
		})
		return
	}

	if err := h.service.DeleteLink(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondError(c, "delete link", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Link deleted successfully"})
}

// HealthCheck пингует хранилище и кэш.
func (h *LinkHandler) HealthCheck(c *gin.Context) {
	status := h.manager.HealthCheck(c.Request.Context())

	code := http.StatusOK
	if !status.Primary {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// respondError переводит ошибки сервиса и хранилища в HTTP-статусы.
func (h *LinkHandler) respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_url",
			Message: "Invalid URL format",
		})
	case errors.Is(err, service.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_code",
			Message: "Custom code must be 3-20 characters: letters, digits, _ or -",
		})
	case errors.Is(err, service.ErrSpamDomain):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "spam_domain",
			Message: "Domain is blacklisted",
		})
	case errors.Is(err, repository.ErrCodeExists):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "code_exists",
			Message: "Short code already exists",
		})
	case errors.Is(err, repository.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found",
		})
	case errors.Is(err, service.ErrNotOwner):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "forbidden",
			Message: "Link belongs to another user",
		})
	case errors.Is(err, repository.ErrUnsupported):
		c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error:   "unsupported",
			Message: "Operation is not supported by the active backend",
		})
	default:
		h.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Internal server error",
		})
	}
}
