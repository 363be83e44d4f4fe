package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/feedlog/internal/service"
	"github.com/feedlog/internal/storage"
	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

// queryInt 读取整数查询参数，缺失或非法时返回 fallback。
func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryDate(c *gin.Context, key string) *time.Time {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &parsed
}

var badRequestErrors = []error{
	service.ErrPostTextRequired,
	service.ErrTooManyMedia,
	service.ErrInvalidMediaType,
	service.ErrMediaURLRequired,
	service.ErrUnsupportedEmbed,
	service.ErrUsernameRequired,
	service.ErrUsernameTaken,
	service.ErrUsernameTooLong,
	service.ErrPasswordTooShort,
	service.ErrInvalidRole,
	service.ErrNoUserUpdates,
	service.ErrCannotDeleteSelf,
	service.ErrCannotDemoteSelf,
	service.ErrWrongCurrentPassword,
	service.ErrChatMessageRequired,
	service.ErrChatMessageTooLong,
}

// respondServiceError maps service and storage errors onto HTTP statuses.
func respondServiceError(c *gin.Context, err error, fallback string) {
	var validationErr *storage.ValidationError
	var ioErr *storage.IOError

	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		respondError(c, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, service.ErrForbidden):
		respondError(c, http.StatusForbidden, "permission denied")
	case errors.Is(err, service.ErrMediaNotOwned):
		respondError(c, http.StatusForbidden, service.ErrMediaNotOwned.Error())
	case errors.Is(err, service.ErrPostNotFound), errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.As(err, &validationErr):
		respondError(c, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &ioErr):
		slog.Error("storage failure", "op", ioErr.Op, "attempts", ioErr.Attempts, "error", ioErr.Err)
		respondError(c, http.StatusInternalServerError, "failed to store file")
	case errors.Is(err, service.ErrUploadUnavailable):
		respondError(c, http.StatusServiceUnavailable, err.Error())
	default:
		for _, target := range badRequestErrors {
			if errors.Is(err, target) {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
		}
		slog.Error(fallback, "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, fallback)
	}
}
