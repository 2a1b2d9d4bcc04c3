package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"chatline/internal/app/commands"
	"chatline/internal/app/queries"
	"chatline/internal/domain/shared/errkind"
)

// statusFor maps an error's kind to an HTTP status. Unclassified errors are
// internal failures.
func statusFor(err error) int {
	switch errkind.Of(err) {
	case errkind.ErrValidation:
		return http.StatusBadRequest
	case errkind.ErrUnauthenticated:
		return http.StatusUnauthorized
	case errkind.ErrForbidden:
		return http.StatusForbidden
	case errkind.ErrNotFound:
		return http.StatusNotFound
	case errkind.ErrConflict:
		return http.StatusConflict
	}
	if errors.Is(err, commands.ErrHandlerNotFound) || errors.Is(err, queries.ErrHandlerNotFound) {
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": msg}. Internal failures are logged and hidden.
func respondError(c *gin.Context, logger *slog.Logger, err error, attrs ...any) {
	status := statusFor(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", append([]any{"path", c.FullPath(), "error", err}, attrs...)...)
		}
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
