package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"chatline/internal/app/services/attachments"
	domainuser "chatline/internal/domain/user"
)

type AttachmentHandler struct {
	Service *attachments.Service
	Logger  *slog.Logger
}

func (h AttachmentHandler) Upload(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	if h.Service == nil || h.Service.Uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attachments unavailable"})
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		badRequest(c, "file is unreadable")
		return
	}
	defer file.Close()

	att, err := h.Service.Upload(c.Request.Context(), attachments.UploadParams{
		Owner:       domainuser.ID(p.ID),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		if errors.Is(err, attachments.ErrUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attachments unavailable"})
			return
		}
		respondError(c, h.Logger, err, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, att)
}
