package ginserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"chatline/internal/app/commands"
	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/messages"
)

type MessageHTTP interface {
	Edit(c *gin.Context)
	Delete(c *gin.Context)
	MarkRead(c *gin.Context)
	React(c *gin.Context)
}

type MessageHandler struct {
	Commands commands.Bus
	Logger   *slog.Logger
}

type editMessageRequest struct {
	Content json.RawMessage `json:"content"`
}

func (h MessageHandler) Edit(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	msg, err := commands.Dispatch[messages.EditMessageCommand, *dto.ChatMessage](c.Request.Context(), h.Commands, messages.EditMessageCommand{
		MessageID: c.Param("id"),
		ActorIDV:  p.ID,
		Content:   req.Content,
	})
	if err != nil {
		respondError(c, h.Logger, err, "message_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h MessageHandler) Delete(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	msg, err := commands.Dispatch[messages.DeleteMessageCommand, *dto.ChatMessage](c.Request.Context(), h.Commands, messages.DeleteMessageCommand{
		MessageID: c.Param("id"),
		ActorIDV:  p.ID,
	})
	if err != nil {
		respondError(c, h.Logger, err, "message_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, msg)
}

type markReadRequest struct {
	ConversationID string `json:"conversation_id"`
}

// MarkRead accepts an empty body; conversation_id only guards against a
// message of another conversation.
func (h MessageHandler) MarkRead(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request")
		return
	}
	res, err := commands.Dispatch[messages.MarkReadCommand, *dto.ReadResult](c.Request.Context(), h.Commands, messages.MarkReadCommand{
		MessageID:      c.Param("id"),
		ConversationID: strings.TrimSpace(req.ConversationID),
		UserID:         p.ID,
	})
	if err != nil {
		respondError(c, h.Logger, err, "message_id", c.Param("id"), "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, res)
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

func (h MessageHandler) React(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req reactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	msg, err := commands.Dispatch[messages.ReactMessageCommand, *dto.ChatMessage](c.Request.Context(), h.Commands, messages.ReactMessageCommand{
		MessageID: c.Param("id"),
		ActorIDV:  p.ID,
		Emoji:     req.Emoji,
	})
	if err != nil {
		respondError(c, h.Logger, err, "message_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, msg)
}

var _ MessageHTTP = MessageHandler{}
