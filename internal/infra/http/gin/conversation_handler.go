package ginserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"chatline/internal/app/commands"
	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/conversations"
	"chatline/internal/app/handlers/messages"
	"chatline/internal/app/queries"
)

type ConversationHTTP interface {
	List(c *gin.Context)
	Get(c *gin.Context)
	CreateDirect(c *gin.Context)
	CreateGroup(c *gin.Context)
	Update(c *gin.Context)
	Delete(c *gin.Context)
	AddParticipants(c *gin.Context)
	RemoveParticipant(c *gin.Context)
	Leave(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
}

// ConversationHandler maps conversation routes onto the command and query buses.
type ConversationHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

func (h ConversationHandler) List(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	list, err := queries.Ask[conversations.ListQuery, *dto.ConversationList](c.Request.Context(), h.Queries, conversations.ListQuery{
		ActorIDV: p.ID,
		Limit:    parsePositiveIntStrict(c.Query("limit"), 0),
		Cursor:   strings.TrimSpace(c.Query("cursor")),
	})
	if err != nil {
		respondError(c, h.Logger, err, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h ConversationHandler) Get(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conv, err := queries.Ask[conversations.GetQuery, *dto.Conversation](c.Request.Context(), h.Queries, conversations.GetQuery{
		ActorIDV:       p.ID,
		ConversationID: c.Param("id"),
	})
	if err != nil {
		respondError(c, h.Logger, err, "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, conv)
}

type createDirectRequest struct {
	Participants []string `json:"participants"`
	UserID       string   `json:"user_id"`
}

// CreateDirect answers 201 for a new conversation and 200 when the pair
// already had one.
func (h ConversationHandler) CreateDirect(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req createDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	participants := req.Participants
	if len(participants) == 0 && strings.TrimSpace(req.UserID) != "" {
		participants = []string{req.UserID}
	}
	res, err := commands.Dispatch[conversations.CreateDirectCommand, *conversations.CreateResult](c.Request.Context(), h.Commands, conversations.CreateDirectCommand{
		ActorIDV:     p.ID,
		Participants: participants,
	})
	if err != nil {
		respondError(c, h.Logger, err, "user_id", p.ID)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

type createGroupRequest struct {
	Type         string        `json:"type"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Participants []string      `json:"participants"`
	Settings     *dto.Settings `json:"settings"`
}

func (h ConversationHandler) CreateGroup(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	res, err := commands.Dispatch[conversations.CreateGroupCommand, *conversations.CreateResult](c.Request.Context(), h.Commands, conversations.CreateGroupCommand{
		ActorIDV:     p.ID,
		Type:         strings.ToLower(strings.TrimSpace(req.Type)),
		Name:         req.Name,
		Description:  req.Description,
		Participants: req.Participants,
		Settings:     req.Settings,
	})
	if err != nil {
		respondError(c, h.Logger, err, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type updateConversationRequest struct {
	Name        *string       `json:"name"`
	Description *string       `json:"description"`
	Settings    *dto.Settings `json:"settings"`
}

func (h ConversationHandler) Update(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	conv, err := commands.Dispatch[conversations.UpdateCommand, *dto.Conversation](c.Request.Context(), h.Commands, conversations.UpdateCommand{
		ActorIDV:       p.ID,
		ConversationID: c.Param("id"),
		Name:           req.Name,
		Description:    req.Description,
		Settings:       req.Settings,
	})
	if err != nil {
		respondError(c, h.Logger, err, "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h ConversationHandler) Delete(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	_, err := commands.Dispatch[conversations.DeleteCommand, *dto.Conversation](c.Request.Context(), h.Commands, conversations.DeleteCommand{
		ActorIDV:       p.ID,
		ConversationID: c.Param("id"),
	})
	if err != nil {
		respondError(c, h.Logger, err, "conversation_id", c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

type addParticipantsRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (h ConversationHandler) AddParticipants(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req addParticipantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	conv, err := commands.Dispatch[conversations.AddParticipantsCommand, *dto.Conversation](c.Request.Context(), h.Commands, conversations.AddParticipantsCommand{
		ActorIDV:       p.ID,
		ConversationID: c.Param("id"),
		UserIDs:        req.UserIDs,
	})
	if err != nil {
		respondError(c, h.Logger, err, "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h ConversationHandler) RemoveParticipant(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conv, err := commands.Dispatch[conversations.RemoveParticipantCommand, *dto.Conversation](c.Request.Context(), h.Commands, conversations.RemoveParticipantCommand{
		ActorIDV:       p.ID,
		ConversationID: c.Param("id"),
		UserID:         c.Param("userId"),
	})
	if err != nil {
		respondError(c, h.Logger, err, "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h ConversationHandler) Leave(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	_, err := commands.Dispatch[conversations.LeaveCommand, *dto.Conversation](c.Request.Context(), h.Commands, conversations.LeaveCommand{
		ActorIDV:       p.ID,
		ConversationID: c.Param("id"),
	})
	if err != nil {
		respondError(c, h.Logger, err, "conversation_id", c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ConversationHandler) ListMessages(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	list, err := queries.Ask[messages.ListMessagesQuery, *dto.ChatMessageList](c.Request.Context(), h.Queries, messages.ListMessagesQuery{
		ActorIDV:       p.ID,
		ConversationID: c.Param("id"),
		Limit:          parsePositiveIntStrict(c.Query("limit"), 0),
		Cursor:         strings.TrimSpace(c.Query("cursor")),
	})
	if err != nil {
		respondError(c, h.Logger, err, "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, list)
}

type sendMessageRequest struct {
	Type            string          `json:"type"`
	Content         json.RawMessage `json:"content"`
	ClientMessageID string          `json:"client_message_id"`
}

// SendMessage accepts an Idempotency-Key header; client_message_id is the
// fallback used by clients that also send over the websocket.
func (h ConversationHandler) SendMessage(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(req.ClientMessageID)
	}
	res, err := commands.Dispatch[messages.SendMessageCommand, *messages.SendMessageResult](c.Request.Context(), h.Commands, messages.SendMessageCommand{
		ConversationID:  c.Param("id"),
		SenderID:        p.ID,
		Type:            req.Type,
		Content:         req.Content,
		IdempotencyKeyV: key,
	})
	if err != nil {
		respondError(c, h.Logger, err, "conversation_id", c.Param("id"), "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type markManyReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (h ConversationHandler) MarkRead(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req markManyReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	res, err := commands.Dispatch[messages.MarkManyReadCommand, *dto.ReadResult](c.Request.Context(), h.Commands, messages.MarkManyReadCommand{
		ConversationID: c.Param("id"),
		UserID:         p.ID,
		MessageIDs:     req.MessageIDs,
	})
	if err != nil {
		respondError(c, h.Logger, err, "conversation_id", c.Param("id"), "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, res)
}

func parsePositiveIntStrict(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

var _ ConversationHTTP = ConversationHandler{}
