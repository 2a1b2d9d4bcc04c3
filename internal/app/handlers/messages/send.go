package messages

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatline/internal/app/commands"
	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/support"
	"chatline/internal/app/middleware"
	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	domainuser "chatline/internal/domain/user"
)

const SendMessageKey = "message.send"

type SendMessageCommand struct {
	ConversationID  string          `validate:"required"`
	SenderID        string          `validate:"required"`
	Type            string          `validate:"max=16"`
	Content         json.RawMessage `validate:"required"`
	IdempotencyKeyV string
}

func (c SendMessageCommand) Key() string            { return SendMessageKey }
func (c SendMessageCommand) ActorID() string        { return c.SenderID }
func (c SendMessageCommand) IdempotencyKey() string { return c.IdempotencyKeyV }
func (c SendMessageCommand) ResultPrototype() any   { return &SendMessageResult{} }

type SendMessageResult struct {
	Message      dto.ChatMessage  `json:"message"`
	Conversation dto.Conversation `json:"conversation"`
}

// SendMessageHandler persists a message, bumps the conversation's counters and
// fans the result out to every participant's live sessions.
type SendMessageHandler struct {
	Conversations domainconversation.Repository
	Messages      domainmessage.Repository
	SlowMode      *SlowModeGate
	NewID         func() string
	support.Env
}

func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (*SendMessageResult, error) {
	sender := domainuser.ID(cmd.SenderID)
	kind, err := domainmessage.ParseKind(cmd.Type)
	if err != nil {
		return nil, err
	}
	conv, err := h.Conversations.ByID(ctx, domainconversation.ID(cmd.ConversationID))
	if err != nil {
		return nil, err
	}
	if err := conv.CanPost(sender); err != nil {
		return nil, err
	}
	content, err := domainmessage.ParseContent(kind, cmd.Content)
	if err != nil {
		return nil, err
	}
	now := h.Now()
	if window := conv.SlowModeApplies(sender); window > 0 && !h.SlowMode.Allow(conv.ID, sender, now, window) {
		return nil, domainmessage.ErrSlowMode
	}

	msg, err := domainmessage.NewMessage(domainmessage.CreateParams{
		ID:             domainmessage.ID(h.newID()),
		ConversationID: conv.ID,
		SenderID:       sender,
		Content:        content,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}
	if err := h.Messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	updated, err := h.Conversations.RecordMessage(ctx, conv.ID, string(msg.ID), sender, msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, msg.Drain())

	wire := dto.MapMessage(msg)
	for _, id := range updated.ParticipantIDs() {
		h.ToUser(ctx, id, dto.EventMessageNew, dto.MessageNew{Message: wire, ConversationID: string(conv.ID)})
		h.ToUser(ctx, id, dto.EventConversationUpdated, dto.ConversationUpdated{Conversation: dto.MapConversation(updated, id)})
	}
	h.Log().Debug("message delivered", "message_id", string(msg.ID), "conversation_id", string(conv.ID), "user_id", cmd.SenderID)

	return &SendMessageResult{Message: wire, Conversation: dto.MapConversation(updated, sender)}, nil
}

func (h *SendMessageHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

// SlowModeGate remembers when each user last posted to each conversation.
// The zero value is ready to use; a nil gate allows everything.
type SlowModeGate struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// Allow reports whether sender may post at now and, if so, records the post.
func (g *SlowModeGate) Allow(conv domainconversation.ID, sender domainuser.ID, now time.Time, window time.Duration) bool {
	if g == nil {
		return true
	}
	key := string(conv) + "/" + string(sender)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		g.last = make(map[string]time.Time)
	}
	if prev, ok := g.last[key]; ok && now.Sub(prev) < window {
		return false
	}
	g.last[key] = now
	return true
}

var _ commands.Handler[SendMessageCommand, *SendMessageResult] = (*SendMessageHandler)(nil)
var _ middleware.IdempotentCommand = SendMessageCommand{}
var _ commands.Actored = SendMessageCommand{}
