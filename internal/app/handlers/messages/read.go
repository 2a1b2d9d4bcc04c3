package messages

import (
	"context"

	"chatline/internal/app/commands"
	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/support"
	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	"chatline/internal/domain/shared/events"
	domainuser "chatline/internal/domain/user"
)

const (
	MarkReadKey     = "message.mark_read"
	MarkManyReadKey = "message.mark_many_read"
)

// MarkReadCommand acknowledges one message. ConversationID is optional and,
// when set, must match the message's conversation.
type MarkReadCommand struct {
	MessageID      string `validate:"required"`
	ConversationID string
	UserID         string `validate:"required"`
}

func (c MarkReadCommand) Key() string     { return MarkReadKey }
func (c MarkReadCommand) ActorID() string { return c.UserID }

type MarkManyReadCommand struct {
	ConversationID string   `validate:"required"`
	UserID         string   `validate:"required"`
	MessageIDs     []string `validate:"required,min=1,max=500,dive,required"`
}

func (c MarkManyReadCommand) Key() string     { return MarkManyReadKey }
func (c MarkManyReadCommand) ActorID() string { return c.UserID }

// ReadStore is the subset of repositories the read synchronizer touches.
type ReadStore struct {
	Conversations domainconversation.Repository
	Messages      domainmessage.Repository
}

type MarkReadHandler struct {
	ReadStore
	support.Env
}

func (h *MarkReadHandler) Handle(ctx context.Context, cmd MarkReadCommand) (*dto.ReadResult, error) {
	reader := domainuser.ID(cmd.UserID)
	msg, err := h.Messages.ByID(ctx, domainmessage.ID(cmd.MessageID))
	if err != nil {
		return nil, err
	}
	if cmd.ConversationID != "" && domainconversation.ID(cmd.ConversationID) != msg.ConversationID {
		return nil, domainmessage.ErrWrongConversation
	}
	conv, err := h.Conversations.ByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := conv.Authorize(reader); err != nil {
		return nil, err
	}
	result := &dto.ReadResult{ConversationID: string(conv.ID), MessageIDs: []string{}}
	if msg.IsReadBy(reader) {
		return result, nil
	}
	now := h.Now()
	applied, err := h.Messages.AddReadReceipt(ctx, msg.ID, reader, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		// a concurrent call already recorded the receipt and decremented
		return result, nil
	}
	if err := h.Conversations.DecrementUnread(ctx, conv.ID, reader); err != nil {
		return nil, err
	}
	if err := h.Conversations.AdvanceReadMarker(ctx, conv.ID, reader, string(msg.ID), msg.CreatedAt); err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, []events.DomainEvent{domainmessage.Read{MessageID: msg.ID, ConversationID: conv.ID, UserID: reader, At: now}})

	h.ToRoom(ctx, conv.ID, dto.EventMessageRead, dto.MessageRead{
		MessageID:      string(msg.ID),
		UserID:         cmd.UserID,
		ConversationID: string(conv.ID),
		ReadAt:         now,
	})
	h.refreshReader(ctx, h.Env, conv.ID, reader)

	result.MessageIDs = []string{string(msg.ID)}
	result.Updated = 1
	return result, nil
}

type MarkManyReadHandler struct {
	ReadStore
	support.Env
}

// Handle marks the unread subset of cmd.MessageIDs, moves the watermark to
// the newest of them and zeroes the reader's counter. An empty subset is a
// no-op that touches no state.
func (h *MarkManyReadHandler) Handle(ctx context.Context, cmd MarkManyReadCommand) (*dto.ReadResult, error) {
	reader := domainuser.ID(cmd.UserID)
	conv, err := h.Conversations.ByID(ctx, domainconversation.ID(cmd.ConversationID))
	if err != nil {
		return nil, err
	}
	if err := conv.Authorize(reader); err != nil {
		return nil, err
	}
	ids := make([]domainmessage.ID, 0, len(cmd.MessageIDs))
	for _, id := range cmd.MessageIDs {
		ids = append(ids, domainmessage.ID(id))
	}
	result := &dto.ReadResult{ConversationID: string(conv.ID), MessageIDs: []string{}}
	unread, err := h.Messages.UnreadAmong(ctx, conv.ID, ids, reader)
	if err != nil {
		return nil, err
	}
	if len(unread) == 0 {
		return result, nil
	}

	now := h.Now()
	marked := make([]*domainmessage.Message, 0, len(unread))
	for _, msg := range unread {
		applied, err := h.Messages.AddReadReceipt(ctx, msg.ID, reader, now)
		if err != nil {
			return nil, err
		}
		if applied {
			marked = append(marked, msg)
		}
	}
	if len(marked) == 0 {
		return result, nil
	}
	if err := h.Conversations.ResetUnread(ctx, conv.ID, reader); err != nil {
		return nil, err
	}
	newest := domainmessage.Newest(marked)
	if err := h.Conversations.AdvanceReadMarker(ctx, conv.ID, reader, string(newest.ID), newest.CreatedAt); err != nil {
		return nil, err
	}

	markedIDs := make([]domainmessage.ID, 0, len(marked))
	for _, msg := range marked {
		markedIDs = append(markedIDs, msg.ID)
		result.MessageIDs = append(result.MessageIDs, string(msg.ID))
	}
	result.Updated = len(marked)
	h.RecordEvents(ctx, []events.DomainEvent{domainmessage.BatchRead{ConversationID: conv.ID, UserID: reader, MessageIDs: markedIDs, At: now}})

	h.ToRoom(ctx, conv.ID, dto.EventMessagesRead, dto.MessagesRead{
		MessageIDs:     result.MessageIDs,
		UserID:         cmd.UserID,
		ConversationID: string(conv.ID),
		ReadAt:         now,
	})
	h.refreshReader(ctx, h.Env, conv.ID, reader)
	return result, nil
}

// refreshReader pushes the reader's new counters to their own sessions.
func (s ReadStore) refreshReader(ctx context.Context, env support.Env, id domainconversation.ID, reader domainuser.ID) {
	conv, err := s.Conversations.ByID(ctx, id)
	if err != nil {
		env.Log().Warn("reload conversation after read failed", "conversation_id", string(id), "error", err)
		return
	}
	env.ToUser(ctx, reader, dto.EventConversationUpdated, dto.ConversationUpdated{Conversation: dto.MapConversation(conv, reader)})
}

var _ commands.Handler[MarkReadCommand, *dto.ReadResult] = (*MarkReadHandler)(nil)
var _ commands.Handler[MarkManyReadCommand, *dto.ReadResult] = (*MarkManyReadHandler)(nil)
