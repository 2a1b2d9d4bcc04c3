package messages

import (
	"context"

	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/support"
	"chatline/internal/app/queries"
	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	domainuser "chatline/internal/domain/user"
)

const ListMessagesKey = "message.list"

type ListMessagesQuery struct {
	ActorIDV       string `validate:"required"`
	ConversationID string `validate:"required"`
	Limit          int    `validate:"min=0"`
	Cursor         string
}

func (q ListMessagesQuery) Key() string     { return ListMessagesKey }
func (q ListMessagesQuery) ActorID() string { return q.ActorIDV }

type ListMessagesHandler struct {
	ReadStore
}

func (h *ListMessagesHandler) Handle(ctx context.Context, q ListMessagesQuery) (*dto.ChatMessageList, error) {
	conv, err := h.Conversations.ByID(ctx, domainconversation.ID(q.ConversationID))
	if err != nil {
		return nil, err
	}
	if err := conv.Authorize(domainuser.ID(q.ActorIDV)); err != nil {
		return nil, err
	}
	limit := support.PageSize(q.Limit)
	items, err := h.Messages.ListByConversation(ctx, conv.ID, domainmessage.ListQuery{
		Limit:  limit,
		Before: support.ParseCursor(q.Cursor),
	})
	if err != nil {
		return nil, err
	}
	out := &dto.ChatMessageList{Items: make([]dto.ChatMessage, 0, len(items))}
	for _, m := range items {
		out.Items = append(out.Items, dto.MapMessage(m))
	}
	if len(items) == limit {
		out.NextCursor = support.Cursor(items[len(items)-1].CreatedAt)
	}
	return out, nil
}

var _ queries.Handler[ListMessagesQuery, *dto.ChatMessageList] = (*ListMessagesHandler)(nil)
