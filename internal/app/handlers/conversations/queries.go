package conversations

import (
	"context"

	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/support"
	domainconversation "chatline/internal/domain/conversation"
	domainuser "chatline/internal/domain/user"
)

const (
	ListKey = "conversation.list"
	GetKey  = "conversation.get"
)

type ListQuery struct {
	ActorIDV string `validate:"required"`
	Limit    int    `validate:"min=0"`
	Cursor   string
}

func (q ListQuery) Key() string     { return ListKey }
func (q ListQuery) ActorID() string { return q.ActorIDV }

type GetQuery struct {
	ActorIDV       string `validate:"required"`
	ConversationID string `validate:"required"`
}

func (q GetQuery) Key() string     { return GetKey }
func (q GetQuery) ActorID() string { return q.ActorIDV }

type QueryHandler struct {
	Conversations domainconversation.Repository
}

func (h *QueryHandler) List(ctx context.Context, q ListQuery) (*dto.ConversationList, error) {
	viewer := domainuser.ID(q.ActorIDV)
	limit := support.PageSize(q.Limit)
	items, err := h.Conversations.ListForUser(ctx, viewer, domainconversation.ListQuery{
		Limit:  limit,
		Before: support.ParseCursor(q.Cursor),
	})
	if err != nil {
		return nil, err
	}
	out := &dto.ConversationList{Items: make([]dto.Conversation, 0, len(items))}
	for _, c := range items {
		out.Items = append(out.Items, dto.MapConversation(c, viewer))
	}
	if len(items) == limit {
		out.NextCursor = support.Cursor(items[len(items)-1].ActivityAt())
	}
	return out, nil
}

// Get returns a conversation the actor participates in.
func (h *QueryHandler) Get(ctx context.Context, q GetQuery) (*dto.Conversation, error) {
	viewer := domainuser.ID(q.ActorIDV)
	conv, err := h.Conversations.ByID(ctx, domainconversation.ID(q.ConversationID))
	if err != nil {
		return nil, err
	}
	if err := conv.Authorize(viewer); err != nil {
		return nil, err
	}
	out := dto.MapConversation(conv, viewer)
	return &out, nil
}
