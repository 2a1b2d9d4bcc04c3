package conversations

import (
	"context"

	"chatline/internal/app/commands"
	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/support"
	domainconversation "chatline/internal/domain/conversation"
	domainuser "chatline/internal/domain/user"
)

const (
	UpdateKey = "conversation.update"
	DeleteKey = "conversation.delete"
)

// UpdateCommand changes conversation details. Nil fields are left as is.
type UpdateCommand struct {
	ActorIDV       string  `validate:"required"`
	ConversationID string  `validate:"required"`
	Name           *string `validate:"omitempty,max=100"`
	Description    *string `validate:"omitempty,max=1000"`
	Settings       *dto.Settings
}

func (c UpdateCommand) Key() string     { return UpdateKey }
func (c UpdateCommand) ActorID() string { return c.ActorIDV }

type DeleteCommand struct {
	ActorIDV       string `validate:"required"`
	ConversationID string `validate:"required"`
}

func (c DeleteCommand) Key() string     { return DeleteKey }
func (c DeleteCommand) ActorID() string { return c.ActorIDV }

type ManageHandler struct {
	Store
	support.Env
}

func (h *ManageHandler) Update(ctx context.Context, cmd UpdateCommand) (*dto.Conversation, error) {
	actor := domainuser.ID(cmd.ActorIDV)
	conv, err := h.Conversations.ByID(ctx, domainconversation.ID(cmd.ConversationID))
	if err != nil {
		return nil, err
	}
	patch := domainconversation.Patch{Name: cmd.Name, Description: cmd.Description}
	if cmd.Settings != nil {
		s := settingsFromDTO(*cmd.Settings)
		patch.Settings = &s
	}
	if err := conv.Update(actor, patch, h.Now()); err != nil {
		return nil, err
	}
	if err := h.Conversations.SaveDetails(ctx, conv); err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, conv.Drain())
	fresh, err := h.Conversations.ByID(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	h.ConversationUpdated(ctx, fresh)
	out := dto.MapConversation(fresh, actor)
	return &out, nil
}

func (h *ManageHandler) Delete(ctx context.Context, cmd DeleteCommand) (*dto.Conversation, error) {
	actor := domainuser.ID(cmd.ActorIDV)
	conv, err := h.Conversations.ByID(ctx, domainconversation.ID(cmd.ConversationID))
	if err != nil {
		return nil, err
	}
	now := h.Now()
	if err := conv.Delete(actor, now); err != nil {
		return nil, err
	}
	if err := h.Conversations.SoftDelete(ctx, conv.ID, now); err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, conv.Drain())
	h.ConversationUpdated(ctx, conv)
	out := dto.MapConversation(conv, actor)
	return &out, nil
}

var _ commands.Actored = UpdateCommand{}
var _ commands.Actored = DeleteCommand{}
