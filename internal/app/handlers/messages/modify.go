package messages

import (
	"context"
	"encoding/json"

	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/support"
	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	domainuser "chatline/internal/domain/user"
)

const (
	EditMessageKey   = "message.edit"
	ReactMessageKey  = "message.react"
	DeleteMessageKey = "message.delete"
)

type EditMessageCommand struct {
	MessageID string          `validate:"required"`
	ActorIDV  string          `validate:"required"`
	Content   json.RawMessage `validate:"required"`
}

func (c EditMessageCommand) Key() string     { return EditMessageKey }
func (c EditMessageCommand) ActorID() string { return c.ActorIDV }

type ReactMessageCommand struct {
	MessageID string `validate:"required"`
	ActorIDV  string `validate:"required"`
	Emoji     string `validate:"max=64"`
}

func (c ReactMessageCommand) Key() string     { return ReactMessageKey }
func (c ReactMessageCommand) ActorID() string { return c.ActorIDV }

type DeleteMessageCommand struct {
	MessageID string `validate:"required"`
	ActorIDV  string `validate:"required"`
}

func (c DeleteMessageCommand) Key() string     { return DeleteMessageKey }
func (c DeleteMessageCommand) ActorID() string { return c.ActorIDV }

// ModifyHandler serves edits, reactions and deletions of existing messages.
type ModifyHandler struct {
	ReadStore
	support.Env
}

func (h *ModifyHandler) load(ctx context.Context, id string, actor domainuser.ID) (*domainmessage.Message, *domainconversation.Conversation, error) {
	msg, err := h.Messages.ByID(ctx, domainmessage.ID(id))
	if err != nil {
		return nil, nil, err
	}
	conv, err := h.Conversations.ByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if err := conv.Authorize(actor); err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

func (h *ModifyHandler) Edit(ctx context.Context, cmd EditMessageCommand) (*dto.ChatMessage, error) {
	actor := domainuser.ID(cmd.ActorIDV)
	msg, conv, err := h.load(ctx, cmd.MessageID, actor)
	if err != nil {
		return nil, err
	}
	next, err := domainmessage.ParseContent(domainmessage.KindText, cmd.Content)
	if err != nil {
		return nil, err
	}
	now := h.Now()
	prev, err := msg.Edit(actor, next, now)
	if err != nil {
		return nil, err
	}
	updated, err := h.Messages.ReplaceContent(ctx, msg.ID, prev, next, now)
	if err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, msg.Drain())
	wire := dto.MapMessage(updated)
	h.ToRoom(ctx, conv.ID, dto.EventMessageUpdated, dto.MessageUpdated{Message: wire, ConversationID: string(conv.ID)})
	return &wire, nil
}

func (h *ModifyHandler) React(ctx context.Context, cmd ReactMessageCommand) (*dto.ChatMessage, error) {
	actor := domainuser.ID(cmd.ActorIDV)
	msg, conv, err := h.load(ctx, cmd.MessageID, actor)
	if err != nil {
		return nil, err
	}
	reaction, err := msg.React(actor, cmd.Emoji, h.Now())
	if err != nil {
		return nil, err
	}
	updated, err := h.Messages.SetReaction(ctx, msg.ID, reaction)
	if err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, msg.Drain())
	wire := dto.MapMessage(updated)
	h.ToRoom(ctx, conv.ID, dto.EventMessageReaction, dto.MessageReaction{
		MessageID:      string(msg.ID),
		ConversationID: string(conv.ID),
		UserID:         cmd.ActorIDV,
		Emoji:          reaction.Emoji,
		Reactions:      wire.Reactions,
	})
	return &wire, nil
}

func (h *ModifyHandler) Delete(ctx context.Context, cmd DeleteMessageCommand) (*dto.ChatMessage, error) {
	actor := domainuser.ID(cmd.ActorIDV)
	msg, conv, err := h.load(ctx, cmd.MessageID, actor)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actor && !conv.CanModerate(actor) {
		return nil, domainmessage.ErrDeleteForbidden
	}
	now := h.Now()
	if err := msg.Delete(actor, now); err != nil {
		return nil, err
	}
	updated, err := h.Messages.SoftDelete(ctx, msg.ID, actor, now)
	if err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, msg.Drain())
	h.ToRoom(ctx, conv.ID, dto.EventMessageDeleted, dto.MessageDeleted{
		MessageID:      string(msg.ID),
		ConversationID: string(conv.ID),
		DeletedBy:      cmd.ActorIDV,
	})
	wire := dto.MapMessage(updated)
	return &wire, nil
}
