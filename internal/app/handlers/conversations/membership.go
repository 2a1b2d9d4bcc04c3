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
	AddParticipantsKey   = "conversation.add_participants"
	RemoveParticipantKey = "conversation.remove_participant"
	LeaveKey             = "conversation.leave"
)

type AddParticipantsCommand struct {
	ActorIDV       string   `validate:"required"`
	ConversationID string   `validate:"required"`
	UserIDs        []string `validate:"required,min=1,dive,required"`
}

func (c AddParticipantsCommand) Key() string     { return AddParticipantsKey }
func (c AddParticipantsCommand) ActorID() string { return c.ActorIDV }

type RemoveParticipantCommand struct {
	ActorIDV       string `validate:"required"`
	ConversationID string `validate:"required"`
	UserID         string `validate:"required"`
}

func (c RemoveParticipantCommand) Key() string     { return RemoveParticipantKey }
func (c RemoveParticipantCommand) ActorID() string { return c.ActorIDV }

type LeaveCommand struct {
	ActorIDV       string `validate:"required"`
	ConversationID string `validate:"required"`
}

func (c LeaveCommand) Key() string     { return LeaveKey }
func (c LeaveCommand) ActorID() string { return c.ActorIDV }

// MembershipHandler validates membership changes on the aggregate and applies
// them with single-document repository updates.
type MembershipHandler struct {
	Store
	support.Env
}

func (h *MembershipHandler) Add(ctx context.Context, cmd AddParticipantsCommand) (*dto.Conversation, error) {
	actor := domainuser.ID(cmd.ActorIDV)
	conv, err := h.Conversations.ByID(ctx, domainconversation.ID(cmd.ConversationID))
	if err != nil {
		return nil, err
	}
	now := h.Now()
	added, err := conv.AddParticipants(actor, support.UserIDs(cmd.UserIDs), now)
	if err != nil {
		return nil, err
	}
	if len(added) == 0 {
		out := dto.MapConversation(conv, actor)
		return &out, nil
	}
	ids := make([]domainuser.ID, 0, len(added))
	for _, p := range added {
		ids = append(ids, p.UserID)
	}
	if err := h.ensureUsers(ctx, ids); err != nil {
		return nil, err
	}
	updated, err := h.Conversations.AddParticipants(ctx, conv.ID, added, now)
	if err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, conv.Drain())
	h.ConversationUpdated(ctx, updated)
	out := dto.MapConversation(updated, actor)
	return &out, nil
}

func (h *MembershipHandler) Remove(ctx context.Context, cmd RemoveParticipantCommand) (*dto.Conversation, error) {
	actor := domainuser.ID(cmd.ActorIDV)
	target := domainuser.ID(cmd.UserID)
	conv, err := h.Conversations.ByID(ctx, domainconversation.ID(cmd.ConversationID))
	if err != nil {
		return nil, err
	}
	now := h.Now()
	if err := conv.RemoveParticipant(actor, target, now); err != nil {
		return nil, err
	}
	updated, err := h.Conversations.RemoveParticipant(ctx, conv.ID, target, now)
	if err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, conv.Drain())
	h.ConversationUpdated(ctx, updated, target)
	out := dto.MapConversation(updated, actor)
	return &out, nil
}

func (h *MembershipHandler) Leave(ctx context.Context, cmd LeaveCommand) (*dto.Conversation, error) {
	actor := domainuser.ID(cmd.ActorIDV)
	conv, err := h.Conversations.ByID(ctx, domainconversation.ID(cmd.ConversationID))
	if err != nil {
		return nil, err
	}
	now := h.Now()
	if err := conv.Leave(actor, now); err != nil {
		return nil, err
	}
	updated, err := h.Conversations.RemoveParticipant(ctx, conv.ID, actor, now)
	if err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, conv.Drain())
	h.ConversationUpdated(ctx, updated, actor)
	out := dto.MapConversation(updated, actor)
	return &out, nil
}

var _ commands.Actored = AddParticipantsCommand{}
var _ commands.Actored = RemoveParticipantCommand{}
var _ commands.Actored = LeaveCommand{}
