package conversations

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"chatline/internal/app/commands"
	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/support"
	domainconversation "chatline/internal/domain/conversation"
	domainuser "chatline/internal/domain/user"
)

const (
	CreateDirectKey = "conversation.create_direct"
	CreateGroupKey  = "conversation.create_group"
)

type CreateDirectCommand struct {
	ActorIDV     string   `validate:"required"`
	Participants []string `validate:"required"`
}

func (c CreateDirectCommand) Key() string     { return CreateDirectKey }
func (c CreateDirectCommand) ActorID() string { return c.ActorIDV }

type CreateGroupCommand struct {
	ActorIDV     string `validate:"required"`
	Type         string `validate:"omitempty,oneof=group channel broadcast"`
	Name         string `validate:"required"`
	Description  string `validate:"max=1000"`
	Participants []string
	Settings     *dto.Settings
}

func (c CreateGroupCommand) Key() string     { return CreateGroupKey }
func (c CreateGroupCommand) ActorID() string { return c.ActorIDV }

// CreateResult reports whether a new conversation was stored or an existing
// direct conversation returned.
type CreateResult struct {
	Conversation dto.Conversation `json:"conversation"`
	Created      bool             `json:"created"`
}

type Store struct {
	Conversations domainconversation.Repository
	Users         domainuser.Repository
	NewID         func() string
}

func (s Store) newID() domainconversation.ID {
	if s.NewID != nil {
		return domainconversation.ID(s.NewID())
	}
	return domainconversation.ID(uuid.NewString())
}

func (s Store) ensureUsers(ctx context.Context, ids []domainuser.ID) error {
	for _, id := range ids {
		if _, err := s.Users.ByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

type CreateDirectHandler struct {
	Store
	support.Env
}

// Handle returns the live direct conversation between the two users, creating
// it on first use.
func (h *CreateDirectHandler) Handle(ctx context.Context, cmd CreateDirectCommand) (*CreateResult, error) {
	actor := domainuser.ID(cmd.ActorIDV)
	conv, err := domainconversation.NewDirect(domainconversation.CreateDirectParams{
		ID:           h.newID(),
		Creator:      actor,
		Participants: support.UserIDs(cmd.Participants),
		Now:          h.Now(),
	})
	if err != nil {
		return nil, err
	}
	peer := conv.Participants[1].UserID
	if err := h.ensureUsers(ctx, []domainuser.ID{peer}); err != nil {
		return nil, err
	}
	if existing, err := h.Conversations.FindDirect(ctx, actor, peer); err == nil {
		return &CreateResult{Conversation: dto.MapConversation(existing, actor)}, nil
	} else if !errors.Is(err, domainconversation.ErrNotFound) {
		return nil, err
	}
	if err := h.Conversations.Create(ctx, conv); err != nil {
		if !errors.Is(err, domainconversation.ErrDirectExists) {
			return nil, err
		}
		existing, findErr := h.Conversations.FindDirect(ctx, actor, peer)
		if findErr != nil {
			return nil, findErr
		}
		return &CreateResult{Conversation: dto.MapConversation(existing, actor)}, nil
	}
	h.RecordEvents(ctx, conv.Drain())
	h.ConversationUpdated(ctx, conv)
	return &CreateResult{Conversation: dto.MapConversation(conv, actor), Created: true}, nil
}

type CreateGroupHandler struct {
	Store
	support.Env
}

func (h *CreateGroupHandler) Handle(ctx context.Context, cmd CreateGroupCommand) (*CreateResult, error) {
	actor := domainuser.ID(cmd.ActorIDV)
	t, err := domainconversation.ParseType(cmd.Type)
	if err != nil {
		return nil, err
	}
	var settings *domainconversation.Settings
	if cmd.Settings != nil {
		s := settingsFromDTO(*cmd.Settings)
		settings = &s
	}
	conv, err := domainconversation.NewGroup(domainconversation.CreateGroupParams{
		ID:           h.newID(),
		Type:         t,
		Name:         cmd.Name,
		Description:  cmd.Description,
		Creator:      actor,
		Participants: support.UserIDs(cmd.Participants),
		Settings:     settings,
		Now:          h.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := h.ensureUsers(ctx, conv.ParticipantIDs()[1:]); err != nil {
		return nil, err
	}
	if err := h.Conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	h.RecordEvents(ctx, conv.Drain())
	h.ConversationUpdated(ctx, conv)
	return &CreateResult{Conversation: dto.MapConversation(conv, actor), Created: true}, nil
}

func settingsFromDTO(s dto.Settings) domainconversation.Settings {
	policy := domainconversation.InvitePolicy(s.InvitePolicy)
	if policy == "" {
		policy = domainconversation.InviteAnyone
	}
	return domainconversation.Settings{
		InvitePolicy:      policy,
		OnlyAdminsCanPost: s.OnlyAdminsCanPost,
		AntiSpam:          domainconversation.AntiSpam{SlowModeSeconds: s.SlowModeSeconds},
	}
}

var _ commands.Handler[CreateDirectCommand, *CreateResult] = (*CreateDirectHandler)(nil)
var _ commands.Handler[CreateGroupCommand, *CreateResult] = (*CreateGroupHandler)(nil)
