package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domainconversation "chatline/internal/domain/conversation"
	"chatline/internal/domain/shared/events"
	domainuser "chatline/internal/domain/user"
)

var errConversationExists = errors.New("memory: conversation already exists")

// ConversationRepository keeps conversations in memory. Every mutation runs
// under one lock, which gives the same per-document atomicity as the Mongo
// repository's single-document updates.
type ConversationRepository struct {
	mu     sync.RWMutex
	items  map[domainconversation.ID]*domainconversation.Conversation
	direct map[string]domainconversation.ID
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		items:  make(map[domainconversation.ID]*domainconversation.Conversation),
		direct: make(map[string]domainconversation.ID),
	}
}

func (r *ConversationRepository) Create(ctx context.Context, c *domainconversation.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[c.ID]; ok {
		return errConversationExists
	}
	if c.Type == domainconversation.TypeDirect && len(c.Participants) == 2 {
		key := domainconversation.DirectKey(c.Participants[0].UserID, c.Participants[1].UserID)
		if _, ok := r.direct[key]; ok {
			return domainconversation.ErrDirectExists
		}
		r.direct[key] = c.ID
	}
	r.items[c.ID] = cloneConversation(c)
	return nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainconversation.ID) (*domainconversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, domainconversation.ErrNotFound
	}
	return cloneConversation(c), nil
}

func (r *ConversationRepository) FindDirect(ctx context.Context, a, b domainuser.ID) (*domainconversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.direct[domainconversation.DirectKey(a, b)]
	if !ok {
		return nil, domainconversation.ErrNotFound
	}
	return cloneConversation(r.items[id]), nil
}

func (r *ConversationRepository) ListForUser(ctx context.Context, userID domainuser.ID, q domainconversation.ListQuery) ([]*domainconversation.Conversation, error) {
	r.mu.RLock()
	out := make([]*domainconversation.Conversation, 0)
	for _, c := range r.items {
		if c.Deleted || !c.IsParticipant(userID) {
			continue
		}
		if !q.Before.IsZero() && !c.ActivityAt().Before(q.Before) {
			continue
		}
		out = append(out, cloneConversation(c))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].ActivityAt(), out[j].ActivityAt()
		if ai.Equal(aj) {
			return out[i].ID > out[j].ID
		}
		return ai.After(aj)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *ConversationRepository) AddParticipants(ctx context.Context, id domainconversation.ID, participants []domainconversation.Participant, at time.Time) (*domainconversation.Conversation, error) {
	return r.mutate(id, func(c *domainconversation.Conversation) {
		for _, p := range participants {
			if !c.IsParticipant(p.UserID) {
				c.Participants = append(c.Participants, p)
			}
		}
		c.UpdatedAt = at
	})
}

func (r *ConversationRepository) RemoveParticipant(ctx context.Context, id domainconversation.ID, userID domainuser.ID, at time.Time) (*domainconversation.Conversation, error) {
	return r.mutate(id, func(c *domainconversation.Conversation) {
		kept := make([]domainconversation.Participant, 0, len(c.Participants))
		for _, p := range c.Participants {
			if p.UserID != userID {
				kept = append(kept, p)
			}
		}
		c.Participants = kept
		admins := make([]domainuser.ID, 0, len(c.Admins))
		for _, a := range c.Admins {
			if a != userID {
				admins = append(admins, a)
			}
		}
		c.Admins = admins
		c.UpdatedAt = at
	})
}

func (r *ConversationRepository) SaveDetails(ctx context.Context, in *domainconversation.Conversation) error {
	_, err := r.mutate(in.ID, func(c *domainconversation.Conversation) {
		c.Name = in.Name
		c.Description = in.Description
		c.Settings = in.Settings
		c.UpdatedAt = in.UpdatedAt
	})
	return err
}

func (r *ConversationRepository) SoftDelete(ctx context.Context, id domainconversation.ID, at time.Time) error {
	_, err := r.mutate(id, func(c *domainconversation.Conversation) {
		c.Deleted = true
		c.DeletedAt = at
		c.UpdatedAt = at
		if c.Type == domainconversation.TypeDirect && len(c.Participants) == 2 {
			delete(r.direct, domainconversation.DirectKey(c.Participants[0].UserID, c.Participants[1].UserID))
		}
	})
	return err
}

func (r *ConversationRepository) RecordMessage(ctx context.Context, id domainconversation.ID, messageID string, sender domainuser.ID, at time.Time) (*domainconversation.Conversation, error) {
	return r.mutate(id, func(c *domainconversation.Conversation) {
		if !at.Before(c.LastMessageAt) {
			c.LastMessageID = messageID
			c.LastMessageAt = at
		}
		for i := range c.Participants {
			if c.Participants[i].UserID != sender {
				c.Participants[i].UnreadCount++
			}
		}
	})
}

func (r *ConversationRepository) DecrementUnread(ctx context.Context, id domainconversation.ID, userID domainuser.ID) error {
	_, err := r.mutateParticipant(id, userID, func(p *domainconversation.Participant) {
		if p.UnreadCount > 0 {
			p.UnreadCount--
		}
	})
	return err
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, id domainconversation.ID, userID domainuser.ID) error {
	_, err := r.mutateParticipant(id, userID, func(p *domainconversation.Participant) {
		p.UnreadCount = 0
	})
	return err
}

func (r *ConversationRepository) AdvanceReadMarker(ctx context.Context, id domainconversation.ID, userID domainuser.ID, messageID string, at time.Time) error {
	_, err := r.mutateParticipant(id, userID, func(p *domainconversation.Participant) {
		if p.LastReadAt.IsZero() || !at.Before(p.LastReadAt) {
			p.LastReadMessageID = messageID
			p.LastReadAt = at
		}
	})
	return err
}

func (r *ConversationRepository) mutate(id domainconversation.ID, fn func(*domainconversation.Conversation)) (*domainconversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return nil, domainconversation.ErrNotFound
	}
	fn(c)
	return cloneConversation(c), nil
}

func (r *ConversationRepository) mutateParticipant(id domainconversation.ID, userID domainuser.ID, fn func(*domainconversation.Participant)) (*domainconversation.Conversation, error) {
	var found bool
	c, err := r.mutate(id, func(c *domainconversation.Conversation) {
		for i := range c.Participants {
			if c.Participants[i].UserID == userID {
				fn(&c.Participants[i])
				found = true
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainconversation.ErrNotParticipant
	}
	return c, nil
}

func cloneConversation(c *domainconversation.Conversation) *domainconversation.Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Participants = append([]domainconversation.Participant(nil), c.Participants...)
	cp.Admins = append([]domainuser.ID(nil), c.Admins...)
	cp.EventRecorder = events.EventRecorder{}
	return &cp
}

var _ domainconversation.Repository = (*ConversationRepository)(nil)
