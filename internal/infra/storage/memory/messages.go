package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	"chatline/internal/domain/shared/events"
	domainuser "chatline/internal/domain/user"
)

var errMessageExists = errors.New("memory: message already exists")

// MessageRepository keeps messages in memory. Receipt and reaction updates
// are conditional on the current document, like their Mongo counterparts.
type MessageRepository struct {
	mu             sync.RWMutex
	items          map[domainmessage.ID]*domainmessage.Message
	byConversation map[domainconversation.ID][]domainmessage.ID
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		items:          make(map[domainmessage.ID]*domainmessage.Message),
		byConversation: make(map[domainconversation.ID][]domainmessage.ID),
	}
}

func (r *MessageRepository) Create(ctx context.Context, m *domainmessage.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[m.ID]; ok {
		return errMessageExists
	}
	r.items[m.ID] = cloneMessage(m)
	r.byConversation[m.ConversationID] = append(r.byConversation[m.ConversationID], m.ID)
	return nil
}

func (r *MessageRepository) ByID(ctx context.Context, id domainmessage.ID) (*domainmessage.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[id]
	if !ok {
		return nil, domainmessage.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID domainconversation.ID, q domainmessage.ListQuery) ([]*domainmessage.Message, error) {
	r.mu.RLock()
	out := make([]*domainmessage.Message, 0)
	for _, id := range r.byConversation[conversationID] {
		m := r.items[id]
		if !q.Before.IsZero() && !m.CreatedAt.Before(q.Before) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MessageRepository) AddReadReceipt(ctx context.Context, id domainmessage.ID, userID domainuser.ID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[id]
	if !ok {
		return false, domainmessage.ErrNotFound
	}
	return m.MarkRead(userID, at), nil
}

func (r *MessageRepository) UnreadAmong(ctx context.Context, conversationID domainconversation.ID, ids []domainmessage.ID, userID domainuser.ID) ([]*domainmessage.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[domainmessage.ID]struct{}, len(ids))
	out := make([]*domainmessage.Message, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		m, ok := r.items[id]
		if !ok || m.ConversationID != conversationID || m.IsReadBy(userID) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (r *MessageRepository) SetReaction(ctx context.Context, id domainmessage.ID, reaction domainmessage.Reaction) (*domainmessage.Message, error) {
	return r.mutate(id, func(m *domainmessage.Message) {
		m.Reactions = domainmessage.ApplyReaction(m.Reactions, reaction)
	})
}

func (r *MessageRepository) ReplaceContent(ctx context.Context, id domainmessage.ID, previous domainmessage.Revision, next domainmessage.Content, at time.Time) (*domainmessage.Message, error) {
	return r.mutate(id, func(m *domainmessage.Message) {
		m.EditHistory = append(m.EditHistory, previous)
		m.Content = next
		m.UpdatedAt = at
	})
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id domainmessage.ID, by domainuser.ID, at time.Time) (*domainmessage.Message, error) {
	return r.mutate(id, func(m *domainmessage.Message) {
		m.Deleted = true
		m.DeletedBy = by
		m.DeletedAt = at
		m.UpdatedAt = at
	})
}

func (r *MessageRepository) mutate(id domainmessage.ID, fn func(*domainmessage.Message)) (*domainmessage.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[id]
	if !ok {
		return nil, domainmessage.ErrNotFound
	}
	fn(m)
	return cloneMessage(m), nil
}

func cloneMessage(m *domainmessage.Message) *domainmessage.Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.ReadBy = append([]domainmessage.ReadReceipt(nil), m.ReadBy...)
	cp.Reactions = append([]domainmessage.Reaction(nil), m.Reactions...)
	cp.EditHistory = append([]domainmessage.Revision(nil), m.EditHistory...)
	cp.EventRecorder = events.EventRecorder{}
	return &cp
}

var _ domainmessage.Repository = (*MessageRepository)(nil)
