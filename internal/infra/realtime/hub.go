package realtime

import (
	"context"
	"log/slog"

	"chatline/internal/app/dto"
	"chatline/internal/app/policies"
)

// TypingScope selects who receives typing indicators.
type TypingScope string

const (
	TypingRoom   TypingScope = "room"
	TypingGlobal TypingScope = "global"
)

// Hub fans events out to live sessions. It is constructed once and handed to
// every component that publishes. Recipients without sessions are skipped.
type Hub struct {
	directory Directory
	rooms     *Rooms
	typing    TypingScope
	logger    *slog.Logger
}

func NewHub(directory Directory, rooms *Rooms, typing TypingScope, logger *slog.Logger) *Hub {
	if typing != TypingGlobal {
		typing = TypingRoom
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{directory: directory, rooms: rooms, typing: typing, logger: logger}
}

func (h *Hub) PublishToUsers(_ context.Context, userIDs []string, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	for _, id := range userIDs {
		h.deliver(h.directory.SessionsFor(id), frame, nil)
	}
	return nil
}

func (h *Hub) PublishToRoom(_ context.Context, conversationID string, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	h.deliver(h.rooms.Members(conversationID), frame, nil)
	return nil
}

// Broadcast sends event to every connected session except the excluded one.
func (h *Hub) Broadcast(event string, payload any, except *Session) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	h.deliver(h.directory.All(), frame, except)
	return nil
}

// Send delivers one event to a single session.
func (h *Hub) Send(s *Session, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	h.deliver([]*Session{s}, frame, nil)
	return nil
}

// Typing relays a transient typing signal. Nothing is persisted and no
// membership is checked.
func (h *Hub) Typing(from *Session, event string, conversationID string) error {
	frame, err := encodeFrame(event, dto.Typing{UserID: from.UserID(), ConversationID: conversationID})
	if err != nil {
		return err
	}
	if h.typing == TypingGlobal {
		h.deliver(h.directory.All(), frame, from)
		return nil
	}
	h.deliver(h.rooms.Members(conversationID), frame, from)
	return nil
}

func (h *Hub) deliver(targets []*Session, frame []byte, except *Session) {
	for _, s := range targets {
		if s == except {
			continue
		}
		if !s.Enqueue(frame) {
			h.logger.Debug("realtime target gone", "session_id", s.ID(), "user_id", s.UserID())
		}
	}
}

var _ policies.Publisher = (*Hub)(nil)
