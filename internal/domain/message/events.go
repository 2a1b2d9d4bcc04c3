package message

import (
	"time"

	"chatline/internal/domain/conversation"
	"chatline/internal/domain/user"
)

type Sent struct {
	MessageID      ID
	ConversationID conversation.ID
	SenderID       user.ID
	Kind           Kind
	At             time.Time
}

func (e Sent) EventName() string     { return "message.sent" }
func (e Sent) AggregateID() string   { return string(e.MessageID) }
func (e Sent) OccurredAt() time.Time { return e.At }

type Read struct {
	MessageID      ID
	ConversationID conversation.ID
	UserID         user.ID
	At             time.Time
}

func (e Read) EventName() string     { return "message.read" }
func (e Read) AggregateID() string   { return string(e.MessageID) }
func (e Read) OccurredAt() time.Time { return e.At }

// BatchRead is emitted once per bulk mark-read call, keyed by conversation.
type BatchRead struct {
	ConversationID conversation.ID
	UserID         user.ID
	MessageIDs     []ID
	At             time.Time
}

func (e BatchRead) EventName() string     { return "messages.read" }
func (e BatchRead) AggregateID() string   { return string(e.ConversationID) }
func (e BatchRead) OccurredAt() time.Time { return e.At }

type Edited struct {
	MessageID      ID
	ConversationID conversation.ID
	SenderID       user.ID
	At             time.Time
}

func (e Edited) EventName() string     { return "message.edited" }
func (e Edited) AggregateID() string   { return string(e.MessageID) }
func (e Edited) OccurredAt() time.Time { return e.At }

type Reacted struct {
	MessageID      ID
	ConversationID conversation.ID
	UserID         user.ID
	Emoji          string
	At             time.Time
}

func (e Reacted) EventName() string     { return "message.reacted" }
func (e Reacted) AggregateID() string   { return string(e.MessageID) }
func (e Reacted) OccurredAt() time.Time { return e.At }

type Removed struct {
	MessageID      ID
	ConversationID conversation.ID
	DeletedBy      user.ID
	At             time.Time
}

func (e Removed) EventName() string     { return "message.deleted" }
func (e Removed) AggregateID() string   { return string(e.MessageID) }
func (e Removed) OccurredAt() time.Time { return e.At }
