package conversation

import (
	"time"

	"chatline/internal/domain/user"
)

type Created struct {
	ConversationID ID
	Type           Type
	CreatedBy      user.ID
	Participants   []user.ID
	At             time.Time
}

func (e Created) EventName() string     { return "conversation.created" }
func (e Created) AggregateID() string   { return string(e.ConversationID) }
func (e Created) OccurredAt() time.Time { return e.At }

type ParticipantsChanged struct {
	ConversationID ID
	Actor          user.ID
	Added          []user.ID
	Removed        []user.ID
	At             time.Time
}

func (e ParticipantsChanged) EventName() string     { return "conversation.participants_changed" }
func (e ParticipantsChanged) AggregateID() string   { return string(e.ConversationID) }
func (e ParticipantsChanged) OccurredAt() time.Time { return e.At }

type Updated struct {
	ConversationID ID
	Actor          user.ID
	At             time.Time
}

func (e Updated) EventName() string     { return "conversation.updated" }
func (e Updated) AggregateID() string   { return string(e.ConversationID) }
func (e Updated) OccurredAt() time.Time { return e.At }

type Deleted struct {
	ConversationID ID
	Actor          user.ID
	At             time.Time
}

func (e Deleted) EventName() string     { return "conversation.deleted" }
func (e Deleted) AggregateID() string   { return string(e.ConversationID) }
func (e Deleted) OccurredAt() time.Time { return e.At }
