package message

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"chatline/internal/domain/conversation"
	"chatline/internal/domain/shared/errkind"
	"chatline/internal/domain/shared/events"
	"chatline/internal/domain/user"
)

var (
	ErrNotFound          = errkind.New(errkind.ErrNotFound, "message: not found")
	ErrIDRequired        = errkind.New(errkind.ErrValidation, "message: id is required")
	ErrSenderRequired    = errkind.New(errkind.ErrValidation, "message: sender is required")
	ErrContentRequired   = errkind.New(errkind.ErrValidation, "message: content is required")
	ErrNotSender         = errkind.New(errkind.ErrForbidden, "message: only the sender can do this")
	ErrDeleted           = errkind.New(errkind.ErrValidation, "message: message was deleted")
	ErrEditKind          = errkind.New(errkind.ErrValidation, "message: only text messages can be edited")
	ErrEmojiTooLong      = errkind.New(errkind.ErrValidation, "message: reaction must be at most 16 characters")
	ErrWrongConversation = errkind.New(errkind.ErrValidation, "message: message does not belong to conversation")
	ErrDeleteForbidden   = errkind.New(errkind.ErrForbidden, "message: only the sender or a moderator can delete")
	ErrSlowMode          = errkind.New(errkind.ErrValidation, "message: slow mode is on, wait before sending again")
)

type ID string

// ReadReceipt records that a user has read a message. At most one per user.
type ReadReceipt struct {
	UserID user.ID
	ReadAt time.Time
}

// Reaction is a user's current reaction. At most one per user; latest wins.
type Reaction struct {
	UserID    user.ID
	Emoji     string
	ReactedAt time.Time
}

// Revision is a prior content snapshot kept in the append-only edit history.
type Revision struct {
	Content  Content
	EditedAt time.Time
}

// Message belongs to exactly one conversation, referenced by identifier only.
type Message struct {
	ID             ID
	ConversationID conversation.ID
	SenderID       user.ID
	Content        Content
	ReadBy         []ReadReceipt
	Reactions      []Reaction
	EditHistory    []Revision
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Deleted        bool
	DeletedBy      user.ID
	DeletedAt      time.Time
	events.EventRecorder
}

// ListQuery pages a conversation's messages newest first.
type ListQuery struct {
	Limit  int
	Before time.Time
}

// Repository persists messages. Read receipts and reactions are applied as
// conditional single-document updates.
type Repository interface {
	Create(ctx context.Context, m *Message) error
	ByID(ctx context.Context, id ID) (*Message, error)
	ListByConversation(ctx context.Context, conversationID conversation.ID, q ListQuery) ([]*Message, error)
	// AddReadReceipt appends a receipt unless the user already has one and
	// reports whether anything changed.
	AddReadReceipt(ctx context.Context, id ID, userID user.ID, at time.Time) (bool, error)
	// UnreadAmong returns the subset of ids that belong to the conversation and
	// are not yet read by userID.
	UnreadAmong(ctx context.Context, conversationID conversation.ID, ids []ID, userID user.ID) ([]*Message, error)
	SetReaction(ctx context.Context, id ID, reaction Reaction) (*Message, error)
	ReplaceContent(ctx context.Context, id ID, previous Revision, next Content, at time.Time) (*Message, error)
	SoftDelete(ctx context.Context, id ID, by user.ID, at time.Time) (*Message, error)
}

type CreateParams struct {
	ID             ID
	ConversationID conversation.ID
	SenderID       user.ID
	Content        Content
	Now            time.Time
}

// NewMessage builds a message already read by its sender.
func NewMessage(params CreateParams) (*Message, error) {
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, ErrIDRequired
	}
	if strings.TrimSpace(string(params.SenderID)) == "" {
		return nil, ErrSenderRequired
	}
	if params.Content == nil {
		return nil, ErrContentRequired
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	m := &Message{
		ID:             params.ID,
		ConversationID: params.ConversationID,
		SenderID:       params.SenderID,
		Content:        params.Content,
		ReadBy:         []ReadReceipt{{UserID: params.SenderID, ReadAt: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.Record(Sent{MessageID: m.ID, ConversationID: m.ConversationID, SenderID: m.SenderID, Kind: m.Content.Kind(), At: now})
	return m, nil
}

func (m *Message) IsReadBy(id user.ID) bool {
	for _, r := range m.ReadBy {
		if r.UserID == id {
			return true
		}
	}
	return false
}

// MarkRead appends a receipt for id unless one exists and reports whether it did.
func (m *Message) MarkRead(id user.ID, at time.Time) bool {
	if m.IsReadBy(id) {
		return false
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{UserID: id, ReadAt: at.UTC()})
	return true
}

// React sets or clears (empty emoji) the reaction of id.
func (m *Message) React(id user.ID, emoji string, at time.Time) (Reaction, error) {
	if m.Deleted {
		return Reaction{}, ErrDeleted
	}
	emoji = strings.TrimSpace(emoji)
	if utf8.RuneCountInString(emoji) > 16 {
		return Reaction{}, ErrEmojiTooLong
	}
	r := Reaction{UserID: id, Emoji: emoji, ReactedAt: at.UTC()}
	m.Reactions = ApplyReaction(m.Reactions, r)
	m.Record(Reacted{MessageID: m.ID, ConversationID: m.ConversationID, UserID: id, Emoji: emoji, At: r.ReactedAt})
	return r, nil
}

// ApplyReaction returns reactions with any previous entry of r.UserID replaced by r.
// An empty emoji removes the user's reaction.
func ApplyReaction(reactions []Reaction, r Reaction) []Reaction {
	out := make([]Reaction, 0, len(reactions)+1)
	for _, existing := range reactions {
		if existing.UserID != r.UserID {
			out = append(out, existing)
		}
	}
	if r.Emoji != "" {
		out = append(out, r)
	}
	return out
}

// Edit replaces the text of a message and returns the snapshot of the prior content.
func (m *Message) Edit(actor user.ID, next Content, at time.Time) (Revision, error) {
	if m.Deleted {
		return Revision{}, ErrDeleted
	}
	if actor != m.SenderID {
		return Revision{}, ErrNotSender
	}
	if m.Content.Kind() != KindText || next == nil || next.Kind() != KindText {
		return Revision{}, ErrEditKind
	}
	if err := next.validate(); err != nil {
		return Revision{}, err
	}
	at = at.UTC()
	prev := Revision{Content: m.Content, EditedAt: at}
	m.EditHistory = append(m.EditHistory, prev)
	m.Content = next
	m.UpdatedAt = at
	m.Record(Edited{MessageID: m.ID, ConversationID: m.ConversationID, SenderID: actor, At: at})
	return prev, nil
}

// Delete soft-deletes the message. Authorization is the caller's concern
// since moderators may delete messages of others.
func (m *Message) Delete(actor user.ID, at time.Time) error {
	if m.Deleted {
		return ErrDeleted
	}
	at = at.UTC()
	m.Deleted = true
	m.DeletedBy = actor
	m.DeletedAt = at
	m.UpdatedAt = at
	m.Record(Removed{MessageID: m.ID, ConversationID: m.ConversationID, DeletedBy: actor, At: at})
	return nil
}

// Edited reports whether the message was ever edited.
func (m *Message) Edited() bool {
	return len(m.EditHistory) > 0
}

// Newest returns the most recently created message of ms, nil for an empty slice.
func Newest(ms []*Message) *Message {
	var newest *Message
	for _, m := range ms {
		if newest == nil || m.CreatedAt.After(newest.CreatedAt) {
			newest = m
		}
	}
	return newest
}
