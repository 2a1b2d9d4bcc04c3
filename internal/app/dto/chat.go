package dto

import (
	"time"

	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	domainuser "chatline/internal/domain/user"
)

type Participant struct {
	UserID            string     `json:"user_id"`
	Role              string     `json:"role"`
	JoinedAt          time.Time  `json:"joined_at"`
	LastReadMessageID string     `json:"last_read_message_id,omitempty"`
	LastReadAt        *time.Time `json:"last_read_at,omitempty"`
	UnreadCount       int        `json:"unread_count"`
}

type Settings struct {
	InvitePolicy      string `json:"invite_policy"`
	OnlyAdminsCanPost bool   `json:"only_admins_can_post"`
	SlowModeSeconds   int    `json:"slow_mode_seconds"`
}

// Conversation is the wire shape of a conversation. UnreadCount is the
// counter of the viewing user when one is known.
type Conversation struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Name          string        `json:"name,omitempty"`
	Description   string        `json:"description,omitempty"`
	Participants  []Participant `json:"participants"`
	Admins        []string      `json:"admins"`
	Settings      Settings      `json:"settings"`
	CreatedBy     string        `json:"created_by"`
	LastMessageID string        `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time    `json:"last_message_at,omitempty"`
	UnreadCount   int           `json:"unread_count"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type ConversationList struct {
	Items      []Conversation `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type Reaction struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	ReactedAt time.Time `json:"reacted_at"`
}

type Revision struct {
	Content  any       `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

type ChatMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Type           string        `json:"type"`
	Content        any           `json:"content"`
	ReadBy         []ReadReceipt `json:"read_by"`
	Reactions      []Reaction    `json:"reactions"`
	EditHistory    []Revision    `json:"edit_history,omitempty"`
	Edited         bool          `json:"edited"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Deleted        bool          `json:"deleted,omitempty"`
	DeletedBy      string        `json:"deleted_by,omitempty"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty"`
}

type ChatMessageList struct {
	Items      []ChatMessage `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// ReadResult reports which messages a mark-read call changed.
type ReadResult struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
	Updated        int      `json:"updated"`
}

func MapConversation(c *domainconversation.Conversation, viewer domainuser.ID) Conversation {
	if c == nil {
		return Conversation{}
	}
	participants := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		participants = append(participants, Participant{
			UserID:            string(p.UserID),
			Role:              string(p.Role),
			JoinedAt:          p.JoinedAt,
			LastReadMessageID: p.LastReadMessageID,
			LastReadAt:        timePtr(p.LastReadAt),
			UnreadCount:       p.UnreadCount,
		})
	}
	admins := make([]string, 0, len(c.Admins))
	for _, a := range c.Admins {
		admins = append(admins, string(a))
	}
	return Conversation{
		ID:           string(c.ID),
		Type:         string(c.Type),
		Name:         c.Name,
		Description:  c.Description,
		Participants: participants,
		Admins:       admins,
		Settings: Settings{
			InvitePolicy:      string(c.Settings.InvitePolicy),
			OnlyAdminsCanPost: c.Settings.OnlyAdminsCanPost,
			SlowModeSeconds:   c.Settings.AntiSpam.SlowModeSeconds,
		},
		CreatedBy:     string(c.CreatedBy),
		LastMessageID: c.LastMessageID,
		LastMessageAt: timePtr(c.LastMessageAt),
		UnreadCount:   c.UnreadFor(viewer),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// MapMessage renders m. Deleted messages keep their metadata but lose content.
func MapMessage(m *domainmessage.Message) ChatMessage {
	if m == nil {
		return ChatMessage{}
	}
	readBy := make([]ReadReceipt, 0, len(m.ReadBy))
	for _, r := range m.ReadBy {
		readBy = append(readBy, ReadReceipt{UserID: string(r.UserID), ReadAt: r.ReadAt})
	}
	reactions := MapReactions(m.Reactions)
	out := ChatMessage{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       string(m.SenderID),
		ReadBy:         readBy,
		Reactions:      reactions,
		Edited:         m.Edited(),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.Content != nil {
		out.Type = string(m.Content.Kind())
	}
	if m.Deleted {
		out.Deleted = true
		out.DeletedBy = string(m.DeletedBy)
		out.DeletedAt = timePtr(m.DeletedAt)
		return out
	}
	out.Content = m.Content
	for _, rev := range m.EditHistory {
		out.EditHistory = append(out.EditHistory, Revision{Content: rev.Content, EditedAt: rev.EditedAt})
	}
	return out
}

func MapReactions(reactions []domainmessage.Reaction) []Reaction {
	out := make([]Reaction, 0, len(reactions))
	for _, r := range reactions {
		out = append(out, Reaction{UserID: string(r.UserID), Emoji: r.Emoji, ReactedAt: r.ReactedAt})
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
