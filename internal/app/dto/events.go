package dto

import "time"

// Server to client real-time event names.
const (
	EventUsersOnline         = "users:online"
	EventUserStatus          = "user:status"
	EventMessageNew          = "message:new"
	EventConversationUpdated = "conversation:updated"
	EventMessageRead         = "message:read"
	EventMessagesRead        = "messages_read"
	EventMessageUpdated      = "message:updated"
	EventMessageDeleted      = "message:deleted"
	EventMessageReaction     = "message:reaction"
	EventTypingStart         = "typing:start"
	EventTypingStop          = "typing:stop"
	EventError               = "error"
)

type UserStatus struct {
	UserID   string     `json:"userId"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type MessageNew struct {
	Message        ChatMessage `json:"message"`
	ConversationID string      `json:"conversationId"`
}

type ConversationUpdated struct {
	Conversation Conversation `json:"conversation"`
}

type MessageRead struct {
	MessageID      string    `json:"messageId"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
}

type MessagesRead struct {
	MessageIDs     []string  `json:"messageIds"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
}

type MessageUpdated struct {
	Message        ChatMessage `json:"message"`
	ConversationID string      `json:"conversationId"`
}

type MessageDeleted struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	DeletedBy      string `json:"deletedBy"`
}

type MessageReaction struct {
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	Emoji          string     `json:"emoji"`
	Reactions      []Reaction `json:"reactions"`
}

type Typing struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

type Error struct {
	Message string `json:"message"`
}
