package policies

import "context"

// Publisher delivers real-time events to live sessions. Implementations must
// treat recipients without sessions as a silent skip.
type Publisher interface {
	// PublishToUsers sends event to every session of every listed user.
	PublishToUsers(ctx context.Context, userIDs []string, event string, payload any) error
	// PublishToRoom sends event to every session joined to the conversation.
	PublishToRoom(ctx context.Context, conversationID string, event string, payload any) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishToUsers(context.Context, []string, string, any) error { return nil }

func (NopPublisher) PublishToRoom(context.Context, string, string, any) error { return nil }
