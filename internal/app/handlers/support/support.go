// Package support holds helpers shared by command and query handlers.
package support

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"chatline/internal/app/dto"
	"chatline/internal/app/outbox"
	"chatline/internal/app/policies"
	domainconversation "chatline/internal/domain/conversation"
	"chatline/internal/domain/shared/events"
	domainuser "chatline/internal/domain/user"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Env bundles the collaborators most handlers need.
type Env struct {
	Publisher policies.Publisher
	Outbox    outbox.Outbox
	Encoder   outbox.EventEncoder
	Logger    *slog.Logger
	Clock     func() time.Time
}

func (e Env) Now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

func (e Env) Log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Env) publisher() policies.Publisher {
	if e.Publisher != nil {
		return e.Publisher
	}
	return policies.NopPublisher{}
}

// RecordEvents hands evs to the outbox. The relay is best effort so failures
// are logged, never returned.
func (e Env) RecordEvents(ctx context.Context, evs []events.DomainEvent) {
	if err := outbox.RecordDomainEvents(ctx, e.Outbox, e.Encoder, evs); err != nil {
		e.Log().Warn("outbox record failed", "events", len(evs), "error", err)
	}
}

// ToUser delivers one event to every session of id. Failures are logged.
func (e Env) ToUser(ctx context.Context, id domainuser.ID, event string, payload any) {
	if err := e.publisher().PublishToUsers(ctx, []string{string(id)}, event, payload); err != nil {
		e.Log().Warn("realtime publish failed", "event", event, "user_id", string(id), "error", err)
	}
}

// ToRoom delivers one event to the conversation's room. Failures are logged.
func (e Env) ToRoom(ctx context.Context, id domainconversation.ID, event string, payload any) {
	if err := e.publisher().PublishToRoom(ctx, string(id), event, payload); err != nil {
		e.Log().Warn("realtime publish failed", "event", event, "conversation_id", string(id), "error", err)
	}
}

// ConversationUpdated sends conversation:updated to every participant of c and
// to extra users (for example, someone just removed). Each recipient sees
// their own unread counter.
func (e Env) ConversationUpdated(ctx context.Context, c *domainconversation.Conversation, extra ...domainuser.ID) {
	if c == nil {
		return
	}
	for _, id := range c.ParticipantIDs() {
		e.ToUser(ctx, id, dto.EventConversationUpdated, dto.ConversationUpdated{Conversation: dto.MapConversation(c, id)})
	}
	for _, id := range extra {
		if c.IsParticipant(id) {
			continue
		}
		e.ToUser(ctx, id, dto.EventConversationUpdated, dto.ConversationUpdated{Conversation: dto.MapConversation(c, "")})
	}
}

// PageSize clamps a requested limit.
func PageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}

// Cursor encodes a timestamp cursor; ParseCursor reverses it.
func Cursor(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func ParseCursor(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// UserIDs converts raw identifiers.
func UserIDs(raw []string) []domainuser.ID {
	out := make([]domainuser.ID, 0, len(raw))
	for _, id := range raw {
		out = append(out, domainuser.ID(id))
	}
	return out
}
