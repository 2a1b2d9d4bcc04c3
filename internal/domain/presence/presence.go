// Package presence describes the durable online/offline state of users.
// The persisted store is the source of truth; live connection tracking only
// accelerates routing.
package presence

import (
	"context"
	"time"

	"chatline/internal/domain/user"
)

// Entry is a single user's presence snapshot.
type Entry struct {
	UserID   user.ID
	Status   user.Status
	LastSeen time.Time
}

type Store interface {
	SetStatus(ctx context.Context, id user.ID, status user.Status, at time.Time) error
	Online(ctx context.Context) ([]Entry, error)
	// ResetOnline marks every online user offline as of at and reports how
	// many changed. It runs at startup, before any session is accepted.
	ResetOnline(ctx context.Context, at time.Time) (int, error)
}
