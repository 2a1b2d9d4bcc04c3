package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatline/internal/app/dto"
	domainpresence "chatline/internal/domain/presence"
	domainuser "chatline/internal/domain/user"
)

// Tracker turns registry changes into persisted online/offline transitions
// and status broadcasts. Transitions of one user are serialized so a quick
// reconnect cannot leave the stored status behind the registry.
type Tracker struct {
	directory Directory
	rooms     *Rooms
	store     domainpresence.Store
	hub       *Hub
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func NewTracker(directory Directory, rooms *Rooms, store domainpresence.Store, hub *Hub, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		directory: directory,
		rooms:     rooms,
		store:     store,
		hub:       hub,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     make(map[string]*userLock),
	}
}

// Connect binds s. The first session of a user marks them online and tells
// everyone else; every new session then gets the snapshot of online users.
// The online broadcast is sent only once the status is stored.
func (t *Tracker) Connect(ctx context.Context, s *Session) error {
	unlock := t.lock(s.UserID())
	first := t.directory.Bind(s)
	if first {
		now := t.now()
		if err := t.store.SetStatus(ctx, domainuser.ID(s.UserID()), domainuser.StatusOnline, now); err != nil {
			t.logger.Error("presence persist failed", "user_id", s.UserID(), "status", "online", "error", err)
		} else {
			_ = t.hub.Broadcast(dto.EventUserStatus, dto.UserStatus{UserID: s.UserID(), Status: string(domainuser.StatusOnline)}, s)
		}
	}
	unlock()

	entries, err := t.store.Online(ctx)
	if err != nil {
		return err
	}
	snapshot := make([]dto.OnlineUser, 0, len(entries))
	for _, e := range entries {
		snapshot = append(snapshot, dto.OnlineUser{UserID: string(e.UserID), Status: string(e.Status)})
	}
	return t.hub.Send(s, dto.EventUsersOnline, snapshot)
}

// Disconnect unbinds s and drops its rooms. Removing the last session of a
// user persists offline with a last-seen time and tells everyone.
func (t *Tracker) Disconnect(ctx context.Context, s *Session) {
	t.rooms.LeaveAll(s)
	unlock := t.lock(s.UserID())
	defer unlock()
	if !t.directory.Unbind(s) {
		return
	}
	now := t.now()
	if err := t.store.SetStatus(ctx, domainuser.ID(s.UserID()), domainuser.StatusOffline, now); err != nil {
		t.logger.Error("presence persist failed", "user_id", s.UserID(), "status", "offline", "error", err)
	}
	_ = t.hub.Broadcast(dto.EventUserStatus, dto.UserStatus{UserID: s.UserID(), Status: string(domainuser.StatusOffline), LastSeen: &now}, nil)
}

func (t *Tracker) lock(userID string) func() {
	t.mu.Lock()
	l, ok := t.locks[userID]
	if !ok {
		l = &userLock{}
		t.locks[userID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, userID)
		}
		t.mu.Unlock()
	}
}
