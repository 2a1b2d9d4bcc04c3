package realtime

import "sync"

// Rooms tracks which sessions receive broadcasts for which conversation.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]*Session
	joined  map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]*Session),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join subscribes s to the conversation and reports whether it was new.
func (r *Rooms) Join(s *Session, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.members[conversationID]
	if !ok {
		room = make(map[string]*Session)
		r.members[conversationID] = room
	}
	if _, ok := room[s.ID()]; ok {
		return false
	}
	room[s.ID()] = s
	rooms, ok := r.joined[s.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[s.ID()] = rooms
	}
	rooms[conversationID] = struct{}{}
	return true
}

func (r *Rooms) Leave(s *Session, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(s.ID(), conversationID)
}

// LeaveAll drops every subscription of s.
func (r *Rooms) LeaveAll(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conversationID := range r.joined[s.ID()] {
		r.leaveLocked(s.ID(), conversationID)
	}
	delete(r.joined, s.ID())
}

func (r *Rooms) leaveLocked(sessionID, conversationID string) bool {
	room, ok := r.members[conversationID]
	if !ok {
		return false
	}
	if _, ok := room[sessionID]; !ok {
		return false
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(r.members, conversationID)
	}
	if rooms, ok := r.joined[sessionID]; ok {
		delete(rooms, conversationID)
		if len(rooms) == 0 {
			delete(r.joined, sessionID)
		}
	}
	return true
}

func (r *Rooms) Members(conversationID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.members[conversationID]
	out := make([]*Session, 0, len(room))
	for _, s := range room {
		out = append(out, s)
	}
	return out
}

func (r *Rooms) Joined(s *Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.joined[s.ID()]))
	for id := range r.joined[s.ID()] {
		out = append(out, id)
	}
	return out
}
