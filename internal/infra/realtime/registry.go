package realtime

import "sync"

// Directory maps identities to their live sessions. Registry is the
// process-local implementation; a shared directory would back multi-instance
// deployments.
type Directory interface {
	// Bind records s and reports whether it is the first session of its user.
	Bind(s *Session) bool
	// Unbind removes exactly s and reports whether it was the user's last one.
	Unbind(s *Session) bool
	SessionsFor(userID string) []*Session
	IsOnline(userID string) bool
	All() []*Session
}

type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]map[string]*Session)}
}

func (r *Registry) Bind(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, ok := r.byUser[s.UserID()]
	if !ok {
		sessions = make(map[string]*Session)
		r.byUser[s.UserID()] = sessions
	}
	sessions[s.ID()] = s
	return len(sessions) == 1
}

func (r *Registry) Unbind(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, ok := r.byUser[s.UserID()]
	if !ok {
		return false
	}
	if _, ok := sessions[s.ID()]; !ok {
		return false
	}
	delete(sessions, s.ID())
	if len(sessions) > 0 {
		return false
	}
	delete(r.byUser, s.UserID())
	return true
}

func (r *Registry) SessionsFor(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.byUser[userID]
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, sessions := range r.byUser {
		for _, s := range sessions {
			out = append(out, s)
		}
	}
	return out
}

var _ Directory = (*Registry)(nil)
