// Package realtime owns the live connection state of this process: which
// users are connected, which conversations each session listens to, and the
// websocket gateway that feeds inbound events to the command bus.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultSendBuffer = 64

// Session is one live transport connection of an authenticated user. Frames
// are queued on a bounded buffer drained by a single writer.
type Session struct {
	id          string
	userID      string
	connectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(userID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Session{
		id:          uuid.NewString(),
		userID:      userID,
		connectedAt: time.Now().UTC(),
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) UserID() string         { return s.userID }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Enqueue queues one encoded frame. It reports false when the session is
// closed. A full queue means the peer cannot keep up; the session is closed.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		s.Close()
		return false
	}
}

// Outbound yields queued frames for the writer goroutine.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
