package auth

import (
	"context"
	"strings"
	"time"

	"chatline/internal/domain/shared/errkind"
	"chatline/internal/domain/user"
)

var (
	ErrTokenRequired   = errkind.New(errkind.ErrUnauthenticated, "auth: token is required")
	ErrUserRequired    = errkind.New(errkind.ErrValidation, "auth: user is required")
	ErrTTLInvalid      = errkind.New(errkind.ErrValidation, "auth: ttl must be positive")
	ErrSessionNotFound = errkind.New(errkind.ErrUnauthenticated, "auth: session not found")
)

type Token string

// Session is an issued credential. It is unrelated to live transport sessions.
type Session struct {
	Token     Token
	UserID    user.ID
	CreatedAt time.Time
	ExpiresAt time.Time
}

type CreateSessionParams struct {
	Token  Token
	UserID user.ID
	TTL    time.Duration
	Now    time.Time
}

func NewSession(params CreateSessionParams) (*Session, error) {
	token := strings.TrimSpace(string(params.Token))
	if token == "" {
		return nil, ErrTokenRequired
	}
	if strings.TrimSpace(string(params.UserID)) == "" {
		return nil, ErrUserRequired
	}
	if params.TTL <= 0 {
		return nil, ErrTTLInvalid
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return &Session{
		Token:     Token(token),
		UserID:    params.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(params.TTL),
	}, nil
}

func (s *Session) Expired(at time.Time) bool {
	if at.IsZero() {
		at = time.Now()
	}
	return !s.ExpiresAt.After(at.UTC())
}

type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	Get(ctx context.Context, token Token) (*Session, error)
	Delete(ctx context.Context, token Token) error
	DeleteByUser(ctx context.Context, userID user.ID) error
}
