package user

import (
	"context"
	"strings"
	"time"

	"chatline/internal/domain/shared/errkind"
)

var (
	ErrIDRequired          = errkind.New(errkind.ErrValidation, "user: id is required")
	ErrEmailRequired       = errkind.New(errkind.ErrValidation, "user: email is required")
	ErrPasswordHashMissing = errkind.New(errkind.ErrValidation, "user: password hash is required")
	ErrNameRequired        = errkind.New(errkind.ErrValidation, "user: name is required")
	ErrEmailAlreadyUsed    = errkind.New(errkind.ErrConflict, "user: email already used")
	ErrNotFound            = errkind.New(errkind.ErrNotFound, "user: not found")
)

type ID string

// Status is the persisted presence state of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

type User struct {
	ID           ID
	Email        string
	Name         string
	AvatarURL    string
	PasswordHash string
	Blocked      bool
	Status       Status
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Repository interface {
	ByID(ctx context.Context, id ID) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
	Save(ctx context.Context, user *User) error
}

type CreateParams struct {
	ID           ID
	Email        string
	Name         string
	AvatarURL    string
	PasswordHash string
	CreatedAt    time.Time
}

func NewUser(params CreateParams) (*User, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	email := normalizeEmail(params.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	if strings.TrimSpace(params.PasswordHash) == "" {
		return nil, ErrPasswordHashMissing
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	now := params.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	return &User{
		ID:           ID(id),
		Email:        email,
		Name:         name,
		AvatarURL:    strings.TrimSpace(params.AvatarURL),
		PasswordHash: params.PasswordHash,
		Status:       StatusOffline,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (u *User) UpdateName(name string, now time.Time) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrNameRequired
	}
	u.Name = trimmed
	u.touch(now)
	return nil
}

func (u *User) Online() bool {
	return u.Status == StatusOnline
}

func (u *User) touch(now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	u.UpdatedAt = now.UTC()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeEmail lowercases and trims an address the way repositories index it.
func NormalizeEmail(email string) string {
	return normalizeEmail(email)
}
