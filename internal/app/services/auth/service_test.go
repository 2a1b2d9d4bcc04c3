package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domainauth "chatline/internal/domain/auth"
	"chatline/internal/domain/shared/errkind"
	domainuser "chatline/internal/domain/user"
	"chatline/internal/infra/storage/memory"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "plain:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type counterTokens struct{ n int }

func (c *counterTokens) NewToken() (string, error) {
	c.n++
	return fmt.Sprintf("tok-%d", c.n), nil
}

func newService() (*Service, *memory.UserRepository, *memory.SessionStore) {
	users := memory.NewUserRepository()
	sessions := memory.NewSessionStore()
	return &Service{
		Users:     users,
		Sessions:  sessions,
		Passwords: plainHasher{},
		Tokens:    &counterTokens{},
	}, users, sessions
}

func TestRegisterLoginResolveLogout(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterParams{Email: " Alice@Chatline.Local ", Name: "Alice", Password: "correct horse"})
	if err != nil {
		t.Fatal(err)
	}
	if reg.User.Email != "alice@chatline.local" || reg.Token == "" {
		t.Fatalf("registered = %+v", reg)
	}
	if _, err := svc.Register(ctx, RegisterParams{Email: "alice@chatline.local", Name: "Other", Password: "correct horse"}); !errors.Is(err, domainuser.ErrEmailAlreadyUsed) {
		t.Fatalf("duplicate err = %v", err)
	}

	if _, err := svc.Login(ctx, LoginParams{Email: "alice@chatline.local", Password: "wrong password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := svc.Login(ctx, LoginParams{Email: "nobody@chatline.local", Password: "correct horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email err = %v", err)
	}
	login, err := svc.Login(ctx, LoginParams{Email: "ALICE@chatline.local", Password: "correct horse"})
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := svc.ResolveToken(ctx, login.Token)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.User.ID != reg.User.ID {
		t.Fatalf("resolved %s, want %s", resolved.User.ID, reg.User.ID)
	}

	if err := svc.Logout(ctx, login.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveToken(ctx, login.Token); errkind.Of(err) != errkind.ErrUnauthenticated {
		t.Fatalf("resolve after logout err = %v", err)
	}
	if _, err := svc.ResolveToken(ctx, reg.Token); err != nil {
		t.Fatalf("other sessions survive logout: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	cases := []struct {
		name   string
		params RegisterParams
		want   error
	}{
		{"no email", RegisterParams{Name: "A", Password: "long enough"}, domainuser.ErrEmailRequired},
		{"no name", RegisterParams{Email: "a@b.c", Password: "long enough"}, domainuser.ErrNameRequired},
		{"short password", RegisterParams{Email: "a@b.c", Name: "A", Password: "short"}, ErrPasswordTooShort},
		{"long password", RegisterParams{Email: "a@b.c", Name: "A", Password: strings.Repeat("x", 73)}, ErrPasswordTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestResolveRejectsExpiredAndOrphanedSessions(t *testing.T) {
	svc, users, sessions := newService()
	ctx := context.Background()

	if _, err := svc.ResolveToken(ctx, "  "); !errors.Is(err, domainauth.ErrTokenRequired) {
		t.Fatalf("blank token err = %v", err)
	}

	reg, err := svc.Register(ctx, RegisterParams{Email: "bob@chatline.local", Name: "Bob", Password: "password1"})
	if err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := sessions.Save(ctx, &domainauth.Session{Token: "stale", UserID: reg.User.ID, CreatedAt: past.Add(-time.Hour), ExpiresAt: past}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveToken(ctx, "stale"); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("expired err = %v", err)
	}
	if _, err := sessions.Get(ctx, "stale"); err == nil {
		t.Fatal("expired session should be deleted")
	}

	future := time.Now().Add(time.Hour)
	if err := sessions.Save(ctx, &domainauth.Session{Token: "orphan", UserID: "ghost", CreatedAt: time.Now(), ExpiresAt: future}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveToken(ctx, "orphan"); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("orphan err = %v", err)
	}

	blocked, _ := users.ByID(ctx, reg.User.ID)
	blocked.Blocked = true
	if err := users.Save(ctx, blocked); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveToken(ctx, reg.Token); !errors.Is(err, ErrUserBlocked) {
		t.Fatalf("blocked err = %v", err)
	}
}
