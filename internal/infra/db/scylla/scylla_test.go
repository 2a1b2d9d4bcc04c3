package scylla

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	"chatline/internal/infra/config"
)

func TestKeyspacePattern(t *testing.T) {
	for name, ok := range map[string]bool{
		"chatline_messages": true,
		"Chat1":             true,
		"chat-line":         false,
		"chat; DROP":        false,
		"":                  false,
	} {
		if got := keyspacePattern.MatchString(name); got != ok {
			t.Errorf("keyspace %q valid = %v, want %v", name, got, ok)
		}
	}
	_, err := NewSession(context.Background(), config.Config{ScyllaKeyspace: "bad-name"}, nil)
	if err == nil || !strings.Contains(err.Error(), "invalid keyspace") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewClusterSettings(t *testing.T) {
	cfg := config.Config{
		ScyllaHosts:       []string{"a:9042", "b:9042"},
		ScyllaTimeout:     3 * time.Second,
		ScyllaConsistency: gocql.LocalQuorum,
		ScyllaUsername:    "chat",
		ScyllaPassword:    "secret",
	}
	cluster := newCluster(cfg, "ks")
	if len(cluster.Hosts) != 2 || cluster.Keyspace != "ks" {
		t.Fatalf("cluster = %+v", cluster)
	}
	if cluster.Consistency != gocql.LocalQuorum || cluster.Timeout != 3*time.Second {
		t.Fatalf("consistency %v timeout %v", cluster.Consistency, cluster.Timeout)
	}
	auth, ok := cluster.Authenticator.(gocql.PasswordAuthenticator)
	if !ok || auth.Username != "chat" {
		t.Fatalf("authenticator = %#v", cluster.Authenticator)
	}
	cfg.ScyllaUsername = ""
	if newCluster(cfg, "").Authenticator != nil {
		t.Fatal("anonymous cluster must not carry credentials")
	}
}

type fakeRows struct {
	rows [][]any
}

func (f *fakeRows) Scan(dest ...interface{}) bool {
	if len(f.rows) == 0 {
		return false
	}
	row := f.rows[0]
	f.rows = f.rows[1:]
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		case *bool:
			*d = v.(bool)
		}
	}
	return true
}

func TestScanMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := &fakeRows{rows: [][]any{
		{"m1", at, "alice", "text", []byte(`{"text":"hi"}`), at, false, "", time.Time{}},
		{"m2", at, "bob", "sticker", []byte(`{}`), at, true, "bob", at},
	}}
	m, ok := scanMessage(rows, "c1")
	if !ok || m.ID != "m1" || m.ConversationID != "c1" || m.SenderID != "alice" {
		t.Fatalf("first = %+v", m)
	}
	if text, ok := m.Content.(domainmessage.Text); !ok || text.Text != "hi" {
		t.Fatalf("content = %#v", m.Content)
	}
	m, ok = scanMessage(rows, "c1")
	if !ok || !m.Deleted || m.DeletedBy != "bob" {
		t.Fatalf("second = %+v", m)
	}
	if _, isEmpty := m.Content.(domainmessage.Empty); !isEmpty {
		t.Fatalf("unknown kind decoded as %#v", m.Content)
	}
	if _, ok := scanMessage(rows, "c1"); ok {
		t.Fatal("exhausted rows must stop")
	}
}

func TestStoredTimeAndDedupe(t *testing.T) {
	if !storedTime(time.Time{}).IsZero() {
		t.Fatal("zero time must stay zero")
	}
	at := time.Date(2026, 3, 1, 10, 0, 0, 1_234_567, time.FixedZone("x", 3600))
	got := storedTime(at)
	if got.Location() != time.UTC || got.Nanosecond() != 1_000_000 {
		t.Fatalf("stored = %v", got)
	}
	ids := dedupe([]domainmessage.ID{"a", "", "b", "a"})
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("dedupe = %v", ids)
	}
}

func TestOrderSideRows(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := &domainmessage.Message{
		ReadBy:    []domainmessage.ReadReceipt{{UserID: "b", ReadAt: t0.Add(time.Minute)}, {UserID: "a", ReadAt: t0}},
		Reactions: []domainmessage.Reaction{{UserID: "b", ReactedAt: t0.Add(time.Second)}, {UserID: "a", ReactedAt: t0}},
	}
	orderSideRows(m)
	if m.ReadBy[0].UserID != "a" || m.Reactions[0].UserID != "a" {
		t.Fatalf("order = %+v %+v", m.ReadBy, m.Reactions)
	}
}

// TestMessageRepositoryRoundTrip needs a live cluster, e.g.
// SCYLLA_TEST_HOSTS=localhost:9042.
func TestMessageRepositoryRoundTrip(t *testing.T) {
	hosts := os.Getenv("SCYLLA_TEST_HOSTS")
	if hosts == "" {
		t.Skip("SCYLLA_TEST_HOSTS not set")
	}
	ctx := context.Background()
	session, err := NewSession(ctx, config.Config{
		ScyllaHosts:       strings.Split(hosts, ","),
		ScyllaKeyspace:    "chatline_test",
		ScyllaTimeout:     10 * time.Second,
		ScyllaConsistency: gocql.One,
		ScyllaReplication: 1,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close(ctx)
	if err := session.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	repo := NewMessageRepository(session)

	conv := domainconversation.ID(uuid.NewString())
	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []domainmessage.ID
	for i, text := range []string{"one", "two", "three"} {
		m, err := domainmessage.NewMessage(domainmessage.CreateParams{
			ID:             domainmessage.ID(uuid.NewString()),
			ConversationID: conv,
			SenderID:       "alice",
			Content:        domainmessage.Text{Text: text},
			Now:            base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := repo.Create(ctx, m); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m.ID)
	}

	page, err := repo.ListByConversation(ctx, conv, domainmessage.ListQuery{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Fatalf("first page = %v", page)
	}
	older, err := repo.ListByConversation(ctx, conv, domainmessage.ListQuery{Limit: 2, Before: page[1].CreatedAt})
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 1 || older[0].ID != ids[0] {
		t.Fatalf("second page = %v", older)
	}

	unread, err := repo.UnreadAmong(ctx, conv, []domainmessage.ID{ids[0], ids[0], ids[1], "missing"}, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 2 {
		t.Fatalf("unread = %d", len(unread))
	}
	changed, err := repo.AddReadReceipt(ctx, ids[0], "bob", base)
	if err != nil || !changed {
		t.Fatalf("first read: %v %v", changed, err)
	}
	changed, err = repo.AddReadReceipt(ctx, ids[0], "bob", base.Add(time.Minute))
	if err != nil || changed {
		t.Fatalf("second read: %v %v", changed, err)
	}
	if _, err := repo.AddReadReceipt(ctx, "missing", "bob", base); !errors.Is(err, domainmessage.ErrNotFound) {
		t.Fatalf("missing read err = %v", err)
	}

	m, err := repo.SetReaction(ctx, ids[1], domainmessage.Reaction{UserID: "bob", Emoji: "👍", ReactedAt: base})
	if err != nil || len(m.Reactions) != 1 {
		t.Fatalf("react: %+v %v", m, err)
	}
	m, err = repo.SetReaction(ctx, ids[1], domainmessage.Reaction{UserID: "bob"})
	if err != nil || len(m.Reactions) != 0 {
		t.Fatalf("unreact: %+v %v", m, err)
	}

	m, err = repo.ReplaceContent(ctx, ids[2], domainmessage.Revision{Content: domainmessage.Text{Text: "three"}, EditedAt: base}, domainmessage.Text{Text: "3"}, base.Add(time.Minute))
	if err != nil || len(m.EditHistory) != 1 {
		t.Fatalf("edit: %+v %v", m, err)
	}
	if text := m.Content.(domainmessage.Text); text.Text != "3" {
		t.Fatalf("content = %+v", text)
	}
	if _, err := repo.SoftDelete(ctx, ids[2], "alice", base.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ReplaceContent(ctx, ids[2], domainmessage.Revision{Content: domainmessage.Text{Text: "3"}, EditedAt: base.Add(time.Minute)}, domainmessage.Text{Text: "x"}, base.Add(3*time.Minute)); !errors.Is(err, domainmessage.ErrNotFound) {
		t.Fatalf("edit after delete err = %v", err)
	}
}
